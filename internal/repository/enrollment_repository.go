package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/unireg-api/internal/models"
)

// Sentinel errors surfaced by transactional enrollment writes. Services map
// them onto the user-facing taxonomy.
var (
	// ErrDuplicate is returned when the (student, course) uniqueness
	// constraint rejects an insert.
	ErrDuplicate = errors.New("enrollment already exists for student and course")
	// ErrQuotaReached is returned when the quota re-check under the course
	// row lock fails at insert time.
	ErrQuotaReached = errors.New("course quota reached")
)

const pqUniqueViolation = "23505"

// EnrollmentRepository handles persistence of enrollments. All writes to
// courses.enrolled go through RecountEnrolled; nothing here increments or
// decrements the cached count directly.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentDetailColumns = `e.id, e.student_id, e.course_id, e.status, e.grade, e.enrollment_date, e.created_at, e.updated_at,
        s.first_name || ' ' || s.last_name AS student_name, s.student_number,
        c.course_code, c.name AS course_name, c.ects AS course_ects, d.department_name`

const enrollmentDetailJoins = `FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN courses c ON c.id = e.course_id
        LEFT JOIN departments d ON d.id = c.department_id`

// List returns enrollments filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != nil {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, *filter.StudentID)
	}
	if filter.CourseID != nil {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, *filter.CourseID)
	}
	if filter.InstructorID != nil {
		conditions = append(conditions, fmt.Sprintf("c.instructor_id = $%d", len(args)+1))
		args = append(args, *filter.InstructorID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"enrollment_date": "e.enrollment_date",
		"student_name":    "student_name",
		"course_code":     "c.course_code",
		"grade":           "e.grade",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.enrollment_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s%s ORDER BY %s %s LIMIT %d OFFSET %d",
		enrollmentDetailColumns, enrollmentDetailJoins, clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", enrollmentDetailJoins, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id int64) (*models.Enrollment, error) {
	const query = `SELECT id, student_id, course_id, status, grade, enrollment_date, created_at, updated_at FROM enrollments WHERE id = $1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and course context.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, id int64) (*models.EnrollmentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE e.id = $1", enrollmentDetailColumns, enrollmentDetailJoins)
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// ExistsByStudentAndCourse checks for any enrollment row for the pair,
// whatever its status.
func (r *EnrollmentRepository) ExistsByStudentAndCourse(ctx context.Context, studentID, courseID int64) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND course_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check enrollment exists: %w", err)
	}
	return true, nil
}

// SumActiveECTS returns the ECTS total the student has committed across
// enrollments whose status is in the provided counted set.
func (r *EnrollmentRepository) SumActiveECTS(ctx context.Context, studentID int64, countedStatuses []string) (int, error) {
	const query = `SELECT COALESCE(SUM(c.ects), 0) FROM enrollments e
        JOIN courses c ON c.id = e.course_id
        WHERE e.student_id = $1 AND e.status = ANY($2)`
	var total int
	if err := r.db.GetContext(ctx, &total, query, studentID, pq.Array(countedStatuses)); err != nil {
		return 0, fmt.Errorf("sum active ects: %w", err)
	}
	return total, nil
}

// CountEnrolled returns the number of ENROLLED rows for a course.
func (r *EnrollmentRepository) CountEnrolled(ctx context.Context, courseID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, courseID, models.StatusEnrolled); err != nil {
		return 0, fmt.Errorf("count enrolled: %w", err)
	}
	return count, nil
}

// EnrolledCourseIDs returns the distinct courses in which the student
// currently holds an ENROLLED row. Used to recount affected courses after a
// cascading student delete.
func (r *EnrollmentRepository) EnrolledCourseIDs(ctx context.Context, studentID int64) ([]int64, error) {
	const query = `SELECT DISTINCT course_id FROM enrollments WHERE student_id = $1 AND status = $2`
	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, studentID, models.StatusEnrolled); err != nil {
		return nil, fmt.Errorf("enrolled course ids: %w", err)
	}
	return ids, nil
}

// Create inserts the enrollment inside one transaction: the course row is
// locked, the quota re-checked under the lock, and the insert relies on the
// (student_id, course_id) unique constraint to close the duplicate race.
// Returns ErrQuotaReached or ErrDuplicate accordingly.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.EnrollmentDate.IsZero() {
		enrollment.EnrollmentDate = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.StatusEnrolled
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enrollment create: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var quota int
	if err := tx.GetContext(ctx, &quota, `SELECT quota FROM courses WHERE id = $1 FOR UPDATE`, enrollment.CourseID); err != nil {
		return err
	}

	var enrolled int
	if err := tx.GetContext(ctx, &enrolled, `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`, enrollment.CourseID, models.StatusEnrolled); err != nil {
		return fmt.Errorf("count enrolled under lock: %w", err)
	}
	if enrolled >= quota {
		return ErrQuotaReached
	}

	const insert = `INSERT INTO enrollments (student_id, course_id, status, grade, enrollment_date)
        VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`
	row := tx.QueryRowxContext(ctx, insert, enrollment.StudentID, enrollment.CourseID, enrollment.Status, enrollment.Grade, enrollment.EnrollmentDate)
	if err := row.Scan(&enrollment.ID, &enrollment.CreatedAt, &enrollment.UpdatedAt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enrollment create: %w", err)
	}
	return nil
}

// UpdateGrade sets grade and status for an enrollment and returns the row as
// it was before the update. The previous state is captured under a row lock
// so the caller can decide whether the course count needs recomputing.
func (r *EnrollmentRepository) UpdateGrade(ctx context.Context, id int64, grade *float64, status models.EnrollmentStatus) (*models.Enrollment, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin grade update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var previous models.Enrollment
	const selectQuery = `SELECT id, student_id, course_id, status, grade, enrollment_date, created_at, updated_at FROM enrollments WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &previous, selectQuery, id); err != nil {
		return nil, err
	}

	const update = `UPDATE enrollments SET grade = $2, status = $3, updated_at = NOW() WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, id, grade, status); err != nil {
		return nil, fmt.Errorf("update enrollment grade: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit grade update: %w", err)
	}
	return &previous, nil
}

// Delete removes the enrollment and returns the course it belonged to. The
// course id has to be captured before the row disappears.
func (r *EnrollmentRepository) Delete(ctx context.Context, id int64) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enrollment delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var courseID int64
	if err := tx.GetContext(ctx, &courseID, `SELECT course_id FROM enrollments WHERE id = $1 FOR UPDATE`, id); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, id); err != nil {
		return 0, fmt.Errorf("delete enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enrollment delete: %w", err)
	}
	return courseID, nil
}

// RecountEnrolled recomputes courses.enrolled from the enrollment table.
// Idempotent; this is the only statement in the codebase writing that column.
func (r *EnrollmentRepository) RecountEnrolled(ctx context.Context, courseID int64) (int, error) {
	const query = `UPDATE courses SET enrolled = (
            SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2
        ), updated_at = NOW() WHERE id = $1 RETURNING enrolled`
	var enrolled int
	if err := r.db.GetContext(ctx, &enrolled, query, courseID, models.StatusEnrolled); err != nil {
		return 0, fmt.Errorf("recount enrolled for course %d: %w", courseID, err)
	}
	return enrolled, nil
}
