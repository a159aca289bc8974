package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/unireg-api/internal/models"
)

// CourseRepository handles persistence of the course catalog. The enrolled
// column is read-only here; the enrollment repository owns it.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

const courseDetailColumns = `c.id, c.course_code, c.name, c.ects, c.quota, c.enrolled, c.is_active, c.department_id, c.instructor_id, c.created_at, c.updated_at,
        d.department_name, i.first_name || ' ' || i.last_name AS instructor_name`

const courseDetailJoins = `FROM courses c
        LEFT JOIN departments d ON d.id = c.department_id
        LEFT JOIN instructors i ON i.id = c.instructor_id`

// List returns courses filtered by the provided criteria.
func (r *CourseRepository) List(ctx context.Context, filter models.CourseFilter) ([]models.CourseDetail, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.DepartmentID != nil {
		conditions = append(conditions, fmt.Sprintf("c.department_id = $%d", len(args)+1))
		args = append(args, *filter.DepartmentID)
	}
	if filter.InstructorID != nil {
		conditions = append(conditions, fmt.Sprintf("c.instructor_id = $%d", len(args)+1))
		args = append(args, *filter.InstructorID)
	}
	if filter.ActiveOnly {
		conditions = append(conditions, "c.is_active")
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(c.course_code) LIKE $%d OR LOWER(c.name) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"course_code": "c.course_code",
		"name":        "c.name",
		"ects":        "c.ects",
		"created_at":  "c.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "c.course_code"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
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
		courseDetailColumns, courseDetailJoins, clause, orderBy, order, size, offset)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", courseDetailJoins, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// FindByID returns a course by primary key.
func (r *CourseRepository) FindByID(ctx context.Context, id int64) (*models.Course, error) {
	const query = `SELECT id, course_code, name, ects, quota, enrolled, is_active, department_id, instructor_id, created_at, updated_at FROM courses WHERE id = $1`
	var course models.Course
	if err := r.db.GetContext(ctx, &course, query, id); err != nil {
		return nil, err
	}
	return &course, nil
}

// ListAvailableForStudent returns active courses the student can still take:
// courses with a current ENROLLED row or an already-passed grade are
// excluded, failed courses stay in (retake allowed).
func (r *CourseRepository) ListAvailableForStudent(ctx context.Context, studentID int64, passingStatuses []string) ([]models.CourseDetail, error) {
	// ENROLLED and COMPLETED rows exclude the course outright; other passing
	// statuses only when a grade is recorded. COMPLETED may carry no grade.
	query := fmt.Sprintf(`SELECT %s %s
        WHERE c.is_active
          AND NOT EXISTS (
            SELECT 1 FROM enrollments e
            WHERE e.course_id = c.id AND e.student_id = $1
              AND (e.status = $2 OR e.status = $3 OR (e.grade IS NOT NULL AND e.status = ANY($4)))
          )
        ORDER BY c.course_code ASC`, courseDetailColumns, courseDetailJoins)

	var courses []models.CourseDetail
	if err := r.db.SelectContext(ctx, &courses, query, studentID, models.StatusEnrolled, models.StatusCompleted, pq.Array(passingStatuses)); err != nil {
		return nil, fmt.Errorf("list available courses: %w", err)
	}
	return courses, nil
}

// Create persists a new course. Enrolled always starts at zero regardless of
// input.
func (r *CourseRepository) Create(ctx context.Context, course *models.Course) error {
	const query = `INSERT INTO courses (course_code, name, ects, quota, enrolled, is_active, department_id, instructor_id)
        VALUES ($1, $2, $3, $4, 0, $5, $6, $7) RETURNING id, enrolled, created_at, updated_at`
	row := r.db.QueryRowxContext(ctx, query, course.CourseCode, course.Name, course.ECTS, course.Quota, course.IsActive, course.DepartmentID, course.InstructorID)
	if err := row.Scan(&course.ID, &course.Enrolled, &course.CreatedAt, &course.UpdatedAt); err != nil {
		return fmt.Errorf("create course: %w", err)
	}
	return nil
}

// Update rewrites the mutable catalog fields. Enrolled is deliberately not
// part of the statement.
func (r *CourseRepository) Update(ctx context.Context, course *models.Course) error {
	const query = `UPDATE courses SET course_code = $2, name = $3, ects = $4, quota = $5, is_active = $6, department_id = $7, instructor_id = $8, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, course.ID, course.CourseCode, course.Name, course.ECTS, course.Quota, course.IsActive, course.DepartmentID, course.InstructorID)
	if err != nil {
		return fmt.Errorf("update course: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a course.
func (r *CourseRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM courses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete course: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
