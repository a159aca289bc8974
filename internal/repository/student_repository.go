package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/unireg-api/internal/models"
)

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentDetailColumns = `s.id, s.student_number, s.email, s.first_name, s.last_name, s.ects_limit, s.department_id, s.created_at, s.updated_at, d.department_name`

const studentDetailJoins = `FROM students s LEFT JOIN departments d ON d.id = s.department_id`

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.DepartmentID != nil {
		conditions = append(conditions, fmt.Sprintf("s.department_id = $%d", len(args)+1))
		args = append(args, *filter.DepartmentID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(s.first_name || ' ' || s.last_name) LIKE $%d OR LOWER(s.student_number) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := " WHERE " + strings.Join(conditions, " AND ")

	allowedSorts := map[string]string{
		"last_name":      "s.last_name",
		"student_number": "s.student_number",
		"created_at":     "s.created_at",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "s.created_at"
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
		studentDetailColumns, studentDetailJoins, clause, orderBy, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", studentDetailJoins, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID returns a student by primary key.
func (r *StudentRepository) FindByID(ctx context.Context, id int64) (*models.Student, error) {
	const query = `SELECT id, student_number, email, first_name, last_name, ects_limit, department_id, created_at, updated_at FROM students WHERE id = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindByEmail resolves a student record from a normalized email. The lookup
// is case-insensitive so identity emails match however the record was typed.
func (r *StudentRepository) FindByEmail(ctx context.Context, email string) (*models.Student, error) {
	const query = `SELECT id, student_number, email, first_name, last_name, ects_limit, department_id, created_at, updated_at FROM students WHERE LOWER(email) = $1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, models.NormalizeEmail(email)); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindDetailByEmail returns a student with department context.
func (r *StudentRepository) FindDetailByEmail(ctx context.Context, email string) (*models.StudentDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE LOWER(s.email) = $1", studentDetailColumns, studentDetailJoins)
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, models.NormalizeEmail(email)); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Create persists a new student record.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	const query = `INSERT INTO students (student_number, email, first_name, last_name, ects_limit, department_id)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at, updated_at`
	student.Email = models.NormalizeEmail(student.Email)
	row := r.db.QueryRowxContext(ctx, query, student.StudentNumber, student.Email, student.FirstName, student.LastName, student.ECTSLimit, student.DepartmentID)
	if err := row.Scan(&student.ID, &student.CreatedAt, &student.UpdatedAt); err != nil {
		return fmt.Errorf("create student: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of a student record.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	const query = `UPDATE students SET student_number = $2, email = $3, first_name = $4, last_name = $5, ects_limit = $6, department_id = $7, updated_at = NOW() WHERE id = $1`
	student.Email = models.NormalizeEmail(student.Email)
	result, err := r.db.ExecContext(ctx, query, student.ID, student.StudentNumber, student.Email, student.FirstName, student.LastName, student.ECTSLimit, student.DepartmentID)
	if err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a student record.
func (r *StudentRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM students WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
