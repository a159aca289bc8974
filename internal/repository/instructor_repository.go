package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/unireg-api/internal/models"
)

// InstructorRepository manages persistence for instructor records.
type InstructorRepository struct {
	db *sqlx.DB
}

// NewInstructorRepository constructs an InstructorRepository.
func NewInstructorRepository(db *sqlx.DB) *InstructorRepository {
	return &InstructorRepository{db: db}
}

const instructorColumns = `id, instructor_code, email, first_name, last_name, department_id, created_at, updated_at`

// List returns instructors matching the provided filters.
func (r *InstructorRepository) List(ctx context.Context, filter models.InstructorFilter) ([]models.InstructorDetail, int, error) {
	base := `FROM instructors i LEFT JOIN departments d ON d.id = i.department_id`
	conditions := []string{"1=1"}
	var args []interface{}

	if filter.DepartmentID != nil {
		conditions = append(conditions, fmt.Sprintf("i.department_id = $%d", len(args)+1))
		args = append(args, *filter.DepartmentID)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(i.first_name || ' ' || i.last_name) LIKE $%d OR LOWER(i.instructor_code) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	clause := " WHERE " + strings.Join(conditions, " AND ")

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

	query := fmt.Sprintf(`SELECT i.id, i.instructor_code, i.email, i.first_name, i.last_name, i.department_id, i.created_at, i.updated_at, d.department_name
        %s%s ORDER BY i.last_name %s LIMIT %d OFFSET %d`, base, clause, order, size, offset)

	var instructors []models.InstructorDetail
	if err := r.db.SelectContext(ctx, &instructors, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list instructors: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s%s", base, clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count instructors: %w", err)
	}
	return instructors, total, nil
}

// FindByID returns an instructor by primary key.
func (r *InstructorRepository) FindByID(ctx context.Context, id int64) (*models.Instructor, error) {
	query := fmt.Sprintf("SELECT %s FROM instructors WHERE id = $1", instructorColumns)
	var instructor models.Instructor
	if err := r.db.GetContext(ctx, &instructor, query, id); err != nil {
		return nil, err
	}
	return &instructor, nil
}

// FindByEmail resolves an instructor record from a normalized email,
// case-insensitively.
func (r *InstructorRepository) FindByEmail(ctx context.Context, email string) (*models.Instructor, error) {
	query := fmt.Sprintf("SELECT %s FROM instructors WHERE LOWER(email) = $1", instructorColumns)
	var instructor models.Instructor
	if err := r.db.GetContext(ctx, &instructor, query, models.NormalizeEmail(email)); err != nil {
		return nil, err
	}
	return &instructor, nil
}

// Create persists a new instructor record.
func (r *InstructorRepository) Create(ctx context.Context, instructor *models.Instructor) error {
	const query = `INSERT INTO instructors (instructor_code, email, first_name, last_name, department_id)
        VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at, updated_at`
	instructor.Email = models.NormalizeEmail(instructor.Email)
	row := r.db.QueryRowxContext(ctx, query, instructor.InstructorCode, instructor.Email, instructor.FirstName, instructor.LastName, instructor.DepartmentID)
	if err := row.Scan(&instructor.ID, &instructor.CreatedAt, &instructor.UpdatedAt); err != nil {
		return fmt.Errorf("create instructor: %w", err)
	}
	return nil
}

// Update rewrites the mutable fields of an instructor record.
func (r *InstructorRepository) Update(ctx context.Context, instructor *models.Instructor) error {
	const query = `UPDATE instructors SET instructor_code = $2, email = $3, first_name = $4, last_name = $5, department_id = $6, updated_at = NOW() WHERE id = $1`
	instructor.Email = models.NormalizeEmail(instructor.Email)
	result, err := r.db.ExecContext(ctx, query, instructor.ID, instructor.InstructorCode, instructor.Email, instructor.FirstName, instructor.LastName, instructor.DepartmentID)
	if err != nil {
		return fmt.Errorf("update instructor: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes an instructor record.
func (r *InstructorRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM instructors WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete instructor: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
