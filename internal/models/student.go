package models

import "time"

// Student represents a learner registered in the institution.
type Student struct {
	ID            int64     `db:"id" json:"id"`
	StudentNumber string    `db:"student_number" json:"student_number"`
	Email         string    `db:"email" json:"email"`
	FirstName     string    `db:"first_name" json:"first_name"`
	LastName      string    `db:"last_name" json:"last_name"`
	ECTSLimit     int       `db:"ects_limit" json:"ects_limit"`
	DepartmentID  *int64    `db:"department_id" json:"department_id,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// StudentDetail contains student information with department context.
type StudentDetail struct {
	Student
	DepartmentName *string `db:"department_name" json:"department_name,omitempty"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search       string
	DepartmentID *int64
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
