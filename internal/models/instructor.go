package models

import "time"

// Instructor represents a teaching staff member.
type Instructor struct {
	ID             int64     `db:"id" json:"id"`
	InstructorCode string    `db:"instructor_code" json:"instructor_code"`
	Email          string    `db:"email" json:"email"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	DepartmentID   *int64    `db:"department_id" json:"department_id,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// InstructorDetail enriches Instructor with department context.
type InstructorDetail struct {
	Instructor
	DepartmentName *string `db:"department_name" json:"department_name,omitempty"`
}

// InstructorFilter captures filtering criteria for listing instructors.
type InstructorFilter struct {
	Search       string
	DepartmentID *int64
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
