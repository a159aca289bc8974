package models

import "time"

// Course represents an offered course in the catalog. Enrolled is a
// materialized count derived from enrollment rows; it is rewritten by the
// capacity recalculator after every enrollment mutation and must never be
// incremented or decremented anywhere else.
type Course struct {
	ID           int64     `db:"id" json:"id"`
	CourseCode   string    `db:"course_code" json:"course_code"`
	Name         string    `db:"name" json:"name"`
	ECTS         int       `db:"ects" json:"ects"`
	Quota        int       `db:"quota" json:"quota"`
	Enrolled     int       `db:"enrolled" json:"enrolled"`
	IsActive     bool      `db:"is_active" json:"is_active"`
	DepartmentID *int64    `db:"department_id" json:"department_id,omitempty"`
	InstructorID *int64    `db:"instructor_id" json:"instructor_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CourseDetail enriches Course with department and instructor context.
type CourseDetail struct {
	Course
	DepartmentName *string `db:"department_name" json:"department_name,omitempty"`
	InstructorName *string `db:"instructor_name" json:"instructor_name,omitempty"`
}

// CourseFilter provides filters for listing courses.
type CourseFilter struct {
	Search       string
	DepartmentID *int64
	InstructorID *int64
	ActiveOnly   bool
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
