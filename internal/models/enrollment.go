package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment. ENROLLED is
// the only status counted toward course capacity; a non-null grade always
// carries the status derived from it.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	StatusEnrolled     EnrollmentStatus = "ENROLLED"
	StatusExcellent    EnrollmentStatus = "EXCELLENT"
	StatusVeryGood     EnrollmentStatus = "VERY_GOOD"
	StatusGood         EnrollmentStatus = "GOOD"
	StatusSatisfactory EnrollmentStatus = "SATISFACTORY"
	StatusPassed       EnrollmentStatus = "PASSED"
	StatusFailed       EnrollmentStatus = "FAILED"
	StatusCompleted    EnrollmentStatus = "COMPLETED"
	StatusDropped      EnrollmentStatus = "DROPPED"
)

// Enrollment captures a student's registration in a course.
type Enrollment struct {
	ID             int64            `db:"id" json:"id"`
	StudentID      int64            `db:"student_id" json:"student_id"`
	CourseID       int64            `db:"course_id" json:"course_id"`
	Status         EnrollmentStatus `db:"status" json:"status"`
	Grade          *float64         `db:"grade" json:"grade"`
	EnrollmentDate time.Time        `db:"enrollment_date" json:"enrollment_date"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName    string  `db:"student_name" json:"student_name"`
	StudentNumber  string  `db:"student_number" json:"student_number"`
	CourseCode     string  `db:"course_code" json:"course_code"`
	CourseName     string  `db:"course_name" json:"course_name"`
	CourseECTS     int     `db:"course_ects" json:"course_ects"`
	DepartmentName *string `db:"department_name" json:"department_name,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID    *int64
	CourseID     *int64
	InstructorID *int64
	Status       EnrollmentStatus
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
