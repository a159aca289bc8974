package models

// Department is read-only reference data: rows are seeded out of band and
// only ever joined against or listed.
type Department struct {
	ID             int64  `db:"id" json:"id"`
	DepartmentName string `db:"department_name" json:"department_name"`
	UniversityName string `db:"university_name" json:"university_name"`
}
