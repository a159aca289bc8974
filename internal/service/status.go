package service

import "github.com/noah-isme/unireg-api/internal/models"

// StatusForGrade maps a numeric grade onto its enrollment status. Boundaries
// are inclusive lower bounds: 18, 16, 14, 12, 10. Callers handle the no-grade
// case upstream; a missing grade means ENROLLED and never reaches here.
func StatusForGrade(grade float64) models.EnrollmentStatus {
	switch {
	case grade >= 18:
		return models.StatusExcellent
	case grade >= 16:
		return models.StatusVeryGood
	case grade >= 14:
		return models.StatusGood
	case grade >= 12:
		return models.StatusSatisfactory
	case grade >= 10:
		return models.StatusPassed
	default:
		return models.StatusFailed
	}
}

// IsPassingStatus reports whether the status represents a passed course.
func IsPassingStatus(status models.EnrollmentStatus) bool {
	switch status {
	case models.StatusExcellent, models.StatusVeryGood, models.StatusGood,
		models.StatusSatisfactory, models.StatusPassed, models.StatusCompleted:
		return true
	}
	return false
}

// PassingStatuses returns the graded statuses that count as passed, as
// strings for SQL ANY() parameters.
func PassingStatuses() []string {
	return []string{
		string(models.StatusExcellent),
		string(models.StatusVeryGood),
		string(models.StatusGood),
		string(models.StatusSatisfactory),
		string(models.StatusPassed),
		string(models.StatusCompleted),
	}
}

// CreditCountedStatuses returns the statuses that consume a student's ECTS
// budget: the active enrollment plus every passing graded status. FAILED and
// DROPPED release the credit so the course can be retaken.
func CreditCountedStatuses() []string {
	return append([]string{string(models.StatusEnrolled)}, PassingStatuses()...)
}
