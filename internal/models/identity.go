package models

import "strings"

// Role represents the caller's role as asserted by the identity provider.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// ValidRole reports whether the raw claim maps to a known role.
func ValidRole(raw string) (Role, bool) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleStudent:
		return RoleStudent, true
	case RoleInstructor:
		return RoleInstructor, true
	case RoleAdmin:
		return RoleAdmin, true
	}
	return "", false
}

// Identity is the resolved caller identity attached to each request.
// Email is always normalized (trimmed, lower-cased) before lookups so two
// inputs differing only in case resolve to the same person.
type Identity struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// NormalizeEmail canonicalises an email address for comparison and storage
// lookups. Returns "" for blank input.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
