package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleTeacher UserRole = "TEACHER"
	RoleHOD     UserRole = "HOD"
	RoleAdmin   UserRole = "ADMIN"
)

// JWTClaims represents the JWT payload issued by the identity service.
type JWTClaims struct {
	UserID     string   `json:"user_id"`
	Role       UserRole `json:"role"`
	Department string   `json:"department"`
	Email      string   `json:"email,omitempty"`
	FullName   string   `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Actor is the authenticated caller as seen by services.
type Actor struct {
	ID         string
	Role       UserRole
	Department string
}

// Actor projects the claims onto the service-level caller identity.
func (c *JWTClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{ID: c.UserID, Role: c.Role, Department: c.Department}
}

// IsAdmin reports whether the actor bypasses department scoping.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// CanManageDepartment reports whether the actor may act on behalf of department.
func (a Actor) CanManageDepartment(department string) bool {
	switch a.Role {
	case RoleAdmin:
		return true
	case RoleHOD:
		return a.Department != "" && a.Department == department
	default:
		return false
	}
}

// CanActFor reports whether the actor may act on behalf of the given teacher.
func (a Actor) CanActFor(teacherID, department string) bool {
	if a.ID != "" && a.ID == teacherID {
		return true
	}
	return a.CanManageDepartment(department)
}
