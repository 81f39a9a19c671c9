package user

import "time"

type Role string

const (
	RoleAdmin      Role = "ADMINISTRADOR" // Platform administrator - full access
	RoleInstructor Role = "INSTRUCTOR"    // Teaches cohorts, grades activities
	RoleStudent    Role = "APRENDIZ"      // Enrolled student
)

// AllRoles returns every role known to the platform
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleInstructor, RoleStudent}
}

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleInstructor, RoleStudent:
		return true
	}
	return false
}

type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Role      Role
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FullName joins first and last name
func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}

// IsAdmin checks if user is a platform administrator
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsInstructor checks if user is an instructor
func (u *User) IsInstructor() bool {
	return u.Role == RoleInstructor
}

// IsStudent checks if user is a student
func (u *User) IsStudent() bool {
	return u.Role == RoleStudent
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

// Can checks if the actor's role grants the permission
func (a Actor) Can(permission Permission) bool {
	return HasPermission(a.Role, permission)
}
