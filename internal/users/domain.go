package users

import (
	"time"

	"github.com/meridian-hq/meridian/internal/rbac"
)

// User represents a user account for management.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UserWithRoles is a user joined with their live role assignments in the
// requesting tenant.
type UserWithRoles struct {
	User
	Roles []rbac.RoleName `json:"roles"`
}
