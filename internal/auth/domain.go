package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TenantMembership links a user to a tenant they may act in.
type TenantMembership struct {
	TenantID   string
	TenantName string
	IsDefault  bool
}
