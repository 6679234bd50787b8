package hr

import "time"

// Employee is a tenant-scoped HR record linked to a user account.
type Employee struct {
	ID        string     `json:"id"`
	TenantID  string     `json:"tenant_id"`
	UserID    string     `json:"user_id"`
	FullName  string     `json:"full_name"`
	Title     string     `json:"title,omitempty"`
	ManagerID *string    `json:"manager_id,omitempty"`
	HiredAt   *time.Time `json:"hired_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LeaveStatus tracks the approval state of a leave request.
type LeaveStatus string

const (
	LeaveStatusPending  LeaveStatus = "pending"
	LeaveStatusApproved LeaveStatus = "approved"
	LeaveStatusRejected LeaveStatus = "rejected"
)

// Valid reports whether the status is one of the known states.
func (s LeaveStatus) Valid() bool {
	switch s {
	case LeaveStatusPending, LeaveStatusApproved, LeaveStatusRejected:
		return true
	}
	return false
}

// LeaveRequest is an employee's request for time off.
type LeaveRequest struct {
	ID         string      `json:"id"`
	TenantID   string      `json:"tenant_id"`
	EmployeeID string      `json:"employee_id"`
	Type       string      `json:"type"`
	StartDate  time.Time   `json:"start_date"`
	EndDate    time.Time   `json:"end_date"`
	Status     LeaveStatus `json:"status"`
	Note       string      `json:"note,omitempty"`
	DecidedBy  *string     `json:"decided_by,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
