package hr

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/shared"
)

const employeeColumns = `id, tenant_id, user_id, full_name, COALESCE(title, ''), manager_id, hired_at, created_at, updated_at`

const leaveColumns = `id, tenant_id, employee_id, type, start_date, end_date, status, COALESCE(note, ''), decided_by, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for HR records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListEmployees returns the visible employees.
func (r *Repository) ListEmployees(ctx context.Context, vis *filter.Query, limit, offset int) ([]Employee, int, error) {
	where, args := vis.SQL(1)
	clause := ""
	if where != "" {
		clause = " WHERE " + where
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM employees`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM employees%s ORDER BY full_name LIMIT $%d OFFSET $%d`,
		employeeColumns, clause, n+1, n+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// GetEmployee fetches one visible employee.
func (r *Repository) GetEmployee(ctx context.Context, id string, vis *filter.Query) (Employee, error) {
	where, args := vis.SQL(2)
	query := fmt.Sprintf(`SELECT %s FROM employees WHERE id = $1`, employeeColumns)
	if where != "" {
		query += " AND " + where
	}
	e, err := scanEmployee(r.pool.QueryRow(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Employee{}, shared.ErrNotFound
		}
		return Employee{}, err
	}
	return e, nil
}

// EmployeeByUser finds the employee record for a user within a tenant.
func (r *Repository) EmployeeByUser(ctx context.Context, userID, tenantID string) (Employee, error) {
	query := fmt.Sprintf(`SELECT %s FROM employees WHERE user_id = $1 AND tenant_id = $2`, employeeColumns)
	e, err := scanEmployee(r.pool.QueryRow(ctx, query, userID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Employee{}, shared.ErrNotFound
		}
		return Employee{}, err
	}
	return e, nil
}

// ListLeaveRequests returns the visible leave requests, newest first.
func (r *Repository) ListLeaveRequests(ctx context.Context, vis *filter.Query) ([]LeaveRequest, error) {
	where, args := vis.SQL(1)
	query := fmt.Sprintf(`SELECT %s FROM leave_requests`, leaveColumns)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LeaveRequest
	for rows.Next() {
		lr, err := scanLeave(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

// GetLeaveRequest fetches one visible leave request.
func (r *Repository) GetLeaveRequest(ctx context.Context, id string, vis *filter.Query) (LeaveRequest, error) {
	where, args := vis.SQL(2)
	query := fmt.Sprintf(`SELECT %s FROM leave_requests WHERE id = $1`, leaveColumns)
	if where != "" {
		query += " AND " + where
	}
	lr, err := scanLeave(r.pool.QueryRow(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LeaveRequest{}, shared.ErrNotFound
		}
		return LeaveRequest{}, err
	}
	return lr, nil
}

// CreateLeaveRequest inserts a pending leave request.
func (r *Repository) CreateLeaveRequest(ctx context.Context, lr LeaveRequest) (LeaveRequest, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO leave_requests (tenant_id, employee_id, type, start_date, end_date, status, note)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
		RETURNING id, created_at, updated_at`,
		lr.TenantID, lr.EmployeeID, lr.Type, lr.StartDate, lr.EndDate, lr.Status, lr.Note).
		Scan(&lr.ID, &lr.CreatedAt, &lr.UpdatedAt)
	if err != nil {
		return LeaveRequest{}, err
	}
	return lr, nil
}

// DecideLeaveRequest moves a pending request to approved or rejected.
func (r *Repository) DecideLeaveRequest(ctx context.Context, id string, status LeaveStatus, deciderID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE leave_requests SET status = $2, decided_by = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id, status, deciderID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanEmployee(row pgx.Row) (Employee, error) {
	var e Employee
	err := row.Scan(&e.ID, &e.TenantID, &e.UserID, &e.FullName, &e.Title, &e.ManagerID, &e.HiredAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func scanLeave(row pgx.Row) (LeaveRequest, error) {
	var lr LeaveRequest
	err := row.Scan(&lr.ID, &lr.TenantID, &lr.EmployeeID, &lr.Type, &lr.StartDate, &lr.EndDate, &lr.Status, &lr.Note, &lr.DecidedBy, &lr.CreatedAt, &lr.UpdatedAt)
	return lr, err
}
