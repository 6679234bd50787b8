package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/shared"
)

// ErrDuplicateTitle indicates a second task with the same title in a project.
var ErrDuplicateTitle = errors.New("tasks: duplicate title in project")

const taskColumns = `id, tenant_id, project_id, COALESCE(assignee_id::text, ''), creator_id,
	title, COALESCE(description, ''), status, priority, due_date, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for tasks. Every read
// takes a visibility filter built by the caller; the repository never widens
// it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the visible tasks and their total count.
func (r *Repository) List(ctx context.Context, vis *filter.Query, limit, offset int) ([]Task, int, error) {
	where, args := vis.SQL(1)
	clause := ""
	if where != "" {
		clause = " WHERE " + where
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM tasks`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM tasks%s ORDER BY priority DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		taskColumns, clause, n+1, n+2)
	rows, err := r.pool.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// Get fetches one visible task.
func (r *Repository) Get(ctx context.Context, id string, vis *filter.Query) (Task, error) {
	where, args := vis.SQL(2)
	query := fmt.Sprintf(`SELECT %s FROM tasks WHERE id = $1`, taskColumns)
	if where != "" {
		query += " AND " + where
	}
	row := r.pool.QueryRow(ctx, query, append([]any{id}, args...)...)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, shared.ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

// Create inserts a task.
func (r *Repository) Create(ctx context.Context, t Task) (Task, error) {
	var assignee any
	if t.AssigneeID != "" {
		assignee = t.AssigneeID
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tasks (tenant_id, project_id, assignee_id, creator_id, title, description, status, priority, due_date)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		t.TenantID, t.ProjectID, assignee, t.CreatorID, t.Title, t.Description, t.Status, t.Priority, t.DueDate).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_tasks_project_title" {
			return Task{}, ErrDuplicateTitle
		}
		return Task{}, err
	}
	return t, nil
}

// UpdateStatus moves a task to a new status, constrained by visibility.
func (r *Repository) UpdateStatus(ctx context.Context, id string, status Status, vis *filter.Query) error {
	where, args := vis.SQL(3)
	query := `UPDATE tasks SET status = $2, updated_at = now() WHERE id = $1`
	if where != "" {
		query += " AND " + where
	}
	tag, err := r.pool.Exec(ctx, query, append([]any{id, status}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// Assign sets the task's assignee.
func (r *Repository) Assign(ctx context.Context, id, assigneeID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE tasks SET assignee_id = $2, updated_at = now() WHERE id = $1`, id, assigneeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanTask(row pgx.Row) (Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.TenantID, &t.ProjectID, &t.AssigneeID, &t.CreatorID,
		&t.Title, &t.Description, &t.Status, &t.Priority, &t.DueDate, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}
