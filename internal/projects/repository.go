package projects

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/platform/db"
	"github.com/meridian-hq/meridian/internal/shared"
)

const projectColumns = `id, tenant_id, name, COALESCE(description, ''), manager_id, archived, created_at, updated_at`

// Repository provides PostgreSQL backed persistence for projects.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the visible projects.
func (r *Repository) List(ctx context.Context, vis *filter.Query) ([]Project, error) {
	where, args := vis.SQL(1)
	query := fmt.Sprintf(`SELECT %s FROM projects`, projectColumns)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY name"
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Get fetches one visible project.
func (r *Repository) Get(ctx context.Context, id string, vis *filter.Query) (Project, error) {
	where, args := vis.SQL(2)
	query := fmt.Sprintf(`SELECT %s FROM projects WHERE id = $1`, projectColumns)
	if where != "" {
		query += " AND " + where
	}
	p, err := scanProject(r.pool.QueryRow(ctx, query, append([]any{id}, args...)...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, shared.ErrNotFound
		}
		return Project{}, err
	}
	return p, nil
}

// Create inserts a project and adds the manager as its first member.
func (r *Repository) Create(ctx context.Context, p Project) (Project, error) {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO projects (tenant_id, name, description, manager_id)
			VALUES ($1, $2, NULLIF($3, ''), $4)
			RETURNING id, created_at, updated_at`,
			p.TenantID, p.Name, p.Description, p.ManagerID).
			Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO project_members (project_id, user_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, p.ID, p.ManagerID)
		return err
	})
	if err != nil {
		return Project{}, err
	}
	return p, nil
}

// Update renames or archives a project.
func (r *Repository) Update(ctx context.Context, p Project) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE projects SET name = $2, description = NULLIF($3, ''), archived = $4, updated_at = now()
		WHERE id = $1`, p.ID, p.Name, p.Description, p.Archived)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// AddMember attaches a user to the project.
func (r *Repository) AddMember(ctx context.Context, projectID, userID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO project_members (project_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, projectID, userID)
	return err
}

// RemoveMember detaches a user from the project.
func (r *Repository) RemoveMember(ctx context.Context, projectID, userID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM project_members WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MemberProjectIDs lists the projects a user belongs to within a tenant. The
// principal middleware feeds these ids into the row filters.
func (r *Repository) MemberProjectIDs(ctx context.Context, userID, tenantID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pm.project_id
		FROM project_members pm
		JOIN projects p ON p.id = pm.project_id
		WHERE pm.user_id = $1 AND p.tenant_id = $2 AND NOT p.archived
		ORDER BY pm.project_id`, userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.ManagerID, &p.Archived, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}
