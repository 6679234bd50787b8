package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hq/meridian/internal/authz/filter"
	"github.com/meridian-hq/meridian/internal/shared"
)

const notificationColumns = `id, tenant_id, user_id, kind, title, COALESCE(body, ''), read_at, created_at`

// Repository provides PostgreSQL backed persistence for notifications.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns the visible notifications, newest first.
func (r *Repository) List(ctx context.Context, vis *filter.Query, unreadOnly bool, limit int) ([]Notification, error) {
	where, args := vis.SQL(1)
	query := fmt.Sprintf(`SELECT %s FROM notifications`, notificationColumns)
	clauses := where
	if unreadOnly {
		if clauses != "" {
			clauses += " AND "
		}
		clauses += "read_at IS NULL"
	}
	if clauses != "" {
		query += " WHERE " + clauses
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	rows, err := r.pool.Query(ctx, query, append(args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Create inserts a notification.
func (r *Repository) Create(ctx context.Context, n Notification) (Notification, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO notifications (tenant_id, user_id, kind, title, body)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING id, created_at`,
		n.TenantID, n.UserID, n.Kind, n.Title, n.Body).
		Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// MarkRead stamps a visible notification as read.
func (r *Repository) MarkRead(ctx context.Context, id string, vis *filter.Query) error {
	where, args := vis.SQL(2)
	query := `UPDATE notifications SET read_at = now() WHERE id = $1 AND read_at IS NULL`
	if where != "" {
		query += " AND " + where
	}
	tag, err := r.pool.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// MarkAllRead stamps every visible unread notification as read.
func (r *Repository) MarkAllRead(ctx context.Context, vis *filter.Query) (int64, error) {
	where, args := vis.SQL(1)
	query := `UPDATE notifications SET read_at = now() WHERE read_at IS NULL`
	if where != "" {
		query += " AND " + where
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeOlderThan deletes read notifications created before the cutoff.
// The background worker calls this on a schedule.
func (r *Repository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notifications WHERE read_at IS NOT NULL AND created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	err := row.Scan(&n.ID, &n.TenantID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.ReadAt, &n.CreatedAt)
	return n, err
}
