package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeRefreshUser repopulates one user's cached roles and permissions.
	TaskTypeRefreshUser = "rbac:refresh_user"
	// TaskTypeNotificationsPurge deletes old read notifications.
	TaskTypeNotificationsPurge = "notifications:purge"
)

// RefreshUserPayload identifies the cache entries to rebuild.
type RefreshUserPayload struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id,omitempty"`
}

// NewRefreshUserTask constructs an Asynq task.
func NewRefreshUserTask(payload RefreshUserPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeRefreshUser, data), nil
}

// NewNotificationsPurgeTask constructs the scheduled purge task.
func NewNotificationsPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskTypeNotificationsPurge, nil)
}

// Enqueuer submits jobs to the queue. It satisfies the role service's
// refresh port.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer constructs an Enqueuer over an Asynq client.
func NewEnqueuer(redisOpts asynq.RedisClientOpt) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(redisOpts)}
}

// EnqueueRefreshUser queues a cache rebuild for one user. Duplicate submits
// within the uniqueness window collapse into one task.
func (e *Enqueuer) EnqueueRefreshUser(ctx context.Context, userID, tenantID string) error {
	task, err := NewRefreshUserTask(RefreshUserPayload{UserID: userID, TenantID: tenantID})
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueDefault),
		asynq.Unique(30*time.Second),
		asynq.MaxRetry(3),
	)
	if err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
		return err
	}
	return nil
}

// Close releases client resources.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
