package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/meridian-hq/meridian/internal/jobs"
	"github.com/meridian-hq/meridian/internal/notifications"
	"github.com/meridian-hq/meridian/internal/rbac"
	"github.com/meridian-hq/meridian/internal/shared"
)

// refreshLockTTL bounds how long a crashed worker can hold a refresh lock.
const refreshLockTTL = 30 * time.Second

// notificationRetention is how long read notifications are kept.
const notificationRetention = 30 * 24 * time.Hour

// HandleRefreshUser rebuilds one user's cached role and permission entries.
// A short redis lock keeps concurrent workers from refreshing the same user
// at once; losing the race is fine because the winner does the same work.
func HandleRefreshUser(roles *rbac.Service, rdb *redis.Client, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("refresh_user")
		var payload RefreshUserPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return tracker.End(asynq.SkipRetry)
		}
		if payload.UserID == "" {
			return tracker.End(asynq.SkipRetry)
		}
		if rdb != nil {
			key := shared.RefreshLockKey(payload.UserID, payload.TenantID)
			ok, err := rdb.SetNX(ctx, key, "1", refreshLockTTL).Result()
			if err != nil {
				logger.Warn("refresh lock", slog.Any("error", err))
			} else if !ok {
				logger.Debug("refresh already in flight",
					slog.String("user_id", payload.UserID),
					slog.String("tenant_id", payload.TenantID))
				return tracker.End(nil)
			} else {
				defer rdb.Del(context.WithoutCancel(ctx), key)
			}
		}
		if err := roles.RefreshUser(ctx, payload.UserID, payload.TenantID); err != nil {
			logger.Error("refresh user cache",
				slog.String("user_id", payload.UserID),
				slog.Any("error", err))
			return tracker.End(err)
		}
		logger.Info("refreshed user cache",
			slog.String("user_id", payload.UserID),
			slog.String("tenant_id", payload.TenantID))
		return tracker.End(nil)
	}
}

// HandleNotificationsPurge deletes read notifications past retention.
func HandleNotificationsPurge(svc *notifications.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("notifications_purge")
		n, err := svc.PurgeOld(ctx, notificationRetention)
		if err != nil {
			logger.Error("purge notifications", slog.Any("error", err))
			return tracker.End(err)
		}
		if n > 0 {
			logger.Info("purged notifications", slog.Int64("deleted", n))
		}
		return tracker.End(nil)
	}
}
