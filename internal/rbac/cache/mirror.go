package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

const (
	storagePrefix = "meridian_authz_"
	eventChannel  = "meridian.authz.events"
)

// Mirror writes are best-effort: a failing Redis only costs warm restarts,
// never correctness, so errors are logged and swallowed.

func (c *Cache) mirrorSave(ctx context.Context, key string, e entry, ttl time.Duration) {
	if c.client == nil {
		return
	}
	raw, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("authz mirror encode", slog.String("key", key), slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.logger.Warn("authz mirror save", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *Cache) mirrorRemove(ctx context.Context, key string) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("authz mirror remove", slog.String("key", key), slog.Any("error", err))
	}
}

func (c *Cache) mirrorClear(ctx context.Context) {
	if c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, storagePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("authz mirror clear", slog.String("key", iter.Val()), slog.Any("error", err))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("authz mirror scan", slog.Any("error", err))
	}
}

// Restore re-reads every mirrored entry, keeping the ones that are still
// valid and discarding the rest. Called at startup and on a sync event.
func (c *Cache) Restore(ctx context.Context) {
	if c.client == nil {
		return
	}
	now := c.now().UnixMilli()
	restored := 0
	iter := c.client.Scan(ctx, 0, storagePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := c.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil || e.ExpiresAt <= now {
			_ = c.client.Del(ctx, key).Err()
			continue
		}
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		restored++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("authz mirror restore", slog.Any("error", err))
		return
	}
	if restored > 0 {
		c.logger.Info("authz cache restored from mirror", slog.Int("entries", restored))
	}
}

// PublishEvent broadcasts a named invalidation event to every instance,
// including this one.
func (c *Cache) PublishEvent(ctx context.Context, event string) {
	if c.client == nil {
		c.handleEvent(ctx, event)
		return
	}
	if err := c.client.Publish(ctx, eventChannel, event).Err(); err != nil {
		c.logger.Warn("authz publish event", slog.String("event", event), slog.Any("error", err))
		// Degrade to a local flush so this instance at least stays fresh.
		c.handleEvent(ctx, event)
	}
}

func (c *Cache) listenEvents(ctx context.Context) {
	if c.client == nil {
		return
	}
	pubsub := c.client.Subscribe(ctx, eventChannel)
	defer func() { _ = pubsub.Close() }()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.handleEvent(ctx, msg.Payload)
		}
	}
}

func (c *Cache) handleEvent(ctx context.Context, event string) {
	switch event {
	case EventSync:
		c.Restore(ctx)
	case EventRoleUpdated, EventPermissionChange, EventRoleAssigned, EventRoleRevoked, EventTenantChanged:
		c.InvalidateAll(ctx)
	default:
		c.logger.Debug("authz event ignored", slog.String("event", event))
	}
}
