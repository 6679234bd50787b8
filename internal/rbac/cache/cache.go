// Package cache provides time-bounded, per-user memoization of role and
// permission lookups, mirrored to Redis so warm restarts and sibling
// instances do not refetch from Postgres. It is a read-through cache and
// never a source of truth: row-level security in Postgres remains the
// authoritative boundary.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	rbac "github.com/meridian-hq/meridian/internal/rbac/domain"
)

// Time-to-live per entry type.
const (
	TTLRoles        = 15 * time.Minute
	TTLPermissions  = 10 * time.Minute
	TTLAccessRights = 5 * time.Minute

	sweepInterval    = time.Minute
	maxFetchAttempts = 3
	maxRetryDelay    = 5 * time.Second
)

// Invalidation events. Any of these, published on the event channel by a
// mutation elsewhere in the platform, flushes the whole cache.
const (
	EventRoleUpdated      = "role_updated"
	EventPermissionChange = "permission_changed"
	EventRoleAssigned     = "user_role_assigned"
	EventRoleRevoked      = "user_role_revoked"
	EventTenantChanged    = "tenant_changed"

	// EventSync asks instances to re-read the mirror instead of flushing,
	// the cross-process analogue of a storage change in another browser tab.
	EventSync = "sync"
)

// InvalidationEvents lists the events that trigger a full flush.
func InvalidationEvents() []string {
	return []string{
		EventRoleUpdated,
		EventPermissionChange,
		EventRoleAssigned,
		EventRoleRevoked,
		EventTenantChanged,
	}
}

const (
	typeRoles        = "roles"
	typePermissions  = "permissions"
	typeAccessRights = "access_rights"
)

// FetchRoles loads a user's live role assignments from the backing store.
type FetchRoles func(ctx context.Context) ([]rbac.Assignment, error)

// FetchPermissions loads a user's resolved permission set from the backing store.
type FetchPermissions func(ctx context.Context) ([]rbac.UserPermission, error)

type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	ExpiresAt int64           `json:"expiresAt"`
	Version   string          `json:"version"`
	UserID    string          `json:"userId"`
	TenantID  string          `json:"tenantId,omitempty"`
}

// Cache memoizes role and permission lookups per (user, tenant) with a Redis
// mirror. All fetches go through the caller-supplied fetch functions; the
// cache itself never talks to Postgres.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	group  singleflight.Group
	client *redis.Client
	logger *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)
}

// New constructs a Cache. The Redis client is optional; without it the cache
// is memory-only and restarts cold.
func New(client *redis.Client, logger *slog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		client:  client,
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
	}
}

// Run restores the mirror, then sweeps expired entries every minute and
// listens for invalidation events until the context is cancelled.
func (c *Cache) Run(ctx context.Context) {
	c.Restore(ctx)
	go c.listenEvents(ctx)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// GetRoles returns cached role assignments, fetching and caching them on miss
// with a 15 minute TTL. Concurrent misses for one key share a single fetch.
func (c *Cache) GetRoles(ctx context.Context, userID, tenantID string, fetch FetchRoles) ([]rbac.Assignment, error) {
	key := cacheKey(typeRoles, userID, tenantID)
	var cached []rbac.Assignment
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		var again []rbac.Assignment
		if c.lookup(ctx, key, &again) {
			return again, nil
		}
		// Role data feeds security decisions, so the fetch runs to
		// completion even if the first caller goes away.
		fetchCtx := context.WithoutCancel(ctx)
		var roles []rbac.Assignment
		if err := c.fetchWithRetry(fetchCtx, func() error {
			var err error
			roles, err = fetch(fetchCtx)
			return err
		}); err != nil {
			return nil, err
		}
		c.store(fetchCtx, key, roles, TTLRoles, userID, tenantID)
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]rbac.Assignment), nil
}

// GetPermissions returns the cached resolved permission set, fetching on miss
// with a 10 minute TTL. Same coalescing and retry contract as GetRoles.
func (c *Cache) GetPermissions(ctx context.Context, userID, tenantID string, fetch FetchPermissions) ([]rbac.UserPermission, error) {
	key := cacheKey(typePermissions, userID, tenantID)
	var cached []rbac.UserPermission
	if c.lookup(ctx, key, &cached) {
		return cached, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		var again []rbac.UserPermission
		if c.lookup(ctx, key, &again) {
			return again, nil
		}
		fetchCtx := context.WithoutCancel(ctx)
		var perms []rbac.UserPermission
		if err := c.fetchWithRetry(fetchCtx, func() error {
			var err error
			perms, err = fetch(fetchCtx)
			return err
		}); err != nil {
			return nil, err
		}
		c.store(fetchCtx, key, perms, TTLPermissions, userID, tenantID)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]rbac.UserPermission), nil
}

// AccessRights is a pure cache read with no fetch fallback; callers compute
// the rights map themselves and store it with SetAccessRights.
func (c *Cache) AccessRights(ctx context.Context, userID, tenantID string) (map[string]bool, bool) {
	key := cacheKey(typeAccessRights, userID, tenantID)
	var rights map[string]bool
	if c.lookup(ctx, key, &rights) {
		return rights, true
	}
	return nil, false
}

// SetAccessRights stores a computed access rights map with a 5 minute TTL.
func (c *Cache) SetAccessRights(ctx context.Context, userID, tenantID string, rights map[string]bool) {
	c.store(ctx, cacheKey(typeAccessRights, userID, tenantID), rights, TTLAccessRights, userID, tenantID)
}

// InvalidateUser removes every entry owned by the user, restricted to one
// tenant when tenantID is non-empty. Used when a role is reassigned.
func (c *Cache) InvalidateUser(ctx context.Context, userID, tenantID string) {
	c.mu.Lock()
	var removed []string
	for key, e := range c.entries {
		if e.UserID == userID && (tenantID == "" || e.TenantID == tenantID) {
			delete(c.entries, key)
			removed = append(removed, key)
		}
	}
	c.mu.Unlock()
	for _, key := range removed {
		c.mirrorRemove(ctx, key)
	}
	c.logger.Debug("authz cache invalidated for user",
		slog.String("user_id", userID), slog.Int("entries", len(removed)))
}

// InvalidateAll clears the cache and its mirror.
func (c *Cache) InvalidateAll(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
	c.mirrorClear(ctx)
	c.logger.Debug("authz cache flushed")
}

// RefreshUser invalidates then eagerly repopulates both the role and the
// permission caches so the very next read is served fresh.
func (c *Cache) RefreshUser(ctx context.Context, userID, tenantID string, fetchRoles FetchRoles, fetchPerms FetchPermissions) error {
	c.InvalidateUser(ctx, userID, tenantID)
	if _, err := c.GetRoles(ctx, userID, tenantID, fetchRoles); err != nil {
		return fmt.Errorf("rbac/cache: refresh roles: %w", err)
	}
	if _, err := c.GetPermissions(ctx, userID, tenantID, fetchPerms); err != nil {
		return fmt.Errorf("rbac/cache: refresh permissions: %w", err)
	}
	return nil
}

// Stats reports entry counts for operational visibility.
type Stats struct {
	TotalEntries   int `json:"total_entries"`
	ValidEntries   int `json:"valid_entries"`
	ExpiredEntries int `json:"expired_entries"`
}

// Stats returns current entry counts.
func (c *Cache) Stats() Stats {
	now := c.now().UnixMilli()
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Stats{TotalEntries: len(c.entries)}
	for _, e := range c.entries {
		if e.ExpiresAt > now {
			s.ValidEntries++
		} else {
			s.ExpiredEntries++
		}
	}
	return s
}

func cacheKey(typ, userID, tenantID string) string {
	key := storagePrefix + typ + "_" + userID
	if tenantID != "" {
		key += "_" + tenantID
	}
	return key
}

// lookup decodes a non-expired entry into dest, evicting it when stale.
func (c *Cache) lookup(ctx context.Context, key string, dest any) bool {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	if e.ExpiresAt <= c.now().UnixMilli() {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		c.mirrorRemove(ctx, key)
		return false
	}
	if err := json.Unmarshal(e.Data, dest); err != nil {
		c.logger.Warn("authz cache entry corrupt", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, data any, ttl time.Duration, userID, tenantID string) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn("authz cache encode", slog.String("key", key), slog.Any("error", err))
		return
	}
	now := c.now()
	e := entry{
		Data:      raw,
		Timestamp: now.UnixMilli(),
		ExpiresAt: now.Add(ttl).UnixMilli(),
		Version:   fmt.Sprintf("%d_%06d", now.UnixMilli(), rand.Intn(1_000_000)),
		UserID:    userID,
		TenantID:  tenantID,
	}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	c.mirrorSave(ctx, key, e, ttl)
}

// fetchWithRetry runs fn up to three times with 1s/2s/4s backoff capped at
// 5s and no jitter. The last error is returned unwrapped so callers can show
// it; nothing is cached on failure.
func (c *Cache) fetchWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			if attempt < maxFetchAttempts {
				delay := time.Duration(1<<(attempt-1)) * time.Second
				if delay > maxRetryDelay {
					delay = maxRetryDelay
				}
				c.logger.Warn("authz fetch failed, retrying",
					slog.Int("attempt", attempt), slog.Duration("delay", delay), slog.Any("error", err))
				c.sleep(delay)
			}
			continue
		}
		return nil
	}
	return lastErr
}

func (c *Cache) sweep(ctx context.Context) {
	now := c.now().UnixMilli()
	c.mu.Lock()
	var expired []string
	for key, e := range c.entries {
		if e.ExpiresAt <= now {
			delete(c.entries, key)
			expired = append(expired, key)
		}
	}
	c.mu.Unlock()
	for _, key := range expired {
		c.mirrorRemove(ctx, key)
	}
	if len(expired) > 0 {
		c.logger.Debug("authz cache sweep", slog.Int("expired", len(expired)))
	}
}
