package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"delego/internal/delegation"
	"delego/internal/delegation/metrics"
	"delego/internal/delegation/models"
	"delego/pkg/domain"
)

// CheckRevoker is the engine surface the cache decorates.
type CheckRevoker interface {
	delegation.Checker
	delegation.Revoker
}

// CachedChecker decorates an engine with decision caching. It keeps the
// engine's fail-closed behavior: engine errors are never cached, and a
// cache failure degrades to an uncached check rather than an allow.
type CachedChecker struct {
	inner   CheckRevoker
	store   Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	allowTTL time.Duration
	denyTTL  time.Duration
}

// Option configures the CachedChecker.
type Option func(*CachedChecker)

// WithTTLs overrides the allow and deny TTLs.
func WithTTLs(allow, deny time.Duration) Option {
	return func(c *CachedChecker) {
		if allow > 0 {
			c.allowTTL = allow
		}
		if deny > 0 {
			c.denyTTL = deny
		}
	}
}

// WithMetrics enables cache hit/miss/invalidate counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *CachedChecker) { c.metrics = m }
}

// New wraps an engine with a decision cache.
func New(inner CheckRevoker, store Store, logger *slog.Logger, opts ...Option) *CachedChecker {
	c := &CachedChecker{
		inner:    inner,
		store:    store,
		logger:   logger,
		allowTTL: DefaultAllowTTL,
		denyTTL:  DefaultDenyTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckAccess serves a cached decision when one exists, otherwise runs
// the engine check and caches its decision under the task epoch observed
// before the check began. A revocation that lands mid-check bumps the
// epoch, so the late write goes to an orphaned slot and can never serve
// a stale allow.
func (c *CachedChecker) CheckAccess(ctx context.Context, agentID domain.AgentID, taskID domain.TaskID, resourceID domain.ResourceID, level domain.AccessLevel) (delegation.Decision, error) {
	key := Key{Agent: agentID, Task: taskID, Resource: resourceID, Access: level.OrDefault()}

	epoch, err := c.store.Epoch(ctx, taskID)
	if err != nil {
		c.logger.WarnContext(ctx, "decision cache epoch read failed, checking uncached",
			"task_id", taskID,
			"error", err,
		)
		return c.inner.CheckAccess(ctx, agentID, taskID, resourceID, level)
	}

	cached, err := c.store.Get(ctx, epoch, key)
	if err != nil {
		c.logger.WarnContext(ctx, "decision cache read failed, checking uncached",
			"task_id", taskID,
			"error", err,
		)
	}
	if cached != nil {
		c.metrics.IncCacheEvent("hit")
		return *cached, nil
	}
	c.metrics.IncCacheEvent("miss")

	decision, err := c.inner.CheckAccess(ctx, agentID, taskID, resourceID, level)
	if err != nil {
		return decision, err
	}

	ttl := c.denyTTL
	if decision.Allowed {
		ttl = c.allowTTL
	}
	if err := c.store.Set(ctx, epoch, key, decision, ttl); err != nil {
		c.logger.WarnContext(ctx, "decision cache write failed",
			"task_id", taskID,
			"error", err,
		)
	}
	return decision, nil
}

// RevokeTask invalidates every cached decision for the task, then
// delegates the revocation. Invalidation must complete first: if it
// fails, the revoke does not proceed, because revoked tuples behind live
// cached allows would keep granting access for up to the allow TTL.
// RevokeTask is idempotent, so the caller retries safely.
func (c *CachedChecker) RevokeTask(ctx context.Context, taskID domain.TaskID) (models.RevokeResult, error) {
	if err := c.store.BumpEpoch(ctx, taskID); err != nil {
		return models.RevokeResult{}, fmt.Errorf("invalidating cached decisions for %s: %w", taskID, err)
	}
	c.metrics.IncCacheEvent("invalidate")
	return c.inner.RevokeTask(ctx, taskID)
}
