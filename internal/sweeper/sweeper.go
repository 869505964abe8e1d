// Package sweeper revokes delegations whose expiry has passed. Expiry is
// advisory until the sweep runs; the engine's own expiry denial covers
// the window in between.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"delego/internal/delegation"
	"delego/internal/delegation/metrics"
	"delego/pkg/platform/audit"
)

// Engine is the delegation surface the sweeper drives.
type Engine interface {
	delegation.Revoker
	delegation.ExpiryLister
}

// Sweeper periodically lists expired tasks and revokes them one by one.
type Sweeper struct {
	engine   Engine
	audit    audit.Emitter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	interval time.Duration

	cron *cron.Cron
}

// Option configures the Sweeper.
type Option func(*Sweeper)

// WithInterval overrides the sweep interval.
func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithMetrics enables sweep counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// DefaultInterval bounds how long an expired task can outlive its expiry
// before revocation, absent traffic that would trip the engine's own
// expiry denial.
const DefaultInterval = time.Minute

func New(engine Engine, emitter audit.Emitter, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		engine:   engine,
		audit:    emitter,
		logger:   logger,
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules recurring sweeps. Returns an error only if the
// schedule cannot be registered.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.ErrorContext(ctx, "sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.InfoContext(ctx, "expiry sweeper started", "interval", s.interval)
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Result summarizes one sweep.
type Result struct {
	Expired  int
	Revoked  int
	Failures int
}

// RunOnce sweeps once. Each expired task is revoked independently: one
// failed revocation is logged and counted but never aborts the rest,
// so a poisoned task cannot keep every other expired task alive. The
// failed task stays listed and is retried next sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	expired, err := s.engine.ListExpiredTaskIDs(ctx)
	if err != nil {
		s.metrics.ObserveSweep(1)
		return Result{}, err
	}

	result := Result{Expired: len(expired)}
	for _, taskID := range expired {
		if _, err := s.engine.RevokeTask(ctx, taskID); err != nil {
			result.Failures++
			s.logger.ErrorContext(ctx, "expired task revocation failed",
				"task_id", taskID,
				"error", err,
			)
			continue
		}
		result.Revoked++
	}

	if result.Expired > 0 {
		s.logger.InfoContext(ctx, "sweep completed",
			"expired", result.Expired,
			"revoked", result.Revoked,
			"failures", result.Failures,
		)
		if err := s.audit.Emit(ctx, audit.Event{
			Kind:     audit.EventSweepCompleted,
			Decision: audit.DecisionRevoked,
			Reason:   "Expired delegations revoked",
			Metadata: map[string]any{
				"expired":  result.Expired,
				"revoked":  result.Revoked,
				"failures": result.Failures,
			},
		}); err != nil {
			s.logger.ErrorContext(ctx, "audit emit failed", "error", err)
		}
	}
	s.metrics.ObserveSweep(result.Failures)
	return result, nil
}
