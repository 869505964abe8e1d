package relationship

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure
	// counts. If 0, failures never reset until the circuit opens.
	Interval time.Duration
}

// BreakerStore wraps a Store with a circuit breaker. When the underlying
// store fails repeatedly, calls fail fast without reaching it, preventing
// retry storms against a struggling backend. The engine does not retry
// store operations; availability policy lives here in the adapter layer.
//
// A fast failure is still a failure: checks through an open breaker surface
// an error, which fail-closed callers treat as a denial.
type BreakerStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps inner with a circuit breaker.
// If cfg is zero-valued, sensible defaults are used.
func NewBreakerStore(inner Store, cfg BreakerConfig, logger *slog.Logger) *BreakerStore {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "relationship-store",
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerStore{inner: inner, breaker: cb}
}

func (s *BreakerStore) WriteBatch(ctx context.Context, tuples []Tuple) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.inner.WriteBatch(ctx, tuples)
	})
	return err
}

func (s *BreakerStore) DeleteBatch(ctx context.Context, tuples []Tuple) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.inner.DeleteBatch(ctx, tuples)
	})
	return err
}

func (s *BreakerStore) CheckTuple(ctx context.Context, subject, relation, object string) (bool, error) {
	present, err := s.breaker.Execute(func() (any, error) {
		return s.inner.CheckTuple(ctx, subject, relation, object)
	})
	if err != nil {
		return false, err
	}
	return present.(bool), nil
}

func (s *BreakerStore) ReadTuples(ctx context.Context, filter Filter) ([]Tuple, error) {
	tuples, err := s.breaker.Execute(func() (any, error) {
		return s.inner.ReadTuples(ctx, filter)
	})
	if err != nil {
		return nil, err
	}
	return tuples.([]Tuple), nil
}
