package store

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/orblabs/keygate/internal/observability"
)

// BreakerStore decorates a Store with a circuit breaker. When the
// backing store keeps failing, the breaker opens and calls fail fast
// instead of hammering the backend; the limiter above treats those
// failures as fail-open, so an unhealthy counter store degrades to
// "no rate limiting" rather than to denied traffic.
type BreakerStore struct {
	inner  Store
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// BreakerConfig holds circuit breaker settings for the counter store.
type BreakerConfig struct {
	// Threshold is the minimum number of requests before the failure
	// ratio is evaluated, and the number of probe requests allowed in
	// half-open state.
	Threshold int

	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
}

// DefaultBreakerConfig returns a BreakerConfig with default values.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold: 5,
		Timeout:   30 * time.Second,
	}
}

// NewBreakerStore wraps the store with a circuit breaker.
func NewBreakerStore(inner Store, config BreakerConfig, logger observability.Logger) *BreakerStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if config.Threshold <= 0 {
		config.Threshold = DefaultBreakerConfig().Threshold
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultBreakerConfig().Timeout
	}

	threshold := uint32(config.Threshold)

	bs := &BreakerStore{
		inner:  inner,
		logger: logger,
	}

	bs.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ratelimit-store",
		MaxRequests: threshold,
		Interval:    config.Timeout,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= threshold && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("rate limit store circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// A missing bucket is a normal outcome, not a backend failure.
			return err == nil || IsKeyNotFound(err)
		},
	})

	return bs
}

// IncrementWithExpiry implements Store.
func (s *BreakerStore) IncrementWithExpiry(
	ctx context.Context,
	key string,
	delta int64,
	expiration time.Duration,
) (int64, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.IncrementWithExpiry(ctx, key, delta, expiration)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Get implements Store.
func (s *BreakerStore) Get(ctx context.Context, key string) (int64, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.inner.Get(ctx, key)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Delete implements Store.
func (s *BreakerStore) Delete(ctx context.Context, key string) error {
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.inner.Delete(ctx, key)
	})
	return err
}

// Close implements Store.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}

// State returns the current breaker state.
func (s *BreakerStore) State() gobreaker.State {
	return s.cb.State()
}

// Ensure BreakerStore implements Store.
var _ Store = (*BreakerStore)(nil)
