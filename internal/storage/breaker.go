package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	logx "valvectl/pkg/logx"
)

// BreakerConfig tunes WithBreaker. Zero values fall back to 3 consecutive
// failures and a 1 minute open period.
type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

type breakerStore struct {
	Store
	cb *gobreaker.CircuitBreaker
}

// WithBreaker guards schedule writes with a circuit breaker. While open,
// SaveSchedules fails fast with ErrUnavailable. Reads and the journal pass
// through unchanged.
func WithBreaker(s Store, cfg BreakerConfig, log logx.Logger) Store {
	if s == nil {
		return nil
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}
	maxFailures := cfg.MaxFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "storage.schedules",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("storage breaker state changed",
				logx.String("breaker", name),
				logx.String("from", from.String()),
				logx.String("to", to.String()),
			)
		},
	})
	return &breakerStore{Store: s, cb: cb}
}

func (b *breakerStore) SaveSchedules(ctx context.Context, recs []Record) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.Store.SaveSchedules(ctx, recs)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// BreakerState reports the breaker state of s, or "" when s is not wrapped.
func BreakerState(s Store) string {
	if b, ok := s.(*breakerStore); ok {
		return b.cb.State().String()
	}
	return ""
}
