package wsrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"wsjsonrpc/internal/domain"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 3
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerConfig configures BreakerQuerier.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration
}

// BreakerQuerier wraps a Querier with a circuit breaker. Timeouts, discarded
// replies and writes to a closed connection count as failures; a server error
// reply counts as success because the peer answered. It never re-issues a call.
type BreakerQuerier struct {
	inner   Querier
	breaker *gobreaker.CircuitBreaker[json.RawMessage]
	logger  *slog.Logger
}

// NewBreakerQuerier wraps inner. Zero-valued config fields use defaults.
func NewBreakerQuerier(inner Querier, cfg BreakerConfig, logger *slog.Logger) *BreakerQuerier {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker[json.RawMessage](gobreaker.Settings{
		Name:        "wsrpc",
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
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrServerReported)
		},
	})

	return &BreakerQuerier{inner: inner, breaker: cb, logger: logger}
}

// Query implements Querier.
func (b *BreakerQuerier) Query(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return b.execute(method, func() (json.RawMessage, error) {
		return b.inner.Query(ctx, method, params...)
	})
}

// QueryNamed implements Querier.
func (b *BreakerQuerier) QueryNamed(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return b.execute(method, func() (json.RawMessage, error) {
		return b.inner.QueryNamed(ctx, method, params)
	})
}

func (b *BreakerQuerier) execute(method string, fn func() (json.RawMessage, error)) (json.RawMessage, error) {
	res, err := b.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("call %q: %w: %w", method, domain.ErrCircuitOpen, err)
		}
		return nil, err
	}
	return res, nil
}

// State returns the current circuit breaker state for monitoring.
func (b *BreakerQuerier) State() gobreaker.State {
	return b.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (b *BreakerQuerier) Counts() gobreaker.Counts {
	return b.breaker.Counts()
}

var _ Querier = (*BreakerQuerier)(nil)
