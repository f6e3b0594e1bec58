package wsrpc

import (
	"log/slog"
	"time"

	"github.com/juju/clock"
	"golang.org/x/time/rate"
)

// Request timeout bounds.
const (
	DefaultRequestTimeout = 10 * time.Second
	MinRequestTimeout     = 100 * time.Millisecond
	DefaultWriteTimeout   = 5 * time.Second
)

// Option configures Open.
type Option func(*options)

type options struct {
	requestTimeout time.Duration
	writeTimeout   time.Duration
	logger         *slog.Logger
	clock          clock.Clock
	dialer         Dialer
	limiter        *rate.Limiter
}

func defaultOptions() options {
	return options{
		writeTimeout: DefaultWriteTimeout,
		logger:       slog.Default(),
		clock:        clock.WallClock,
		dialer:       &WebSocketDialer{},
	}
}

// WithRequestTimeout sets the per-call deadline. Zero keeps the default;
// anything below MinRequestTimeout is raised to it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithWriteTimeout bounds how long a single outbound message may take.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithLogger sets a custom slog.Logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces the clock used for call deadlines and ids.
func WithClock(clk clock.Clock) Option {
	return func(o *options) {
		if clk != nil {
			o.clock = clk
		}
	}
}

// WithDialer replaces the transport. The default dials with nhooyr.io/websocket.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithRateLimit throttles outbound calls to limit per second with the given
// burst. A zero limit disables throttling.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		if limit <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(limit, burst)
	}
}

// effectiveTimeout applies the default and the floor.
func effectiveTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return DefaultRequestTimeout
	}
	if d < MinRequestTimeout {
		return MinRequestTimeout
	}
	return d
}
