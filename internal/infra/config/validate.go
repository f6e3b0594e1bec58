package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"wsjsonrpc/internal/domain"
)

// ValidationError accumulates config validation errors. Problems recorded
// with AddKind also unwrap to their sentinel.
type ValidationError struct {
	Errors []string
	kinds  []error
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// AddKind records a formatted validation error classified by a domain sentinel.
func (v *ValidationError) AddKind(kind error, format string, args ...interface{}) {
	v.Add(format, args...)
	v.kinds = append(v.kinds, kind)
}

func (v *ValidationError) Unwrap() []error { return v.kinds }

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClient(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateClient(cfg *Config, ve *ValidationError) {
	c := cfg.Client

	if c.Endpoint == "" {
		ve.AddKind(domain.ErrInvalidEndpoint, "client.endpoint must not be empty")
	} else if u, err := url.Parse(c.Endpoint); err != nil || u.Host == "" {
		ve.AddKind(domain.ErrInvalidEndpoint, "client.endpoint %q is not a valid URL", c.Endpoint)
	} else if s := strings.ToLower(u.Scheme); s != "ws" && s != "wss" {
		ve.AddKind(domain.ErrInvalidEndpoint, "client.endpoint %q must use ws:// or wss://", c.Endpoint)
	}

	// Shorter request timeouts are raised to the client's floor, not rejected.
	if c.RequestTimeout < 0 {
		ve.Add("client.request_timeout must be >= 0")
	}
	if c.WriteTimeout <= 0 {
		ve.Add("client.write_timeout must be > 0")
	}
	if c.ReadLimit < 0 {
		ve.Add("client.read_limit must be >= 0")
	}
	if c.PollInterval < 10*time.Millisecond {
		ve.Add("client.poll_interval must be >= 10ms")
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		ve.Add("client.rate_limit.requests_per_second must be >= 0")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		ve.Add("client.rate_limit.burst must be >= 1 when rate limiting is enabled")
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.MaxFailures == 0 {
			ve.Add("client.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if c.CircuitBreaker.Timeout <= 0 {
			ve.Add("client.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

func validateLogger(cfg *Config, ve *ValidationError) {
	if lvl := strings.ToLower(cfg.Logger.Level); lvl != "" && !validLogLevels[lvl] {
		ve.Add("logger.level %q must be one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "", "stdout", "noop":
	default:
		ve.Add("tracer.exporter %q is not supported (stdout, noop)", cfg.Tracer.Exporter)
	}
	switch strings.ToLower(cfg.Tracer.Output) {
	case "", "stdout", "stderr":
	default:
		ve.Add("tracer.output %q must be stdout or stderr", cfg.Tracer.Output)
	}
	if cfg.Tracer.SampleRatio < 0 {
		ve.Add("tracer.sample_ratio must be >= 0")
	}
}
