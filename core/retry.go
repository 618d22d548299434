package core

import (
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy decides whether and when a failed attempt is retried.
// attempt is zero-based: 0 is the delay before the first retry.
type RetryPolicy interface {
	NextDelay(attempt int, err error) (time.Duration, bool)
}

// RetryConfig configures the default exponential backoff policy.
type RetryConfig struct {
	// MaxRetries bounds the number of retries after the first attempt.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter is the random spread applied to each delay, as a fraction (0.3 = ±30%).
	Jitter float64
	// Retryable overrides IsRetryable when set.
	Retryable func(error) bool
}

// DefaultRetryConfig returns the gateway defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     0.3,
	}
}

type backoffPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy builds an exponential backoff policy with jitter.
// Zero fields in cfg fall back to DefaultRetryConfig, except Jitter and MaxRetries.
func NewRetryPolicy(cfg RetryConfig) RetryPolicy {
	def := DefaultRetryConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	if cfg.Retryable == nil {
		cfg.Retryable = IsRetryable
	}
	return &backoffPolicy{cfg: cfg}
}

// DefaultRetryPolicy returns NewRetryPolicy(DefaultRetryConfig()).
func DefaultRetryPolicy() RetryPolicy {
	return NewRetryPolicy(DefaultRetryConfig())
}

func (p *backoffPolicy) NextDelay(attempt int, err error) (time.Duration, bool) {
	if attempt >= p.cfg.MaxRetries || !p.cfg.Retryable(err) {
		return 0, false
	}
	return Backoff(attempt, p.cfg.BaseDelay, p.cfg.MaxDelay, p.cfg.Jitter), true
}

// Backoff returns base*2^attempt capped at ceiling, spread by ±jitter.
func Backoff(attempt int, base, ceiling time.Duration, jitter float64) time.Duration {
	d := float64(base) * math.Pow(2, float64(attempt))
	if d > float64(ceiling) {
		d = float64(ceiling)
	}
	if jitter > 0 {
		d += d * jitter * (2*rand.Float64() - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
