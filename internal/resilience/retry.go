package resilience

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how patiently a call is retried.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Default: 3
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BaseDelay is the wait after the first failed attempt. Default: 5s
	BaseDelay time.Duration `yaml:"base_delay" json:"base_delay"`

	// Multiplier scales the delay after each further failure. Default: 2
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// DefaultRetryPolicy returns 3 attempts with 5s and 10s waits between them.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Multiplier:  2,
	}
}

// WithDefaults fills in zero fields.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
