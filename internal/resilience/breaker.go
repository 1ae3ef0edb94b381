// Package resilience holds the failure-handling policies shared by agent
// calls: bounded retry with exponential backoff and per-model circuit
// breakers.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	// StateClosed lets every call through.
	StateClosed CircuitState = iota
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen
	// StateHalfOpen lets a single probe call through.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a breaker refuses a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default: 5
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// RecoveryTimeout is how long an open circuit waits before probing.
	// Default: 30s
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout"`

	// SuccessThreshold is the number of probe successes needed to close.
	// Default: 1
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
}

// DefaultBreakerConfig returns the default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = d.RecoveryTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	return c
}

// BreakerStats are cumulative counters for one breaker.
type BreakerStats struct {
	State      CircuitState
	Calls      int64
	Failures   int64
	Successes  int64
	Rejections int64
}

// CircuitBreaker fails fast while a backend keeps failing.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	now    func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	openedAt    time.Time
	probeActive bool
	stats       BreakerStats
}

// NewCircuitBreaker creates a closed breaker. Zero config fields take
// their defaults.
func NewCircuitBreaker(name string, config BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config.withDefaults(),
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed. Every allowed call must be
// followed by exactly one Record.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.RecoveryTimeout {
			cb.stats.Rejections++
			return false
		}
		cb.transition(StateHalfOpen)
		cb.probeActive = true
	case StateHalfOpen:
		if cb.probeActive {
			cb.stats.Rejections++
			return false
		}
		cb.probeActive = true
	}
	cb.stats.Calls++
	return true
}

// Record reports the outcome of an allowed call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.stats.Successes++
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.probeActive = false
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.stats.Failures++
	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.probeActive = false
		cb.transition(StateOpen)
	}
}

// Do runs fn if the breaker allows it and records the result.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.Record(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	s := cb.stats
	s.State = cb.state
	return s
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	slog.Debug("circuit breaker transition", "name", cb.name, "from", from.String(), "to", to.String())
}

// BreakerRegistry hands out one breaker per model identifier.
type BreakerRegistry struct {
	config BreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerRegistry creates a registry whose breakers share config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for model, creating it on first use.
func (r *BreakerRegistry) Get(model string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[model]; ok {
		return cb
	}
	cb := NewCircuitBreaker(model, r.config)
	r.breakers[model] = cb
	return cb
}

// Stats returns a snapshot for every registered breaker.
func (r *BreakerRegistry) Stats() map[string]BreakerStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerStats, len(r.breakers))
	for model, cb := range r.breakers {
		out[model] = cb.Stats()
	}
	return out
}
