// Package resilience implements the three-state circuit breaker of
// spec §4.7, grounded directly on infrastructure/resilience/circuit_breaker.go
// of the teacher, extended with the sliding failure-rate window (R, N)
// the teacher's version lacks.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/r3e-network/llm-inference-kernel/kernelerrors"
)

// State is one of the three breaker states (spec §4.7).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
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

// Config mirrors spec §4.7's tunables: an absolute failure threshold F,
// a failure-rate threshold R over a sliding window of size N (N >= F),
// an open-state duration D, H half-open probes, and S half-open
// successes required to close.
type Config struct {
	FailureThreshold   int           // F
	FailureRate        float64       // R in (0,1]
	WindowSize         int           // N, N >= F
	OpenDuration       time.Duration // D
	HalfOpenProbes     int           // H
	HalfOpenSuccessMin int           // S, S <= H
	// IsFailure classifies an error as a breaker failure; nil defaults
	// to "any non-nil error is a failure".
	IsFailure func(error) bool
}

// DefaultConfig mirrors the teacher's defaults, widened with the
// sliding-window parameters of spec §4.7.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:   5,
		FailureRate:        0.5,
		WindowSize:         10,
		OpenDuration:       30 * time.Second,
		HalfOpenProbes:     3,
		HalfOpenSuccessMin: 2,
	}
}

var (
	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_kernel",
		Subsystem: "circuit_breaker",
		Name:      "state_transitions_total",
		Help:      "Total circuit breaker state transitions, by destination state.",
	}, []string{"breaker", "to"})
)

func init() {
	prometheus.MustRegister(stateTransitions)
}

// CircuitBreaker implements the three-state breaker of spec §4.7.
type CircuitBreaker struct {
	name   string
	mu     sync.Mutex
	config Config

	state        State
	openedAt     time.Time
	halfOpenCalls int
	halfOpenOK    int

	window []bool // true = success, ring buffer of size WindowSize
	widx   int
	wlen   int
	absoluteFailures int
}

// New creates a CircuitBreaker named name (used only for metrics labels).
func New(name string, cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureRate <= 0 || cfg.FailureRate > 1 {
		cfg.FailureRate = 0.5
	}
	if cfg.WindowSize < cfg.FailureThreshold {
		cfg.WindowSize = cfg.FailureThreshold
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = 30 * time.Second
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = 3
	}
	if cfg.HalfOpenSuccessMin <= 0 || cfg.HalfOpenSuccessMin > cfg.HalfOpenProbes {
		cfg.HalfOpenSuccessMin = cfg.HalfOpenProbes
	}
	return &CircuitBreaker{
		name:   name,
		config: cfg,
		state:  StateClosed,
		window: make([]bool, cfg.WindowSize),
	}
}

// State returns the current state, advancing OPEN->HALF_OPEN if the
// open duration has elapsed (spec §4.7: "performed on any state query;
// no timer thread is required").
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionFromOpenLocked()
	return cb.state
}

// Execute runs fn under breaker protection (spec §4.7).
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransitionFromOpenLocked()

	switch cb.state {
	case StateOpen:
		remaining := cb.config.OpenDuration - time.Since(cb.openedAt)
		if remaining < 0 {
			remaining = 0
		}
		return &kernelerrors.KernelError{
			Type:      kernelerrors.TypeProvider,
			Message:   "circuit breaker is open",
			Retryable: true,
			Details:   map[string]interface{}{"estimated_recovery": remaining.String()},
		}
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenProbes {
			return kernelerrors.ErrCircuitOpen
		}
		cb.halfOpenCalls++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	isFailure := err != nil
	if cb.config.IsFailure != nil {
		isFailure = cb.config.IsFailure(err)
	} else if err == nil {
		isFailure = false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		if isFailure {
			cb.transitionLocked(StateOpen)
			return
		}
		cb.halfOpenOK++
		if cb.halfOpenOK >= cb.config.HalfOpenSuccessMin {
			cb.transitionLocked(StateClosed)
		}
		return
	case StateClosed:
		cb.pushLocked(!isFailure)
		if isFailure {
			cb.absoluteFailures++
		} else {
			cb.absoluteFailures = 0
		}
		if cb.absoluteFailures >= cb.config.FailureThreshold || cb.rateExceedsThresholdLocked() {
			cb.transitionLocked(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) pushLocked(success bool) {
	cb.window[cb.widx] = success
	cb.widx = (cb.widx + 1) % len(cb.window)
	if cb.wlen < len(cb.window) {
		cb.wlen++
	}
}

func (cb *CircuitBreaker) rateExceedsThresholdLocked() bool {
	if cb.wlen == 0 {
		return false
	}
	failures := 0
	for i := 0; i < cb.wlen; i++ {
		if !cb.window[i] {
			failures++
		}
	}
	return float64(failures)/float64(cb.wlen) >= cb.config.FailureRate
}

func (cb *CircuitBreaker) maybeTransitionFromOpenLocked() {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.OpenDuration {
		cb.transitionLocked(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(next State) {
	if cb.state == next {
		return
	}
	cb.state = next
	switch next {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateHalfOpen:
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	case StateClosed:
		cb.absoluteFailures = 0
		cb.wlen = 0
		cb.widx = 0
		cb.halfOpenCalls = 0
		cb.halfOpenOK = 0
	}
	stateTransitions.WithLabelValues(cb.name, next.String()).Inc()
}

// TripOpen manually forces the breaker open (spec §4.7 manual operation).
func (cb *CircuitBreaker) TripOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateOpen)
}

// Reset manually forces the breaker closed (spec §4.7 manual operation).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
}
