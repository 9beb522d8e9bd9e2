// Package observability implements the kernel's internal-only metrics
// surface (spec §2's observability hooks; "no transport" — metric
// exporters themselves are an external collaborator, so no HTTP
// exposition handler is wired here).
//
// Grounded on pkg/metrics/metrics.go's Prometheus vector definitions
// and Record* emission functions, stripped of the promhttp/net-http
// exposition layer.
package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/r3e-network/llm-inference-kernel/execution"
)

var (
	phaseExecutions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_kernel",
		Subsystem: "pipeline",
		Name:      "phase_executions_total",
		Help:      "Total phase executions grouped by phase and outcome.",
	}, []string{"phase", "outcome"})

	phaseDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "llm_kernel",
		Subsystem: "pipeline",
		Name:      "phase_duration_seconds",
		Help:      "Duration of phase executions.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"phase"})

	executionOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "llm_kernel",
		Subsystem: "execution",
		Name:      "outcomes_total",
		Help:      "Total executions grouped by terminal status.",
	}, []string{"status"})

	runnerPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "llm_kernel",
		Subsystem: "runner",
		Name:      "pool_size",
		Help:      "Current number of warm runners held by the factory.",
	})

	sessionPoolActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "llm_kernel",
		Subsystem: "session",
		Name:      "pool_active",
		Help:      "Current active sessions grouped by model and tenant.",
	}, []string{"model", "tenant"})
)

func init() {
	prometheus.MustRegister(phaseExecutions, phaseDuration, executionOutcomes, runnerPoolSize, sessionPoolActive)
}

// Hooks are the phase-level emission points the pipeline invokes
// (SPEC_FULL.md's observability component, spec §4.2's OBSERVABILITY
// phase and §8 S1's "every phase emits one observer onPhase").
type Hooks struct {
	mu      sync.Mutex
	onPhase []func(phase execution.Phase, err error, duration time.Duration)
}

// New returns a Hooks instance wired to the internal Prometheus vectors.
func New() *Hooks {
	h := &Hooks{}
	h.Subscribe(func(phase execution.Phase, err error, duration time.Duration) {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		phaseExecutions.WithLabelValues(string(phase), outcome).Inc()
		phaseDuration.WithLabelValues(string(phase)).Observe(duration.Seconds())
	})
	return h
}

// Subscribe registers an additional onPhase observer.
func (h *Hooks) Subscribe(fn func(phase execution.Phase, err error, duration time.Duration)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onPhase = append(h.onPhase, fn)
}

// EmitPhase notifies every subscribed observer that phase completed.
func (h *Hooks) EmitPhase(phase execution.Phase, err error, duration time.Duration) {
	h.mu.Lock()
	observers := append([]func(execution.Phase, error, time.Duration){}, h.onPhase...)
	h.mu.Unlock()
	for _, fn := range observers {
		fn(phase, err, duration)
	}
}

// EmitExecutionOutcome records the terminal status of one execution.
func EmitExecutionOutcome(status execution.Status) {
	executionOutcomes.WithLabelValues(string(status)).Inc()
}

// SetRunnerPoolSize publishes the current warm-pool occupancy.
func SetRunnerPoolSize(n int) {
	runnerPoolSize.Set(float64(n))
}

// SetSessionPoolActive publishes current active-session count for
// (modelID, tenantID).
func SetSessionPoolActive(modelID, tenantID string, n int) {
	sessionPoolActive.WithLabelValues(modelID, tenantID).Set(float64(n))
}

// Stats is a point-in-time snapshot surface (SPEC_FULL.md §C.4),
// aggregated from the process's collectors rather than held in Hooks
// itself (hooks only push; Stats is for pull-based diagnostics).
type Stats struct {
	RunnerPoolSize int
}
