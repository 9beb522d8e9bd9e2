// Package provider implements the provider abstraction of spec §4.3:
// the Provider interface, wire-normalized request/response types, and
// the process-scoped ProviderRegistry.
//
// Grounded on the teacher's system/core/interfaces.go ServiceModule /
// ServiceRegistry pattern (Name/Domain/Start/Stop generalized here to
// Identifier/Metadata/Capabilities/initialize/shutdown) and
// system/core/registry.go's Registry.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/r3e-network/llm-inference-kernel/model"
)

// Metadata describes a provider's identity (spec §4.3).
type Metadata struct {
	Name        string
	Version     string
	Vendor      string
	Description string
}

// Request is the wire-normalized counterpart of model.InferenceRequest
// (spec §4.3), produced by the PRE_PROCESSING phase.
type Request struct {
	model.InferenceRequest
	Tenant model.TenantContext
	// Cancel is the cooperative cancellation channel providers MUST
	// respect (spec §5 "Cancellation is cooperative").
	Cancel <-chan struct{}
}

// Response is the wire-normalized counterpart consumed by
// POST_PROCESSING into a model.InferenceResponse (spec §4.3).
type Response struct {
	Content      string
	ModelID      string
	TokensUsed   model.TokenUsage
	FinishReason model.FinishReason
	Metadata     map[string]interface{}
	ProviderID   string
}

// HealthStatus is the closed set of provider health states (spec §4.3).
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "HEALTHY"
	HealthDegraded  HealthStatus = "DEGRADED"
	HealthUnhealthy HealthStatus = "UNHEALTHY"
	HealthUnknown   HealthStatus = "UNKNOWN"
)

// Health is a provider health snapshot (spec §4.3, §6).
type Health struct {
	Status    HealthStatus
	Message   string
	Timestamp time.Time
	Details   map[string]interface{}
}

// Provider is the contract every backend (local runtime or remote API)
// must satisfy (spec §4.3).
type Provider interface {
	ID() string
	Metadata() Metadata
	Capabilities() model.ProviderCapabilities
	// Initialize MUST be idempotent; Registry enforces this with a
	// sync.Once wrapper regardless of the implementation's own care.
	Initialize(ctx context.Context, config map[string]interface{}, tenant model.TenantContext) error
	Infer(ctx context.Context, req Request) (Response, error)
	Health(ctx context.Context) Health
	Shutdown(ctx context.Context) error
}

// StreamingProvider is additionally implemented by providers that can
// stream (spec §4.3). Stream pushes chunks onto ch until the provider
// closes it or ctx is cancelled.
type StreamingProvider interface {
	Provider
	Stream(ctx context.Context, req Request, ch chan<- StreamChunk) error
}

// StreamChunk mirrors spec §4.8 without importing package streaming
// (kept here so Provider/StreamingProvider need no dependency beyond
// model). package streaming re-exports this type as streaming.StreamChunk
// for callers that only deal with the transport layer.
type StreamChunk struct {
	RequestID    string
	Delta        string
	Sequence     int
	Last         bool
	FinishReason model.FinishReason
}

// entry wraps a Provider with the idempotent-initialize guard of
// SPEC_FULL.md §C.5.
type entry struct {
	provider Provider
	once     sync.Once
	initErr  error
	health   Health
	healthAt time.Time
}

// Registry is the process-scoped provider registry of spec §4.3.
// Read-mostly after startup; writes only during init/shutdown (spec §5).
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string
	healthTTL time.Duration
}

// NewRegistry returns an empty Registry. healthTTL defaults to 30s
// (spec §4.3 "configurable TTL (default 30 s)") when <= 0.
func NewRegistry(healthTTL time.Duration) *Registry {
	if healthTTL <= 0 {
		healthTTL = 30 * time.Second
	}
	return &Registry{entries: map[string]*entry{}, healthTTL: healthTTL}
}

// Discover registers and initializes every provider in providers, in
// order. The first initialization failure stops discovery and is
// returned.
func (r *Registry) Discover(ctx context.Context, providers []Provider, config map[string]interface{}, tenant model.TenantContext) error {
	for _, p := range providers {
		if err := r.register(p); err != nil {
			return err
		}
		if err := r.initialize(ctx, p.ID(), config, tenant); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) register(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[p.ID()]; exists {
		return nil
	}
	r.entries[p.ID()] = &entry{provider: p}
	r.order = append(r.order, p.ID())
	return nil
}

// initialize invokes Provider.Initialize exactly once regardless of how
// many times it's requested (spec §4.3 idempotence, SPEC_FULL.md §C.5).
func (r *Registry) initialize(ctx context.Context, id string, config map[string]interface{}, tenant model.TenantContext) error {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	e.once.Do(func() {
		e.initErr = e.provider.Initialize(ctx, config, tenant)
	})
	return e.initErr
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// All returns every registered provider in registration order.
func (r *Registry) All() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].provider)
	}
	return out
}

// ForModel returns providers whose capabilities support modelID
// (spec §4.3).
func (r *Registry) ForModel(modelID string) []Provider {
	var out []Provider
	for _, p := range r.All() {
		if p.Capabilities().SupportsModel(modelID) {
			out = append(out, p)
		}
	}
	return out
}

// Streaming returns the subset of registered providers supporting
// streaming (spec §4.3).
func (r *Registry) Streaming() []StreamingProvider {
	var out []StreamingProvider
	for _, p := range r.All() {
		if sp, ok := p.(StreamingProvider); ok && p.Capabilities().Streaming {
			out = append(out, sp)
		}
	}
	return out
}

// Refresh re-invokes Health on every provider and updates the cached
// value (SPEC_FULL.md §C.2).
func (r *Registry) Refresh(ctx context.Context) {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		h := e.provider.Health(ctx)
		r.mu.Lock()
		e.health = h
		e.healthAt = time.Now().UTC()
		r.mu.Unlock()
	}
}

// CachedHealth returns the last cached Health for id, refreshing it if
// older than the configured TTL.
func (r *Registry) CachedHealth(ctx context.Context, id string) (Health, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return Health{}, false
	}
	r.mu.RLock()
	stale := time.Since(e.healthAt) > r.healthTTL
	h := e.health
	r.mu.RUnlock()
	if stale {
		h = e.provider.Health(ctx)
		r.mu.Lock()
		e.health = h
		e.healthAt = time.Now().UTC()
		r.mu.Unlock()
	}
	return h, true
}

// Shutdown invokes Shutdown on every registered provider, collecting
// errors rather than stopping at the first one.
func (r *Registry) Shutdown(ctx context.Context) []error {
	var errs []error
	for _, p := range r.All() {
		if err := p.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
