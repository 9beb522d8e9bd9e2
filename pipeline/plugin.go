package pipeline

import (
	"sort"
	"sync"

	"github.com/r3e-network/llm-inference-kernel/execution"
)

// Plugin is a unit of logic bound to a phase (spec §4.2, GLOSSARY). A
// plugin executes as part of its phase in deterministic order and has
// kernel-lifetime Initialize/Shutdown hooks invoked once each at kernel
// startup/teardown.
type Plugin interface {
	ID() string
	Order() int
	Phase() execution.Phase
	Execute(ctx *execution.Context, engine *execution.EngineContext) error
}

// LifecyclePlugin is implemented by plugins that need setup/teardown.
type LifecyclePlugin interface {
	Initialize(engine *execution.EngineContext) error
	Shutdown() error
}

// PluginFunc adapts a function to the Plugin interface for simple cases.
type PluginFunc struct {
	id    string
	order int
	phase execution.Phase
	fn    func(ctx *execution.Context, engine *execution.EngineContext) error
}

// NewPluginFunc builds a Plugin from a bare function.
func NewPluginFunc(id string, order int, phase execution.Phase, fn func(*execution.Context, *execution.EngineContext) error) *PluginFunc {
	return &PluginFunc{id: id, order: order, phase: phase, fn: fn}
}

func (p *PluginFunc) ID() string                 { return p.id }
func (p *PluginFunc) Order() int                 { return p.order }
func (p *PluginFunc) Phase() execution.Phase     { return p.phase }
func (p *PluginFunc) Execute(ctx *execution.Context, engine *execution.EngineContext) error {
	return p.fn(ctx, engine)
}

// Registry holds plugins grouped by phase, sorted by (order, id) ties
// broken lexicographically, mirroring the teacher's Registry pattern
// (system/core/registry.go) generalized from named modules to named
// phase-scoped plugins.
type Registry struct {
	mu      sync.RWMutex
	byPhase map[execution.Phase][]Plugin
}

// NewRegistry returns an empty plugin Registry.
func NewRegistry() *Registry {
	return &Registry{byPhase: map[execution.Phase][]Plugin{}}
}

// Register adds a plugin and keeps its phase's slice sorted by
// (order, id) per spec §4.2's "Plugins within a phase are sorted by
// order ascending; ties broken by id lexicographic".
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := append(r.byPhase[p.Phase()], p)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Order() != list[j].Order() {
			return list[i].Order() < list[j].Order()
		}
		return list[i].ID() < list[j].ID()
	})
	r.byPhase[p.Phase()] = list
}

// For returns the ordered plugins registered for phase.
func (r *Registry) For(phase execution.Phase) []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.byPhase[phase]))
	copy(out, r.byPhase[phase])
	return out
}

// All returns every registered plugin across all phases, sorted by
// (order, id) within each phase, phases visited in §4.2 order.
func (r *Registry) All() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Plugin
	for _, phase := range Ordered() {
		out = append(out, r.byPhase[phase]...)
	}
	return out
}

// InitializeAll invokes Initialize on every LifecyclePlugin once, at
// kernel startup.
func (r *Registry) InitializeAll(engine *execution.EngineContext) error {
	for _, p := range r.All() {
		if lp, ok := p.(LifecyclePlugin); ok {
			if err := lp.Initialize(engine); err != nil {
				return err
			}
		}
	}
	return nil
}

// ShutdownAll invokes Shutdown on every LifecyclePlugin once, at kernel
// teardown. Errors are collected but do not stop the sweep.
func (r *Registry) ShutdownAll() []error {
	var errs []error
	for _, p := range r.All() {
		if lp, ok := p.(LifecyclePlugin); ok {
			if err := lp.Shutdown(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
