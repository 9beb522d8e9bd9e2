package execution

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/r3e-network/llm-inference-kernel/model"
)

// EngineContext is the process-wide capability map described by
// spec §9's "global service locator" re-architecture: optional
// collaborators are registered by a string capability identifier and
// resolved without reflection. Read-mostly after startup; writes only
// during init/shutdown (spec §5).
type EngineContext struct {
	mu           sync.RWMutex
	capabilities map[string]interface{}
}

// NewEngineContext returns an empty EngineContext.
func NewEngineContext() *EngineContext {
	return &EngineContext{capabilities: map[string]interface{}{}}
}

// Register binds a capability identifier to an implementation.
func (e *EngineContext) Register(capability string, impl interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.capabilities[capability] = impl
}

// Lookup returns the implementation bound to capability, if any.
func (e *EngineContext) Lookup(capability string) (interface{}, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.capabilities[capability]
	return v, ok
}

// Context is the mutable envelope around a Token (spec §3
// ExecutionContext). The latest Token is published via an atomic
// pointer so readers never observe a partial state; every "update" is
// copy-on-write through Token's With* methods.
type Context struct {
	Engine   *EngineContext
	Tenant   *model.TenantContext
	Request  *model.InferenceRequest
	tokenRef atomic.Pointer[Token]
	err      atomic.Pointer[error]
	goCtx    context.Context
}

// NewContext builds a Context wrapping a freshly created Token.
func NewContext(engine *EngineContext, tenant *model.TenantContext, req *model.InferenceRequest) *Context {
	c := &Context{Engine: engine, Tenant: tenant, Request: req, goCtx: context.Background()}
	c.tokenRef.Store(NewToken(req.ID))
	return c
}

// SetGoContext binds the caller's context.Context so phase plugins can
// honor cancellation and deadlines. Set once by the pipeline before the
// first phase runs; not safe to mutate concurrently thereafter.
func (c *Context) SetGoContext(ctx context.Context) {
	c.goCtx = ctx
}

// GoContext returns the bound context.Context, or context.Background()
// if none was set.
func (c *Context) GoContext() context.Context {
	if c.goCtx == nil {
		return context.Background()
	}
	return c.goCtx
}

// Token returns the latest published Token snapshot.
func (c *Context) Token() *Token {
	return c.tokenRef.Load()
}

// Publish atomically swaps in a new Token snapshot. Callers obtain the
// new Token from one of Token's With* methods and publish it here. The
// store is unconditional: it does not check that the published token is
// still the snapshot next was derived from, so two concurrent
// read-modify-write updates (Signal and the other helpers below) can
// overwrite each other.
func (c *Context) Publish(next *Token) {
	c.tokenRef.Store(next)
}

// Signal applies signal to the current token and publishes the result,
// returning the new status. Returns an error (without mutating published
// state) if the transition is illegal.
func (c *Context) Signal(signal Signal) (Status, error) {
	next, err := c.Token().WithSignal(signal)
	if err != nil {
		return c.Token().Status, err
	}
	c.Publish(next)
	return next.Status, nil
}

// SetPhase publishes a new Token with CurrentPhase updated.
func (c *Context) SetPhase(phase Phase) {
	c.Publish(c.Token().WithPhase(phase))
}

// SetVariable publishes a new Token with the variable set.
func (c *Context) SetVariable(key string, value interface{}) {
	c.Publish(c.Token().WithVariable(key, value))
}

// Variable returns a scratch variable set by a prior phase.
func (c *Context) Variable(key string) (interface{}, bool) {
	v, ok := c.Token().Variables[key]
	return v, ok
}

// SetMetadata publishes a new Token with the metadata entry set, and
// survives to observability emitters per spec §3.
func (c *Context) SetMetadata(key string, value interface{}) {
	c.Publish(c.Token().WithMetadata(key, value))
}

// SetError records the error slot. Per spec §9 open question 4, this
// slot is authoritative; any response metadata mirror is written from
// here, never the reverse.
func (c *Context) SetError(err error) {
	c.err.Store(&err)
}

// Error returns the recorded error slot, or nil.
func (c *Context) Error() error {
	p := c.err.Load()
	if p == nil {
		return nil
	}
	return *p
}

// HasError reports whether the error slot has been set.
func (c *Context) HasError() bool {
	return c.err.Load() != nil
}
