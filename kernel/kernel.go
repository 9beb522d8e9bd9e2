// Package kernel wires the execution kernel's collaborators together:
// the provider registry, runner warm pool, selection policy,
// orchestrator, and the ten-phase pipeline, exposing the single
// blocking Execute entry point and a Stream entry point for streaming
// requests.
//
// Grounded on system/core's Engine bootstrap pattern (register
// modules/capabilities, start in dependency order, expose typed
// lookups), generalized here from named service modules to the
// kernel's own fixed collaborator set.
package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/r3e-network/llm-inference-kernel/config"
	"github.com/r3e-network/llm-inference-kernel/execution"
	"github.com/r3e-network/llm-inference-kernel/kernelerrors"
	"github.com/r3e-network/llm-inference-kernel/logging"
	"github.com/r3e-network/llm-inference-kernel/model"
	"github.com/r3e-network/llm-inference-kernel/observability"
	"github.com/r3e-network/llm-inference-kernel/pipeline"
	"github.com/r3e-network/llm-inference-kernel/provider"
	"github.com/r3e-network/llm-inference-kernel/resilience"
	"github.com/r3e-network/llm-inference-kernel/runner"
	"github.com/r3e-network/llm-inference-kernel/selection"
	"github.com/r3e-network/llm-inference-kernel/session"
	"github.com/r3e-network/llm-inference-kernel/streaming"
)

// CandidateSource resolves the ranked-selection inputs for a request:
// the pool of candidate runners and the selection-relevant request
// context. Supplied by the host application, since only it knows how
// manifests map to configured runners (spec §4.4).
type CandidateSource func(execCtx *execution.Context) ([]selection.Candidate, selection.Request)

// Dependencies are the collaborators a Kernel is built from. Providers,
// Runners, Selector and Candidates are required; the rest default to
// sensible zero-configuration instances.
type Dependencies struct {
	Providers  *provider.Registry
	Runners    *runner.Factory
	Sessions   *session.Manager
	Selector   *selection.SelectionPolicy
	Candidates CandidateSource
	Config     config.KernelConfig
	Logger     *logging.Logger
}

// breakerSource lazily creates one CircuitBreaker per runner id
// (orchestration.BreakerSource).
type breakerSource struct {
	mu       sync.Mutex
	cfg      resilience.Config
	breakers map[string]*resilience.CircuitBreaker
}

func newBreakerSource(cfg config.KernelConfig) *breakerSource {
	rcfg := resilience.Config{
		FailureThreshold:   cfg.CircuitBreaker.FailureThreshold,
		FailureRate:        cfg.CircuitBreaker.FailureRate,
		WindowSize:         cfg.CircuitBreaker.WindowSize,
		OpenDuration:       cfg.CircuitBreaker.OpenDuration,
		HalfOpenProbes:     cfg.CircuitBreaker.HalfOpenProbes,
		HalfOpenSuccessMin: cfg.CircuitBreaker.HalfOpenSuccessMin,
	}
	return &breakerSource{cfg: rcfg, breakers: map[string]*resilience.CircuitBreaker{}}
}

func (b *breakerSource) For(runnerID string) *resilience.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[runnerID]; ok {
		return cb
	}
	cb := resilience.New(runnerID, b.cfg)
	b.breakers[runnerID] = cb
	return cb
}

// runnerAcquirer adapts runner.Factory (keyed on tenant/model/runner)
// to orchestration.RunnerAcquirer (keyed on a bare runner id within one
// request's tenant/model scope).
type runnerAcquirer struct {
	factory  *runner.Factory
	tenant   string
	model    string
}

func (r *runnerAcquirer) Acquire(ctx context.Context, runnerID string) (provider.Provider, error) {
	return r.factory.Acquire(ctx, runner.Key{Tenant: r.tenant, Model: r.model, Runner: runnerID})
}

// Kernel ties every collaborator together behind Execute/Stream.
type Kernel struct {
	providers     *provider.Registry
	runners       *runner.Factory
	sessions      *session.Manager
	selector      *selection.SelectionPolicy
	candidates    CandidateSource
	engine        *execution.EngineContext
	plugins       *pipeline.Registry
	pipe          *pipeline.Pipeline
	observability *observability.Hooks
	breakers      *breakerSource
	log           *logging.Logger
	nodeID        string
}

// New builds a Kernel from deps and registers the default phase plugins.
func New(deps Dependencies) (*Kernel, error) {
	if deps.Providers == nil || deps.Runners == nil || deps.Selector == nil {
		return nil, fmt.Errorf("kernel: Providers, Runners and Selector are required")
	}
	if deps.Candidates == nil {
		return nil, fmt.Errorf("kernel: Candidates source is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewDefault("kernel")
	}

	k := &Kernel{
		providers:     deps.Providers,
		runners:       deps.Runners,
		sessions:      deps.Sessions,
		selector:      deps.Selector,
		candidates:    deps.Candidates,
		engine:        execution.NewEngineContext(),
		plugins:       pipeline.NewRegistry(),
		observability: observability.New(),
		breakers:      newBreakerSource(deps.Config),
		log:           deps.Logger,
		nodeID:        "kernel-0",
	}

	k.engine.Register("providers", k.providers)
	k.engine.Register("runners", k.runners)

	for _, p := range k.defaultPlugins() {
		k.plugins.Register(p)
	}
	if err := k.plugins.InitializeAll(k.engine); err != nil {
		return nil, err
	}

	k.pipe = pipeline.New(k.plugins, k.engine, pipeline.DefaultConfig(), deps.Logger)
	k.pipe.Observe(k.observability.EmitPhase)
	return k, nil
}

// Execute runs req through the pipeline and returns the resulting
// InferenceResponse. It does not return a Go error for a well-formed
// failed execution (spec §7 "a failed inference returns an
// InferenceResponse with finishReason='error'"); it only returns one
// for a structural pipeline misuse.
func (k *Kernel) Execute(ctx context.Context, tenant *model.TenantContext, req *model.InferenceRequest) (*model.InferenceResponse, error) {
	execCtx := execution.NewContext(k.engine, tenant, req)

	start := time.Now()
	if err := k.pipe.Execute(ctx, execCtx); err != nil {
		return nil, err
	}

	return k.buildResponse(execCtx, start), nil
}

// Stream runs req through the pipeline with streaming enabled and
// returns the channel of chunks produced by PROVIDER_DISPATCH (spec
// §4.8, §8 S6). The channel is closed when the stream ends.
func (k *Kernel) Stream(ctx context.Context, tenant *model.TenantContext, req *model.InferenceRequest) (<-chan streaming.StreamChunk, error) {
	req2 := *req
	req2.Streaming = true
	execCtx := execution.NewContext(k.engine, tenant, &req2)

	ch := make(chan streaming.StreamChunk)
	execCtx.SetVariable("stream_chunks", ch)

	go func() {
		_ = k.pipe.Execute(ctx, execCtx)
	}()

	return ch, nil
}

func (k *Kernel) buildResponse(execCtx *execution.Context, start time.Time) *model.InferenceResponse {
	resp := &model.InferenceResponse{
		RequestID:  execCtx.Request.ID,
		ModelID:    execCtx.Request.ModelID,
		Timestamp:  time.Now().UTC(),
		DurationMS: time.Since(start).Milliseconds(),
		Metadata:   map[string]interface{}{},
	}

	if execCtx.Token().Status == execution.StatusCancelled {
		resp.FinishReason = model.FinishCancelled
		return resp
	}

	if execCtx.HasError() {
		resp.FinishReason = model.FinishError
		if ke, ok := kernelerrors.AsKernelError(execCtx.Error()); ok {
			resp.Content = ke.Message
		} else {
			resp.Content = execCtx.Error().Error()
		}
		resp.Metadata["error"] = resp.Content
		return resp
	}

	if v, ok := execCtx.Variable("provider_response"); ok {
		if pr, ok := v.(provider.Response); ok {
			resp.Content = pr.Content
			resp.TokensUsed = pr.TokensUsed
			resp.FinishReason = pr.FinishReason
			if resp.FinishReason == "" {
				resp.FinishReason = model.FinishStop
			}
			resp.Metadata["provider_id"] = pr.ProviderID
			return resp
		}
	}

	resp.FinishReason = model.FinishStop
	return resp
}
