package kernel

import (
	"fmt"
	"strings"
	"time"

	"github.com/r3e-network/llm-inference-kernel/audit"
	"github.com/r3e-network/llm-inference-kernel/execution"
	"github.com/r3e-network/llm-inference-kernel/kernelerrors"
	"github.com/r3e-network/llm-inference-kernel/model"
	"github.com/r3e-network/llm-inference-kernel/observability"
	"github.com/r3e-network/llm-inference-kernel/orchestration"
	"github.com/r3e-network/llm-inference-kernel/pipeline"
	"github.com/r3e-network/llm-inference-kernel/provider"
	"github.com/r3e-network/llm-inference-kernel/selection"
	"github.com/r3e-network/llm-inference-kernel/session"
	"github.com/r3e-network/llm-inference-kernel/streaming"
)

const defaultSessionAcquireTimeout = 5 * time.Second

// defaultPlugins returns one plugin per phase of spec §4.2, wired to
// k's collaborators. A host application may register additional
// plugins on k.plugins before requests start flowing.
func (k *Kernel) defaultPlugins() []pipeline.Plugin {
	return []pipeline.Plugin{
		pipeline.NewPluginFunc("kernel.pre-validate", 0, pipeline.PhasePreValidate, k.preValidate),
		pipeline.NewPluginFunc("kernel.validate", 0, pipeline.PhaseValidate, k.validate),
		pipeline.NewPluginFunc("kernel.authorize", 0, pipeline.PhaseAuthorize, k.authorize),
		pipeline.NewPluginFunc("kernel.route", 0, pipeline.PhaseRoute, k.route),
		pipeline.NewPluginFunc("kernel.pre-process", 0, pipeline.PhasePreProcessing, k.preProcess),
		pipeline.NewPluginFunc("kernel.dispatch", 0, pipeline.PhaseProviderDispatch, k.dispatch),
		pipeline.NewPluginFunc("kernel.post-process", 0, pipeline.PhasePostProcessing, k.postProcess),
		pipeline.NewPluginFunc("kernel.audit", 0, pipeline.PhaseAudit, k.auditPhase),
		pipeline.NewPluginFunc("kernel.observability", 0, pipeline.PhaseObservability, k.observabilityPhase),
		pipeline.NewPluginFunc("kernel.cleanup", 0, pipeline.PhaseCleanup, k.cleanup),
	}
}

// preValidate checks the request's own structural invariants,
// independent of tenant or registry state (spec §4.2).
func (k *Kernel) preValidate(execCtx *execution.Context, engine *execution.EngineContext) error {
	if err := execCtx.Request.Validate(); err != nil {
		return kernelerrors.Wrap(kernelerrors.TypeValidation, "request failed structural validation", err)
	}
	return nil
}

// validate checks semantic preconditions that depend on registry
// state: the model must be known to at least one provider.
func (k *Kernel) validate(execCtx *execution.Context, engine *execution.EngineContext) error {
	if len(k.providers.ForModel(execCtx.Request.ModelID)) == 0 {
		return kernelerrors.New(kernelerrors.TypeModel, fmt.Sprintf("no provider supports model %q", execCtx.Request.ModelID))
	}
	return nil
}

// authorize requires a bound tenant context; role-scoped authorization
// beyond tenant presence is a host-application concern layered via
// additional plugins registered in this phase.
func (k *Kernel) authorize(execCtx *execution.Context, engine *execution.EngineContext) error {
	if execCtx.Tenant == nil || execCtx.Tenant.TenantID == "" {
		return kernelerrors.New(kernelerrors.TypeAuthorization, "request has no tenant context")
	}
	return nil
}

// route resolves and ranks the candidate runners for this request
// (spec §4.4), publishing the ranked list for PROVIDER_DISPATCH.
func (k *Kernel) route(execCtx *execution.Context, engine *execution.EngineContext) error {
	candidates, req := k.candidates(execCtx)
	ranked, err := k.selector.RankOrError(candidates, req)
	if err != nil {
		return err
	}
	execCtx.SetVariable("ranked_candidates", ranked)
	return nil
}

// preProcess normalizes the kernel request into the wire-normalized
// provider.Request consumed by PROVIDER_DISPATCH (spec §4.3), acquiring
// a warm session from the pool (spec §4.5) when the kernel was built
// with one.
func (k *Kernel) preProcess(execCtx *execution.Context, engine *execution.EngineContext) error {
	inner := *execCtx.Request

	if k.sessions != nil {
		timeout := execCtx.Request.Timeout
		if timeout <= 0 {
			timeout = defaultSessionAcquireTimeout
		}
		s, err := k.sessions.Acquire(execCtx.GoContext(), execCtx.Request.ModelID, execCtx.Tenant.TenantID, session.Config(execCtx.Request.Parameters), timeout)
		if err != nil {
			return kernelerrors.Wrap(kernelerrors.TypeInternal, "session pool exhausted", err)
		}
		execCtx.SetVariable("session_handle", s)

		params := make(map[string]interface{}, len(inner.Parameters)+1)
		for paramKey, paramVal := range inner.Parameters {
			params[paramKey] = paramVal
		}
		params[model.ParamSessionID] = s.ID
		inner.Parameters = params
	}

	req := provider.Request{
		InferenceRequest: inner,
		Tenant:           *execCtx.Tenant,
		Cancel:           execCtx.GoContext().Done(),
	}
	execCtx.SetVariable("provider_request", req)
	return nil
}

// dispatch invokes the orchestrator (blocking path) or walks the
// ranked candidates directly (streaming path), per spec §4.2/§4.8.
func (k *Kernel) dispatch(execCtx *execution.Context, engine *execution.EngineContext) error {
	rankedVal, _ := execCtx.Variable("ranked_candidates")
	ranked, _ := rankedVal.([]selection.Scored)

	reqVal, ok := execCtx.Variable("provider_request")
	req, _ := reqVal.(provider.Request)
	if !ok {
		req = provider.Request{InferenceRequest: *execCtx.Request, Tenant: *execCtx.Tenant, Cancel: execCtx.GoContext().Done()}
	}

	if execCtx.Request.Streaming {
		return k.dispatchStreaming(execCtx, ranked, req)
	}

	acquirer := &runnerAcquirer{factory: k.runners, tenant: execCtx.Tenant.TenantID, model: execCtx.Request.ModelID}
	orch := orchestration.New(acquirer, k.breakers)

	resp, err := orch.Execute(execCtx.GoContext(), ranked, req)
	if err != nil {
		return err
	}
	execCtx.SetVariable("provider_response", resp)
	return nil
}

// dispatchStreaming streams the top-ranked candidate's response into
// the channel installed by Kernel.Stream, folding the observed chunks
// into a provider.Response for POST_PROCESSING. Unlike the blocking
// path it does not fall back across candidates: a mid-stream failure
// is not something a partially-delivered stream can safely retry
// against a second runner without a duplicate-delta risk, so the first
// candidate is authoritative for a streaming request.
func (k *Kernel) dispatchStreaming(execCtx *execution.Context, ranked []selection.Scored, req provider.Request) error {
	chunkVal, _ := execCtx.Variable("stream_chunks")
	out, _ := chunkVal.(chan streaming.StreamChunk)
	defer func() {
		if out != nil {
			close(out)
		}
	}()

	if len(ranked) == 0 {
		return kernelerrors.ErrNoCompatibleProviderAvailable
	}

	runnerID := ranked[0].Candidate.RunnerID
	acquirer := &runnerAcquirer{factory: k.runners, tenant: execCtx.Tenant.TenantID, model: execCtx.Request.ModelID}
	p, err := acquirer.Acquire(execCtx.GoContext(), runnerID)
	if err != nil {
		return err
	}
	sp, ok := p.(provider.StreamingProvider)
	if !ok {
		return kernelerrors.New(kernelerrors.TypeProvider, fmt.Sprintf("runner %q does not support streaming", runnerID))
	}

	internal := make(chan provider.StreamChunk)
	breaker := k.breakers.For(runnerID)
	done := make(chan error, 1)
	go func() {
		done <- breaker.Execute(execCtx.GoContext(), func() error {
			return sp.Stream(execCtx.GoContext(), req, internal)
		})
	}()

	var content strings.Builder
	var finish model.FinishReason
	for chunk := range internal {
		content.WriteString(chunk.Delta)
		if chunk.Last {
			finish = chunk.FinishReason
		}
		if out != nil {
			select {
			case out <- chunk:
			case <-execCtx.GoContext().Done():
			}
		}
	}

	if err := <-done; err != nil {
		return err
	}

	if finish == "" {
		finish = model.FinishStop
	}
	execCtx.SetVariable("provider_response", provider.Response{
		Content:      content.String(),
		ModelID:      execCtx.Request.ModelID,
		FinishReason: finish,
		ProviderID:   runnerID,
	})
	return nil
}

// postProcess is a pass-through by default: provider_response is
// already wire-normalized, and the response assembly itself happens in
// Kernel.buildResponse so that it runs even when PROVIDER_DISPATCH
// never executed (e.g. a VALIDATE failure). Host applications needing
// response post-processing (redaction, formatting) register additional
// POST_PROCESSING plugins ordered after this one.
func (k *Kernel) postProcess(execCtx *execution.Context, engine *execution.EngineContext) error {
	return nil
}

// auditPhase stamps one tamper-evident audit event per execution (spec
// §6), recording the terminal outcome known so far.
func (k *Kernel) auditPhase(execCtx *execution.Context, engine *execution.EngineContext) error {
	eventName := "request.completed"
	level := audit.LevelInfo
	if execCtx.HasError() {
		eventName = "request.failed"
		level = audit.LevelError
	}
	actorID := ""
	if execCtx.Tenant != nil {
		actorID = execCtx.Tenant.TenantID
	}
	actor := audit.Actor{Type: audit.ActorTenant, ID: actorID}
	evt := audit.New(execCtx.Request.ID, k.nodeID, actor, eventName, level).
		WithMetadata("model_id", execCtx.Request.ModelID).
		WithContextSnapshot(map[string]interface{}{
			"status": string(execCtx.Token().Status),
			"phase":  string(execCtx.Token().CurrentPhase),
		})
	execCtx.SetMetadata("audit_event", evt)
	return nil
}

// observabilityPhase publishes point-in-time pool gauges; per-phase
// timing is emitted automatically by the pipeline itself (spec §8 S1:
// "every phase emits one observer onPhase") via the Pipeline.Observe
// hook wired to these same metrics in Kernel.New.
func (k *Kernel) observabilityPhase(execCtx *execution.Context, engine *execution.EngineContext) error {
	observability.SetRunnerPoolSize(k.runners.Stats().Size)
	return nil
}

// cleanup releases any session acquired for this request and records
// the terminal execution outcome.
func (k *Kernel) cleanup(execCtx *execution.Context, engine *execution.EngineContext) error {
	if k.sessions != nil {
		if v, ok := execCtx.Variable("session_handle"); ok {
			if s, ok := v.(*session.Session); ok {
				k.sessions.Release(s)
			}
		}
	}
	observability.EmitExecutionOutcome(execCtx.Token().Status)
	return nil
}
