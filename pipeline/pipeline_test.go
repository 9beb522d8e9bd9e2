package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/r3e-network/llm-inference-kernel/execution"
	"github.com/r3e-network/llm-inference-kernel/model"
)

func newTestExecCtx(t *testing.T) (*execution.Context, *execution.EngineContext) {
	t.Helper()
	engine := execution.NewEngineContext()
	tenant, err := model.NewTenantContext("tenant-1", "user-1", nil, nil)
	if err != nil {
		t.Fatalf("tenant: %v", err)
	}
	req, err := model.NewInferenceRequest("req-1", "model-1", []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	return execution.NewContext(engine, tenant, req), engine
}

func noopPlugin(id string, phase execution.Phase) Plugin {
	return NewPluginFunc(id, 0, phase, func(*execution.Context, *execution.EngineContext) error { return nil })
}

func registryWithNoopPlugins(extra ...Plugin) *Registry {
	r := NewRegistry()
	for _, phase := range Ordered() {
		r.Register(noopPlugin("noop."+string(phase), phase))
	}
	for _, p := range extra {
		r.Register(p)
	}
	return r
}

func TestPipeline_HappyPath_RunsEveryPhaseOnceAndCompletes(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	r := registryWithNoopPlugins()
	p := New(r, engine, DefaultConfig(), nil)

	var seen []execution.Phase
	p.Observe(func(phase execution.Phase, err error, d time.Duration) {
		seen = append(seen, phase)
		if err != nil {
			t.Errorf("phase %s: expected nil error, got %v", phase, err)
		}
	})

	if err := p.Execute(context.Background(), execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if execCtx.Token().Status != execution.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", execCtx.Token().Status)
	}
	if len(seen) != len(Ordered()) {
		t.Errorf("expected %d phase emissions, got %d: %v", len(Ordered()), len(seen), seen)
	}
}

func TestPipeline_CriticalPhaseFailure_AbortsNonRunsOnErrorPhases(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	failErr := errors.New("structural failure")
	r := registryWithNoopPlugins(
		NewPluginFunc("fail.pre-validate", 1, PhasePreValidate, func(*execution.Context, *execution.EngineContext) error {
			return failErr
		}),
	)
	p := New(r, engine, DefaultConfig(), nil)

	var seen []execution.Phase
	p.Observe(func(phase execution.Phase, err error, d time.Duration) { seen = append(seen, phase) })

	if err := p.Execute(context.Background(), execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if execCtx.Token().Status != execution.StatusFailed {
		t.Errorf("expected FAILED, got %s", execCtx.Token().Status)
	}

	want := []execution.Phase{PhasePreValidate, PhaseAudit, PhaseObservability, PhaseCleanup}
	if len(seen) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, seen)
	}
	for i, phase := range want {
		if seen[i] != phase {
			t.Errorf("phase %d: expected %s, got %s", i, phase, seen[i])
		}
	}
}

func TestPipeline_NonCriticalPhaseFailure_StillRunsPriorPhases(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	r := registryWithNoopPlugins(
		NewPluginFunc("fail.route", 1, PhaseRoute, func(*execution.Context, *execution.EngineContext) error {
			return errors.New("routing failed")
		}),
	)
	p := New(r, engine, DefaultConfig(), nil)

	var seen []execution.Phase
	p.Observe(func(phase execution.Phase, err error, d time.Duration) { seen = append(seen, phase) })

	if err := p.Execute(context.Background(), execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	want := []execution.Phase{
		PhasePreValidate, PhaseValidate, PhaseAuthorize, PhaseRoute,
		PhaseAudit, PhaseObservability, PhaseCleanup,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, seen)
	}
	for i, phase := range want {
		if seen[i] != phase {
			t.Errorf("phase %d: expected %s, got %s", i, phase, seen[i])
		}
	}
}

func TestPipeline_RunsOnErrorPhaseFailure_DoesNotAlterOutcome(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	failErr := errors.New("provider unreachable")
	auditErr := errors.New("audit sink down")
	r := registryWithNoopPlugins(
		NewPluginFunc("fail.dispatch", 1, PhaseProviderDispatch, func(*execution.Context, *execution.EngineContext) error {
			return failErr
		}),
		NewPluginFunc("fail.audit", 1, PhaseAudit, func(*execution.Context, *execution.EngineContext) error {
			return auditErr
		}),
	)
	p := New(r, engine, DefaultConfig(), nil)

	var seen []execution.Phase
	p.Observe(func(phase execution.Phase, err error, d time.Duration) { seen = append(seen, phase) })

	if err := p.Execute(context.Background(), execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if execCtx.Token().Status != execution.StatusFailed {
		t.Errorf("expected FAILED despite the best-effort AUDIT failure, got %s", execCtx.Token().Status)
	}

	want := []execution.Phase{
		PhasePreValidate, PhaseValidate, PhaseAuthorize, PhaseRoute, PhasePreProcessing,
		PhaseProviderDispatch, PhaseAudit, PhaseObservability, PhaseCleanup,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, seen)
	}
}

func TestPipeline_PluginPanic_IsRecoveredAsError(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	r := registryWithNoopPlugins(
		NewPluginFunc("panic.pre-validate", 1, PhasePreValidate, func(*execution.Context, *execution.EngineContext) error {
			panic("boom")
		}),
	)
	p := New(r, engine, DefaultConfig(), nil)

	var gotErr error
	p.Observe(func(phase execution.Phase, err error, d time.Duration) {
		if phase == PhasePreValidate {
			gotErr = err
		}
	})

	if err := p.Execute(context.Background(), execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if gotErr == nil {
		t.Fatal("expected the panicking plugin's phase to observe a non-nil error")
	}
	if execCtx.Token().Status != execution.StatusFailed {
		t.Errorf("expected FAILED, got %s", execCtx.Token().Status)
	}
}

func TestPipeline_Cancellation_RunsCleanupByDefault(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	r := registryWithNoopPlugins()
	p := New(r, engine, DefaultConfig(), nil)

	var seen []execution.Phase
	p.Observe(func(phase execution.Phase, err error, d time.Duration) { seen = append(seen, phase) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Execute(ctx, execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if execCtx.Token().Status != execution.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", execCtx.Token().Status)
	}

	want := []execution.Phase{
		PhasePreValidate, PhaseValidate, PhaseAuthorize, PhaseRoute, PhasePreProcessing,
		PhaseAudit, PhaseObservability, PhaseCleanup,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, seen)
	}
	for i, phase := range want {
		if seen[i] != phase {
			t.Errorf("phase %d: expected %s, got %s", i, phase, seen[i])
		}
	}
}

func TestPipeline_Cancellation_SkipsCleanupWhenConfigured(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	r := registryWithNoopPlugins()
	cfg := Config{RunCleanupOnCancel: false}
	p := New(r, engine, cfg, nil)

	var seen []execution.Phase
	p.Observe(func(phase execution.Phase, err error, d time.Duration) { seen = append(seen, phase) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Execute(ctx, execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if execCtx.Token().Status != execution.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", execCtx.Token().Status)
	}

	want := []execution.Phase{PhasePreValidate, PhaseValidate, PhaseAuthorize, PhaseRoute, PhasePreProcessing}
	if len(seen) != len(want) {
		t.Fatalf("expected phases %v, got %v", want, seen)
	}
}

func TestPipeline_SetGoContext_IsVisibleToPlugins(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	type ctxKey string
	key := ctxKey("trace")

	var observed interface{}
	r := registryWithNoopPlugins(
		NewPluginFunc("read.go-context", 1, PhasePreProcessing, func(c *execution.Context, _ *execution.EngineContext) error {
			observed = c.GoContext().Value(key)
			return nil
		}),
	)
	p := New(r, engine, DefaultConfig(), nil)

	ctx := context.WithValue(context.Background(), key, "trace-id-123")
	if err := p.Execute(ctx, execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if observed != "trace-id-123" {
		t.Errorf("expected plugin to observe the bound go context's value, got %v", observed)
	}
}

func TestPipeline_ObserveWithNoSubscribers_DoesNotPanic(t *testing.T) {
	execCtx, engine := newTestExecCtx(t)
	r := registryWithNoopPlugins()
	p := New(r, engine, DefaultConfig(), nil)

	if err := p.Execute(context.Background(), execCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if execCtx.Token().Status != execution.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", execCtx.Token().Status)
	}
}
