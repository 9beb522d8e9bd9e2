package execution

import (
	"sync"
	"testing"

	"github.com/r3e-network/llm-inference-kernel/model"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	req, err := model.NewInferenceRequest("r1", "m1", []model.Message{{Role: model.RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tenant, err := model.NewTenantContext("tenant-1", "", nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return NewContext(NewEngineContext(), tenant, req)
}

func TestContext_SignalPublishesLatestToken(t *testing.T) {
	ctx := newTestContext(t)
	status, err := ctx.Signal(SignalStart)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusRunning {
		t.Errorf("expected RUNNING, got %s", status)
	}
	if ctx.Token().Status != StatusRunning {
		t.Error("published token must reflect new status")
	}
}

func TestContext_SignalDoesNotPublishOnError(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Signal(SignalStart)
	ctx.Signal(SignalWaitRequested) // RUNNING -> WAITING
	before := ctx.Token()
	if _, err := ctx.Signal(SignalStart); err == nil {
		t.Fatal("expected illegal transition error")
	}
	if ctx.Token() != before {
		t.Error("context must not publish a new token on illegal transition")
	}
}

func TestContext_ErrorSlotIsAuthoritative(t *testing.T) {
	ctx := newTestContext(t)
	if ctx.HasError() {
		t.Fatal("fresh context must not have an error")
	}
	ctx.SetError(context_testErr{})
	if !ctx.HasError() {
		t.Error("expected error slot to be set")
	}
}

type context_testErr struct{}

func (context_testErr) Error() string { return "boom" }

func TestContext_ConcurrentSignalsNeverObservePartialState(t *testing.T) {
	ctx := newTestContext(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx.SetVariable("k", 1)
			_ = ctx.Token()
		}()
	}
	wg.Wait()
}
