package orchestration

import (
	"context"
	"errors"
	"testing"

	"github.com/r3e-network/llm-inference-kernel/kernelerrors"
	"github.com/r3e-network/llm-inference-kernel/model"
	"github.com/r3e-network/llm-inference-kernel/provider"
	"github.com/r3e-network/llm-inference-kernel/resilience"
	"github.com/r3e-network/llm-inference-kernel/selection"
)

type fakeAcquirer struct {
	providers map[string]provider.Provider
	acquireErr map[string]error
}

func (f *fakeAcquirer) Acquire(ctx context.Context, runnerID string) (provider.Provider, error) {
	if err, ok := f.acquireErr[runnerID]; ok {
		return nil, err
	}
	return f.providers[runnerID], nil
}

type fakeBreakers struct {
	breakers map[string]*resilience.CircuitBreaker
}

func (f *fakeBreakers) For(runnerID string) *resilience.CircuitBreaker {
	if b, ok := f.breakers[runnerID]; ok {
		return b
	}
	b := resilience.New(runnerID, resilience.DefaultConfig())
	f.breakers[runnerID] = b
	return b
}

type stubProvider struct {
	id      string
	inferFn func(provider.Request) (provider.Response, error)
}

func (s *stubProvider) ID() string                                { return s.id }
func (s *stubProvider) Metadata() provider.Metadata                { return provider.Metadata{Name: s.id} }
func (s *stubProvider) Capabilities() model.ProviderCapabilities    { return model.ProviderCapabilities{} }
func (s *stubProvider) Initialize(context.Context, map[string]interface{}, model.TenantContext) error {
	return nil
}
func (s *stubProvider) Infer(ctx context.Context, req provider.Request) (provider.Response, error) {
	return s.inferFn(req)
}
func (s *stubProvider) Health(context.Context) provider.Health { return provider.Health{} }
func (s *stubProvider) Shutdown(context.Context) error         { return nil }

func rankedOf(ids ...string) []selection.Scored {
	out := make([]selection.Scored, len(ids))
	for i, id := range ids {
		out[i] = selection.Scored{Candidate: selection.Candidate{RunnerID: id}, Score: len(ids) - i}
	}
	return out
}

func TestExecute_EmptyRankedListIsNoCompatibleProvider(t *testing.T) {
	o := New(&fakeAcquirer{}, &fakeBreakers{breakers: map[string]*resilience.CircuitBreaker{}})
	_, err := o.Execute(context.Background(), nil, provider.Request{})
	if !errors.Is(err, kernelerrors.ErrNoCompatibleProviderAvailable) {
		t.Fatalf("expected ErrNoCompatibleProviderAvailable, got %v", err)
	}
}

func TestExecute_FirstCandidateSucceeds(t *testing.T) {
	p := &stubProvider{id: "r1", inferFn: func(provider.Request) (provider.Response, error) {
		return provider.Response{Content: "hi"}, nil
	}}
	o := New(
		&fakeAcquirer{providers: map[string]provider.Provider{"r1": p}},
		&fakeBreakers{breakers: map[string]*resilience.CircuitBreaker{}},
	)
	resp, err := o.Execute(context.Background(), rankedOf("r1"), provider.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("expected response content 'hi', got %q", resp.Content)
	}
}

// S2 — fallback: the first ranked runner fails with a retryable error,
// the second succeeds.
func TestExecute_S2_FallsBackOnRetryableFailure(t *testing.T) {
	failing := &stubProvider{id: "r1", inferFn: func(provider.Request) (provider.Response, error) {
		return provider.Response{}, kernelerrors.New(kernelerrors.TypeNetwork, "connection reset")
	}}
	succeeding := &stubProvider{id: "r2", inferFn: func(provider.Request) (provider.Response, error) {
		return provider.Response{Content: "fallback ok"}, nil
	}}
	o := New(
		&fakeAcquirer{providers: map[string]provider.Provider{"r1": failing, "r2": succeeding}},
		&fakeBreakers{breakers: map[string]*resilience.CircuitBreaker{}},
	)
	resp, err := o.Execute(context.Background(), rankedOf("r1", "r2"), provider.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "fallback ok" {
		t.Errorf("expected fallback response, got %q", resp.Content)
	}
}

func TestExecute_NonRetryableErrorAbortsImmediately(t *testing.T) {
	failing := &stubProvider{id: "r1", inferFn: func(provider.Request) (provider.Response, error) {
		return provider.Response{}, kernelerrors.New(kernelerrors.TypeValidation, "bad request")
	}}
	neverCalled := &stubProvider{id: "r2", inferFn: func(provider.Request) (provider.Response, error) {
		t.Fatal("fallback must not be attempted after a validation error")
		return provider.Response{}, nil
	}}
	o := New(
		&fakeAcquirer{providers: map[string]provider.Provider{"r1": failing, "r2": neverCalled}},
		&fakeBreakers{breakers: map[string]*resilience.CircuitBreaker{}},
	)
	_, err := o.Execute(context.Background(), rankedOf("r1", "r2"), provider.Request{})
	ke, ok := kernelerrors.AsKernelError(err)
	if !ok || ke.Type != kernelerrors.TypeValidation {
		t.Fatalf("expected the validation error to surface unchanged, got %v", err)
	}
}

func TestExecute_AllRunnersFailedWhenExhausted(t *testing.T) {
	failing := func(id string) *stubProvider {
		return &stubProvider{id: id, inferFn: func(provider.Request) (provider.Response, error) {
			return provider.Response{}, kernelerrors.New(kernelerrors.TypeProvider, "upstream error")
		}}
	}
	o := New(
		&fakeAcquirer{providers: map[string]provider.Provider{"r1": failing("r1"), "r2": failing("r2")}},
		&fakeBreakers{breakers: map[string]*resilience.CircuitBreaker{}},
	)
	_, err := o.Execute(context.Background(), rankedOf("r1", "r2"), provider.Request{})
	if !errors.Is(err, kernelerrors.ErrAllRunnersFailed) {
		t.Fatalf("expected ErrAllRunnersFailed, got %v", err)
	}
}

func TestExecute_AcquireFailureFallsBackToNextCandidate(t *testing.T) {
	succeeding := &stubProvider{id: "r2", inferFn: func(provider.Request) (provider.Response, error) {
		return provider.Response{Content: "ok"}, nil
	}}
	o := New(
		&fakeAcquirer{
			providers:  map[string]provider.Provider{"r2": succeeding},
			acquireErr: map[string]error{"r1": errors.New("pool exhausted")},
		},
		&fakeBreakers{breakers: map[string]*resilience.CircuitBreaker{}},
	)
	resp, err := o.Execute(context.Background(), rankedOf("r1", "r2"), provider.Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("expected fallback success after an acquire failure, got %q", resp.Content)
	}
}
