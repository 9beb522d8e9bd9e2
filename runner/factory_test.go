package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r3e-network/llm-inference-kernel/model"
	"github.com/r3e-network/llm-inference-kernel/provider"
)

type stubProvider struct {
	id           string
	shutdownCalls int32
}

func (s *stubProvider) ID() string                             { return s.id }
func (s *stubProvider) Metadata() provider.Metadata             { return provider.Metadata{Name: s.id} }
func (s *stubProvider) Capabilities() model.ProviderCapabilities { return model.ProviderCapabilities{} }
func (s *stubProvider) Initialize(context.Context, map[string]interface{}, model.TenantContext) error {
	return nil
}
func (s *stubProvider) Infer(context.Context, provider.Request) (provider.Response, error) {
	return provider.Response{}, nil
}
func (s *stubProvider) Health(context.Context) provider.Health { return provider.Health{} }
func (s *stubProvider) Shutdown(context.Context) error {
	atomic.AddInt32(&s.shutdownCalls, 1)
	return nil
}

func TestFactory_AcquireCreatesOncePerKey(t *testing.T) {
	var createCalls int32
	f := New(DefaultConfig(), func(ctx context.Context, key Key) (provider.Provider, error) {
		atomic.AddInt32(&createCalls, 1)
		return &stubProvider{id: key.Runner}, nil
	}, nil)
	defer f.Close(context.Background())

	key := Key{Tenant: "t1", Model: "m1", Runner: "r1"}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.Acquire(context.Background(), key); err != nil {
				t.Errorf("unexpected acquire error: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&createCalls) != 1 {
		t.Errorf("expected exactly 1 creation for key %v, got %d", key, createCalls)
	}
}

func TestFactory_EvictsLeastRecentlyAccessedBeyondMaxSize(t *testing.T) {
	f := New(Config{MaxPoolSize: 1, IdleTTL: time.Hour, SweepInterval: time.Hour},
		func(ctx context.Context, key Key) (provider.Provider, error) {
			return &stubProvider{id: key.Runner}, nil
		}, nil)
	defer f.Close(context.Background())

	k1 := Key{Tenant: "t", Model: "m", Runner: "r1"}
	k2 := Key{Tenant: "t", Model: "m", Runner: "r2"}

	f.Acquire(context.Background(), k1)
	time.Sleep(5 * time.Millisecond)
	f.Acquire(context.Background(), k2)

	if stats := f.Stats(); stats.Size != 1 {
		t.Fatalf("expected pool size bounded to 1, got %d", stats.Size)
	}
}

func TestFactory_SweepEvictsIdleEntries(t *testing.T) {
	f := New(Config{MaxPoolSize: 10, IdleTTL: 10 * time.Millisecond, SweepInterval: time.Hour},
		func(ctx context.Context, key Key) (provider.Provider, error) {
			return &stubProvider{id: key.Runner}, nil
		}, nil)
	defer f.Close(context.Background())

	key := Key{Tenant: "t", Model: "m", Runner: "r1"}
	f.Acquire(context.Background(), key)
	time.Sleep(20 * time.Millisecond)

	f.sweep()

	if stats := f.Stats(); stats.Size != 0 {
		t.Errorf("expected the idle entry to be swept, got size %d", stats.Size)
	}
}

func TestFactory_CreationFailureDoesNotPoisonTheKey(t *testing.T) {
	var attempt int32
	f := New(DefaultConfig(), func(ctx context.Context, key Key) (provider.Provider, error) {
		n := atomic.AddInt32(&attempt, 1)
		if n == 1 {
			return nil, context.DeadlineExceeded
		}
		return &stubProvider{id: key.Runner}, nil
	}, nil)
	defer f.Close(context.Background())

	key := Key{Tenant: "t", Model: "m", Runner: "r1"}
	if _, err := f.Acquire(context.Background(), key); err == nil {
		t.Fatal("expected the first acquire to surface the creation error")
	}
	if _, err := f.Acquire(context.Background(), key); err != nil {
		t.Fatalf("expected a retried acquire to succeed, got %v", err)
	}
}
