package observability

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/r3e-network/llm-inference-kernel/execution"
)

// S1 — "every phase emits one observer onPhase".
func TestHooks_EmitPhaseNotifiesSubscribers(t *testing.T) {
	h := New()
	var calls int32
	h.Subscribe(func(phase execution.Phase, err error, d time.Duration) {
		atomic.AddInt32(&calls, 1)
	})

	h.EmitPhase(execution.Phase("VALIDATE"), nil, time.Millisecond)

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 observer call, got %d", calls)
	}
}

func TestHooks_EmitPhasePropagatesError(t *testing.T) {
	h := New()
	var gotErr error
	h.Subscribe(func(phase execution.Phase, err error, d time.Duration) {
		gotErr = err
	})

	boom := errors.New("boom")
	h.EmitPhase(execution.Phase("PRE_VALIDATE"), boom, time.Millisecond)

	if gotErr != boom {
		t.Errorf("expected the observer to see the emitted error, got %v", gotErr)
	}
}

func TestSetRunnerPoolSize_DoesNotPanic(t *testing.T) {
	SetRunnerPoolSize(3)
	SetSessionPoolActive("m", "t", 2)
	EmitExecutionOutcome(execution.StatusCompleted)
}
