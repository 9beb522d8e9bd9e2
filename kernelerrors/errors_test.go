package kernelerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNew_AppliesDefaultRetryabilityAndSuggestedAction(t *testing.T) {
	cases := []struct {
		t               ErrorType
		wantRetryable   bool
		wantAction      SuggestedAction
	}{
		{TypeValidation, false, ActionEscalate},
		{TypeAuthorization, false, ActionHumanReview},
		{TypeQuota, true, ActionRetry},
		{TypeModel, false, ActionEscalate},
		{TypeDevice, true, ActionRetry},
		{TypeProvider, true, ActionFallback},
		{TypeNetwork, true, ActionRetry},
		{TypeInternal, true, ActionRetry},
	}
	for _, c := range cases {
		ke := New(c.t, "boom")
		if ke.Retryable != c.wantRetryable {
			t.Errorf("%s: expected retryable=%v, got %v", c.t, c.wantRetryable, ke.Retryable)
		}
		if ke.SuggestedAction != c.wantAction {
			t.Errorf("%s: expected action %s, got %s", c.t, c.wantAction, ke.SuggestedAction)
		}
	}
}

func TestWrap_PreservesCauseInErrorStringAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	ke := Wrap(TypeNetwork, "provider call failed", cause)

	if !errors.Is(ke, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	want := fmt.Sprintf("[%s] provider call failed: %v", TypeNetwork, cause)
	if ke.Error() != want {
		t.Errorf("expected %q, got %q", want, ke.Error())
	}
}

func TestAsKernelError_FindsWrappedKernelError(t *testing.T) {
	ke := New(TypeQuota, "rate limited")
	wrapped := fmt.Errorf("dispatch failed: %w", ke)

	got, ok := AsKernelError(wrapped)
	if !ok {
		t.Fatal("expected AsKernelError to find the wrapped *KernelError")
	}
	if got.Type != TypeQuota {
		t.Errorf("expected type %s, got %s", TypeQuota, got.Type)
	}

	if _, ok := AsKernelError(errors.New("plain error")); ok {
		t.Error("expected AsKernelError to report false for a non-KernelError")
	}
}

func TestKernelError_WithChainsMutateAndReturnSelf(t *testing.T) {
	ke := New(TypeProvider, "runner crashed").
		WithDetails("runner_id", "r1").
		WithOrigin("node-1", "run-1").
		WithAttempt(2, 3).
		WithProvenance("audit-42")

	if ke.Details["runner_id"] != "r1" {
		t.Errorf("expected detail to be set, got %v", ke.Details)
	}
	if ke.OriginNode != "node-1" || ke.OriginRunID != "run-1" {
		t.Errorf("expected origin to be set, got %s/%s", ke.OriginNode, ke.OriginRunID)
	}
	if ke.Attempt != 2 || ke.MaxAttempts != 3 {
		t.Errorf("expected attempt 2/3, got %d/%d", ke.Attempt, ke.MaxAttempts)
	}
	if ke.ProvenanceRef != "audit-42" {
		t.Errorf("expected provenance ref to be set, got %s", ke.ProvenanceRef)
	}
}
