// Package kernelerrors implements the Error Envelope of spec §6 and the
// error taxonomy of spec §7.
package kernelerrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType is the closed taxonomy of §7.
type ErrorType string

const (
	TypeValidation    ErrorType = "validation"
	TypeAuthorization ErrorType = "authorization"
	TypeQuota         ErrorType = "quota"
	TypeModel         ErrorType = "model"
	TypeDevice        ErrorType = "device"
	TypeProvider      ErrorType = "provider"
	TypeNetwork       ErrorType = "network"
	TypeInternal      ErrorType = "internal"
)

// defaultRetryable mirrors the "retryable default" column of §7.
var defaultRetryable = map[ErrorType]bool{
	TypeValidation:    false,
	TypeAuthorization: false,
	TypeQuota:         true,
	TypeModel:         false,
	TypeDevice:        true,
	TypeProvider:      true,
	TypeNetwork:       true,
	TypeInternal:      true,
}

// SuggestedAction is one of the four values named in §6.
type SuggestedAction string

const (
	ActionRetry       SuggestedAction = "retry"
	ActionFallback    SuggestedAction = "fallback"
	ActionEscalate    SuggestedAction = "escalate"
	ActionHumanReview SuggestedAction = "human_review"
)

// KernelError is the surface form of any kernel failure (§6 Error Envelope).
type KernelError struct {
	Type            ErrorType              `json:"type"`
	Message         string                 `json:"message"`
	Details         map[string]interface{} `json:"details,omitempty"`
	Retryable       bool                   `json:"retryable"`
	OriginNode      string                 `json:"originNode,omitempty"`
	OriginRunID     string                 `json:"originRunId,omitempty"`
	Attempt         int                    `json:"attempt"`
	MaxAttempts     int                    `json:"maxAttempts"`
	Timestamp       time.Time              `json:"timestamp"`
	SuggestedAction SuggestedAction        `json:"suggestedAction"`
	ProvenanceRef   string                 `json:"provenanceRef,omitempty"`

	cause error
}

// Error implements the error interface.
func (e *KernelError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *KernelError) Unwrap() error { return e.cause }

// New builds a KernelError of the given type with the default
// retryability and an attempt counter of 1 of 1.
func New(t ErrorType, message string) *KernelError {
	return &KernelError{
		Type:            t,
		Message:         message,
		Retryable:       defaultRetryable[t],
		Timestamp:       time.Now().UTC(),
		Attempt:         1,
		MaxAttempts:     1,
		SuggestedAction: suggestedActionFor(t, defaultRetryable[t]),
	}
}

// Wrap builds a KernelError of the given type wrapping cause.
func Wrap(t ErrorType, message string, cause error) *KernelError {
	ke := New(t, message)
	ke.cause = cause
	return ke
}

func suggestedActionFor(t ErrorType, retryable bool) SuggestedAction {
	switch t {
	case TypeValidation:
		return ActionEscalate
	case TypeAuthorization:
		return ActionHumanReview
	case TypeQuota:
		return ActionRetry
	case TypeModel:
		return ActionEscalate
	case TypeDevice, TypeNetwork, TypeInternal:
		return ActionRetry
	case TypeProvider:
		return ActionFallback
	}
	if retryable {
		return ActionRetry
	}
	return ActionEscalate
}

// WithDetails attaches a detail key/value and returns e for chaining.
func (e *KernelError) WithDetails(key string, value interface{}) *KernelError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithOrigin sets the originating node and run identifiers.
func (e *KernelError) WithOrigin(node, runID string) *KernelError {
	e.OriginNode = node
	e.OriginRunID = runID
	return e
}

// WithAttempt records the current/max attempt counters.
func (e *KernelError) WithAttempt(attempt, max int) *KernelError {
	e.Attempt = attempt
	e.MaxAttempts = max
	return e
}

// WithProvenance sets a provenance reference (e.g. audit event id).
func (e *KernelError) WithProvenance(ref string) *KernelError {
	e.ProvenanceRef = ref
	return e
}

// Sentinel errors referenced throughout the kernel, matched with
// errors.Is. Some reach callers bare (ErrNoCompatibleProviderAvailable
// from selection and orchestration), others wrapped in a KernelError
// (ErrAllRunnersFailed from orchestration).
var (
	ErrIllegalStateTransition        = errors.New("illegal state transition")
	ErrAllRunnersFailed              = errors.New("all candidate runners failed")
	ErrNoCompatibleProviderAvailable = errors.New("no compatible provider available")
	ErrCircuitOpen                   = errors.New("circuit breaker is open")
	ErrSessionPoolExhausted          = errors.New("session pool exhausted")
	ErrProviderNotFound              = errors.New("provider not found")
)

// AsKernelError reports whether err is (or wraps) a *KernelError.
func AsKernelError(err error) (*KernelError, bool) {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}
