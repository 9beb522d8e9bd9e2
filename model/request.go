// Package model defines the immutable wire/data types of the inference
// kernel (spec §3).
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is a message role (spec §3).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation.
type Message struct {
	Role    Role
	Content string
}

// Recognized parameter keys (spec §6). Unknown keys are passed through
// unchanged and may be interpreted by the provider.
const (
	ParamTemperature       = "temperature"
	ParamMaxTokens         = "max_tokens"
	ParamTopP              = "top_p"
	ParamTopK              = "top_k"
	ParamRepeatPenalty     = "repeat_penalty"
	ParamMirostat          = "mirostat"
	ParamGrammar           = "grammar"
	ParamJSONMode          = "json_mode"
	ParamSessionID         = "session_id"
	ParamInferenceTimeout  = "inference_timeout_ms"
	ParamModelPath         = "model_path"
)

// FinishReason is the closed set of terminal reasons (spec §3).
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishLength    FinishReason = "length"
	FinishToolCall  FinishReason = "tool_call"
	FinishError     FinishReason = "error"
	FinishCancelled FinishReason = "cancelled"
)

// InferenceRequest is immutable once built; use NewInferenceRequest to
// validate the invariants of spec §3.
type InferenceRequest struct {
	ID                string
	ModelID           string
	Messages          []Message
	Parameters        map[string]interface{}
	Streaming         bool
	PreferredProvider string
	Timeout           time.Duration
	Priority          int
}

// NewInferenceRequest validates and returns an InferenceRequest. The
// default priority (5) is applied when priority <= 0 is not explicitly
// desired by the caller; callers wanting priority 0 must set it after
// construction, since 0 is indistinguishable from "unset" in Go's zero
// value — this mirrors how the spec treats 5 as the structural default.
func NewInferenceRequest(id, modelID string, messages []Message, params map[string]interface{}) (*InferenceRequest, error) {
	if id == "" {
		return nil, fmt.Errorf("request id must not be empty")
	}
	if modelID == "" {
		return nil, fmt.Errorf("model id must not be empty")
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("request must contain at least one message")
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return &InferenceRequest{
		ID:         id,
		ModelID:    modelID,
		Messages:   append([]Message(nil), messages...),
		Parameters: params,
		Priority:   5,
	}, nil
}

// Validate re-checks the invariants of spec §3; used by the PRE_VALIDATE phase.
func (r *InferenceRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id must not be empty")
	}
	if r.ModelID == "" {
		return fmt.Errorf("model id must not be empty")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("request must contain at least one message")
	}
	return nil
}

// NewRequestID returns a fresh unique request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// InferenceResponse is immutable (spec §3).
type InferenceResponse struct {
	RequestID    string
	Content      string
	ModelID      string
	TokensUsed   TokenUsage
	DurationMS   int64
	Timestamp    time.Time
	Metadata     map[string]interface{}
	FinishReason FinishReason
}

// TokenUsage is the prompt/completion/total token accounting of spec §3.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// TenantContext is immutable; two tenant contexts are equal iff their
// tenant identifiers match (spec §3).
type TenantContext struct {
	TenantID   string
	UserID     string
	Roles      map[string]struct{}
	Attributes map[string]string
}

// NewTenantContext builds a TenantContext with a non-empty tenant id.
func NewTenantContext(tenantID, userID string, roles []string, attrs map[string]string) (*TenantContext, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant id must not be empty")
	}
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &TenantContext{TenantID: tenantID, UserID: userID, Roles: roleSet, Attributes: attrs}, nil
}

// Equal reports tenant-identifier equality (spec §3).
func (t *TenantContext) Equal(other *TenantContext) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.TenantID == other.TenantID
}

// HasRole reports whether the tenant context carries role.
func (t *TenantContext) HasRole(role string) bool {
	if t == nil {
		return false
	}
	_, ok := t.Roles[role]
	return ok
}
