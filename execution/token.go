package execution

import (
	"time"

	"github.com/google/uuid"
)

// Phase identifies one of the ten ordered pipeline stages (spec §4.2).
// Defined here (rather than in package pipeline) so Token can carry its
// CurrentPhase without an import cycle.
type Phase string

// HistoryEntry is one past (state, signal) transition retained on a
// token, a supplemented feature of SPEC_FULL.md §C.1.
type HistoryEntry struct {
	From      Status
	Signal    Signal
	To        Status
	Timestamp time.Time
}

// Token is the immutable snapshot of spec §3. Every mutation method
// returns a NEW Token; nothing on Token is mutated in place.
type Token struct {
	ExecutionID string
	RequestID   string
	Status      Status
	CurrentPhase Phase
	Attempt     int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Variables   map[string]interface{}
	Metadata    map[string]interface{}
	history     []HistoryEntry
}

// NewToken creates a fresh CREATED token for requestID.
func NewToken(requestID string) *Token {
	now := time.Now().UTC()
	return &Token{
		ExecutionID: uuid.NewString(),
		RequestID:   requestID,
		Status:      StatusCreated,
		Attempt:     0,
		CreatedAt:   now,
		UpdatedAt:   now,
		Variables:   map[string]interface{}{},
		Metadata:    map[string]interface{}{},
	}
}

// clone produces a shallow copy of t with shared maps copied one level
// deep, so each returned Token is independently mutable via With*.
func (t *Token) clone() *Token {
	vars := make(map[string]interface{}, len(t.Variables))
	for k, v := range t.Variables {
		vars[k] = v
	}
	meta := make(map[string]interface{}, len(t.Metadata))
	for k, v := range t.Metadata {
		meta[k] = v
	}
	hist := make([]HistoryEntry, len(t.history))
	copy(hist, t.history)
	return &Token{
		ExecutionID:  t.ExecutionID,
		RequestID:    t.RequestID,
		Status:       t.Status,
		CurrentPhase: t.CurrentPhase,
		Attempt:      t.Attempt,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    time.Now().UTC(),
		Variables:    vars,
		Metadata:     meta,
		history:      hist,
	}
}

// WithSignal applies signal via the state machine's transition function
// and returns a new Token, or an error if the transition is illegal
// (spec §3 invariant: "every transition must pass canTransitionTo").
func (t *Token) WithSignal(signal Signal) (*Token, error) {
	next, err := Next(t.Status, signal)
	if err != nil {
		return nil, err
	}
	nt := t.clone()
	nt.history = append(nt.history, HistoryEntry{
		From:      t.Status,
		Signal:    signal,
		To:        next,
		Timestamp: nt.UpdatedAt,
	})
	nt.Status = next
	return nt, nil
}

// WithPhase returns a new Token with CurrentPhase updated.
func (t *Token) WithPhase(phase Phase) *Token {
	nt := t.clone()
	nt.CurrentPhase = phase
	return nt
}

// WithAttemptIncremented returns a new Token with Attempt+1.
func (t *Token) WithAttemptIncremented() *Token {
	nt := t.clone()
	nt.Attempt++
	return nt
}

// WithVariable returns a new Token with variable key set to value.
func (t *Token) WithVariable(key string, value interface{}) *Token {
	nt := t.clone()
	nt.Variables[key] = value
	return nt
}

// WithMetadata returns a new Token with metadata key set to value.
func (t *Token) WithMetadata(key string, value interface{}) *Token {
	nt := t.clone()
	nt.Metadata[key] = value
	return nt
}

// History returns the append-only transition history (SPEC_FULL.md §C.1).
func (t *Token) History() []HistoryEntry {
	out := make([]HistoryEntry, len(t.history))
	copy(out, t.history)
	return out
}
