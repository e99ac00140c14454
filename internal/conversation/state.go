// Package conversation tracks per-conversation dialog state. The only
// state that outlives a single webhook call is an open clarification:
// while one is pending, the next inbound message is consumed as the
// answer instead of being buffered.
package conversation

import (
	"context"
)

// Phase is the dialog phase of a conversation. Conversations with no
// stored item are in PhaseNormal.
type Phase string

const (
	PhaseNormal                Phase = "normal"
	PhaseAwaitingClarification Phase = "awaiting_clarification"
)

// PendingOrder carries an order through its clarification dialog: the
// aggregated source text, the parameters resolved so far, and the
// required fields still unanswered.
type PendingOrder struct {
	UserID     string            `dynamodbav:"user_id" json:"user_id"`
	BufferID   string            `dynamodbav:"buffer_id" json:"buffer_id"`
	SourceText string            `dynamodbav:"source_text" json:"source_text"`
	Params     map[string]string `dynamodbav:"params" json:"params"`
	Missing    []string          `dynamodbav:"missing" json:"missing"`
	AskedField string            `dynamodbav:"asked_field" json:"asked_field"`
	Source     string            `dynamodbav:"source,omitempty" json:"source,omitempty"`
	Confidence float64           `dynamodbav:"confidence,omitempty" json:"confidence,omitempty"`
	CreatedAt  int64             `dynamodbav:"created_at" json:"created_at"`
}

// State is the stored dialog state for one conversation.
type State struct {
	ConversationID int           `dynamodbav:"conversation_id" json:"conversation_id"`
	Phase          Phase         `dynamodbav:"phase" json:"phase"`
	Pending        *PendingOrder `dynamodbav:"pending,omitempty" json:"pending,omitempty"`
	UpdatedAt      int64         `dynamodbav:"updated_at" json:"updated_at"`
	ExpiresAt      int64         `dynamodbav:"expires_at,omitempty" json:"-"`
}

// AwaitingClarification reports whether the next inbound message
// should be treated as a clarification answer.
func (s *State) AwaitingClarification() bool {
	return s != nil && s.Phase == PhaseAwaitingClarification && s.Pending != nil
}

// States is the dialog state store contract.
type States interface {
	// Get returns the conversation's dialog state, or nil when the
	// conversation has none recorded.
	Get(ctx context.Context, conversationID int) (*State, error)

	// BeginClarification parks an order and moves the conversation to
	// the awaiting phase. An abandoned earlier pending is replaced.
	BeginClarification(ctx context.Context, conversationID int, pending PendingOrder) error

	// UpdatePending stores clarification progress: newly answered
	// parameters, the shrunken missing list, and the field asked next.
	UpdatePending(ctx context.Context, conversationID int, pending PendingOrder) error

	// EndClarification returns the conversation to the normal phase,
	// dropping the pending order. Ending an already ended dialog is a
	// no-op.
	EndClarification(ctx context.Context, conversationID int) error
}
