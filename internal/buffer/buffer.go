// Package buffer implements the per-conversation message buffer and its
// lifecycle: a buffer opens on the first message, collects messages while
// the sender keeps typing, and is claimed for flushing exactly once.
package buffer

import (
	"context"
	"errors"
	"time"
)

// Status is the buffer lifecycle state. A conversation with no item, or
// an item whose status is done, is idle.
type Status string

const (
	StatusActive   Status = "active"
	StatusFlushing Status = "flushing"
	StatusDone     Status = "done"
)

// ErrClaimLost reports that a claim attempt found no matching active
// buffer. Callers treat it as a no-op: another worker won the claim,
// the sender resumed typing, or the buffer was already flushed.
var ErrClaimLost = errors.New("buffer: claim lost")

// Attachment is a media reference carried with a buffered message.
type Attachment struct {
	URL      string `dynamodbav:"url" json:"url"`
	FileType string `dynamodbav:"file_type" json:"file_type"`
}

// Message is one buffered inbound message. ArrivedAt is epoch
// milliseconds; buffers order and age by arrival time.
type Message struct {
	ID          string       `dynamodbav:"id" json:"id"`
	Kind        string       `dynamodbav:"kind" json:"kind"`
	Text        string       `dynamodbav:"text,omitempty" json:"text,omitempty"`
	Attachments []Attachment `dynamodbav:"attachments,omitempty" json:"attachments,omitempty"`
	ArrivedAt   int64        `dynamodbav:"arrived_at" json:"arrived_at"`
}

// Owner is the identity the buffer's content belongs to, resolved at
// intake and stamped on the buffer when it opens so the flush worker
// never has to re-resolve the sender.
type Owner struct {
	SubjectID string `dynamodbav:"subject_id" json:"subject_id"`
	BucketKey string `dynamodbav:"bucket_key" json:"bucket_key"`
}

// State is the stored buffer for one conversation. One item exists per
// conversation and holds the current buffer; opening a new buffer
// replaces a done or abandoned one in place.
type State struct {
	ConversationID int       `dynamodbav:"conversation_id" json:"conversation_id"`
	BufferID       string    `dynamodbav:"buffer_id" json:"buffer_id"`
	Status         Status    `dynamodbav:"status" json:"status"`
	Owner          Owner     `dynamodbav:"owner" json:"owner"`
	Messages       []Message `dynamodbav:"messages" json:"messages"`
	MessageIDs     []string  `dynamodbav:"msg_ids,stringset" json:"msg_ids"`
	OpenedAt       int64     `dynamodbav:"opened_at" json:"opened_at"`
	LastMessageAt  int64     `dynamodbav:"last_message_at" json:"last_message_at"`
	ClaimedAt      int64     `dynamodbav:"claimed_at,omitempty" json:"claimed_at,omitempty"`
	ExpiresAt      int64     `dynamodbav:"expires_at,omitempty" json:"-"`
}

// Count reports how many messages the buffer holds.
func (s *State) Count() int {
	return len(s.Messages)
}

// HasMessage reports whether the buffer already absorbed the given
// external message id.
func (s *State) HasMessage(id string) bool {
	for _, known := range s.MessageIDs {
		if known == id {
			return true
		}
	}
	return false
}

// Age is the time since the buffer opened.
func (s *State) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.OpenedAt))
}

// Quiet is the time since the last message arrived.
func (s *State) Quiet(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(s.LastMessageAt))
}

// Due identifies a buffer the sweep found ready to flush.
type Due struct {
	ConversationID int
	BufferID       string
	Reason         string
}

// Buffers is the buffer store contract. Store is the DynamoDB
// implementation; MemoryStore backs tests and local runs.
type Buffers interface {
	// Add appends a message to the conversation's active buffer,
	// opening one owned by owner if none is active. It returns the
	// resulting state and whether the message was actually absorbed; a
	// message id the buffer has already seen is skipped with
	// appended=false.
	Add(ctx context.Context, conversationID int, owner Owner, msg Message) (*State, bool, error)

	// Get returns the conversation's buffer item, or nil when the
	// conversation has never buffered.
	Get(ctx context.Context, conversationID int) (*State, error)

	// Claim transitions the named buffer from active to flushing. At
	// most one claim succeeds per buffer; every other caller gets
	// ErrClaimLost. A non-zero quietCutoff additionally requires that
	// no message arrived after it, re-verifying the quiet window at
	// claim time. A zero cutoff claims regardless of quiet time.
	Claim(ctx context.Context, conversationID int, bufferID string, quietCutoff time.Time) (*State, error)

	// MarkDone closes a flushed buffer. A stale buffer id or a buffer
	// no longer flushing is a no-op.
	MarkDone(ctx context.Context, conversationID int, bufferID string) error

	// DueScan lists active buffers whose quiet window or age ceiling
	// has elapsed as of now.
	DueScan(ctx context.Context, now time.Time, quietWindow, maxAge time.Duration) ([]Due, error)
}
