package buffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/echoposthq/echopost/internal/jobs"
)

// MemoryStore mirrors the DynamoDB store's transition rules in process
// memory for local runs and tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[int]*State
}

var _ Buffers = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: map[int]*State{}}
}

func (s *MemoryStore) Add(ctx context.Context, conversationID int, owner Owner, msg Message) (*State, bool, error) {
	if msg.ID == "" {
		return nil, false, errors.New("buffer: message id required")
	}
	if msg.ArrivedAt == 0 {
		msg.ArrivedAt = time.Now().UTC().UnixMilli()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[conversationID]
	if ok && cur.Status == StatusActive {
		if cur.HasMessage(msg.ID) {
			return copyState(cur), false, nil
		}
		cur.Messages = append(cur.Messages, msg)
		cur.MessageIDs = append(cur.MessageIDs, msg.ID)
		cur.LastMessageAt = msg.ArrivedAt
		cur.ExpiresAt = expiryFor(msg.ArrivedAt)
		return copyState(cur), true, nil
	}

	state := &State{
		ConversationID: conversationID,
		BufferID:       uuid.NewString(),
		Status:         StatusActive,
		Owner:          owner,
		Messages:       []Message{msg},
		MessageIDs:     []string{msg.ID},
		OpenedAt:       msg.ArrivedAt,
		LastMessageAt:  msg.ArrivedAt,
		ExpiresAt:      expiryFor(msg.ArrivedAt),
	}
	s.items[conversationID] = state
	return copyState(state), true, nil
}

func (s *MemoryStore) Get(ctx context.Context, conversationID int) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[conversationID]
	if !ok {
		return nil, nil
	}
	return copyState(cur), nil
}

func (s *MemoryStore) Claim(ctx context.Context, conversationID int, bufferID string, quietCutoff time.Time) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[conversationID]
	if !ok || cur.Status != StatusActive || cur.BufferID != bufferID {
		return nil, ErrClaimLost
	}
	if !quietCutoff.IsZero() && cur.LastMessageAt > quietCutoff.UnixMilli() {
		return nil, ErrClaimLost
	}

	cur.Status = StatusFlushing
	cur.ClaimedAt = time.Now().UTC().UnixMilli()
	return copyState(cur), nil
}

func (s *MemoryStore) MarkDone(ctx context.Context, conversationID int, bufferID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[conversationID]
	if !ok || cur.Status != StatusFlushing || cur.BufferID != bufferID {
		return nil
	}
	cur.Status = StatusDone
	return nil
}

func (s *MemoryStore) DueScan(ctx context.Context, now time.Time, quietWindow, maxAge time.Duration) ([]Due, error) {
	quietCutoff := now.Add(-quietWindow).UnixMilli()
	ageCutoff := now.Add(-maxAge).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Due
	for _, cur := range s.items {
		if cur.Status != StatusActive {
			continue
		}
		if cur.LastMessageAt > quietCutoff && cur.OpenedAt > ageCutoff {
			continue
		}
		reason := jobs.ReasonQuiet
		if cur.OpenedAt <= ageCutoff {
			reason = jobs.ReasonAge
		}
		due = append(due, Due{
			ConversationID: cur.ConversationID,
			BufferID:       cur.BufferID,
			Reason:         reason,
		})
	}
	return due, nil
}

func copyState(cur *State) *State {
	cp := *cur
	cp.Messages = append([]Message(nil), cur.Messages...)
	cp.MessageIDs = append([]string(nil), cur.MessageIDs...)
	return &cp
}
