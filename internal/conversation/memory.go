package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStates mirrors the DynamoDB store in process memory for local
// runs and tests.
type MemoryStates struct {
	mu    sync.Mutex
	items map[int]*State
}

var _ States = (*MemoryStates)(nil)

func NewMemoryStates() *MemoryStates {
	return &MemoryStates{items: map[int]*State{}}
}

func (s *MemoryStates) Get(ctx context.Context, conversationID int) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[conversationID]
	if !ok {
		return nil, nil
	}
	cp := *cur
	if cur.Pending != nil {
		pending := *cur.Pending
		cp.Pending = &pending
	}
	return &cp, nil
}

func (s *MemoryStates) BeginClarification(ctx context.Context, conversationID int, pending PendingOrder) error {
	return s.put(conversationID, PhaseAwaitingClarification, &pending)
}

func (s *MemoryStates) UpdatePending(ctx context.Context, conversationID int, pending PendingOrder) error {
	return s.put(conversationID, PhaseAwaitingClarification, &pending)
}

func (s *MemoryStates) EndClarification(ctx context.Context, conversationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[conversationID]
	if !ok || cur.Phase != PhaseAwaitingClarification {
		return nil
	}
	cur.Phase = PhaseNormal
	cur.Pending = nil
	cur.UpdatedAt = time.Now().UTC().UnixMilli()
	return nil
}

func (s *MemoryStates) put(conversationID int, phase Phase, pending *PendingOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[conversationID] = &State{
		ConversationID: conversationID,
		Phase:          phase,
		Pending:        pending,
		UpdatedAt:      time.Now().UTC().UnixMilli(),
	}
	return nil
}
