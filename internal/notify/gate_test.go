package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/echoposthq/echopost/internal/chatwoot"
)

type sentText struct {
	conversationID int
	content        string
}

type sentSelect struct {
	conversationID int
	content        string
	items          []chatwoot.SelectItem
}

type fakeSender struct {
	texts   []sentText
	selects []sentSelect
	err     error
}

func (f *fakeSender) SendText(ctx context.Context, conversationID int, content string) (*chatwoot.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, sentText{conversationID: conversationID, content: content})
	return &chatwoot.Message{ID: len(f.texts), ConversationID: conversationID, Content: content}, nil
}

func (f *fakeSender) SendInputSelect(ctx context.Context, conversationID int, content string, items []chatwoot.SelectItem) (*chatwoot.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.selects = append(f.selects, sentSelect{conversationID: conversationID, content: content, items: items})
	return &chatwoot.Message{ID: len(f.selects), ConversationID: conversationID, Content: content}, nil
}

type fakeOptIn struct {
	optIn map[string]bool
	err   error
}

func (f *fakeOptIn) ReadyOptIn(ctx context.Context, userID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.optIn[userID], nil
}

func TestGateAllowsClarification(t *testing.T) {
	sender := &fakeSender{}
	gate := NewGate(sender, &fakeOptIn{}, nil, nil)

	sent, err := gate.Send(context.Background(), Outbound{
		Kind:           KindClarification,
		ConversationID: 42,
		Content:        "Which platform?",
		Items:          []chatwoot.SelectItem{{Title: "LinkedIn", Value: "linkedin"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sent {
		t.Fatal("expected clarification to go out")
	}
	if len(sender.selects) != 1 || sender.selects[0].conversationID != 42 {
		t.Fatalf("unexpected sends %+v", sender.selects)
	}
	if len(sender.selects[0].items) != 1 {
		t.Fatalf("expected quick-reply items, got %+v", sender.selects[0].items)
	}
}

func TestGateErrorNoticeSuggestsRetry(t *testing.T) {
	sender := &fakeSender{}
	gate := NewGate(sender, &fakeOptIn{}, nil, nil)

	if err := gate.ErrorNotice(context.Background(), 42, "storage was unavailable"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.texts) != 1 {
		t.Fatalf("expected one text, got %+v", sender.texts)
	}
	content := sender.texts[0].content
	if !strings.Contains(content, "storage was unavailable") || !strings.Contains(content, "again") {
		t.Fatalf("error notice missing reason or retry hint: %q", content)
	}
}

func TestGateReadyRequiresOptIn(t *testing.T) {
	sender := &fakeSender{}
	profiles := &fakeOptIn{optIn: map[string]bool{"user-yes": true}}
	gate := NewGate(sender, profiles, nil, nil)

	sent, err := gate.ReadyNotice(context.Background(), 42, "user-no")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent || len(sender.texts) != 0 {
		t.Fatalf("expected ready notice suppressed for opted-out user, sends=%+v", sender.texts)
	}

	sent, err = gate.ReadyNotice(context.Background(), 42, "user-yes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !sent || len(sender.texts) != 1 {
		t.Fatalf("expected ready notice for opted-in user, sends=%+v", sender.texts)
	}
}

func TestGateReadyWithoutUserSuppressed(t *testing.T) {
	sender := &fakeSender{}
	gate := NewGate(sender, &fakeOptIn{optIn: map[string]bool{"": true}}, nil, nil)

	sent, err := gate.Send(context.Background(), Outbound{Kind: KindReady, ConversationID: 42})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent || len(sender.texts) != 0 {
		t.Fatal("expected anonymous ready notice suppressed")
	}
}

func TestGateSuppressesEverythingElse(t *testing.T) {
	sender := &fakeSender{}
	gate := NewGate(sender, &fakeOptIn{}, nil, nil)

	sent, err := gate.Send(context.Background(), Outbound{
		Kind:           Kind("marketing"),
		ConversationID: 42,
		Content:        "check out our new feature",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sent || len(sender.texts) != 0 || len(sender.selects) != 0 {
		t.Fatal("expected non-policy message suppressed")
	}
}

func TestGateOptInCheckFailure(t *testing.T) {
	sender := &fakeSender{}
	gate := NewGate(sender, &fakeOptIn{err: errors.New("db down")}, nil, nil)

	if _, err := gate.ReadyNotice(context.Background(), 42, "user-1"); err == nil {
		t.Fatal("expected opt-in lookup failure to surface")
	}
	if len(sender.texts) != 0 {
		t.Fatal("expected no send on opt-in lookup failure")
	}
}

func TestGateAskUsesMenuWhenFieldHasOne(t *testing.T) {
	sender := &fakeSender{}
	gate := NewGate(sender, &fakeOptIn{}, nil, nil)

	if err := gate.Ask(context.Background(), 42, "platform"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.selects) != 1 || len(sender.selects[0].items) != 4 {
		t.Fatalf("expected platform menu with four choices, got %+v", sender.selects)
	}

	if err := gate.Ask(context.Background(), 42, "topic"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.texts) != 1 {
		t.Fatalf("expected free-text question for topic, got %+v", sender.texts)
	}
}

func TestGateSendFailurePropagates(t *testing.T) {
	sender := &fakeSender{err: errors.New("chatwoot 502")}
	gate := NewGate(sender, &fakeOptIn{}, nil, nil)

	sent, err := gate.Send(context.Background(), Outbound{
		Kind:           KindError,
		ConversationID: 42,
		Content:        "something broke",
	})
	if err == nil || sent {
		t.Fatalf("expected send failure, got sent=%v err=%v", sent, err)
	}
}

func TestNewGatePanicsOnNilSender(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for nil sender")
		}
	}()
	NewGate(nil, &fakeOptIn{}, nil, nil)
}
