package jobs

import (
	"context"
	"encoding/json"
	"testing"
)

func TestPublishFlushEncodesPayload(t *testing.T) {
	q := NewMemoryQueue(8)
	pub := NewPublisher(q)

	jobID, err := pub.PublishFlush(context.Background(), FlushJob{
		ConversationID: 42,
		BufferID:       "buf-1",
		Reason:         ReasonQuiet,
	})
	if err != nil {
		t.Fatalf("PublishFlush: %v", err)
	}
	if jobID == "" {
		t.Fatal("expected a job id")
	}

	msgs, err := q.Receive(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}

	payload, err := DecodePayload(msgs[0].Body)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.ID != jobID {
		t.Errorf("payload id = %q, want %q", payload.ID, jobID)
	}
	if payload.Kind != KindFlushBuffer {
		t.Errorf("kind = %q, want %q", payload.Kind, KindFlushBuffer)
	}
	if payload.Flush == nil {
		t.Fatal("expected flush job")
	}
	if payload.Flush.ConversationID != 42 || payload.Flush.BufferID != "buf-1" || payload.Flush.Reason != ReasonQuiet {
		t.Errorf("flush job = %+v", payload.Flush)
	}
	if payload.Generate != nil || payload.Ready != nil {
		t.Error("unexpected extra job sections")
	}
}

func TestPublishReadyEncodesPayload(t *testing.T) {
	q := NewMemoryQueue(8)
	pub := NewPublisher(q)

	if _, err := pub.PublishReady(context.Background(), ReadyJob{
		OrderID:        "ord-9",
		UserID:         "user-3",
		ConversationID: 7,
	}); err != nil {
		t.Fatalf("PublishReady: %v", err)
	}

	msgs, _ := q.Receive(context.Background(), 1, 0)
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	payload, err := DecodePayload(msgs[0].Body)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if payload.Kind != KindOrderReady || payload.Ready == nil {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Ready.OrderID != "ord-9" || payload.Ready.ConversationID != 7 {
		t.Errorf("ready job = %+v", payload.Ready)
	}
}

func TestDecodePayloadRejectsGarbage(t *testing.T) {
	if _, err := DecodePayload("not json"); err == nil {
		t.Error("expected error for malformed body")
	}
	body, _ := json.Marshal(Payload{ID: "x"})
	if _, err := DecodePayload(string(body)); err == nil {
		t.Error("expected error for missing kind")
	}
}

func TestMemoryQueueCollectsBatch(t *testing.T) {
	q := NewMemoryQueue(8)
	for i := 0; i < 3; i++ {
		if err := q.Send(context.Background(), "body"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	msgs, err := q.Receive(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected batch of 2, got %d", len(msgs))
	}

	msgs, err = q.Receive(context.Background(), 2, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected remaining 1, got %d", len(msgs))
	}
	if err := q.Delete(context.Background(), msgs[0].ReceiptHandle); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestMemoryQueueEmptyNoWait(t *testing.T) {
	q := NewMemoryQueue(2)
	msgs, err := q.Receive(context.Background(), 5, 0)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected no messages, got %d", len(msgs))
	}
}

func TestNewPublisherPanicsOnNilQueue(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for nil queue")
		}
	}()
	NewPublisher(nil)
}
