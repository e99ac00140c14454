// Package jobs is the queue layer between intake and the flush worker,
// and between order dispatch and the downstream generator.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Client is the queue transport. SQS in production, MemoryQueue in
// tests and local development.
type Client interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Kind discriminates job payloads.
type Kind string

const (
	// KindFlushBuffer asks the worker to claim and flush one buffer.
	KindFlushBuffer Kind = "buffer.flush"
	// KindGenerate hands a persisted order to the content generator.
	KindGenerate Kind = "order.generate"
	// KindOrderReady announces finished content back to the pipeline.
	KindOrderReady Kind = "order.ready"
)

// Flush trigger reasons.
const (
	ReasonQuiet  = "quiet"
	ReasonCount  = "count"
	ReasonAge    = "age"
	ReasonManual = "manual"
)

// FlushJob names one buffer to flush. The claim itself happens in the
// worker, so duplicate flush jobs for the same buffer are harmless.
type FlushJob struct {
	ConversationID int    `json:"conversation_id"`
	BufferID       string `json:"buffer_id"`
	Reason         string `json:"reason"`
}

// GenerateJob references a persisted content order.
type GenerateJob struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

// ReadyJob reports a completed order, consumed to send the opt-in
// ready notice.
type ReadyJob struct {
	OrderID        string `json:"order_id"`
	UserID         string `json:"user_id"`
	ConversationID int    `json:"conversation_id"`
}

// Payload is the wire envelope for every queue message.
type Payload struct {
	ID       string       `json:"id"`
	Kind     Kind         `json:"kind"`
	Flush    *FlushJob    `json:"flush,omitempty"`
	Generate *GenerateJob `json:"generate,omitempty"`
	Ready    *ReadyJob    `json:"ready,omitempty"`
}

// DecodePayload parses a queue message body.
func DecodePayload(body string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return Payload{}, fmt.Errorf("jobs: decode payload: %w", err)
	}
	if p.Kind == "" {
		return Payload{}, fmt.Errorf("jobs: payload has no kind")
	}
	return p, nil
}

// Publisher encodes and enqueues jobs, assigning each a job id.
type Publisher struct {
	queue Client
}

func NewPublisher(queue Client) *Publisher {
	if queue == nil {
		panic("jobs: queue client cannot be nil")
	}
	return &Publisher{queue: queue}
}

// PublishFlush enqueues a flush job for one buffer.
func (p *Publisher) PublishFlush(ctx context.Context, job FlushJob) (string, error) {
	return p.publish(ctx, Payload{Kind: KindFlushBuffer, Flush: &job})
}

// PublishGenerate enqueues a generation job for a persisted order.
func (p *Publisher) PublishGenerate(ctx context.Context, job GenerateJob) (string, error) {
	return p.publish(ctx, Payload{Kind: KindGenerate, Generate: &job})
}

// PublishReady enqueues an order-ready notification job.
func (p *Publisher) PublishReady(ctx context.Context, job ReadyJob) (string, error) {
	return p.publish(ctx, Payload{Kind: KindOrderReady, Ready: &job})
}

func (p *Publisher) publish(ctx context.Context, payload Payload) (string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jobs: encode payload: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return "", err
	}
	return payload.ID, nil
}
