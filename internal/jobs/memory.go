package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// MemoryQueue is an in-process queue for local runs and tests.
type MemoryQueue struct {
	ch      chan Message
	counter atomic.Int64
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 256
	}
	return &MemoryQueue{ch: make(chan Message, size)}
}

func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	id := q.counter.Add(1)
	msg := Message{
		ID:            fmt.Sprintf("mem-%d", id),
		Body:          body,
		ReceiptHandle: fmt.Sprintf("mem-%d", id),
	}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	wait := time.Duration(waitSeconds) * time.Second
	if wait <= 0 {
		return q.collect(maxMessages), nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		msgs := append([]Message{msg}, q.collect(maxMessages-1)...)
		return msgs, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) collect(max int) []Message {
	var msgs []Message
	for len(msgs) < max {
		select {
		case msg := <-q.ch:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
	return msgs
}

// Delete is a no-op; memory messages are consumed on receive.
func (q *MemoryQueue) Delete(ctx context.Context, receiptHandle string) error {
	return nil
}
