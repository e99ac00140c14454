package pipeline

import (
	"context"
	"time"

	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/pkg/logging"
)

const (
	receiveBatch = 10
	receiveWait  = 20
)

// Worker polls the job queue and routes payloads to the flush and
// ready handlers. Handled messages are deleted; failed ones are left
// for queue redelivery, where the buffer claim and the unique buffer
// constraint keep retries idempotent.
type Worker struct {
	queue   jobs.Client
	flusher *Flusher
	ready   *ReadyNotifier
	logger  *logging.Logger
}

func NewWorker(queue jobs.Client, flusher *Flusher, ready *ReadyNotifier, logger *logging.Logger) *Worker {
	if queue == nil {
		panic("pipeline: queue cannot be nil")
	}
	if flusher == nil {
		panic("pipeline: flusher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		queue:   queue,
		flusher: flusher,
		ready:   ready,
		logger:  logger.Component("worker"),
	}
}

// Run polls until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("queue receive failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
		}
	}
}

// Poll receives one batch and handles each message.
func (w *Worker) Poll(ctx context.Context) error {
	messages, err := w.queue.Receive(ctx, receiveBatch, receiveWait)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if w.handle(ctx, msg.Body) {
			if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
				w.logger.Warn("deleting handled message failed", "message_id", msg.ID, "error", err)
			}
		}
	}
	return nil
}

// handle reports whether the message is finished and may be deleted.
// Undecodable payloads are finished (poison messages never succeed);
// handler failures are not, so the queue redelivers them.
func (w *Worker) handle(ctx context.Context, body string) bool {
	payload, err := jobs.DecodePayload(body)
	if err != nil {
		w.logger.Error("dropping undecodable job", "error", err)
		return true
	}

	switch payload.Kind {
	case jobs.KindFlushBuffer:
		if payload.Flush == nil {
			w.logger.Error("flush job without payload", "job_id", payload.ID)
			return true
		}
		if err := w.flusher.Run(ctx, *payload.Flush); err != nil {
			w.logger.Error("flush job failed", "job_id", payload.ID, "error", err)
			return false
		}
		return true
	case jobs.KindOrderReady:
		if w.ready == nil || payload.Ready == nil {
			w.logger.Warn("ready job skipped", "job_id", payload.ID)
			return true
		}
		if err := w.ready.HandleReady(ctx, *payload.Ready); err != nil {
			w.logger.Error("ready job failed", "job_id", payload.ID, "error", err)
			return false
		}
		return true
	default:
		// Not ours; leave it for whichever consumer owns the kind.
		w.logger.Debug("ignoring job of foreign kind", "kind", string(payload.Kind), "job_id", payload.ID)
		return false
	}
}
