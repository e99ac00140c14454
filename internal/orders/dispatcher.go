package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/pkg/logging"
)

// ErrEnqueueFailed reports that an order was persisted but its generate
// job could not be queued. The order stays pending; RetryPending picks
// it back up.
var ErrEnqueueFailed = errors.New("orders: generate enqueue failed")

type orderStore interface {
	Create(ctx context.Context, order *Order) (bool, error)
	ByBuffer(ctx context.Context, bufferID string) (*Order, error)
	MarkQueued(ctx context.Context, orderID string) error
	ListPending(ctx context.Context, before time.Time, limit int) ([]Order, error)
}

type generateEnqueuer interface {
	PublishGenerate(ctx context.Context, job jobs.GenerateJob) (string, error)
}

// Dispatcher persists orders and enqueues their generate jobs. The
// write to Postgres is the durable step; once it lands, an enqueue
// failure never discards the order. RetryPending picks strays back up.
type Dispatcher struct {
	store     orderStore
	publisher generateEnqueuer
	logger    *logging.Logger
}

func NewDispatcher(store orderStore, publisher generateEnqueuer, logger *logging.Logger) *Dispatcher {
	if store == nil {
		panic("orders: store cannot be nil")
	}
	if publisher == nil {
		panic("orders: publisher cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{store: store, publisher: publisher, logger: logger}
}

// Dispatch stores the order and queues generation. When the buffer was
// already dispatched it returns the existing order untouched, so a
// replayed flush cannot produce a second one. A non-nil order alongside
// ErrEnqueueFailed means the order is safe but its job never went out.
func (d *Dispatcher) Dispatch(ctx context.Context, order *Order) (*Order, error) {
	created, err := d.store.Create(ctx, order)
	if err != nil {
		return nil, err
	}
	if !created {
		existing, err := d.store.ByBuffer(ctx, order.BufferID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("orders: buffer %s already dispatched but order not found", order.BufferID)
		}
		d.logger.Info("order already dispatched for buffer",
			"order_id", existing.ID,
			"buffer_id", order.BufferID,
		)
		return existing, nil
	}

	if err := d.enqueue(ctx, order); err != nil {
		return order, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}
	return order, nil
}

// RetryPending re-enqueues orders whose generate job never went out,
// skipping anything newer than grace to avoid racing a live dispatch.
func (d *Dispatcher) RetryPending(ctx context.Context, grace time.Duration, limit int) (int, error) {
	before := time.Now().UTC().Add(-grace)
	pending, err := d.store.ListPending(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	retried := 0
	for i := range pending {
		order := &pending[i]
		jobID, err := d.publisher.PublishGenerate(ctx, jobs.GenerateJob{
			OrderID: order.ID,
			UserID:  order.UserID,
		})
		if err != nil {
			d.logger.Error("retrying pending order failed",
				"order_id", order.ID,
				"error", err,
			)
			continue
		}
		if err := d.store.MarkQueued(ctx, order.ID); err != nil {
			d.logger.Warn("order re-enqueued but status update failed",
				"order_id", order.ID,
				"job_id", jobID,
				"error", err,
			)
		}
		retried++
	}
	return retried, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, order *Order) error {
	jobID, err := d.publisher.PublishGenerate(ctx, jobs.GenerateJob{
		OrderID: order.ID,
		UserID:  order.UserID,
	})
	if err != nil {
		// The order is safe in Postgres; leave it pending for retry.
		d.logger.Error("order persisted but generate enqueue failed",
			"order_id", order.ID,
			"buffer_id", order.BufferID,
			"error", err,
		)
		return err
	}
	if err := d.store.MarkQueued(ctx, order.ID); err != nil {
		d.logger.Warn("generate job enqueued but status update failed",
			"order_id", order.ID,
			"job_id", jobID,
			"error", err,
		)
	}
	return nil
}
