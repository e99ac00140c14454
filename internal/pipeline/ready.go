package pipeline

import (
	"context"
	"fmt"

	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/internal/observability/metrics"
	"github.com/echoposthq/echopost/pkg/logging"
)

// ReadyNotifier consumes ready jobs published by the content generator:
// it records completion on the order and offers the ready notice to the
// policy gate, which only lets it through for opted-in users.
type ReadyNotifier struct {
	orders  readyMarker
	gate    noticeGate
	metrics *metrics.PipelineMetrics
	logger  *logging.Logger
}

func NewReadyNotifier(orders readyMarker, gate noticeGate, m *metrics.PipelineMetrics, logger *logging.Logger) *ReadyNotifier {
	if orders == nil {
		panic("pipeline: order store cannot be nil")
	}
	if gate == nil {
		panic("pipeline: notify gate cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &ReadyNotifier{
		orders:  orders,
		gate:    gate,
		metrics: m,
		logger:  logger.Component("ready"),
	}
}

// HandleReady marks the order ready and sends the opt-in notice.
func (r *ReadyNotifier) HandleReady(ctx context.Context, job jobs.ReadyJob) error {
	found, err := r.orders.MarkReady(ctx, job.OrderID)
	if err != nil {
		return fmt.Errorf("pipeline: mark order ready: %w", err)
	}
	if !found {
		r.logger.Warn("ready job for unknown order", "order_id", job.OrderID)
		return nil
	}
	r.metrics.ObserveOrder("ready")

	sent, err := r.gate.ReadyNotice(ctx, job.ConversationID, job.UserID)
	if err != nil {
		return fmt.Errorf("pipeline: ready notice: %w", err)
	}
	if !sent {
		r.logger.Debug("ready notice suppressed",
			"order_id", job.OrderID, "user_id", job.UserID)
	}
	return nil
}
