package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/echoposthq/echopost/internal/buffer"
	"github.com/echoposthq/echopost/internal/chatwoot"
	"github.com/echoposthq/echopost/internal/conversation"
	"github.com/echoposthq/echopost/internal/events"
	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/internal/notify"
	"github.com/echoposthq/echopost/internal/observability/metrics"
	"github.com/echoposthq/echopost/internal/orders"
	"github.com/echoposthq/echopost/internal/storage"
	"github.com/echoposthq/echopost/pkg/logging"
)

const (
	defaultMaxCount = 10
	defaultMaxAge   = 5 * time.Minute
)

// IntakeConfig wires an Intake.
type IntakeConfig struct {
	Buffers    buffer.Buffers
	Events     eventClaimer
	Identity   identityResolver
	Objects    objectStore
	States     conversation.States
	Publisher  flushEnqueuer
	Gate       noticeGate
	Dispatcher orderDispatcher
	Metrics    *metrics.PipelineMetrics
	Logger     *logging.Logger

	// MaxCount and MaxAge are the force-flush ceilings. Zero values take
	// the defaults.
	MaxCount int
	MaxAge   time.Duration
}

// Intake handles one inbound WhatsApp message: dedupe, identity and
// storage side effects, the clarification sub-dialog, and buffering.
// It never blocks on the quiet window; flushing is the sweep's and the
// worker's job.
type Intake struct {
	buffers    buffer.Buffers
	events     eventClaimer
	identity   identityResolver
	objects    objectStore
	states     conversation.States
	publisher  flushEnqueuer
	gate       noticeGate
	dispatcher orderDispatcher
	metrics    *metrics.PipelineMetrics
	tracer     trace.Tracer
	logger     *logging.Logger
	maxCount   int
	maxAge     time.Duration
}

func NewIntake(cfg IntakeConfig) *Intake {
	if cfg.Buffers == nil {
		panic("pipeline: buffers cannot be nil")
	}
	if cfg.Events == nil {
		panic("pipeline: event store cannot be nil")
	}
	if cfg.Identity == nil {
		panic("pipeline: identity resolver cannot be nil")
	}
	if cfg.Objects == nil {
		panic("pipeline: object store cannot be nil")
	}
	if cfg.States == nil {
		panic("pipeline: conversation states cannot be nil")
	}
	if cfg.Publisher == nil {
		panic("pipeline: flush publisher cannot be nil")
	}
	if cfg.Gate == nil {
		panic("pipeline: notify gate cannot be nil")
	}
	if cfg.Dispatcher == nil {
		panic("pipeline: order dispatcher cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	maxCount := cfg.MaxCount
	if maxCount <= 0 {
		maxCount = defaultMaxCount
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	return &Intake{
		buffers:    cfg.Buffers,
		events:     cfg.Events,
		identity:   cfg.Identity,
		objects:    cfg.Objects,
		states:     cfg.States,
		publisher:  cfg.Publisher,
		gate:       cfg.Gate,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		tracer:     otel.Tracer("echopost.internal.pipeline"),
		logger:     logger.Component("intake"),
		maxCount:   maxCount,
		maxAge:     maxAge,
	}
}

// Handle processes one parsed inbound message and reports the intake
// status. Redelivered events and duplicate message ids are absorbed
// silently.
func (in *Intake) Handle(ctx context.Context, msg *chatwoot.InboundMessage) (string, error) {
	if msg == nil {
		return StatusError, errors.New("pipeline: inbound message required")
	}

	ctx, span := in.tracer.Start(ctx, "pipeline.intake")
	defer span.End()
	span.SetAttributes(attribute.Int("conversation_id", msg.ConversationID))

	eventID := events.MessageEventID(msg.AccountID, msg.MessageID)
	won, err := in.events.Claim(ctx, events.SourceChatwoot, eventID)
	if err != nil {
		in.logger.Warn("event dedupe unavailable, continuing", "event_id", eventID, "error", err)
	} else if !won {
		in.logger.Debug("duplicate delivery absorbed", "event_id", eventID)
		return StatusDuplicate, nil
	}

	id := in.identity.Resolve(ctx, contactKeyFor(msg.Sender), msg.Sender.PhoneNumber, msg.Sender.Identifier)

	if err := in.objects.Ensure(ctx, id.BucketKey); err != nil {
		span.RecordError(err)
		in.releaseClaim(ctx, msg)
		in.notifyError(ctx, msg.ConversationID, "we couldn't prepare storage for your content")
		return StatusError, fmt.Errorf("pipeline: ensure bucket %s: %w", id.BucketKey, err)
	}
	in.archiveRaw(ctx, id.BucketKey, msg)

	state, err := in.states.Get(ctx, msg.ConversationID)
	if err != nil {
		in.logger.Warn("dialog state lookup failed, treating conversation as normal",
			"conversation_id", msg.ConversationID, "error", err)
	}
	if state.AwaitingClarification() {
		return in.consumeAnswer(ctx, msg, state)
	}

	owner := buffer.Owner{SubjectID: id.SubjectID(), BucketKey: id.BucketKey}
	bstate, appended, err := in.buffers.Add(ctx, msg.ConversationID, owner, buffer.Message{
		ID:          msg.MessageID,
		Kind:        msg.Kind,
		Text:        msg.Text,
		Attachments: bufferAttachments(msg.Attachments),
		ArrivedAt:   msg.ArrivedAt.UnixMilli(),
	})
	if err != nil {
		span.RecordError(err)
		in.releaseClaim(ctx, msg)
		in.notifyError(ctx, msg.ConversationID, "we couldn't record your message")
		return StatusError, fmt.Errorf("pipeline: buffer message %s: %w", msg.MessageID, err)
	}
	if !appended {
		return StatusDuplicate, nil
	}

	in.maybeForceFlush(ctx, bstate)
	return StatusBuffered, nil
}

// consumeAnswer treats the inbound message as the reply to the pending
// clarification field instead of buffering it.
func (in *Intake) consumeAnswer(ctx context.Context, msg *chatwoot.InboundMessage, state *conversation.State) (string, error) {
	pending := *state.Pending

	answer, ok := notify.InterpretAnswer(pending.AskedField, msg.Text)
	if !ok {
		// Nothing usable in the reply; repeat the question.
		if err := in.gate.Ask(ctx, msg.ConversationID, pending.AskedField); err != nil {
			in.logger.Warn("repeating clarification failed", "conversation_id", msg.ConversationID, "error", err)
		}
		return StatusAnswer, nil
	}

	if pending.Params == nil {
		pending.Params = map[string]string{}
	}
	pending.Params[pending.AskedField] = answer
	pending.Missing = withoutField(pending.Missing, pending.AskedField)

	if len(pending.Missing) > 0 {
		pending.AskedField = pending.Missing[0]
		if err := in.states.UpdatePending(ctx, msg.ConversationID, pending); err != nil {
			in.releaseClaim(ctx, msg)
			in.notifyError(ctx, msg.ConversationID, "we couldn't process your reply")
			return StatusError, fmt.Errorf("pipeline: update pending order: %w", err)
		}
		if err := in.gate.Ask(ctx, msg.ConversationID, pending.AskedField); err != nil {
			in.logger.Warn("next clarification failed to send", "conversation_id", msg.ConversationID, "error", err)
		}
		return StatusAnswer, nil
	}

	in.dispatchClarified(ctx, msg.ConversationID, pending)

	if err := in.states.EndClarification(ctx, msg.ConversationID); err != nil {
		in.logger.Warn("ending clarification failed", "conversation_id", msg.ConversationID, "error", err)
	}
	return StatusAnswer, nil
}

func (in *Intake) dispatchClarified(ctx context.Context, conversationID int, pending conversation.PendingOrder) {
	order := &orders.Order{
		UserID:         pending.UserID,
		ConversationID: conversationID,
		BufferID:       pending.BufferID,
		SourceText:     pending.SourceText,
		Params:         pending.Params,
		Confidence:     pending.Confidence,
		Source:         pending.Source,
	}
	dispatched, err := in.dispatcher.Dispatch(ctx, order)
	switch {
	case errors.Is(err, orders.ErrEnqueueFailed):
		in.metrics.ObserveOrder("enqueue_failed")
		in.notifyError(ctx, conversationID, "your order was saved but scheduling it failed")
	case err != nil:
		in.metrics.ObserveOrder("failed")
		in.logger.Error("clarified order dispatch failed", "conversation_id", conversationID, "error", err)
		in.notifyError(ctx, conversationID, "we couldn't save your order")
	default:
		in.metrics.ObserveOrder("dispatched")
		in.logger.Info("order dispatched after clarification",
			"conversation_id", conversationID, "order_id", dispatched.ID)
	}
}

// maybeForceFlush enqueues a flush when a ceiling is hit. Enqueue
// failures are left to the sweep, which will find the buffer again.
func (in *Intake) maybeForceFlush(ctx context.Context, state *buffer.State) {
	now := time.UnixMilli(state.LastMessageAt)
	var reason string
	switch {
	case state.Count() >= in.maxCount:
		reason = jobs.ReasonCount
	case state.Age(now) >= in.maxAge:
		reason = jobs.ReasonAge
	default:
		return
	}

	if _, err := in.publisher.PublishFlush(ctx, jobs.FlushJob{
		ConversationID: state.ConversationID,
		BufferID:       state.BufferID,
		Reason:         reason,
	}); err != nil {
		in.logger.Warn("ceiling flush enqueue failed, sweep will pick it up",
			"conversation_id", state.ConversationID, "reason", reason, "error", err)
	}
}

// archiveRaw mirrors the inbound payload into the owner's bucket. A
// failed archive never blocks intake.
func (in *Intake) archiveRaw(ctx context.Context, bucket string, msg *chatwoot.InboundMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		in.logger.Warn("raw message encode failed", "message_id", msg.MessageID, "error", err)
		return
	}
	key := storage.RawMessageKey(msg.ConversationID, msg.MessageID, msg.ArrivedAt)
	if err := in.objects.Put(ctx, bucket, key, body, "application/json"); err != nil {
		in.logger.Warn("raw message archive failed", "message_id", msg.MessageID, "error", err)
	}
}

func (in *Intake) notifyError(ctx context.Context, conversationID int, reason string) {
	if err := in.gate.ErrorNotice(ctx, conversationID, reason); err != nil {
		in.logger.Warn("error notice failed to send", "conversation_id", conversationID, "error", err)
	}
}

// releaseClaim hands the dedupe claim back after a failed intake, so
// the webhook retry is not absorbed as a duplicate.
func (in *Intake) releaseClaim(ctx context.Context, msg *chatwoot.InboundMessage) {
	eventID := events.MessageEventID(msg.AccountID, msg.MessageID)
	if err := in.events.Release(ctx, events.SourceChatwoot, eventID); err != nil {
		in.logger.Warn("releasing event claim failed", "event_id", eventID, "error", err)
	}
}

func contactKeyFor(sender chatwoot.Contact) string {
	if sender.ID != 0 {
		return strconv.Itoa(sender.ID)
	}
	return ""
}

func bufferAttachments(atts []chatwoot.Attachment) []buffer.Attachment {
	if len(atts) == 0 {
		return nil
	}
	out := make([]buffer.Attachment, 0, len(atts))
	for _, a := range atts {
		url := a.DataURL
		if url == "" {
			url = a.FileURL
		}
		out = append(out, buffer.Attachment{URL: url, FileType: a.FileType})
	}
	return out
}

func withoutField(fields []string, field string) []string {
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != field {
			out = append(out, f)
		}
	}
	return out
}
