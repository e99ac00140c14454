package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/echoposthq/echopost/internal/buffer"
	"github.com/echoposthq/echopost/internal/conversation"
	"github.com/echoposthq/echopost/internal/intent"
	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/internal/notes"
	"github.com/echoposthq/echopost/internal/observability/metrics"
	"github.com/echoposthq/echopost/internal/orders"
	"github.com/echoposthq/echopost/internal/profiles"
	"github.com/echoposthq/echopost/internal/storage"
	"github.com/echoposthq/echopost/pkg/logging"
)

const defaultQuietWindow = 30 * time.Second

// FlusherConfig wires a Flusher.
type FlusherConfig struct {
	Buffers     buffer.Buffers
	States      conversation.States
	Classifier  classifier
	Transcriber transcriber
	Attachments attachmentFetcher
	Objects     objectStore
	Preferences preferenceSource
	Notes       noteWriter
	Dispatcher  orderDispatcher
	Gate        noticeGate
	Metrics     *metrics.PipelineMetrics
	Logger      *logging.Logger

	// QuietWindow is re-verified at claim time for quiet-reason jobs.
	QuietWindow time.Duration
	// Required lists the order fields that block on clarification
	// instead of taking a system default. Empty means topic only.
	Required []string
}

// Flusher consumes flush jobs: it claims the buffer, aggregates its
// messages in arrival order with audio transcribed inline, classifies
// the combined text, and routes the result to the note store or the
// order dispatcher.
type Flusher struct {
	buffers     buffer.Buffers
	states      conversation.States
	classifier  classifier
	transcriber transcriber
	attachments attachmentFetcher
	objects     objectStore
	preferences preferenceSource
	notes       noteWriter
	dispatcher  orderDispatcher
	gate        noticeGate
	metrics     *metrics.PipelineMetrics
	tracer      trace.Tracer
	logger      *logging.Logger
	quietWindow time.Duration
	required    []string
}

func NewFlusher(cfg FlusherConfig) *Flusher {
	if cfg.Buffers == nil {
		panic("pipeline: buffers cannot be nil")
	}
	if cfg.States == nil {
		panic("pipeline: conversation states cannot be nil")
	}
	if cfg.Classifier == nil {
		panic("pipeline: classifier cannot be nil")
	}
	if cfg.Notes == nil {
		panic("pipeline: note writer cannot be nil")
	}
	if cfg.Dispatcher == nil {
		panic("pipeline: order dispatcher cannot be nil")
	}
	if cfg.Gate == nil {
		panic("pipeline: notify gate cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	quiet := cfg.QuietWindow
	if quiet <= 0 {
		quiet = defaultQuietWindow
	}
	required := cfg.Required
	if len(required) == 0 {
		required = []string{"topic"}
	}

	return &Flusher{
		buffers:     cfg.Buffers,
		states:      cfg.States,
		classifier:  cfg.Classifier,
		transcriber: cfg.Transcriber,
		attachments: cfg.Attachments,
		objects:     cfg.Objects,
		preferences: cfg.Preferences,
		notes:       cfg.Notes,
		dispatcher:  cfg.Dispatcher,
		gate:        cfg.Gate,
		metrics:     cfg.Metrics,
		tracer:      otel.Tracer("echopost.internal.pipeline"),
		logger:      logger.Component("flush"),
		quietWindow: quiet,
		required:    required,
	}
}

// Run executes one flush job. A lost claim is a clean no-op: another
// worker won, the sender resumed typing, or the buffer is already done.
func (f *Flusher) Run(ctx context.Context, job jobs.FlushJob) error {
	ctx, span := f.tracer.Start(ctx, "pipeline.flush")
	defer span.End()
	span.SetAttributes(
		attribute.Int("conversation_id", job.ConversationID),
		attribute.String("reason", job.Reason),
	)

	var cutoff time.Time
	if job.Reason == jobs.ReasonQuiet {
		cutoff = time.Now().UTC().Add(-f.quietWindow)
	}

	state, err := f.buffers.Claim(ctx, job.ConversationID, job.BufferID, cutoff)
	if errors.Is(err, buffer.ErrClaimLost) {
		f.logger.Debug("flush claim lost",
			"conversation_id", job.ConversationID, "buffer_id", job.BufferID, "reason", job.Reason)
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	combined := f.aggregate(ctx, state)
	result := f.classifier.Classify(ctx, combined)
	f.metrics.ObserveFlush(strings.ToLower(string(result.Intent)), job.Reason)

	if result.Intent == intent.KindOrder {
		err = f.handleOrder(ctx, state, combined, result)
	} else {
		err = f.handleNote(ctx, state, combined)
	}
	if err != nil {
		span.RecordError(err)
		return err
	}

	if err := f.buffers.MarkDone(ctx, state.ConversationID, state.BufferID); err != nil {
		f.logger.Warn("closing flushed buffer failed",
			"conversation_id", state.ConversationID, "buffer_id", state.BufferID, "error", err)
	}
	return nil
}

// aggregate merges the buffer into one classification input: message
// texts in arrival order, audio transcripts substituted inline, and
// media archived to the owner's bucket. Attachment failures are logged
// and skipped; they never abort the flush.
func (f *Flusher) aggregate(ctx context.Context, state *buffer.State) string {
	msgs := append([]buffer.Message(nil), state.Messages...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ArrivedAt < msgs[j].ArrivedAt })

	var parts []string
	for _, msg := range msgs {
		if text := strings.TrimSpace(msg.Text); text != "" {
			parts = append(parts, text)
		}
		for i, att := range msg.Attachments {
			switch strings.ToLower(att.FileType) {
			case "audio":
				if transcript := f.resolveAudio(ctx, state, msg, i, att); transcript != "" {
					parts = append(parts, transcript)
				}
			case "image":
				f.archiveMedia(ctx, state, msg, i, att)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// resolveAudio downloads, archives, and transcribes one voice message.
func (f *Flusher) resolveAudio(ctx context.Context, state *buffer.State, msg buffer.Message, idx int, att buffer.Attachment) string {
	if f.attachments == nil || f.transcriber == nil {
		f.logger.Warn("audio attachment skipped, transcription not configured", "message_id", msg.ID)
		return ""
	}
	audio, err := f.attachments.DownloadAttachment(ctx, att.URL)
	if err != nil {
		f.logger.Warn("audio download failed, skipping attachment",
			"message_id", msg.ID, "error", err)
		return ""
	}
	f.putMedia(ctx, state, msg, idx, att, audio)

	transcript, err := f.transcriber.Transcribe(ctx, fmt.Sprintf("%s.ogg", msg.ID), audio)
	if err != nil {
		f.logger.Warn("transcription failed, skipping attachment",
			"message_id", msg.ID, "error", err)
		return ""
	}
	return transcript
}

func (f *Flusher) archiveMedia(ctx context.Context, state *buffer.State, msg buffer.Message, idx int, att buffer.Attachment) {
	if f.attachments == nil {
		return
	}
	body, err := f.attachments.DownloadAttachment(ctx, att.URL)
	if err != nil {
		f.logger.Warn("media download failed, skipping attachment",
			"message_id", msg.ID, "error", err)
		return
	}
	f.putMedia(ctx, state, msg, idx, att, body)
}

func (f *Flusher) putMedia(ctx context.Context, state *buffer.State, msg buffer.Message, idx int, att buffer.Attachment, body []byte) {
	if f.objects == nil || state.Owner.BucketKey == "" {
		return
	}
	key := storage.MediaKey(state.ConversationID, msg.ID, idx, att.FileType)
	if err := f.objects.Put(ctx, state.Owner.BucketKey, key, body, contentTypeFor(att.FileType)); err != nil {
		f.logger.Warn("media archive failed", "message_id", msg.ID, "key", key, "error", err)
	}
}

func (f *Flusher) handleNote(ctx context.Context, state *buffer.State, combined string) error {
	note := &notes.Note{
		SubjectID:      state.Owner.SubjectID,
		ConversationID: state.ConversationID,
		BufferID:       state.BufferID,
		Body:           combined,
		MessageCount:   state.Count(),
		StorageBucket:  state.Owner.BucketKey,
	}
	if _, err := f.notes.Save(ctx, note); err != nil {
		f.notifyError(ctx, state.ConversationID, "we couldn't save your note")
		return fmt.Errorf("pipeline: save note: %w", err)
	}
	return nil
}

func (f *Flusher) handleOrder(ctx context.Context, state *buffer.State, combined string, result intent.Result) error {
	prefs := f.lookupPreferences(ctx, state.Owner.SubjectID)
	resolution := intent.Resolve(result.Explicit, result.Inferred, prefs, f.required)

	if !resolution.Complete() {
		return f.beginClarification(ctx, state, combined, result, resolution)
	}

	order := &orders.Order{
		UserID:         state.Owner.SubjectID,
		ConversationID: state.ConversationID,
		BufferID:       state.BufferID,
		SourceText:     combined,
		Params:         resolution.Params,
		Confidence:     result.Confidence,
		Source:         result.Source,
	}
	dispatched, err := f.dispatcher.Dispatch(ctx, order)
	switch {
	case errors.Is(err, orders.ErrEnqueueFailed):
		f.metrics.ObserveOrder("enqueue_failed")
		f.notifyError(ctx, state.ConversationID, "your order was saved but scheduling it failed")
	case err != nil:
		f.metrics.ObserveOrder("failed")
		f.notifyError(ctx, state.ConversationID, "we couldn't save your order")
		return fmt.Errorf("pipeline: dispatch order: %w", err)
	default:
		f.metrics.ObserveOrder("dispatched")
		f.logger.Info("order dispatched",
			"conversation_id", state.ConversationID, "order_id", dispatched.ID, "source", order.Source)
	}
	return nil
}

// beginClarification parks the order and asks for the first missing
// field. From here the next inbound message is consumed as the answer.
func (f *Flusher) beginClarification(ctx context.Context, state *buffer.State, combined string, result intent.Result, resolution intent.Resolution) error {
	pending := conversation.PendingOrder{
		UserID:     state.Owner.SubjectID,
		BufferID:   state.BufferID,
		SourceText: combined,
		Params:     resolution.Params,
		Missing:    resolution.Missing,
		AskedField: resolution.Missing[0],
		Source:     result.Source,
		Confidence: result.Confidence,
		CreatedAt:  time.Now().UTC().UnixMilli(),
	}
	if err := f.states.BeginClarification(ctx, state.ConversationID, pending); err != nil {
		f.notifyError(ctx, state.ConversationID, "we couldn't process your request")
		return fmt.Errorf("pipeline: begin clarification: %w", err)
	}
	if err := f.gate.Ask(ctx, state.ConversationID, pending.AskedField); err != nil {
		// The pending order is parked; the dialog TTL reaps it if the
		// question never reaches the sender.
		f.logger.Error("clarification question failed to send",
			"conversation_id", state.ConversationID, "field", pending.AskedField, "error", err)
	}
	return nil
}

func (f *Flusher) lookupPreferences(ctx context.Context, subjectID string) intent.Params {
	if f.preferences == nil || subjectID == "" || strings.HasPrefix(subjectID, "contact_") {
		return intent.Params{}
	}
	prefs, err := f.preferences.Preferences(ctx, subjectID)
	if err != nil {
		if !errors.Is(err, profiles.ErrProfileNotFound) {
			f.logger.Warn("preference lookup failed, using system defaults",
				"user_id", subjectID, "error", err)
		}
		return intent.Params{}
	}
	return intent.Params{
		Platform: prefs.Platform,
		Tone:     prefs.Tone,
		Length:   prefs.Length,
	}
}

func (f *Flusher) notifyError(ctx context.Context, conversationID int, reason string) {
	if err := f.gate.ErrorNotice(ctx, conversationID, reason); err != nil {
		f.logger.Warn("error notice failed to send", "conversation_id", conversationID, "error", err)
	}
}

func contentTypeFor(fileType string) string {
	switch strings.ToLower(fileType) {
	case "audio":
		return "audio/ogg"
	case "image":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}
