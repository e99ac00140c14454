// Package pipeline wires the intake and flush stages together: webhook
// events flow through Intake into per-conversation buffers, the Flusher
// turns claimed buffers into notes or orders, and the ReadyNotifier
// closes the loop when generated content comes back.
package pipeline

import (
	"context"

	"github.com/echoposthq/echopost/internal/identity"
	"github.com/echoposthq/echopost/internal/intent"
	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/internal/notes"
	"github.com/echoposthq/echopost/internal/orders"
	"github.com/echoposthq/echopost/internal/profiles"
)

// Statuses reported for inbound webhook handling, used as metric labels.
const (
	StatusBuffered  = "buffered"
	StatusDuplicate = "duplicate"
	StatusAnswer    = "clarification_answer"
	StatusError     = "error"
)

type identityResolver interface {
	Resolve(ctx context.Context, contactKey string, rawPhones ...string) identity.Identity
}

type objectStore interface {
	Ensure(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

type eventClaimer interface {
	Claim(ctx context.Context, source, eventID string) (bool, error)
	Release(ctx context.Context, source, eventID string) error
}

type flushEnqueuer interface {
	PublishFlush(ctx context.Context, job jobs.FlushJob) (string, error)
}

type noticeGate interface {
	Ask(ctx context.Context, conversationID int, field string) error
	ErrorNotice(ctx context.Context, conversationID int, reason string) error
	ReadyNotice(ctx context.Context, conversationID int, userID string) (bool, error)
}

type orderDispatcher interface {
	Dispatch(ctx context.Context, order *orders.Order) (*orders.Order, error)
}

type classifier interface {
	Classify(ctx context.Context, text string) intent.Result
}

type transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
}

type attachmentFetcher interface {
	DownloadAttachment(ctx context.Context, url string) ([]byte, error)
}

type preferenceSource interface {
	Preferences(ctx context.Context, userID string) (profiles.Preferences, error)
}

type noteWriter interface {
	Save(ctx context.Context, note *notes.Note) (bool, error)
}

type readyMarker interface {
	MarkReady(ctx context.Context, orderID string) (bool, error)
}
