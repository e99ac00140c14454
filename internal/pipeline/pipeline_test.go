package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/echoposthq/echopost/internal/buffer"
	"github.com/echoposthq/echopost/internal/chatwoot"
	"github.com/echoposthq/echopost/internal/conversation"
	"github.com/echoposthq/echopost/internal/identity"
	"github.com/echoposthq/echopost/internal/intent"
	"github.com/echoposthq/echopost/internal/jobs"
	"github.com/echoposthq/echopost/internal/notes"
	"github.com/echoposthq/echopost/internal/orders"
	"github.com/echoposthq/echopost/internal/profiles"
)

var testBase = time.UnixMilli(1_700_000_000_000)

type fakeEvents struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{seen: map[string]bool{}}
}

func (f *fakeEvents) Claim(ctx context.Context, source, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := source + ":" + eventID
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeEvents) Release(ctx context.Context, source, eventID string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, source+":"+eventID)
	return nil
}

type storedObject struct {
	bucket      string
	key         string
	body        []byte
	contentType string
}

type fakeObjects struct {
	ensureErr error
	putErr    error
	ensured   []string
	puts      []storedObject
}

func (f *fakeObjects) Ensure(ctx context.Context, bucket string) error {
	if f.ensureErr != nil {
		return f.ensureErr
	}
	f.ensured = append(f.ensured, bucket)
	return nil
}

func (f *fakeObjects) Put(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.puts = append(f.puts, storedObject{bucket: bucket, key: key, body: body, contentType: contentType})
	return nil
}

func (f *fakeObjects) keysWithPrefix(prefix string) []string {
	var out []string
	for _, obj := range f.puts {
		if strings.HasPrefix(obj.key, prefix) {
			out = append(out, obj.key)
		}
	}
	return out
}

type fakeIdentity struct {
	id identity.Identity
}

func (f *fakeIdentity) Resolve(ctx context.Context, contactKey string, rawPhones ...string) identity.Identity {
	if f.id.ContactKey == "" && f.id.UserID == "" {
		return identity.Identity{ContactKey: contactKey, BucketKey: "echopost-c-" + contactKey}
	}
	return f.id
}

type fakeGate struct {
	asks         []string
	errorNotices []string
	readyUsers   []string
	askErr       error
	readySent    bool
	readyErr     error
}

func (f *fakeGate) Ask(ctx context.Context, conversationID int, field string) error {
	if f.askErr != nil {
		return f.askErr
	}
	f.asks = append(f.asks, field)
	return nil
}

func (f *fakeGate) ErrorNotice(ctx context.Context, conversationID int, reason string) error {
	f.errorNotices = append(f.errorNotices, reason)
	return nil
}

func (f *fakeGate) ReadyNotice(ctx context.Context, conversationID int, userID string) (bool, error) {
	if f.readyErr != nil {
		return false, f.readyErr
	}
	f.readyUsers = append(f.readyUsers, userID)
	return f.readySent, nil
}

func (f *fakeGate) outboundCount() int {
	return len(f.asks) + len(f.errorNotices) + len(f.readyUsers)
}

type capturePublisher struct {
	jobs []jobs.FlushJob
	err  error
}

func (c *capturePublisher) PublishFlush(ctx context.Context, job jobs.FlushJob) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.jobs = append(c.jobs, job)
	return fmt.Sprintf("job-%d", len(c.jobs)), nil
}

type fakeDispatcher struct {
	orders     []*orders.Order
	err        error
	enqueueErr error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, order *orders.Order) (*orders.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	if order.ID == "" {
		order.ID = fmt.Sprintf("ord-%d", len(f.orders)+1)
	}
	f.orders = append(f.orders, order)
	if f.enqueueErr != nil {
		// Persist-then-enqueue: the order exists even though the
		// dispatch reports a failure.
		return order, f.enqueueErr
	}
	return order, nil
}

type fakeClassifier struct {
	byText map[string]intent.Result
	calls  []string
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) intent.Result {
	f.calls = append(f.calls, text)
	if res, ok := f.byText[text]; ok {
		return res
	}
	return intent.Result{Intent: intent.KindNote, Confidence: 0.5, Source: intent.SourceRules}
}

type fakeNotes struct {
	saved []*notes.Note
	err   error
}

func (f *fakeNotes) Save(ctx context.Context, note *notes.Note) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, existing := range f.saved {
		if existing.BufferID == note.BufferID {
			return false, nil
		}
	}
	f.saved = append(f.saved, note)
	return true, nil
}

type fakeTranscriber struct {
	byAudio map[string]string
	err     error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if text, ok := f.byAudio[string(audio)]; ok {
		return text, nil
	}
	return "", fmt.Errorf("unexpected audio %q", audio)
}

type fakeFetcher struct {
	byURL map[string][]byte
	err   error
}

func (f *fakeFetcher) DownloadAttachment(ctx context.Context, url string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if body, ok := f.byURL[url]; ok {
		return body, nil
	}
	return nil, fmt.Errorf("unexpected url %q", url)
}

type fakePrefs struct {
	prefs profiles.Preferences
	err   error
	calls int
}

func (f *fakePrefs) Preferences(ctx context.Context, userID string) (profiles.Preferences, error) {
	f.calls++
	if f.err != nil {
		return profiles.Preferences{}, f.err
	}
	return f.prefs, nil
}

// harness assembles the full pipeline on in-memory stores.
type harness struct {
	buffers     *buffer.MemoryStore
	states      *conversation.MemoryStates
	events      *fakeEvents
	objects     *fakeObjects
	gate        *fakeGate
	publisher   *capturePublisher
	dispatcher  *fakeDispatcher
	classifier  *fakeClassifier
	notes       *fakeNotes
	transcriber *fakeTranscriber
	fetcher     *fakeFetcher
	prefs       *fakePrefs

	intake  *Intake
	flusher *Flusher
}

func newHarness() *harness {
	h := &harness{
		buffers:     buffer.NewMemoryStore(),
		states:      conversation.NewMemoryStates(),
		events:      newFakeEvents(),
		objects:     &fakeObjects{},
		gate:        &fakeGate{},
		publisher:   &capturePublisher{},
		dispatcher:  &fakeDispatcher{},
		classifier:  &fakeClassifier{byText: map[string]intent.Result{}},
		notes:       &fakeNotes{},
		transcriber: &fakeTranscriber{byAudio: map[string]string{}},
		fetcher:     &fakeFetcher{byURL: map[string][]byte{}},
		prefs:       &fakePrefs{},
	}
	h.intake = NewIntake(IntakeConfig{
		Buffers:    h.buffers,
		Events:     h.events,
		Identity:   &fakeIdentity{id: identity.Identity{ContactKey: "88", UserID: "user-1", BucketKey: "echopost-u-user-1"}},
		Objects:    h.objects,
		States:     h.states,
		Publisher:  h.publisher,
		Gate:       h.gate,
		Dispatcher: h.dispatcher,
	})
	h.flusher = NewFlusher(FlusherConfig{
		Buffers:     h.buffers,
		States:      h.states,
		Classifier:  h.classifier,
		Transcriber: h.transcriber,
		Attachments: h.fetcher,
		Objects:     h.objects,
		Preferences: h.prefs,
		Notes:       h.notes,
		Dispatcher:  h.dispatcher,
		Gate:        h.gate,
	})
	return h
}

func inbound(messageID string, conversationID int, text string, at time.Time) *chatwoot.InboundMessage {
	return &chatwoot.InboundMessage{
		MessageID:      messageID,
		ConversationID: conversationID,
		AccountID:      1,
		Text:           text,
		Kind:           chatwoot.KindText,
		Sender:         chatwoot.Contact{ID: 88, PhoneNumber: "+4915112345678"},
		ArrivedAt:      at,
	}
}

// flushJobFor looks up the conversation's current buffer id so a test
// can flush it the way the sweep would.
func (h *harness) flushJobFor(conversationID int, reason string) jobs.FlushJob {
	state, err := h.buffers.Get(context.Background(), conversationID)
	if err != nil || state == nil {
		return jobs.FlushJob{ConversationID: conversationID, Reason: reason}
	}
	return jobs.FlushJob{ConversationID: conversationID, BufferID: state.BufferID, Reason: reason}
}
