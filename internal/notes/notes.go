// Package notes stores flushed buffers that classified as NOTE. The
// note path is silent: content is kept for the user's library and no
// outbound message is ever sent.
package notes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/echoposthq/echopost/pkg/logging"
)

// Note is one stored aggregation. SubjectID is the resolved user id,
// or the contact fallback for senders with no account yet.
type Note struct {
	ID             string    `json:"id"`
	SubjectID      string    `json:"subject_id"`
	ConversationID int       `json:"conversation_id"`
	BufferID       string    `json:"buffer_id"`
	Body           string    `json:"body"`
	MessageCount   int       `json:"message_count"`
	StorageBucket  string    `json:"storage_bucket,omitempty"`
	StorageKey     string    `json:"storage_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type objectStore interface {
	Put(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// Service persists notes to Postgres and mirrors a raw JSON copy into
// the subject's bucket when one is configured.
type Service struct {
	db      *sql.DB
	objects objectStore
	logger  *logging.Logger
}

// NewService builds the note store. The object store is optional; with
// none configured notes only live in Postgres.
func NewService(db *sql.DB, objects objectStore, logger *logging.Logger) *Service {
	if db == nil {
		panic("notes: db cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &Service{
		db:      db,
		objects: objects,
		logger:  logger,
	}
}

// Save stores a note, reporting whether this call created it. Buffer
// ids are unique, so a redelivered flush converges on one row.
func (s *Service) Save(ctx context.Context, note *Note) (bool, error) {
	if note == nil {
		return false, errors.New("notes: note cannot be nil")
	}
	if note.BufferID == "" {
		return false, errors.New("notes: buffer id required")
	}
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	if note.StorageBucket != "" {
		note.StorageKey = fmt.Sprintf("notes/%d/%s.json", note.ConversationID, note.ID)
	}

	query := `
		INSERT INTO notes (
			id, subject_id, conversation_id, buffer_id, body,
			message_count, storage_bucket, storage_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (buffer_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query,
		note.ID,
		note.SubjectID,
		note.ConversationID,
		note.BufferID,
		note.Body,
		note.MessageCount,
		nullString(note.StorageBucket),
		nullString(note.StorageKey),
		note.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("notes: save note: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("notes: save note: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	s.mirrorRaw(ctx, note)
	return true, nil
}

// mirrorRaw copies the note into the subject's bucket. Losing the copy
// is tolerable; losing the note is not, so failures only log.
func (s *Service) mirrorRaw(ctx context.Context, note *Note) {
	if s.objects == nil || note.StorageBucket == "" {
		return
	}
	raw, err := json.Marshal(note)
	if err != nil {
		s.logger.Warn("failed to encode note for archival", "note_id", note.ID, "error", err)
		return
	}
	if err := s.objects.Put(ctx, note.StorageBucket, note.StorageKey, raw, "application/json"); err != nil {
		s.logger.Warn("failed to archive note copy",
			"note_id", note.ID,
			"bucket", note.StorageBucket,
			"error", err,
		)
	}
}

// ListBySubject returns the subject's newest notes.
func (s *Service) ListBySubject(ctx context.Context, subjectID string, limit int) ([]Note, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `
		SELECT id, subject_id, conversation_id, buffer_id, body,
			   message_count, storage_bucket, storage_key, created_at
		FROM notes
		WHERE subject_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("notes: list notes: %w", err)
	}
	defer rows.Close()

	var out []Note
	for rows.Next() {
		var n Note
		var bucket, key sql.NullString
		if err := rows.Scan(
			&n.ID, &n.SubjectID, &n.ConversationID, &n.BufferID, &n.Body,
			&n.MessageCount, &bucket, &key, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("notes: scan note: %w", err)
		}
		n.StorageBucket = bucket.String
		n.StorageKey = key.String
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notes: list notes: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
