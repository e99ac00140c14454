// Package events guards the intake path against webhook redelivery.
// Chatwoot retries deliveries on timeouts, so every inbound message is
// claimed here exactly once before it touches a buffer.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SourceChatwoot tags events arriving through the Chatwoot webhook.
const SourceChatwoot = "chatwoot"

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store records which external events were already handled.
type Store struct {
	pool rowQuerier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithExec(exec rowQuerier) *Store {
	if exec == nil {
		panic("events: exec required")
	}
	return &Store{pool: exec}
}

// MessageEventID builds the dedupe key for a Chatwoot message. Message
// ids are only unique per account.
func MessageEventID(accountID int, messageID string) string {
	return strconv.Itoa(accountID) + ":" + messageID
}

// Claim records the event and reports whether this caller won it.
// A false result means another delivery already claimed the event and
// this one must be dropped. Claiming up front, rather than checking
// and marking separately, keeps concurrent redeliveries from both
// processing the same message.
func (s *Store) Claim(ctx context.Context, source, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (source, event_id, seen_at)
		VALUES ($1, $2, now())
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, source, eventID)
	if err != nil {
		return false, fmt.Errorf("events: claim event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// Release gives a claimed event back, so the source's retry can win it
// again. Called when handling failed after the claim; without it the
// retry would be absorbed as a duplicate and the message lost.
func (s *Store) Release(ctx context.Context, source, eventID string) error {
	query := `DELETE FROM processed_events WHERE source = $1 AND event_id = $2`
	if _, err := s.pool.Exec(ctx, query, source, eventID); err != nil {
		return fmt.Errorf("events: release event: %w", err)
	}
	return nil
}

// Seen checks whether the event was already claimed.
func (s *Store) Seen(ctx context.Context, source, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE source = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, source, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check event: %w", err)
	}
	return true, nil
}

// Prune drops claims older than the cutoff. Redeliveries arrive within
// minutes, so old claims only take up space.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx, `DELETE FROM processed_events WHERE seen_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("events: prune events: %w", err)
	}
	return ct.RowsAffected(), nil
}
