package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Mapping is one persisted resolution: a contact key paired with the
// user it resolved to (empty while anonymous) and its bucket.
type Mapping struct {
	ContactKey string
	Phone      string
	UserID     string
	BucketKey  string
}

// Store persists contact resolutions and the phone→user mapping.
type Store struct {
	db rowQuerier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("identity: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithQuerier(db rowQuerier) *Store {
	if db == nil {
		panic("identity: querier required")
	}
	return &Store{db: db}
}

// ByContact returns the cached resolution for a contact key, or nil
// when the contact has not been seen before.
func (s *Store) ByContact(ctx context.Context, contactKey string) (*Mapping, error) {
	query := `SELECT phone, COALESCE(user_id, ''), bucket_key FROM phone_mappings WHERE contact_key = $1`
	m := Mapping{ContactKey: contactKey}
	if err := s.db.QueryRow(ctx, query, contactKey).Scan(&m.Phone, &m.UserID, &m.BucketKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("identity: lookup contact: %w", err)
	}
	return &m, nil
}

// UserIDByPhone probes the phone→user mapping one variant at a time so
// the first variant that matches wins.
func (s *Store) UserIDByPhone(ctx context.Context, variants []string) (string, error) {
	query := `SELECT user_id FROM phone_mappings WHERE phone = $1 AND user_id IS NOT NULL LIMIT 1`
	for _, variant := range variants {
		var userID string
		err := s.db.QueryRow(ctx, query, variant).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("identity: lookup phone: %w", err)
		}
		if userID != "" {
			return userID, nil
		}
	}
	return "", nil
}

// Upsert records a resolution. An existing row only ever upgrades: a
// null user id is filled in (moving the mapping onto the user bucket)
// and is never cleared again by a later anonymous resolution.
func (s *Store) Upsert(ctx context.Context, m Mapping) error {
	query := `
		INSERT INTO phone_mappings (contact_key, phone, user_id, bucket_key)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (contact_key) DO UPDATE SET
			user_id = COALESCE(phone_mappings.user_id, EXCLUDED.user_id),
			phone = COALESCE(NULLIF(phone_mappings.phone, ''), EXCLUDED.phone),
			bucket_key = CASE
				WHEN phone_mappings.user_id IS NULL AND EXCLUDED.user_id IS NOT NULL THEN EXCLUDED.bucket_key
				ELSE phone_mappings.bucket_key
			END,
			updated_at = now()
	`
	if _, err := s.db.Exec(ctx, query, m.ContactKey, m.Phone, m.UserID, m.BucketKey); err != nil {
		return fmt.Errorf("identity: upsert mapping: %w", err)
	}
	return nil
}
