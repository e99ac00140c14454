// Package profiles reads the onboarding profile store: phone lookup
// for identity resolution, content preferences for order defaulting,
// and the ready-notice opt-in flag.
package profiles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrProfileNotFound is returned when a user id has no profile row.
var ErrProfileNotFound = errors.New("profiles: profile not found")

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Profile is one onboarded user.
type Profile struct {
	UserID          string
	Phone           string
	DisplayName     string
	Industry        string
	PrimaryPlatform string
	DefaultTone     string
	DefaultLength   string
	ReadyOptIn      bool
}

// Preferences are the onboarding defaults applied to orders when the
// message and the classifier leave a field open.
type Preferences struct {
	Platform string
	Tone     string
	Length   string
	Industry string
}

// Store reads profiles from Postgres.
type Store struct {
	db rowQuerier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("profiles: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithQuerier(db rowQuerier) *Store {
	if db == nil {
		panic("profiles: querier required")
	}
	return &Store{db: db}
}

const profileColumns = `user_id, COALESCE(phone, ''), COALESCE(display_name, ''), COALESCE(industry, ''),
		COALESCE(primary_platform, ''), COALESCE(default_tone, ''), COALESCE(default_length, ''), ready_opt_in`

// FindByPhone probes phone variants in order and returns the first
// matching profile, or nil when no variant matches.
func (s *Store) FindByPhone(ctx context.Context, variants []string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE phone = $1 LIMIT 1`
	for _, variant := range variants {
		p, err := s.scanProfile(s.db.QueryRow(ctx, query, variant))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("profiles: find by phone: %w", err)
		}
		return p, nil
	}
	return nil, nil
}

// UserIDByPhone is the thin variant-order lookup identity resolution
// uses.
func (s *Store) UserIDByPhone(ctx context.Context, variants []string) (string, error) {
	query := `SELECT user_id FROM profiles WHERE phone = $1 LIMIT 1`
	for _, variant := range variants {
		var userID string
		err := s.db.QueryRow(ctx, query, variant).Scan(&userID)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("profiles: user by phone: %w", err)
		}
		return userID, nil
	}
	return "", nil
}

// ByUserID loads a single profile.
func (s *Store) ByUserID(ctx context.Context, userID string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE user_id = $1`
	p, err := s.scanProfile(s.db.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profiles: by user id: %w", err)
	}
	return p, nil
}

// Preferences returns the order-defaulting preferences for a user.
// Unknown users get zero preferences and ErrProfileNotFound so callers
// can fall through to system defaults.
func (s *Store) Preferences(ctx context.Context, userID string) (Preferences, error) {
	p, err := s.ByUserID(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	return Preferences{
		Platform: p.PrimaryPlatform,
		Tone:     p.DefaultTone,
		Length:   p.DefaultLength,
		Industry: p.Industry,
	}, nil
}

// ReadyOptIn reports whether the user asked to be notified when
// generated content is ready. Unknown users are opted out.
func (s *Store) ReadyOptIn(ctx context.Context, userID string) (bool, error) {
	query := `SELECT ready_opt_in FROM profiles WHERE user_id = $1`
	var optIn bool
	err := s.db.QueryRow(ctx, query, userID).Scan(&optIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("profiles: ready opt in: %w", err)
	}
	return optIn, nil
}

func (s *Store) scanProfile(row pgx.Row) (*Profile, error) {
	var p Profile
	if err := row.Scan(&p.UserID, &p.Phone, &p.DisplayName, &p.Industry,
		&p.PrimaryPlatform, &p.DefaultTone, &p.DefaultLength, &p.ReadyOptIn); err != nil {
		return nil, err
	}
	return &p, nil
}
