// Package orders persists content orders and hands them to the
// generation queue. The buffer id is unique per order, which makes
// dispatch idempotent even if a flush is ever replayed.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Order lifecycle states.
const (
	StatusPending = "pending"
	StatusQueued  = "queued"
	StatusReady   = "ready"
)

// Order is one content request distilled from a flushed buffer.
type Order struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ConversationID int               `json:"conversation_id"`
	BufferID       string            `json:"buffer_id"`
	SourceText     string            `json:"source_text"`
	Params         map[string]string `json:"params"`
	Status         string            `json:"status"`
	Confidence     float64           `json:"confidence"`
	Source         string            `json:"source"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store persists orders to Postgres.
type Store struct {
	pool rowQuerier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("orders: pgx pool required")
	}
	return &Store{pool: pool}
}

func newStoreWithQuerier(q rowQuerier) *Store {
	if q == nil {
		panic("orders: querier required")
	}
	return &Store{pool: q}
}

const orderColumns = `id, user_id, conversation_id, buffer_id, source_text, params, status, confidence, source, created_at, updated_at`

// Create inserts the order, reporting whether this call created it.
// A false result means an order for the buffer already exists.
func (s *Store) Create(ctx context.Context, order *Order) (bool, error) {
	if order == nil {
		return false, errors.New("orders: order cannot be nil")
	}
	if order.BufferID == "" {
		return false, errors.New("orders: buffer id required")
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	if order.Status == "" {
		order.Status = StatusPending
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = order.CreatedAt

	params, err := json.Marshal(order.Params)
	if err != nil {
		return false, fmt.Errorf("orders: encode params: %w", err)
	}

	query := `
		INSERT INTO content_orders (id, user_id, conversation_id, buffer_id, source_text, params, status, confidence, source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (buffer_id) DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query,
		order.ID,
		order.UserID,
		order.ConversationID,
		order.BufferID,
		order.SourceText,
		params,
		order.Status,
		order.Confidence,
		order.Source,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("orders: create order: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// ByBuffer fetches the order created from a buffer, or nil when none
// exists.
func (s *Store) ByBuffer(ctx context.Context, bufferID string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM content_orders WHERE buffer_id = $1`
	order, err := s.scanOrder(s.pool.QueryRow(ctx, query, bufferID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("orders: fetch order by buffer: %w", err)
	}
	return order, nil
}

// ByID fetches one order, or nil when it does not exist.
func (s *Store) ByID(ctx context.Context, id string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM content_orders WHERE id = $1`
	order, err := s.scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("orders: fetch order: %w", err)
	}
	return order, nil
}

// ListByUser returns the user's newest orders.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + orderColumns + ` FROM content_orders WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: list orders: %w", err)
	}
	defer rows.Close()
	return s.collectOrders(rows)
}

// ListPending returns dispatchable orders whose enqueue never
// succeeded, oldest first.
func (s *Store) ListPending(ctx context.Context, before time.Time, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + orderColumns + ` FROM content_orders WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT $3`
	rows, err := s.pool.Query(ctx, query, StatusPending, before, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: list pending orders: %w", err)
	}
	defer rows.Close()
	return s.collectOrders(rows)
}

// MarkQueued advances a pending order after its generate job went out.
func (s *Store) MarkQueued(ctx context.Context, orderID string) error {
	query := `UPDATE content_orders SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`
	if _, err := s.pool.Exec(ctx, query, StatusQueued, orderID, StatusPending); err != nil {
		return fmt.Errorf("orders: mark order queued: %w", err)
	}
	return nil
}

// MarkReady records finished generation, reporting whether the order
// was found.
func (s *Store) MarkReady(ctx context.Context, orderID string) (bool, error) {
	query := `UPDATE content_orders SET status = $1, updated_at = now() WHERE id = $2`
	ct, err := s.pool.Exec(ctx, query, StatusReady, orderID)
	if err != nil {
		return false, fmt.Errorf("orders: mark order ready: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *Store) scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var params []byte
	if err := row.Scan(
		&o.ID, &o.UserID, &o.ConversationID, &o.BufferID, &o.SourceText,
		&params, &o.Status, &o.Confidence, &o.Source, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &o.Params); err != nil {
			return nil, fmt.Errorf("orders: decode params: %w", err)
		}
	}
	return &o, nil
}

func (s *Store) collectOrders(rows pgx.Rows) ([]Order, error) {
	var out []Order
	for rows.Next() {
		order, err := s.scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("orders: scan order: %w", err)
		}
		out = append(out, *order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orders: iterate orders: %w", err)
	}
	return out, nil
}
