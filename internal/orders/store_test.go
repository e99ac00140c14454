package orders

import (
	"context"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestStoreCreateFirstWriteWins(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)

	mock.ExpectExec("INSERT INTO content_orders").
		WithArgs(
			pgxmock.AnyArg(), "user-1", 42, "buf-1", "write a post about launch day",
			[]byte(`{"platform":"linkedin","tone":"professional"}`),
			StatusPending, 0.92, "ai", pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	order := &Order{
		UserID:         "user-1",
		ConversationID: 42,
		BufferID:       "buf-1",
		SourceText:     "write a post about launch day",
		Params:         map[string]string{"platform": "linkedin", "tone": "professional"},
		Confidence:     0.92,
		Source:         "ai",
	}
	created, err := store.Create(context.Background(), order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected first write to create the order")
	}
	if order.ID == "" {
		t.Fatal("expected generated order id")
	}
	if order.Status != StatusPending {
		t.Fatalf("expected pending status, got %q", order.Status)
	}

	mock.ExpectExec("INSERT INTO content_orders").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	created, err = store.Create(context.Background(), &Order{
		UserID:   "user-1",
		BufferID: "buf-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Fatal("expected duplicate buffer to be a no-op")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreCreateRejectsMissingBuffer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	if _, err := store.Create(context.Background(), &Order{UserID: "user-1"}); err == nil {
		t.Fatal("expected error for order without buffer id")
	}
	if _, err := store.Create(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil order")
	}
}

func TestStoreByBuffer(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "conversation_id", "buffer_id", "source_text",
		"params", "status", "confidence", "source", "created_at", "updated_at",
	}).AddRow(
		"ord-1", "user-1", 42, "buf-1", "write a post",
		[]byte(`{"platform":"linkedin"}`), StatusQueued, 0.8, "ai", now, now,
	)
	mock.ExpectQuery("SELECT id, user_id, conversation_id").WithArgs("buf-1").WillReturnRows(rows)

	order, err := store.ByBuffer(context.Background(), "buf-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order == nil || order.ID != "ord-1" {
		t.Fatalf("unexpected order %+v", order)
	}
	if order.Params["platform"] != "linkedin" {
		t.Fatalf("expected params decoded, got %+v", order.Params)
	}

	mock.ExpectQuery("SELECT id, user_id, conversation_id").WithArgs("buf-2").WillReturnError(pgx.ErrNoRows)
	order, err = store.ByBuffer(context.Background(), "buf-2")
	if err != nil || order != nil {
		t.Fatalf("expected nil order for unknown buffer, got %+v err=%v", order, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreListPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	now := time.Now().UTC()
	cutoff := now.Add(-time.Minute)

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "conversation_id", "buffer_id", "source_text",
		"params", "status", "confidence", "source", "created_at", "updated_at",
	}).
		AddRow("ord-1", "user-1", 42, "buf-1", "a", []byte(`{}`), StatusPending, 0.6, "rules", now.Add(-time.Hour), now.Add(-time.Hour)).
		AddRow("ord-2", "user-2", 43, "buf-2", "b", []byte(`{}`), StatusPending, 0.9, "ai", now.Add(-2*time.Minute), now.Add(-2*time.Minute))
	mock.ExpectQuery("SELECT id, user_id, conversation_id").
		WithArgs(StatusPending, cutoff, 50).
		WillReturnRows(rows)

	pending, err := store.ListPending(context.Background(), cutoff, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "ord-1" || pending[1].ID != "ord-2" {
		t.Fatalf("unexpected pending orders %+v", pending)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreListByUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	now := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "user_id", "conversation_id", "buffer_id", "source_text",
		"params", "status", "confidence", "source", "created_at", "updated_at",
	}).AddRow("ord-9", "user-1", 42, "buf-9", "newest", []byte(`{}`), StatusReady, 0.7, "ai", now, now)
	mock.ExpectQuery("SELECT id, user_id, conversation_id").WithArgs("user-1", 10).WillReturnRows(rows)

	orders, err := store.ListByUser(context.Background(), "user-1", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "ord-9" {
		t.Fatalf("unexpected orders %+v", orders)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreMarkQueuedAndReady(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)

	mock.ExpectExec("UPDATE content_orders SET status").
		WithArgs(StatusQueued, "ord-1", StatusPending).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkQueued(context.Background(), "ord-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	mock.ExpectExec("UPDATE content_orders SET status").
		WithArgs(StatusReady, "ord-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	found, err := store.MarkReady(context.Background(), "ord-1")
	if err != nil || !found {
		t.Fatalf("expected ready update to find order, got found=%v err=%v", found, err)
	}

	mock.ExpectExec("UPDATE content_orders SET status").
		WithArgs(StatusReady, "ord-404").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	found, err = store.MarkReady(context.Background(), "ord-404")
	if err != nil || found {
		t.Fatalf("expected ready update on unknown order to report not found, got found=%v err=%v", found, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
