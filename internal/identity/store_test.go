package identity

import (
	"context"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestStoreByContact(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)

	rows := pgxmock.NewRows([]string{"phone", "user_id", "bucket_key"}).
		AddRow("+4915112345678", "user-1", "echopost-u-user-1")
	mock.ExpectQuery("SELECT phone, COALESCE").WithArgs("88").WillReturnRows(rows)
	m, err := store.ByContact(context.Background(), "88")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m == nil || m.UserID != "user-1" || m.BucketKey != "echopost-u-user-1" {
		t.Fatalf("unexpected mapping %+v", m)
	}

	mock.ExpectQuery("SELECT phone, COALESCE").WithArgs("99").WillReturnError(pgx.ErrNoRows)
	m, err = store.ByContact(context.Background(), "99")
	if err != nil || m != nil {
		t.Fatalf("expected nil mapping for unseen contact, got %+v err=%v", m, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreUserIDByPhoneFirstHitWins(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)

	mock.ExpectQuery("SELECT user_id FROM phone_mappings").WithArgs("+4915112345678").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT user_id FROM phone_mappings").WithArgs("4915112345678").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}).AddRow("user-7"))

	userID, err := store.UserIDByPhone(context.Background(), []string{"+4915112345678", "4915112345678", "15112345678"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-7" {
		t.Fatalf("expected user-7, got %q", userID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreUserIDByPhoneNoMatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)

	mock.ExpectQuery("SELECT user_id FROM phone_mappings").WithArgs("+15551234567").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT user_id FROM phone_mappings").WithArgs("15551234567").WillReturnError(pgx.ErrNoRows)

	userID, err := store.UserIDByPhone(context.Background(), []string{"+15551234567", "15551234567"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "" {
		t.Fatalf("expected no match, got %q", userID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStoreUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newStoreWithQuerier(mock)

	mock.ExpectExec("INSERT INTO phone_mappings").
		WithArgs("88", "+4915112345678", "user-1", "echopost-u-user-1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.Upsert(context.Background(), Mapping{
		ContactKey: "88",
		Phone:      "+4915112345678",
		UserID:     "user-1",
		BucketKey:  "echopost-u-user-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
