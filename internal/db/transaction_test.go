package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestWithRetry_RetriesOnBusy(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	err := withRetry(ctx, 3, time.Millisecond, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestWithRetry_StopsOnNonBusy(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	err := withRetry(ctx, 3, time.Millisecond, func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestWithRetry_StopsAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	attempts := 0

	err := withRetry(ctx, 2, time.Millisecond, func() error {
		attempts++
		return errors.New("database is busy")
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestTransactionWithRetry(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()
	attempts := 0

	err := database.TransactionWithRetry(ctx, 3, time.Millisecond, func(tx *sql.Tx) error {
		attempts++
		if attempts < 2 {
			return errors.New("database is locked")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestIsBusyError_Postgres(t *testing.T) {
	serialization := fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})
	if !isBusyError(serialization) {
		t.Fatal("expected serialization failure to be retried")
	}
	unique := &pgconn.PgError{Code: "23505"}
	if isBusyError(unique) {
		t.Fatal("unique violations must not be retried")
	}
	if isBusyError(context.Canceled) {
		t.Fatal("cancellation must not be retried")
	}
}

func TestTransaction_RollsBackOnError(t *testing.T) {
	database := setupTestDB(t)
	defer database.Close()

	ctx := context.Background()
	repo := NewPendingRepository(database)
	boom := errors.New("boom")

	err := database.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := repo.CreateTx(ctx, tx, newPending("7", "42", time.Now())); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	count, err := repo.CountUnsent(ctx, "prod")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback to discard the insert, got %d rows", count)
	}
}
