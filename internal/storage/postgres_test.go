package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
)

func TestNewPostgresBackend_RequiresDSN(t *testing.T) {
	if _, err := NewPostgresBackend("  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("NewPostgresBackend() error = %v, want ErrInvalidInput", err)
	}
}

func TestPostgresBackend_OpenFailureIsSticky(t *testing.T) {
	b, err := NewPostgresBackend("postgres://nowhere")
	if err != nil {
		t.Fatal(err)
	}
	opens := 0
	boom := errors.New("dial refused")
	b.openDB = func(string, string) (*sql.DB, error) {
		opens++
		return nil, boom
	}

	ctx := context.Background()
	if err := b.Set(ctx, "k", "v"); !errors.Is(err, boom) {
		t.Errorf("Set() error = %v, want %v", err, boom)
	}
	if _, _, err := b.Get(ctx, "k"); !errors.Is(err, boom) {
		t.Errorf("Get() error = %v, want %v", err, boom)
	}
	if opens != 1 {
		t.Errorf("openDB called %d times, want 1", opens)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPostgresQuoteIdentifier(t *testing.T) {
	if got := postgresQuoteIdentifier(`odd"name`); got != `"odd""name"` {
		t.Errorf("postgresQuoteIdentifier() = %s", got)
	}
}

func TestPostgresBackend_Live(t *testing.T) {
	dsn := os.Getenv("ODZAI_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ODZAI_TEST_POSTGRES_DSN not set")
	}
	b, err := NewPostgresBackend(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx := context.Background()
	if err := b.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	if v, ok, err := b.Get(ctx, "k"); err != nil || !ok || v != "v2" {
		t.Fatalf("Get() = %q, %v, %v", v, ok, err)
	}
	if err := b.Remove(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if keys, err := b.Keys(ctx); err != nil || len(keys) != 0 {
		t.Fatalf("Keys() = %v, %v", keys, err)
	}
}
