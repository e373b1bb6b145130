package storage

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	applog "odzai/internal/log"
)

func TestSQLiteBackend(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "odzai.db")

	b, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("NewSQLiteBackend() error = %v", err)
	}

	if _, ok, err := b.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := b.Set(ctx, "b", "1"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, "a", "2"); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ctx, "b", "3"); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := b.Get(ctx, "b"); !ok || v != "3" {
		t.Errorf("Get(b) = %q, %v; want 3", v, ok)
	}
	keys, err := b.Keys(ctx)
	if err != nil || !reflect.DeepEqual(keys, []string{"a", "b"}) {
		t.Errorf("Keys() = %v, %v", keys, err)
	}
	if err := b.Remove(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	keys, _ = reopened.Keys(ctx)
	if !reflect.DeepEqual(keys, []string{"b"}) {
		t.Errorf("Keys() after reopen = %v, want [b]", keys)
	}
	if err := reopened.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if keys, _ := reopened.Keys(ctx); len(keys) != 0 {
		t.Errorf("Keys() after Clear = %v", keys)
	}
}

func TestSQLiteBackend_EmptyPath(t *testing.T) {
	if _, err := NewSQLiteBackend(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestStoreOverSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "odzai.db")
	b, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStore(b, nil, WithDebounce(0), WithLogger(applog.Discard()))
	if !s.Available(Durable) {
		t.Fatal("sqlite tier should pass the probe")
	}
	s.Set("odzai.currentWorkspaceId", "w1", Durable)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	b2, err := NewSQLiteBackend(path)
	if err != nil {
		t.Fatal(err)
	}
	s2 := NewStore(b2, nil, WithDebounce(0), WithLogger(applog.Discard()))
	defer s2.Close()
	if got, ok := Get[string](s2, "odzai.currentWorkspaceId", Durable); !ok || got != "w1" {
		t.Errorf("persisted value = %q, %v", got, ok)
	}
}
