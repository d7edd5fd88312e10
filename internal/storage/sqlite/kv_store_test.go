package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/pylearn/internal/storage"
)

func TestKVStore_Set_Get(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(openTestDB(t))

	if err := store.Set(ctx, "pylearn_progress", []byte(`{"currentLessonId":2}`)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "pylearn_progress")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"currentLessonId":2}` {
		t.Errorf("Get() = %s", got)
	}
}

func TestKVStore_Upsert(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(openTestDB(t))

	store.Set(ctx, "k", []byte("one"))
	if err := store.Set(ctx, "k", []byte("two")); err != nil {
		t.Fatalf("Set() update error = %v", err)
	}

	got, _ := store.Get(ctx, "k")
	if string(got) != "two" {
		t.Errorf("Get() = %q; want two", got)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d; want 1", count)
	}
}

func TestKVStore_NotFound(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(openTestDB(t))

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v; want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete() error = %v; want ErrNotFound", err)
	}
}

func TestKVStore_Delete(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(openTestDB(t))

	store.Set(ctx, "k", []byte("v"))
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}
