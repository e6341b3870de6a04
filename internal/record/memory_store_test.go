package record

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryStoreGetCopies(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	store.Create(ctx, "c1", map[string]any{"value": 1})

	first, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.Fields["value"] = 99

	second, err := store.Get(ctx, "c1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Fields["value"] != 1 {
		t.Errorf("store state leaked through returned copy: %v", second.Fields["value"])
	}
}

func TestInMemoryStoreVersionConflict(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	store.Create(ctx, "c1", nil)

	a, _ := store.Get(ctx, "c1")
	b, _ := store.Get(ctx, "c1")

	a.Fields["writer"] = "a"
	if err := store.Update(ctx, "c1", a); err != nil {
		t.Fatalf("first update should succeed: %v", err)
	}

	b.Fields["writer"] = "b"
	if err := store.Update(ctx, "c1", b); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update error = %v, want ErrVersionConflict", err)
	}

	got, _ := store.Get(ctx, "c1")
	if got.Fields["writer"] != "a" {
		t.Errorf("winner = %v, want a", got.Fields["writer"])
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
}

func TestInMemoryStoreNotFound(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
	if err := store.Update(context.Background(), "missing", &Record{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update error = %v, want ErrNotFound", err)
	}
}

func TestRecordHelpers(t *testing.T) {
	rec := &Record{ID: "c1"}
	rec.AppendString("task_ids", "task-1")
	rec.AppendString("task_ids", "task-2")
	rec.CacheSet("task:task-1", "completed")

	if got := rec.StringSlice("task_ids"); len(got) != 2 || got[1] != "task-2" {
		t.Errorf("StringSlice = %v", got)
	}

	clone := rec.Clone()
	clone.AppendString("task_ids", "task-3")
	clone.CacheSet("task:task-1", "failed")

	if len(rec.StringSlice("task_ids")) != 2 {
		t.Error("clone mutation leaked into original slice")
	}
	cache := rec.Fields["cache"].(map[string]any)
	if cache["task:task-1"] != "completed" {
		t.Error("clone mutation leaked into original cache")
	}
}
