package task

import (
	"context"
	"testing"
	"time"

	"foreman/internal/logging"
)

func newTestRegistry() *Registry {
	return NewRegistry(RegistryConfig{
		TerminalRetention: time.Minute,
		TerminalCapacity:  16,
	}, logging.Nop(), nil)
}

func TestRegistryLifecycle(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	snap := r.Create("task-1", KindBuild, "conv-1")
	if snap.Status != StatusPending {
		t.Fatalf("created status = %s", snap.Status)
	}

	if !r.UpdateStatus(ctx, "task-1", StatusRunning, WithMessage("monitoring started")) {
		t.Fatal("running transition rejected")
	}
	r.AddProgress("task-1", "building", 40, nil)

	got, ok := r.Get("task-1")
	if !ok {
		t.Fatal("task missing")
	}
	if got.Progress != 40 || got.Status != StatusRunning {
		t.Errorf("snapshot = %s/%d", got.Status, got.Progress)
	}
}

func TestRegistryTerminalMovesToCache(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.Create("task-1", KindBuild, "")
	r.UpdateStatus(ctx, "task-1", StatusRunning)
	r.UpdateStatus(ctx, "task-1", StatusCompleted)

	if r.ActiveCount() != 0 {
		t.Errorf("active count = %d, want 0", r.ActiveCount())
	}

	got, ok := r.Get("task-1")
	if !ok {
		t.Fatal("terminal task no longer readable")
	}
	if got.Status != StatusCompleted || got.Progress != 100 {
		t.Errorf("terminal snapshot = %s/%d", got.Status, got.Progress)
	}

	// A second terminal transition must be rejected, never applied.
	if r.UpdateStatus(ctx, "task-1", StatusFailed) {
		t.Error("terminal task accepted another transition")
	}
	got, _ = r.Get("task-1")
	if got.Status != StatusCompleted {
		t.Errorf("status changed after terminal: %s", got.Status)
	}
}

func TestRegistryUnknownTask(t *testing.T) {
	r := newTestRegistry()
	if r.UpdateStatus(context.Background(), "ghost", StatusRunning) {
		t.Error("unknown task accepted a transition")
	}
	if r.AddProgress("ghost", "msg", 10, nil) {
		t.Error("unknown task accepted progress")
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("unknown task returned a snapshot")
	}
}

func TestRegistryListIncludesTerminal(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	r.Create("task-1", KindBuild, "")
	r.Create("task-2", KindDeployment, "")
	r.UpdateStatus(ctx, "task-2", StatusRunning)
	r.UpdateStatus(ctx, "task-2", StatusFailed, WithError("boom"))

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}
}
