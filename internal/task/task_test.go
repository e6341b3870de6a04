package task

import (
	"testing"
)

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestTransitionToRunningSetsStartedOnce(t *testing.T) {
	task := New("task-1", KindBuild, "conv-1")

	if !task.UpdateStatus(StatusRunning) {
		t.Fatal("pending -> running rejected")
	}
	if task.StartedAt == nil {
		t.Fatal("StartedAt not set on first running transition")
	}
	first := *task.StartedAt

	task.UpdateStatus(StatusRunning)
	if !task.StartedAt.Equal(first) {
		t.Error("StartedAt must be set exactly once")
	}
}

func TestCompletedForcesFullProgress(t *testing.T) {
	task := New("task-1", KindBuild, "")
	task.UpdateStatus(StatusRunning)
	task.AddProgressMessage("halfway", 50, nil)

	task.UpdateStatus(StatusCompleted)
	if task.Progress != 100 {
		t.Errorf("progress = %d, want 100", task.Progress)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestFailedResetsProgressAndRecordsError(t *testing.T) {
	task := New("task-1", KindDeployment, "")
	task.UpdateStatus(StatusRunning)
	task.AddProgressMessage("deploying", 80, nil)

	task.UpdateStatus(StatusFailed, WithError("deployment reported ERROR"))
	if task.Progress != 0 {
		t.Errorf("progress = %d, want 0 after failure", task.Progress)
	}
	if task.Error != "deployment reported ERROR" {
		t.Errorf("error = %q", task.Error)
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	task := New("task-1", KindBuild, "")
	task.UpdateStatus(StatusRunning)
	task.UpdateStatus(StatusCompleted)

	for _, status := range []Status{StatusRunning, StatusFailed, StatusCancelled, StatusPending} {
		if task.UpdateStatus(status) {
			t.Errorf("terminal task accepted transition to %s", status)
		}
		if task.Status != StatusCompleted {
			t.Fatalf("status changed to %s after terminal", task.Status)
		}
	}

	if task.AddProgressMessage("late", 10, nil) {
		t.Error("terminal task accepted a progress message")
	}
}

func TestTerminalTaskStillAcceptsMetadataAnnotation(t *testing.T) {
	task := New("task-1", KindBuild, "")
	task.UpdateStatus(StatusRunning)
	task.UpdateStatus(StatusFailed, WithError("boom"))

	task.UpdateStatus(StatusCompleted, WithMetadata(map[string]string{"reviewed": "true"}))
	if task.Status != StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if task.Metadata["reviewed"] != "true" {
		t.Error("metadata annotation on terminal task was dropped")
	}
}

func TestProgressMonotoneWhileRunning(t *testing.T) {
	task := New("task-1", KindBuild, "")
	task.UpdateStatus(StatusRunning)

	task.AddProgressMessage("a", 30, nil)
	task.AddProgressMessage("b", 20, nil) // regression, must be ignored
	if task.Progress != 30 {
		t.Errorf("progress = %d, want 30 after regression attempt", task.Progress)
	}

	task.AddProgressMessage("c", 45, nil)
	if task.Progress != 45 {
		t.Errorf("progress = %d, want 45", task.Progress)
	}

	task.AddProgressMessage("clamped", 150, nil)
	if task.Progress != 100 {
		t.Errorf("progress = %d, want clamp to 100", task.Progress)
	}
}

func TestAddProgressMessageKeepsCurrentOnNegative(t *testing.T) {
	task := New("task-1", KindBuild, "")
	task.UpdateStatus(StatusRunning, WithProgress(40))

	task.AddProgressMessage("note only", -1, map[string]string{"phase": "compile"})
	if task.Progress != 40 {
		t.Errorf("progress = %d, want unchanged 40", task.Progress)
	}
	last := task.Messages[len(task.Messages)-1]
	if last.Progress != 40 || last.Metadata["phase"] != "compile" {
		t.Errorf("message entry = %+v", last)
	}
}

func TestMetadataMergesNotReplaces(t *testing.T) {
	task := New("task-1", KindBuild, "")
	task.UpdateStatus(StatusRunning, WithMetadata(map[string]string{"a": "1"}))
	task.UpdateStatus(StatusRunning, WithMetadata(map[string]string{"b": "2"}))

	if task.Metadata["a"] != "1" || task.Metadata["b"] != "2" {
		t.Errorf("metadata = %v, want merged a and b", task.Metadata)
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	task := New("task-1", KindBuild, "")
	task.UpdateStatus(StatusRunning, WithMessage("started"), WithMetadata(map[string]string{"k": "v"}))

	snap := task.Snapshot()
	snap.Metadata["k"] = "changed"
	snap.Messages[0].Message = "changed"

	if task.Metadata["k"] != "v" {
		t.Error("snapshot metadata aliases the live task")
	}
	if task.Messages[0].Message != "started" {
		t.Error("snapshot messages alias the live task")
	}
}
