//go:build linux || darwin

package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foreman/internal/deploy"
	"foreman/internal/logging"
	"foreman/internal/monitor"
	"foreman/internal/record"
	"foreman/internal/task"
)

func newTestOrchestrator(t *testing.T, cloud *deploy.Client) (*Orchestrator, *record.InMemoryStore, *task.Registry) {
	t.Helper()
	store := record.NewInMemoryStore()
	updater := record.NewLockedUpdater(store, record.UpdaterConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Millisecond,
		Multiplier:  1.5,
		MaxDelay:    10 * time.Millisecond,
	}, logging.Nop(), nil)
	tasks := task.NewRegistry(task.RegistryConfig{}, logging.Nop(), nil)
	mon := monitor.New(tasks, updater, nil, logging.Nop())

	cfg := Config{
		PollInterval: 10 * time.Millisecond,
		MaxDuration:  5 * time.Second,
		GracePeriod:  200 * time.Millisecond,
	}
	o := New(cfg, tasks, store, updater, mon, cloud, nil, logging.Nop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, store, tasks
}

func waitForTerminal(t *testing.T, tasks *task.Registry, id string) task.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if snap, ok := tasks.Get(id); ok && snap.Status.IsTerminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached a terminal state", id)
	return task.Task{}
}

func TestStartBuildRunsToCompletion(t *testing.T) {
	o, store, tasks := newTestOrchestrator(t, nil)
	ctx := context.Background()
	conv := o.CreateConversation(ctx)

	snap, err := o.StartBuild(ctx, BuildRequest{
		ConversationID: conv.ID,
		Command:        "true",
	})
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, snap.Status)
	assert.Equal(t, task.KindBuild, snap.Kind)

	final := waitForTerminal(t, tasks, snap.ID)
	assert.Equal(t, task.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)

	rec, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Contains(t, rec.StringSlice("task_ids"), snap.ID)
	assert.False(t, rec.Locked)

	cache, ok := rec.Fields["cache"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", cache["task:"+snap.ID])
}

func TestStartBuildUnknownConversation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)

	_, err := o.StartBuild(context.Background(), BuildRequest{
		ConversationID: "conv-missing",
		Command:        "true",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrNotFound)
}

func TestStartBuildRequiresCommand(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	conv := o.CreateConversation(context.Background())

	_, err := o.StartBuild(context.Background(), BuildRequest{ConversationID: conv.ID})
	require.Error(t, err)
}

func TestStartBuildMissingBinaryFailsTask(t *testing.T) {
	o, _, tasks := newTestOrchestrator(t, nil)
	ctx := context.Background()
	conv := o.CreateConversation(ctx)

	_, err := o.StartBuild(ctx, BuildRequest{
		ConversationID: conv.ID,
		Command:        "definitely-not-a-binary-7c1f",
	})
	require.Error(t, err)

	// The task was created and then failed; it must be visible as failed.
	var failed bool
	for _, snap := range tasks.List() {
		if snap.Status == task.StatusFailed {
			failed = true
		}
	}
	assert.True(t, failed, "expected a failed task after spawn error")
}

func TestStartBuildArtifactCheck(t *testing.T) {
	o, _, tasks := newTestOrchestrator(t, nil)
	ctx := context.Background()
	conv := o.CreateConversation(ctx)

	t.Run("missing artifact fails the build", func(t *testing.T) {
		snap, err := o.StartBuild(ctx, BuildRequest{
			ConversationID: conv.ID,
			Command:        "true",
			ArtifactPath:   filepath.Join(t.TempDir(), "missing.tar"),
		})
		require.NoError(t, err)

		final := waitForTerminal(t, tasks, snap.ID)
		assert.Equal(t, task.StatusFailed, final.Status)
		assert.Contains(t, final.Error, "missing")
		assert.Equal(t, 0, final.Progress)
	})

	t.Run("present artifact completes the build", func(t *testing.T) {
		artifact := filepath.Join(t.TempDir(), "out.tar")
		require.NoError(t, os.WriteFile(artifact, []byte("ok"), 0o644))

		snap, err := o.StartBuild(ctx, BuildRequest{
			ConversationID: conv.ID,
			Command:        "true",
			ArtifactPath:   artifact,
		})
		require.NoError(t, err)

		final := waitForTerminal(t, tasks, snap.ID)
		assert.Equal(t, task.StatusCompleted, final.Status)
	})
}

func TestStartDeploymentWithoutCloudManager(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, nil)
	conv := o.CreateConversation(context.Background())

	_, err := o.StartDeployment(context.Background(), DeploymentRequest{
		ConversationID: conv.ID,
		JobID:          "job-1",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cloud manager")
}

func TestStartDeploymentCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"COMPLETE","status":"SUCCESS","message":"deployed"}`))
	}))
	defer srv.Close()

	cloud := deploy.NewClient(srv.URL, time.Second, logging.Nop())
	o, _, tasks := newTestOrchestrator(t, cloud)
	ctx := context.Background()
	conv := o.CreateConversation(ctx)

	snap, err := o.StartDeployment(ctx, DeploymentRequest{
		ConversationID: conv.ID,
		JobID:          "job-9",
	})
	require.NoError(t, err)
	assert.Equal(t, task.KindDeployment, snap.Kind)

	final := waitForTerminal(t, tasks, snap.ID)
	assert.Equal(t, task.StatusCompleted, final.Status)
	require.NotEmpty(t, final.Messages)
	assert.Equal(t, "deployed", final.Messages[len(final.Messages)-1].Message)
}

func TestStartDeploymentUnknownStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"state":"COMPLETE","status":"UNKNOWN","message":"lost track"}`))
	}))
	defer srv.Close()

	cloud := deploy.NewClient(srv.URL, time.Second, logging.Nop())
	o, _, tasks := newTestOrchestrator(t, cloud)
	ctx := context.Background()
	conv := o.CreateConversation(ctx)

	snap, err := o.StartDeployment(ctx, DeploymentRequest{
		ConversationID: conv.ID,
		JobID:          "job-9",
	})
	require.NoError(t, err)

	final := waitForTerminal(t, tasks, snap.ID)
	assert.Equal(t, task.StatusFailed, final.Status)
}

func TestShutdownStopsRunningBuild(t *testing.T) {
	o, _, tasks := newTestOrchestrator(t, nil)
	ctx := context.Background()
	conv := o.CreateConversation(ctx)

	snap, err := o.StartBuild(ctx, BuildRequest{
		ConversationID: conv.ID,
		Command:        "sleep",
		Args:           []string{"30"},
	})
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(shutdownCtx))

	final, ok := tasks.Get(snap.ID)
	require.True(t, ok)
	assert.Equal(t, task.StatusFailed, final.Status)
}
