// Package orchestrator ties the task ledger, the locked conversation updater,
// and the operation monitor together behind the API the HTTP surface calls.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"foreman/internal/async"
	"foreman/internal/deploy"
	"foreman/internal/gitops"
	"foreman/internal/ids"
	"foreman/internal/logging"
	"foreman/internal/monitor"
	"foreman/internal/process"
	"foreman/internal/record"
	"foreman/internal/task"
)

// ConversationStore is the record store plus the ability to mint new
// conversation records. The in-memory store satisfies it.
type ConversationStore interface {
	record.Store
	Create(ctx context.Context, id string, fields map[string]any) *record.Record
}

// Config carries the monitoring defaults applied to every operation.
type Config struct {
	PollInterval       time.Duration
	SideEffectInterval time.Duration
	MaxDuration        time.Duration
	GracePeriod        time.Duration
}

// Orchestrator launches operations and supervises their monitors on a tracked
// goroutine group so shutdown can drain them.
type Orchestrator struct {
	cfg     Config
	tasks   *task.Registry
	store   ConversationStore
	updater *record.LockedUpdater
	monitor *monitor.Monitor
	cloud   *deploy.Client
	group   *async.Group
	tracer  trace.Tracer
	logger  logging.Logger

	// runCtx outlives individual requests; cancelling it (Shutdown) stops
	// every in-flight monitor.
	runCtx context.Context
	cancel context.CancelFunc
}

// New wires an orchestrator. cloud may be nil when no cloud manager is
// configured; tracer may be nil to disable tracing.
func New(cfg Config, tasks *task.Registry, store ConversationStore, updater *record.LockedUpdater, mon *monitor.Monitor, cloud *deploy.Client, tracer trace.Tracer, logger logging.Logger) *Orchestrator {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("foreman/orchestrator")
	}
	logger = logging.OrNop(logger)
	runCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:     cfg,
		tasks:   tasks,
		store:   store,
		updater: updater,
		monitor: mon,
		cloud:   cloud,
		group:   async.NewGroup(logger),
		tracer:  tracer,
		logger:  logger,
		runCtx:  runCtx,
		cancel:  cancel,
	}
}

// CreateConversation mints a new conversation record.
func (o *Orchestrator) CreateConversation(ctx context.Context) *record.Record {
	id := ids.NewConversationID()
	rec := o.store.Create(ctx, id, map[string]any{
		"task_ids": []string{},
		"cache":    map[string]any{},
	})
	o.logger.Info("Conversation %s created", id)
	return rec
}

// Conversation returns the current conversation record.
func (o *Orchestrator) Conversation(ctx context.Context, id string) (*record.Record, error) {
	return o.store.Get(ctx, id)
}

// BuildRequest describes a local build process to supervise.
type BuildRequest struct {
	ConversationID string
	Dir            string
	Command        string
	Args           []string
	// Branch to push checkpoint commits to; empty pushes the current branch.
	Branch string
	// ArtifactPath, when set, must exist after the process exits for the
	// build to count as completed.
	ArtifactPath string
	// MaxDuration overrides the configured default when positive.
	MaxDuration time.Duration
}

// StartBuild spawns the build process, registers its task, attaches the task
// to the owning conversation, and launches a monitor for it. The returned
// snapshot is the task in its pending state.
func (o *Orchestrator) StartBuild(ctx context.Context, req BuildRequest) (task.Task, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.start_build")
	defer span.End()

	if req.Command == "" {
		return task.Task{}, fmt.Errorf("build request needs a command")
	}
	if _, err := o.store.Get(ctx, req.ConversationID); err != nil {
		return task.Task{}, fmt.Errorf("conversation %s: %w", req.ConversationID, err)
	}

	taskID := ids.NewTaskID()
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("conversation.id", req.ConversationID),
	)

	snap := o.tasks.Create(taskID, task.KindBuild, req.ConversationID)
	if err := o.attachTask(ctx, req.ConversationID, taskID); err != nil {
		o.tasks.UpdateStatus(ctx, taskID, task.StatusFailed, task.WithError(err.Error()))
		return task.Task{}, err
	}

	handle, err := process.Start(req.Command, req.Args, req.Dir, o.logger)
	if err != nil {
		o.tasks.UpdateStatus(ctx, taskID, task.StatusFailed,
			task.WithError(fmt.Sprintf("start build process: %v", err)))
		return task.Task{}, fmt.Errorf("start build process: %w", err)
	}

	opts := o.monitorOptions(req.MaxDuration)
	if req.Dir != "" {
		opts.SideEffect = gitops.NewCommitter(req.Dir, req.Branch, o.logger).SideEffect()
	}
	if req.ArtifactPath != "" {
		artifact := req.ArtifactPath
		opts.CompletionCheck = func(context.Context) (bool, string) {
			if _, err := os.Stat(artifact); err != nil {
				return false, fmt.Sprintf("build finished but artifact %s is missing", artifact)
			}
			return true, fmt.Sprintf("build produced %s", artifact)
		}
	}

	o.launch(handle, taskID, req.ConversationID, task.KindBuild, opts)
	return snap, nil
}

// DeploymentRequest describes a remote deployment job to watch.
type DeploymentRequest struct {
	ConversationID string
	JobID          string
	// MaxDuration overrides the configured default when positive.
	MaxDuration time.Duration
}

// StartDeployment registers a task for a remote deployment job and launches a
// monitor polling the cloud manager for it.
func (o *Orchestrator) StartDeployment(ctx context.Context, req DeploymentRequest) (task.Task, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.start_deployment")
	defer span.End()

	if o.cloud == nil {
		return task.Task{}, fmt.Errorf("no cloud manager configured")
	}
	if req.JobID == "" {
		return task.Task{}, fmt.Errorf("deployment request needs a job id")
	}
	if _, err := o.store.Get(ctx, req.ConversationID); err != nil {
		return task.Task{}, fmt.Errorf("conversation %s: %w", req.ConversationID, err)
	}

	taskID := ids.NewTaskID()
	span.SetAttributes(
		attribute.String("task.id", taskID),
		attribute.String("conversation.id", req.ConversationID),
		attribute.String("job.id", req.JobID),
	)

	snap := o.tasks.Create(taskID, task.KindDeployment, req.ConversationID)
	if err := o.attachTask(ctx, req.ConversationID, taskID); err != nil {
		o.tasks.UpdateStatus(ctx, taskID, task.StatusFailed, task.WithError(err.Error()))
		return task.Task{}, err
	}

	handle := deploy.NewJobHandle(o.cloud, req.JobID)
	o.launch(handle, taskID, req.ConversationID, task.KindDeployment, o.monitorOptions(req.MaxDuration))
	return snap, nil
}

// Shutdown stops every in-flight monitor and waits for them to finish or ctx
// to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	return o.group.WaitContext(ctx)
}

func (o *Orchestrator) launch(handle monitor.Handle, taskID, conversationID string, kind task.Kind, opts monitor.Options) {
	o.group.Go("monitor-"+taskID, func() {
		o.monitor.Run(o.runCtx, handle, taskID, conversationID, kind, opts)
	})
}

// attachTask records the task id on the owning conversation through the
// locked updater.
func (o *Orchestrator) attachTask(ctx context.Context, conversationID, taskID string) error {
	applied := o.updater.Update(ctx, conversationID, func(rec *record.Record) {
		rec.AppendString("task_ids", taskID)
	}, "attach task "+taskID)
	if !applied {
		return fmt.Errorf("attach task %s to conversation %s", taskID, conversationID)
	}
	return nil
}

func (o *Orchestrator) monitorOptions(maxDuration time.Duration) monitor.Options {
	opts := monitor.Options{
		PollInterval:       o.cfg.PollInterval,
		SideEffectInterval: o.cfg.SideEffectInterval,
		MaxDuration:        o.cfg.MaxDuration,
		GracePeriod:        o.cfg.GracePeriod,
	}
	if maxDuration > 0 {
		opts.MaxDuration = maxDuration
	}
	return opts
}
