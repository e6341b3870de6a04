package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"foreman/internal/logging"
	"foreman/internal/observability"
	"foreman/internal/record"
	"foreman/internal/task"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxDuration  = 30 * time.Minute
	defaultGracePeriod  = 5 * time.Second
)

// Options configures one monitoring run.
type Options struct {
	// PollInterval is how long each Wait/poll cycle lasts.
	PollInterval time.Duration
	// SideEffectInterval triggers SideEffect each time elapsed time crosses
	// a multiple of it. Zero disables side effects.
	SideEffectInterval time.Duration
	// MaxDuration bounds the whole run; crossing it fails the task and
	// terminates process-backed operations.
	MaxDuration time.Duration
	// GracePeriod is the wait between Terminate and Kill during cleanup.
	GracePeriod time.Duration
	// SideEffect runs periodically while the operation is active, e.g. a
	// commit-and-push checkpoint. Failures are logged, never fatal.
	SideEffect func(ctx context.Context) error
	// CompletionCheck, when set, decides the terminal status of an
	// operation that exited on its own instead of assuming success.
	// detail feeds the error field on failure.
	CompletionCheck func(ctx context.Context) (ok bool, detail string)
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = defaultMaxDuration
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = defaultGracePeriod
	}
	return o
}

// Monitor drives background tasks to a terminal state by polling their
// operation handles. One Run call supervises one operation; the caller is
// expected to launch Run on a tracked background goroutine.
type Monitor struct {
	tasks   *task.Registry
	updater *record.LockedUpdater
	metrics *observability.Metrics
	logger  logging.Logger
}

// New creates a monitor. updater may be nil when conversation annotation is
// not wanted.
func New(tasks *task.Registry, updater *record.LockedUpdater, metrics *observability.Metrics, logger logging.Logger) *Monitor {
	return &Monitor{
		tasks:   tasks,
		updater: updater,
		metrics: metrics,
		logger:  logging.OrNop(logger),
	}
}

// Run supervises handle until it reaches a terminal decision or MaxDuration
// elapses. Exactly one terminal ledger transition occurs per call.
func (m *Monitor) Run(ctx context.Context, handle Handle, taskID, conversationID string, kind task.Kind, opts Options) {
	opts = opts.withDefaults()
	start := time.Now()

	m.tasks.UpdateStatus(ctx, taskID, task.StatusRunning,
		task.WithMessage(fmt.Sprintf("monitoring %s", handle.Describe())))

	sideEffectsDone := 0
	for {
		elapsed := time.Since(start)
		remaining := opts.MaxDuration - elapsed
		if remaining <= 0 {
			m.finishTimeout(ctx, handle, taskID, conversationID, kind, opts)
			return
		}

		waitFor := opts.PollInterval
		if waitFor > remaining {
			waitFor = remaining
		}

		exited, err := handle.Wait(ctx, waitFor)
		if err != nil {
			m.logger.Warn("Monitor %s: wait on %s: %v", taskID, handle.Describe(), err)
		}
		if exited {
			m.finishSelfExit(ctx, taskID, conversationID, kind, opts)
			return
		}
		if ctx.Err() != nil {
			// Shutdown behaves like a timeout: record the failure and
			// clean up the process rather than leaking it.
			m.logger.Warn("Monitor %s: context ended, stopping early: %v", taskID, ctx.Err())
			m.finishTimeout(ctx, handle, taskID, conversationID, kind, opts)
			return
		}

		if opts.SideEffect != nil && opts.SideEffectInterval > 0 {
			due := int(time.Since(start) / opts.SideEffectInterval)
			if due > sideEffectsDone {
				sideEffectsDone = due
				if err := opts.SideEffect(ctx); err != nil {
					m.logger.Warn("Monitor %s: side effect failed: %v", taskID, err)
				}
			}
		}

		report, ok, err := handle.Poll(ctx)
		m.metrics.RecordMonitorPoll(ctx, string(kind))
		if err != nil {
			// A failed poll is not a failed operation; keep watching.
			m.logger.Warn("Monitor %s: status poll on %s: %v", taskID, handle.Describe(), err)
			continue
		}
		if !ok {
			m.tasks.AddProgress(taskID, "operation running", m.projectProgress(start, opts.MaxDuration), nil)
			continue
		}

		switch ClassifyRaw(report.State, report.Status) {
		case DecisionSucceeded:
			message := report.Message
			if message == "" {
				message = fmt.Sprintf("operation reported %s", report.State)
			}
			m.finish(ctx, taskID, conversationID, kind, task.StatusCompleted, "completed",
				task.WithMessage(message))
			return
		case DecisionFailed:
			m.finish(ctx, taskID, conversationID, kind, task.StatusFailed, "failed",
				task.WithError(failureText(report)))
			return
		case DecisionContinue:
			m.tasks.AddProgress(taskID,
				fmt.Sprintf("operation %s", strings.ToLower(strings.TrimSpace(report.State))),
				m.projectProgress(start, opts.MaxDuration), nil)
		}
	}
}

// projectProgress maps elapsed time onto 0..95. The last 5% is reserved for
// the completion step itself, so progress never shows 100 before a terminal
// decision.
func (m *Monitor) projectProgress(start time.Time, max time.Duration) int {
	pct := int(float64(time.Since(start)) / float64(max) * 95)
	if pct > 95 {
		pct = 95
	}
	return pct
}

func (m *Monitor) finishSelfExit(ctx context.Context, taskID, conversationID string, kind task.Kind, opts Options) {
	if opts.CompletionCheck != nil {
		ok, detail := opts.CompletionCheck(ctx)
		if !ok {
			if detail == "" {
				detail = "operation exited but completion check failed"
			}
			m.finish(ctx, taskID, conversationID, kind, task.StatusFailed, "failed",
				task.WithError(detail))
			return
		}
		m.finish(ctx, taskID, conversationID, kind, task.StatusCompleted, "completed",
			task.WithMessage(detail))
		return
	}
	m.finish(ctx, taskID, conversationID, kind, task.StatusCompleted, "completed",
		task.WithMessage("operation finished"))
}

func (m *Monitor) finishTimeout(ctx context.Context, handle Handle, taskID, conversationID string, kind task.Kind, opts Options) {
	m.finish(ctx, taskID, conversationID, kind, task.StatusFailed, "timeout",
		task.WithError(fmt.Sprintf("operation timed out after %s", opts.MaxDuration)))
	m.shutdownHandle(ctx, handle, taskID, opts.GracePeriod)
}

// shutdownHandle performs the two-phase terminate/kill protocol.
func (m *Monitor) shutdownHandle(ctx context.Context, handle Handle, taskID string, grace time.Duration) {
	if err := handle.Terminate(); err != nil {
		m.logger.Warn("Monitor %s: terminate %s: %v", taskID, handle.Describe(), err)
	}
	// Grace wait must survive a cancelled monitor context.
	waitCtx := context.WithoutCancel(ctx)
	exited, err := handle.Wait(waitCtx, grace)
	if err != nil {
		m.logger.Warn("Monitor %s: wait during grace period on %s: %v", taskID, handle.Describe(), err)
	}
	if exited {
		return
	}
	m.logger.Warn("Monitor %s: %s did not stop within %s, killing", taskID, handle.Describe(), grace)
	if err := handle.Kill(); err != nil {
		m.logger.Warn("Monitor %s: kill %s: %v", taskID, handle.Describe(), err)
	}
}

// finish applies the single terminal ledger transition and mirrors the outcome
// onto the owning conversation record.
func (m *Monitor) finish(ctx context.Context, taskID, conversationID string, kind task.Kind, status task.Status, outcome string, opts ...task.UpdateOption) {
	// Annotation and metrics still apply during shutdown.
	ctx = context.WithoutCancel(ctx)
	if !m.tasks.UpdateStatus(ctx, taskID, status, opts...) {
		m.logger.Error("Monitor %s: terminal %s transition rejected", taskID, status)
		return
	}
	m.metrics.RecordMonitorOutcome(ctx, string(kind), outcome)
	m.logger.Info("Monitor %s: finished with %s (%s)", taskID, status, outcome)

	if m.updater == nil || conversationID == "" {
		return
	}
	applied := m.updater.Update(ctx, conversationID, func(rec *record.Record) {
		rec.CacheSet("task:"+taskID, string(status))
	}, "record task outcome")
	if !applied {
		m.logger.Warn("Monitor %s: could not record outcome on conversation %s", taskID, conversationID)
	}
}

func failureText(report StatusReport) string {
	state := strings.TrimSpace(report.State)
	status := strings.TrimSpace(report.Status)
	text := fmt.Sprintf("operation reported state %s with status %s", state, status)
	if msg := strings.TrimSpace(report.Message); msg != "" {
		text += ": " + msg
	}
	return text
}
