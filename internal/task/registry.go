package task

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"foreman/internal/logging"
	"foreman/internal/observability"
)

const (
	defaultTerminalRetention = 24 * time.Hour
	defaultTerminalCapacity  = 4096
)

// Registry owns the live task ledgers for this process.
//
// Observers receive copy-snapshots, never the live entity, so reads need no
// caller-side locking. Terminal tasks move into a bounded, expiring cache so
// finished work ages out instead of accumulating for the process lifetime.
type Registry struct {
	logger  logging.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	live     map[string]*Task
	terminal *expirable.LRU[string, Task]
}

// RegistryConfig bounds terminal task retention.
type RegistryConfig struct {
	TerminalRetention time.Duration
	TerminalCapacity  int
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, logger logging.Logger, metrics *observability.Metrics) *Registry {
	retention := cfg.TerminalRetention
	if retention <= 0 {
		retention = defaultTerminalRetention
	}
	capacity := cfg.TerminalCapacity
	if capacity <= 0 {
		capacity = defaultTerminalCapacity
	}
	return &Registry{
		logger:   logging.OrNop(logger),
		metrics:  metrics,
		live:     make(map[string]*Task),
		terminal: expirable.NewLRU[string, Task](capacity, nil, retention),
	}
}

// Create registers a new pending task and returns its snapshot.
func (r *Registry) Create(id string, kind Kind, conversationID string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := New(id, kind, conversationID)
	r.live[id] = t
	return t.Snapshot()
}

// UpdateStatus transitions a task, relocating it to the terminal cache when it
// finishes. Returns false for unknown ids and rejected transitions.
func (r *Registry) UpdateStatus(ctx context.Context, id string, status Status, opts ...UpdateOption) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.live[id]
	if !ok {
		if _, finished := r.terminal.Get(id); finished {
			r.logger.Error("Task %s: attempted %s transition on terminal task, ignoring", id, status)
		} else {
			r.logger.Error("Task %s: status update for unknown task", id)
		}
		return false
	}

	if !t.UpdateStatus(status, opts...) {
		r.logger.Error("Task %s: attempted %s transition out of terminal state %s, ignoring", id, status, t.Status)
		return false
	}

	r.metrics.RecordTaskTransition(ctx, string(status))
	if status.IsTerminal() {
		r.terminal.Add(id, t.Snapshot())
		delete(r.live, id)
	}
	return true
}

// AddProgress appends a progress log entry to a live task.
func (r *Registry) AddProgress(id, message string, pct int, metadata map[string]string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.live[id]
	if !ok {
		r.logger.Warn("Task %s: progress message for unknown or finished task dropped", id)
		return false
	}
	return t.AddProgressMessage(message, pct, metadata)
}

// Get returns a snapshot of the task, checking live tasks then the terminal cache.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	if t, ok := r.live[id]; ok {
		snap := t.Snapshot()
		r.mu.RUnlock()
		return snap, true
	}
	r.mu.RUnlock()

	if snap, ok := r.terminal.Get(id); ok {
		return snap, true
	}
	return Task{}, false
}

// List returns snapshots of every known task, live first.
func (r *Registry) List() []Task {
	r.mu.RLock()
	out := make([]Task, 0, len(r.live))
	for _, t := range r.live {
		out = append(out, t.Snapshot())
	}
	r.mu.RUnlock()

	for _, id := range r.terminal.Keys() {
		if snap, ok := r.terminal.Get(id); ok {
			out = append(out, snap)
		}
	}
	return out
}

// ActiveCount reports how many tasks have not reached a terminal state.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}
