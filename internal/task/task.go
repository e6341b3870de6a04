// Package task defines the background task ledger: the status and progress
// record observers poll while an operation monitor drives it to a terminal
// state.
package task

import (
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Kind names the operation a task tracks.
type Kind string

const (
	KindBuild      Kind = "build"
	KindDeployment Kind = "deployment"
)

// ProgressMessage is one entry in a task's append-only progress log.
type ProgressMessage struct {
	Message   string            `json:"message"`
	Timestamp time.Time         `json:"timestamp"`
	Progress  int               `json:"progress"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Task is the ledger entity for one background operation.
type Task struct {
	ID             string            `json:"task_id"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Kind           Kind              `json:"kind"`
	Status         Status            `json:"status"`
	Progress       int               `json:"progress"`
	Messages       []ProgressMessage `json:"progress_messages,omitempty"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	StartedAt      *time.Time        `json:"started_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

// New creates a pending task.
func New(id string, kind Kind, conversationID string) *Task {
	now := time.Now()
	return &Task{
		ID:             id,
		ConversationID: conversationID,
		Kind:           kind,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// updateParams holds the optional fields of an UpdateStatus call.
type updateParams struct {
	message  string
	progress *int
	errText  string
	metadata map[string]string
}

// UpdateOption customises an UpdateStatus call.
type UpdateOption func(*updateParams)

// WithMessage appends a progress log entry alongside the transition.
func WithMessage(message string) UpdateOption {
	return func(p *updateParams) { p.message = message }
}

// WithProgress sets the progress percentage alongside the transition.
func WithProgress(pct int) UpdateOption {
	return func(p *updateParams) { p.progress = &pct }
}

// WithError records the failure reason; only meaningful for StatusFailed.
func WithError(errText string) UpdateOption {
	return func(p *updateParams) { p.errText = errText }
}

// WithMetadata merges the given keys into the task metadata.
func WithMetadata(meta map[string]string) UpdateOption {
	return func(p *updateParams) { p.metadata = meta }
}

// UpdateStatus transitions the task, returning false for transitions out of a
// terminal state. Terminal-state violations are a programming error on the
// caller's side and must be logged there; the entity itself stays pure.
//
// Side effects per the transition table: entering running sets StartedAt once;
// completed sets CompletedAt and forces progress to 100; failed sets
// CompletedAt, forces progress to 0 and records the error; cancelled sets
// CompletedAt when unset.
func (t *Task) UpdateStatus(status Status, opts ...UpdateOption) bool {
	if t.Status.IsTerminal() {
		// Terminal tasks stay immutable apart from metadata annotation.
		var p updateParams
		for _, fn := range opts {
			fn(&p)
		}
		t.mergeMetadata(p.metadata)
		return false
	}

	var p updateParams
	for _, fn := range opts {
		fn(&p)
	}

	now := time.Now()
	t.Status = status
	t.UpdatedAt = now

	switch status {
	case StatusRunning:
		if t.StartedAt == nil {
			started := now
			t.StartedAt = &started
		}
	case StatusCompleted:
		if t.CompletedAt == nil {
			completed := now
			t.CompletedAt = &completed
		}
		t.Progress = 100
	case StatusFailed:
		if t.CompletedAt == nil {
			completed := now
			t.CompletedAt = &completed
		}
		t.Progress = 0
		if p.errText != "" {
			t.Error = p.errText
		}
	case StatusCancelled:
		if t.CompletedAt == nil {
			completed := now
			t.CompletedAt = &completed
		}
	}

	if !status.IsTerminal() && p.progress != nil {
		t.applyProgress(*p.progress)
	}
	t.mergeMetadata(p.metadata)
	if p.message != "" {
		t.Messages = append(t.Messages, ProgressMessage{
			Message:   p.message,
			Timestamp: now,
			Progress:  t.Progress,
		})
	}
	return true
}

// AddProgressMessage appends to the progress log. A negative pct leaves the
// current progress untouched. Terminal tasks reject the append.
func (t *Task) AddProgressMessage(message string, pct int, metadata map[string]string) bool {
	if t.Status.IsTerminal() {
		return false
	}
	if pct >= 0 {
		t.applyProgress(pct)
	}
	now := time.Now()
	t.UpdatedAt = now
	t.Messages = append(t.Messages, ProgressMessage{
		Message:   message,
		Timestamp: now,
		Progress:  t.Progress,
		Metadata:  cloneMeta(metadata),
	})
	return true
}

// applyProgress clamps to 0..100 and keeps progress monotone while running.
func (t *Task) applyProgress(pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct < t.Progress {
		return
	}
	t.Progress = pct
}

func (t *Task) mergeMetadata(meta map[string]string) {
	if len(meta) == 0 {
		return
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]string, len(meta))
	}
	for k, v := range meta {
		t.Metadata[k] = v
	}
}

// Snapshot returns a deep copy safe to hand to observers.
func (t *Task) Snapshot() Task {
	out := *t
	out.Messages = make([]ProgressMessage, len(t.Messages))
	for i, msg := range t.Messages {
		msg.Metadata = cloneMeta(msg.Metadata)
		out.Messages[i] = msg
	}
	out.Metadata = cloneMeta(t.Metadata)
	if t.StartedAt != nil {
		started := *t.StartedAt
		out.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		out.CompletedAt = &completed
	}
	return out
}

func cloneMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
