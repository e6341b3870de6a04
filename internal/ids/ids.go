// Package ids generates prefixed identifiers and propagates them on contexts.
package ids

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type contextKey string

const (
	conversationKey contextKey = "foreman_conversation_id"
	taskKey         contextKey = "foreman_task_id"
)

// NewTaskID generates a new task identifier with a stable prefix for display.
func NewTaskID() string {
	return newIdentifier("task")
}

// NewConversationID generates a new conversation identifier.
func NewConversationID() string {
	return newIdentifier("conv")
}

// UUIDv7 is time-ordered, so identifiers sort by creation time in listings.
func newIdentifier(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// WithConversationID stores the conversation identifier on the context.
func WithConversationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, conversationKey, id)
}

// ConversationIDFromContext returns the conversation identifier, if any.
func ConversationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(conversationKey).(string); ok {
		return v
	}
	return ""
}

// WithTaskID stores the task identifier on the context.
func WithTaskID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKey, id)
}

// TaskIDFromContext returns the task identifier, if any.
func TaskIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(taskKey).(string); ok {
		return v
	}
	return ""
}
