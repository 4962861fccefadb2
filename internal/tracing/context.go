package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TaskIDKey is the context key for the task being executed
	TaskIDKey ContextKey = "task_id"
	// LaneKey is the context key for the lane a task runs in
	LaneKey ContextKey = "lane"
	// SessionIDKey is the context key for the conversation session
	SessionIDKey ContextKey = "session_id"
)

// TraceContext holds tracing information carried across the scheduler
type TraceContext struct {
	TraceID   string
	TaskID    string
	Lane      string
	SessionID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTaskID adds a task ID to the context
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, TaskIDKey, taskID)
}

// WithLane adds a lane name to the context
func WithLane(ctx context.Context, lane string) context.Context {
	return context.WithValue(ctx, LaneKey, lane)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTaskID retrieves the task ID from the context
func GetTaskID(ctx context.Context) string {
	if taskID, ok := ctx.Value(TaskIDKey).(string); ok {
		return taskID
	}
	return ""
}

// GetLane retrieves the lane name from the context
func GetLane(ctx context.Context) string {
	if lane, ok := ctx.Value(LaneKey).(string); ok {
		return lane
	}
	return ""
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TaskID:    GetTaskID(ctx),
		Lane:      GetLane(ctx),
		SessionID: GetSessionID(ctx),
	}
}

// NewRequestContext creates a new context for a request with a new trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewTaskContext creates a context for a task execution, keeping the parent
// trace ID when one exists and minting one otherwise.
func NewTaskContext(ctx context.Context, taskID, lane string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithTaskID(ctx, taskID)
	return WithLane(ctx, lane)
}
