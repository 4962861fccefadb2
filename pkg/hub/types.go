package hub

import (
	"errors"
	"fmt"
	"time"
)

// Lane is a named concurrency partition with its own queue and ceiling.
type Lane string

const (
	LaneMain     Lane = "main"
	LaneResearch Lane = "research"
	LaneMonitor  Lane = "monitor"
	LaneCron     Lane = "cron"
)

// Lanes lists every lane in dispatch scan order.
var Lanes = []Lane{LaneMain, LaneResearch, LaneMonitor, LaneCron}

// DefaultLaneLimits are the per-lane concurrency ceilings. Main and cron
// are serialized, research and monitoring run in parallel.
var DefaultLaneLimits = map[Lane]int{
	LaneMain:     1,
	LaneResearch: 3,
	LaneMonitor:  2,
	LaneCron:     1,
}

// Task is a unit of work submitted for execution. Immutable once
// enqueued. Duplicate ids are caller error; the queue treats a
// duplicate as last-write-wins for ordering position.
type Task struct {
	ID        string                 `json:"id"`
	Lane      Lane                   `json:"lane"`
	Prompt    string                 `json:"prompt"`
	Tools     []string               `json:"tools,omitempty"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Priority  int                    `json:"priority"`
	SessionID string                 `json:"session_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// TaskResult is the stored outcome of a task execution, success or
// captured failure.
type TaskResult struct {
	TaskID     string `json:"task_id"`
	Success    bool   `json:"success"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
	Iterations int    `json:"iterations"`
	SessionID  string `json:"session_id,omitempty"`
}

// LaneStatus is a point-in-time view of one lane.
type LaneStatus struct {
	Queued int `json:"queued"`
	Active int `json:"active"`
	Limit  int `json:"limit"`
}

// Status is the snapshot returned by GetStatus.
type Status struct {
	Running        bool                `json:"running"`
	Sessions       int                 `json:"sessions"`
	Lanes          map[Lane]LaneStatus `json:"lane_status"`
	Stats          map[string]int64    `json:"stats"`
	PendingResults int                 `json:"pending_results"`
}

// ErrWaitTimeout is returned by EnqueueAndWait when no result arrives
// within the caller's deadline.
var ErrWaitTimeout = errors.New("timed out waiting for task result")

// MaxIterationsError reports a tool use loop that never reached a final
// answer. Fatal to the task, never to the dispatch loop.
type MaxIterationsError struct {
	Iterations int
	SessionID  string
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("max tool use iterations reached (%d)", e.Iterations)
}

// TaskError wraps any other failure escaping a task's execution body.
type TaskError struct {
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
