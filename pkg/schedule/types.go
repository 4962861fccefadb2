package schedule

import "time"

// ScheduleKind determines how the next run time is computed.
type ScheduleKind string

const (
	ScheduleKindAt    ScheduleKind = "at"
	ScheduleKindEvery ScheduleKind = "every"
	ScheduleKindCron  ScheduleKind = "cron"
)

// Schedule describes when a job runs.
type Schedule struct {
	Kind ScheduleKind `json:"kind"`
	// At is an RFC 3339 timestamp for one-shot schedules.
	At string `json:"at,omitempty"`
	// EveryMs is the interval for recurring schedules.
	EveryMs int64 `json:"everyMs,omitempty"`
	// AnchorMs optionally aligns "every" schedules to a fixed epoch.
	AnchorMs *int64 `json:"anchorMs,omitempty"`
	// Expr is a standard five-field cron expression.
	Expr string `json:"expr,omitempty"`
	// TZ is the IANA timezone for cron evaluation. Empty means local.
	TZ string `json:"tz,omitempty"`
}

// JobState tracks a job's runtime bookkeeping.
type JobState struct {
	NextRunAtMs       *int64 `json:"nextRunAtMs,omitempty"`
	RunningAtMs       *int64 `json:"runningAtMs,omitempty"`
	LastRunAtMs       *int64 `json:"lastRunAtMs,omitempty"`
	LastDurationMs    *int64 `json:"lastDurationMs,omitempty"`
	LastStatus        string `json:"lastStatus,omitempty"` // ok or error
	LastError         string `json:"lastError,omitempty"`
	LastTaskID        string `json:"lastTaskId,omitempty"`
	ConsecutiveErrors int    `json:"consecutiveErrors,omitempty"`
}

// Job is one scheduled prompt. When due it is enqueued into the hub's
// cron lane.
type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Enabled        bool     `json:"enabled"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	UpdatedAtMs    int64    `json:"updatedAtMs"`
	Schedule       Schedule `json:"schedule"`
	Prompt         string   `json:"prompt"`
	Tools          []string `json:"tools,omitempty"`
	Priority       int      `json:"priority,omitempty"`
	SessionID      string   `json:"sessionId,omitempty"`
	State          JobState `json:"state"`
}

// AddParams are the caller-supplied fields for a new job.
type AddParams struct {
	Name           string
	Description    string
	Enabled        bool
	DeleteAfterRun bool
	Schedule       Schedule
	Prompt         string
	Tools          []string
	Priority       int
	SessionID      string
}

// JobPatch applies partial updates; nil fields are untouched.
type JobPatch struct {
	Name           *string
	Description    *string
	Enabled        *bool
	DeleteAfterRun *bool
	Schedule       *Schedule
	Prompt         *string
	Tools          *[]string
	Priority       *int
}

// Now returns the current time in epoch milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 {
	return &v
}
