package hub

import (
	"context"
	"sync"
	"time"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/observability"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/tracing"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/engine"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/tools"
	"github.com/rs/zerolog/log"
)

// ToolRunner is the capability surface the hub needs from a tool
// registry. *tools.Registry satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, name string, params map[string]interface{}) tools.ToolResult
	Schemas(names []string) []engine.ToolSchema
}

// EventHandler receives hub lifecycle events.
type EventHandler func(event Event)

// Event is emitted when a task is enqueued or completes.
type Event struct {
	Type   string                 // "enqueued" or "completed"
	Lane   Lane                   // Lane name
	TaskID string                 // Task ID
	Data   map[string]interface{} // Additional event data
}

// Options configures a Hub. Zero values fall back to defaults.
type Options struct {
	LaneLimits    map[Lane]int
	SessionTTL    time.Duration
	ResultTTL     time.Duration
	MaxIterations int
	Model         string
	MaxTokens     int
}

// laneState holds the queue and active set for one lane.
type laneState struct {
	limit  int
	queue  []*Task
	active map[string]bool
}

// Hub is the control plane for agent task execution. It owns one
// priority queue per lane, enforces per-lane concurrency ceilings,
// drives the tool use loop for each task, and evicts stale sessions
// and results on a TTL.
type Hub struct {
	engine engine.Engine
	tools  ToolRunner

	sessions *sessionStore

	lanes   map[Lane]*laneState
	results map[string]*TaskResult
	stored  map[string]time.Time
	waiters map[string]chan struct{}
	stats   map[string]int64
	mu      sync.Mutex

	sessionTTL    time.Duration
	resultTTL     time.Duration
	maxIterations int
	model         string
	maxTokens     int

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lifeMu  sync.Mutex

	eventHandlers map[string][]EventHandler
	eventMu       sync.RWMutex
}

// New creates a Hub bound to a reasoning engine and a tool registry.
func New(eng engine.Engine, runner ToolRunner, opts Options) *Hub {
	observability.EnsureRegistered()

	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 5 * time.Minute
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 10
	}
	if opts.Model == "" {
		opts.Model = "claude-sonnet-4-20250514"
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}

	lanes := make(map[Lane]*laneState, len(Lanes))
	for _, lane := range Lanes {
		limit := DefaultLaneLimits[lane]
		if custom, ok := opts.LaneLimits[lane]; ok && custom > 0 {
			limit = custom
		}
		lanes[lane] = &laneState{
			limit:  limit,
			queue:  make([]*Task, 0),
			active: make(map[string]bool),
		}
	}

	return &Hub{
		engine:        eng,
		tools:         runner,
		sessions:      newSessionStore(),
		lanes:         lanes,
		results:       make(map[string]*TaskResult),
		stored:        make(map[string]time.Time),
		waiters:       make(map[string]chan struct{}),
		stats:         newStats(),
		sessionTTL:    opts.SessionTTL,
		resultTTL:     opts.ResultTTL,
		maxIterations: opts.MaxIterations,
		model:         opts.Model,
		maxTokens:     opts.MaxTokens,
		eventHandlers: make(map[string][]EventHandler),
	}
}

func newStats() map[string]int64 {
	return map[string]int64{
		"tasks_enqueued":   0,
		"tasks_completed":  0,
		"tasks_failed":     0,
		"sessions_created": 0,
		"sessions_cleaned": 0,
		"results_cleaned":  0,
	}
}

// Start launches the background dispatch loop. A second call while
// running is a no-op.
func (h *Hub) Start() {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if h.running {
		return
	}
	h.running = true

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel

	h.wg.Add(1)
	go h.dispatchLoop(ctx)

	log.Info().Msg("Hub started")
}

// Stop signals the dispatch loop to exit after its current scan and
// waits for it. In-flight task executions are not hard killed; the
// loop simply stops spawning new ones. Idempotent.
func (h *Hub) Stop() {
	h.lifeMu.Lock()
	defer h.lifeMu.Unlock()

	if !h.running {
		return
	}
	h.running = false
	h.cancel()
	h.wg.Wait()

	log.Info().Msg("Hub stopped")
}

// Enqueue inserts a task into its lane's queue, ordered by descending
// priority with insertion order preserved on ties. Lazily creates the
// referenced session. Returns the task id.
func (h *Hub) Enqueue(task *Task) string {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	if task.SessionID != "" {
		agentType := "task"
		if at, ok := task.Context["agent_type"].(string); ok && at != "" {
			agentType = at
		}
		if _, created := h.sessions.GetOrCreate(task.SessionID, agentType); created {
			h.bumpStat("sessions_created")
		}
	}

	h.mu.Lock()
	ls := h.lanes[task.Lane]
	if ls == nil {
		// Unknown lanes get a serialized ceiling rather than a reject.
		ls = &laneState{limit: 1, queue: make([]*Task, 0), active: make(map[string]bool)}
		h.lanes[task.Lane] = ls
	}

	// Last write wins for a duplicate id's queue position.
	for i, queued := range ls.queue {
		if queued.ID == task.ID {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			break
		}
	}

	inserted := false
	for i, queued := range ls.queue {
		if task.Priority > queued.Priority {
			ls.queue = append(ls.queue[:i], append([]*Task{task}, ls.queue[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		ls.queue = append(ls.queue, task)
	}

	h.stats["tasks_enqueued"]++
	queueSize := len(ls.queue)
	h.mu.Unlock()

	observability.RecordQueueEnqueue(string(task.Lane), queueSize)

	log.Debug().
		Str("lane", string(task.Lane)).
		Str("taskId", task.ID).
		Int("priority", task.Priority).
		Int("queueSize", queueSize).
		Msg("Task enqueued")

	h.emit(Event{
		Type:   "enqueued",
		Lane:   task.Lane,
		TaskID: task.ID,
		Data:   map[string]interface{}{"queueSize": queueSize},
	})

	return task.ID
}

// EnqueueAndWait enqueues the task and blocks until its result is
// stored or the timeout elapses. A delivered result is consumed: it is
// removed from the result store on return. Returns ErrWaitTimeout on
// deadline expiry; a stored failure comes back as the result's error.
func (h *Hub) EnqueueAndWait(ctx context.Context, task *Task, timeout time.Duration) (*TaskResult, error) {
	h.mu.Lock()
	waiter, ok := h.waiters[task.ID]
	if !ok {
		waiter = make(chan struct{}, 1)
		h.waiters[task.ID] = waiter
	}
	h.mu.Unlock()

	taskID := h.Enqueue(task)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-waiter:
		h.mu.Lock()
		result := h.results[taskID]
		delete(h.results, taskID)
		delete(h.stored, taskID)
		delete(h.waiters, taskID)
		h.mu.Unlock()

		if result == nil {
			return nil, ErrWaitTimeout
		}
		return result, nil

	case <-timer.C:
		h.mu.Lock()
		delete(h.waiters, taskID)
		h.mu.Unlock()
		return nil, ErrWaitTimeout

	case <-ctx.Done():
		h.mu.Lock()
		delete(h.waiters, taskID)
		h.mu.Unlock()
		return nil, ctx.Err()
	}
}

// GetSession returns a point-in-time copy of the session for id, or
// nil. Mutating the copy never touches the stored session.
func (h *Hub) GetSession(id string) *Session {
	return h.sessions.Snapshot(id)
}

// GetResult returns the stored result for a task id without consuming
// it, or nil.
func (h *Hub) GetResult(taskID string) *TaskResult {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.results[taskID]
}

// GetStatus returns a read-only snapshot of the hub. Safe to call
// concurrently with dispatch.
func (h *Hub) GetStatus() Status {
	h.lifeMu.Lock()
	running := h.running
	h.lifeMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	laneStatus := make(map[Lane]LaneStatus, len(h.lanes))
	for lane, ls := range h.lanes {
		laneStatus[lane] = LaneStatus{
			Queued: len(ls.queue),
			Active: len(ls.active),
			Limit:  ls.limit,
		}
	}

	stats := make(map[string]int64, len(h.stats))
	for k, v := range h.stats {
		stats[k] = v
	}

	return Status{
		Running:        running,
		Sessions:       h.sessions.Count(),
		Lanes:          laneStatus,
		Stats:          stats,
		PendingResults: len(h.results),
	}
}

func (h *Hub) bumpStat(key string) {
	h.mu.Lock()
	h.stats[key]++
	h.mu.Unlock()
}

// storeResult records a task outcome and wakes any waiter.
func (h *Hub) storeResult(result *TaskResult) {
	h.mu.Lock()
	h.results[result.TaskID] = result
	h.stored[result.TaskID] = time.Now()
	if result.Success {
		h.stats["tasks_completed"]++
	} else {
		h.stats["tasks_failed"]++
	}
	waiter := h.waiters[result.TaskID]
	h.mu.Unlock()

	if waiter != nil {
		select {
		case waiter <- struct{}{}:
		default:
		}
	}
}

// On registers an event handler for a specific event type.
func (h *Hub) On(eventType string, handler EventHandler) {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()

	h.eventHandlers[eventType] = append(h.eventHandlers[eventType], handler)
}

// emit delivers an event synchronously to registered handlers.
func (h *Hub) emit(event Event) {
	h.eventMu.RLock()
	handlers := h.eventHandlers[event.Type]
	h.eventMu.RUnlock()

	for _, handler := range handlers {
		handler(event)
	}
}

// taskContext builds the execution context for a spawned task,
// carrying trace and lane metadata for logging.
func (h *Hub) taskContext(ctx context.Context, task *Task) context.Context {
	ctx = tracing.NewTaskContext(ctx, task.ID, string(task.Lane))
	if task.SessionID != "" {
		ctx = tracing.WithSessionID(ctx, task.SessionID)
	}
	return ctx
}
