package hub

import (
	"context"
	"sort"
	"time"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/observability"
	"github.com/rs/zerolog/log"
)

const (
	dispatchInterval = 100 * time.Millisecond
	cleanupEvery     = 100 // iterations, roughly every 10s
)

// dispatchLoop is the single background goroutine driving all lanes.
// It scans every lane each tick, spawns executions up to each lane's
// ceiling, and runs the TTL sweep every cleanupEvery iterations. A
// failing task never reaches this loop; failures are captured at the
// task boundary.
func (h *Hub) dispatchLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	cleanupCounter := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, lane := range h.laneOrder() {
				h.dispatchLane(ctx, lane)
			}

			cleanupCounter++
			if cleanupCounter >= cleanupEvery {
				h.cleanup()
				cleanupCounter = 0
			}
		}
	}
}

// laneOrder snapshots the lanes to scan this tick: the fixed lanes in
// their canonical order, then any ad hoc lanes created by Enqueue, so
// every accepted task is eventually dispatched.
func (h *Hub) laneOrder() []Lane {
	h.mu.Lock()
	defer h.mu.Unlock()

	order := make([]Lane, 0, len(h.lanes))
	order = append(order, Lanes...)

	extras := make([]Lane, 0)
	for lane := range h.lanes {
		fixed := false
		for _, known := range Lanes {
			if lane == known {
				fixed = true
				break
			}
		}
		if !fixed {
			extras = append(extras, lane)
		}
	}
	sort.Slice(extras, func(i, j int) bool { return extras[i] < extras[j] })
	return append(order, extras...)
}

// dispatchLane pops tasks from a lane's queue while capacity remains,
// recording each id as active before its execution goroutine starts.
func (h *Hub) dispatchLane(ctx context.Context, lane Lane) {
	h.mu.Lock()
	ls := h.lanes[lane]
	if ls == nil {
		h.mu.Unlock()
		return
	}
	started := make([]*Task, 0)
	for len(ls.active) < ls.limit && len(ls.queue) > 0 {
		task := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.active[task.ID] = true
		started = append(started, task)
	}
	activeCount := len(ls.active)
	queueSize := len(ls.queue)
	h.mu.Unlock()

	if len(started) == 0 {
		return
	}

	observability.SetQueueSize(string(lane), queueSize)
	observability.SetActiveTasks(string(lane), activeCount)

	for _, task := range started {
		h.wg.Add(1)
		go h.runTask(ctx, task)
	}
}

// runTask executes one task and stores its outcome. The active-set
// release is deferred so it happens even if execution panics.
func (h *Hub) runTask(ctx context.Context, task *Task) {
	defer h.wg.Done()

	start := time.Now()
	taskCtx := h.taskContext(ctx, task)
	logger := h.taskLogger(taskCtx)

	var result *TaskResult

	defer func() {
		if r := recover(); r != nil {
			result = &TaskResult{
				TaskID:    task.ID,
				Success:   false,
				Error:     (&TaskError{TaskID: task.ID, Err: panicErr(r)}).Error(),
				SessionID: task.SessionID,
			}
			logger.Error().
				Str("taskId", task.ID).
				Interface("panic", r).
				Msg("Task panicked")
		}

		h.mu.Lock()
		ls := h.lanes[task.Lane]
		delete(ls.active, task.ID)
		activeCount := len(ls.active)
		queueSize := len(ls.queue)
		h.mu.Unlock()

		duration := time.Since(start)
		h.storeResult(result)

		observability.SetActiveTasks(string(task.Lane), activeCount)
		observability.RecordQueueCompletion(string(task.Lane), duration, result.Success, queueSize)

		if result.Success {
			logger.Debug().
				Str("taskId", task.ID).
				Dur("duration", duration).
				Int("iterations", result.Iterations).
				Msg("Task completed")
		} else {
			logger.Error().
				Str("taskId", task.ID).
				Dur("duration", duration).
				Str("error", result.Error).
				Msg("Task failed")
		}

		h.emit(Event{
			Type:   "completed",
			Lane:   task.Lane,
			TaskID: task.ID,
			Data: map[string]interface{}{
				"success":  result.Success,
				"duration": duration.Milliseconds(),
			},
		})
	}()

	result = h.executeTask(taskCtx, task)
}

// cleanup evicts idle sessions and stale results.
func (h *Hub) cleanup() {
	sessionsCleaned := h.sessions.Sweep(h.sessionTTL)

	h.mu.Lock()
	now := time.Now()
	resultsCleaned := 0
	for taskID, storedAt := range h.stored {
		if now.Sub(storedAt) > h.resultTTL {
			delete(h.results, taskID)
			delete(h.stored, taskID)
			resultsCleaned++
		}
	}
	h.stats["sessions_cleaned"] += int64(sessionsCleaned)
	h.stats["results_cleaned"] += int64(resultsCleaned)
	sessionCount := h.sessions.Count()
	h.mu.Unlock()

	observability.SetActiveSessions(sessionCount)
	if sessionsCleaned > 0 {
		observability.RecordSessionsCleaned(sessionsCleaned)
	}
	if resultsCleaned > 0 {
		observability.RecordResultsCleaned(resultsCleaned)
		log.Info().Int("count", resultsCleaned).Msg("Cleaned up expired task results")
	}
}
