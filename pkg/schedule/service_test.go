package schedule

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/hub"
)

type stubEnqueuer struct {
	mu      sync.Mutex
	tasks   []*hub.Task
	result  *hub.TaskResult
	waitErr error
}

func (e *stubEnqueuer) Enqueue(task *hub.Task) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	return task.ID
}

func (e *stubEnqueuer) EnqueueAndWait(ctx context.Context, task *hub.Task, timeout time.Duration) (*hub.TaskResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, task)
	if e.waitErr != nil {
		return nil, e.waitErr
	}
	if e.result != nil {
		return e.result, nil
	}
	return &hub.TaskResult{TaskID: task.ID, Success: true, Response: "done"}, nil
}

func (e *stubEnqueuer) taskCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

func (e *stubEnqueuer) lastTask() *hub.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.tasks) == 0 {
		return nil
	}
	return e.tasks[len(e.tasks)-1]
}

func newTestService(t *testing.T) (*Service, *stubEnqueuer, string) {
	t.Helper()
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	enq := &stubEnqueuer{}
	svc, err := NewService(ServiceOptions{
		StorePath:  storePath,
		Enqueuer:   enq,
		RunTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Stop() })
	return svc, enq, storePath
}

func farFutureSchedule() Schedule {
	return Schedule{
		Kind: ScheduleKindAt,
		At:   time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	}
}

func TestNewService(t *testing.T) {
	t.Run("requires store path", func(t *testing.T) {
		_, err := NewService(ServiceOptions{Enqueuer: &stubEnqueuer{}})
		assert.Error(t, err)
	})

	t.Run("requires enqueuer", func(t *testing.T) {
		_, err := NewService(ServiceOptions{StorePath: filepath.Join(t.TempDir(), "jobs.json")})
		assert.Error(t, err)
	})

	t.Run("tolerates missing registry file", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		assert.Empty(t, svc.ListJobs())
	})
}

func TestAddJob(t *testing.T) {
	t.Run("creates and persists job", func(t *testing.T) {
		svc, _, storePath := newTestService(t)

		job, err := svc.AddJob(AddParams{
			Name:     "morning-scan",
			Prompt:   "Scan open positions",
			Enabled:  true,
			Schedule: farFutureSchedule(),
			Priority: 3,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		require.NotNil(t, job.State.NextRunAtMs)

		data, err := os.ReadFile(storePath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "morning-scan")
	})

	t.Run("requires name", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.AddJob(AddParams{Prompt: "p", Schedule: farFutureSchedule()})
		assert.Error(t, err)
	})

	t.Run("requires prompt", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.AddJob(AddParams{Name: "n", Schedule: farFutureSchedule()})
		assert.Error(t, err)
	})

	t.Run("rejects invalid schedule", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.AddJob(AddParams{
			Name:     "n",
			Prompt:   "p",
			Schedule: Schedule{Kind: ScheduleKindCron, Expr: "bogus"},
		})
		assert.Error(t, err)
	})
}

func TestJobsSurviveRestart(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	enq := &stubEnqueuer{}

	svc, err := NewService(ServiceOptions{StorePath: storePath, Enqueuer: enq})
	require.NoError(t, err)

	job, err := svc.AddJob(AddParams{
		Name:     "persisted",
		Prompt:   "Check portfolio drift",
		Enabled:  true,
		Schedule: farFutureSchedule(),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Stop())

	svc2, err := NewService(ServiceOptions{StorePath: storePath, Enqueuer: enq})
	require.NoError(t, err)
	defer svc2.Stop()

	loaded := svc2.GetJob(job.ID)
	require.NotNil(t, loaded)
	assert.Equal(t, "persisted", loaded.Name)
	assert.Nil(t, loaded.State.RunningAtMs)
}

func TestRunJob(t *testing.T) {
	t.Run("enqueues into cron lane", func(t *testing.T) {
		svc, enq, _ := newTestService(t)

		job, err := svc.AddJob(AddParams{
			Name:      "rebalance",
			Prompt:    "Rebalance the portfolio",
			Enabled:   false,
			Schedule:  farFutureSchedule(),
			Priority:  7,
			Tools:     []string{"get_market_data"},
			SessionID: "sess-1",
		})
		require.NoError(t, err)

		require.NoError(t, svc.RunJob(job.ID))
		require.Eventually(t, func() bool { return enq.taskCount() == 1 }, time.Second, 10*time.Millisecond)

		task := enq.lastTask()
		assert.Equal(t, hub.LaneCron, task.Lane)
		assert.Equal(t, "Rebalance the portfolio", task.Prompt)
		assert.Equal(t, 7, task.Priority)
		assert.Equal(t, []string{"get_market_data"}, task.Tools)
		assert.Equal(t, "sess-1", task.SessionID)
		assert.Equal(t, "cron", task.Context["agent_type"])
		assert.Equal(t, job.ID, task.Context["job_id"])
		assert.Contains(t, task.ID, "cron_rebalance_")

		require.Eventually(t, func() bool {
			j := svc.GetJob(job.ID)
			return j != nil && j.State.LastStatus == "ok"
		}, time.Second, 10*time.Millisecond)

		updated := svc.GetJob(job.ID)
		assert.Nil(t, updated.State.RunningAtMs)
		assert.NotNil(t, updated.State.LastRunAtMs)
		assert.Equal(t, 0, updated.State.ConsecutiveErrors)
		assert.Equal(t, task.ID, updated.State.LastTaskID)
	})

	t.Run("failed result recorded as error", func(t *testing.T) {
		svc, enq, _ := newTestService(t)
		enq.result = &hub.TaskResult{Success: false, Error: "engine unavailable"}

		job, err := svc.AddJob(AddParams{
			Name:     "flaky",
			Prompt:   "p",
			Schedule: farFutureSchedule(),
		})
		require.NoError(t, err)

		require.NoError(t, svc.RunJob(job.ID))
		require.Eventually(t, func() bool {
			j := svc.GetJob(job.ID)
			return j != nil && j.State.LastStatus == "error"
		}, time.Second, 10*time.Millisecond)

		updated := svc.GetJob(job.ID)
		assert.Equal(t, "engine unavailable", updated.State.LastError)
		assert.Equal(t, 1, updated.State.ConsecutiveErrors)
	})

	t.Run("delete after run removes job", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		job, err := svc.AddJob(AddParams{
			Name:           "one-shot",
			Prompt:         "p",
			DeleteAfterRun: true,
			Schedule:       farFutureSchedule(),
		})
		require.NoError(t, err)

		require.NoError(t, svc.RunJob(job.ID))
		require.Eventually(t, func() bool {
			return svc.GetJob(job.ID) == nil
		}, time.Second, 10*time.Millisecond)
	})

	t.Run("unknown job", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		assert.Error(t, svc.RunJob("nope"))
	})
}

func TestDueJobFires(t *testing.T) {
	svc, enq, _ := newTestService(t)

	_, err := svc.AddJob(AddParams{
		Name:    "soon",
		Prompt:  "Check breaking news",
		Enabled: true,
		Schedule: Schedule{
			Kind: ScheduleKindAt,
			At:   time.Now().Add(50 * time.Millisecond).UTC().Format(time.RFC3339Nano),
		},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return enq.taskCount() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, hub.LaneCron, enq.lastTask().Lane)
}

func TestUpdateJob(t *testing.T) {
	t.Run("patches fields", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		job, err := svc.AddJob(AddParams{
			Name:     "orig",
			Prompt:   "p",
			Enabled:  true,
			Schedule: farFutureSchedule(),
		})
		require.NoError(t, err)

		name := "renamed"
		enabled := false
		priority := 9
		updated, err := svc.UpdateJob(job.ID, JobPatch{
			Name:     &name,
			Enabled:  &enabled,
			Priority: &priority,
		})
		require.NoError(t, err)
		assert.Equal(t, "renamed", updated.Name)
		assert.False(t, updated.Enabled)
		assert.Equal(t, 9, updated.Priority)
	})

	t.Run("schedule change recomputes next run", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		job, err := svc.AddJob(AddParams{
			Name:     "shift",
			Prompt:   "p",
			Enabled:  true,
			Schedule: farFutureSchedule(),
		})
		require.NoError(t, err)
		before := *job.State.NextRunAtMs

		newSched := Schedule{Kind: ScheduleKindEvery, EveryMs: 3600000}
		updated, err := svc.UpdateJob(job.ID, JobPatch{Schedule: &newSched})
		require.NoError(t, err)
		require.NotNil(t, updated.State.NextRunAtMs)
		assert.NotEqual(t, before, *updated.State.NextRunAtMs)
	})

	t.Run("rejects invalid schedule", func(t *testing.T) {
		svc, _, _ := newTestService(t)

		job, err := svc.AddJob(AddParams{Name: "j", Prompt: "p", Schedule: farFutureSchedule()})
		require.NoError(t, err)

		bad := Schedule{Kind: ScheduleKindCron, Expr: "nonsense"}
		_, err = svc.UpdateJob(job.ID, JobPatch{Schedule: &bad})
		assert.Error(t, err)
	})

	t.Run("unknown job", func(t *testing.T) {
		svc, _, _ := newTestService(t)
		_, err := svc.UpdateJob("missing", JobPatch{})
		assert.Error(t, err)
	})
}

func TestRemoveJob(t *testing.T) {
	svc, _, _ := newTestService(t)

	job, err := svc.AddJob(AddParams{Name: "gone", Prompt: "p", Schedule: farFutureSchedule()})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveJob(job.ID))
	assert.Nil(t, svc.GetJob(job.ID))
	assert.Error(t, svc.RemoveJob(job.ID))
}

func TestListJobsSorted(t *testing.T) {
	svc, _, _ := newTestService(t)

	a, err := svc.AddJob(AddParams{Name: "a", Prompt: "p", Schedule: farFutureSchedule()})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	b, err := svc.AddJob(AddParams{Name: "b", Prompt: "p", Schedule: farFutureSchedule()})
	require.NoError(t, err)

	jobs := svc.ListJobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, a.ID, jobs[0].ID)
	assert.Equal(t, b.ID, jobs[1].ID)
}

func TestStop(t *testing.T) {
	svc, _, _ := newTestService(t)

	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	_, err := svc.AddJob(AddParams{Name: "late", Prompt: "p", Schedule: farFutureSchedule()})
	assert.Error(t, err)
}
