// Package schedule runs recurring and one-shot agent prompts. Due
// jobs are enqueued into the hub's cron lane rather than executed
// inline, so scheduled work obeys the same concurrency ceilings as
// everything else.
package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/hub"
	"github.com/rs/zerolog/log"
)

// TaskEnqueuer is the hub surface the service needs. *hub.Hub
// satisfies it.
type TaskEnqueuer interface {
	Enqueue(task *hub.Task) string
	EnqueueAndWait(ctx context.Context, task *hub.Task, timeout time.Duration) (*hub.TaskResult, error)
}

// ServiceOptions configures the schedule service.
type ServiceOptions struct {
	StorePath  string
	Enqueuer   TaskEnqueuer
	RunTimeout time.Duration
}

// Service manages job scheduling and execution
type Service struct {
	jobs    map[string]*Job
	timers  map[string]*time.Timer
	options ServiceOptions
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService creates a new schedule service, loading any persisted
// job registry and arming timers for enabled jobs.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.StorePath == "" {
		return nil, fmt.Errorf("store path is required")
	}
	if opts.Enqueuer == nil {
		return nil, fmt.Errorf("task enqueuer is required")
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &Service{
		jobs:    make(map[string]*Job),
		timers:  make(map[string]*time.Timer),
		options: opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := s.loadJobs(); err != nil {
		log.Warn().Err(err).Msg("Failed to load jobs, starting with empty registry")
	}

	s.scheduleAll()

	log.Info().Int("jobCount", len(s.jobs)).Msg("Schedule service initialized")

	return s, nil
}

// AddJob creates a new scheduled job
func (s *Service) AddJob(params AddParams) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("service is stopped")
	}
	if params.Name == "" {
		return nil, fmt.Errorf("job name is required")
	}
	if params.Prompt == "" {
		return nil, fmt.Errorf("job prompt is required")
	}

	nextRunAtMs, err := CalculateNextRun(params.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}

	now := Now()
	job := &Job{
		ID:             uuid.New().String(),
		Name:           params.Name,
		Description:    params.Description,
		Enabled:        params.Enabled,
		DeleteAfterRun: params.DeleteAfterRun,
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		Schedule:       params.Schedule,
		Prompt:         params.Prompt,
		Tools:          params.Tools,
		Priority:       params.Priority,
		SessionID:      params.SessionID,
		State: JobState{
			NextRunAtMs: Int64Ptr(nextRunAtMs),
		},
	}

	s.jobs[job.ID] = job

	if err := s.persist(); err != nil {
		delete(s.jobs, job.ID)
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if job.Enabled {
		s.scheduleJobLocked(job)
	}

	log.Info().
		Str("jobId", job.ID).
		Str("name", job.Name).
		Bool("enabled", job.Enabled).
		Msg("Job created")

	return job, nil
}

// UpdateJob applies a patch to an existing job
func (s *Service) UpdateJob(id string, patch JobPatch) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, fmt.Errorf("service is stopped")
	}

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", id)
	}

	scheduleChanged := false
	enabledChanged := false
	oldEnabled := job.Enabled

	if patch.Name != nil {
		job.Name = *patch.Name
	}
	if patch.Description != nil {
		job.Description = *patch.Description
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
		enabledChanged = oldEnabled != job.Enabled
	}
	if patch.DeleteAfterRun != nil {
		job.DeleteAfterRun = *patch.DeleteAfterRun
	}
	if patch.Schedule != nil {
		job.Schedule = *patch.Schedule
		scheduleChanged = true
	}
	if patch.Prompt != nil {
		job.Prompt = *patch.Prompt
	}
	if patch.Tools != nil {
		job.Tools = *patch.Tools
	}
	if patch.Priority != nil {
		job.Priority = *patch.Priority
	}

	job.UpdatedAtMs = Now()

	if scheduleChanged {
		nextRunAtMs, err := CalculateNextRun(job.Schedule)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule: %w", err)
		}
		job.State.NextRunAtMs = Int64Ptr(nextRunAtMs)
	}

	if err := s.persist(); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}

	if scheduleChanged || enabledChanged {
		s.cancelJobLocked(id)
		if job.Enabled {
			s.scheduleJobLocked(job)
		}
	}

	log.Info().
		Str("jobId", id).
		Str("name", job.Name).
		Bool("scheduleChanged", scheduleChanged).
		Bool("enabledChanged", enabledChanged).
		Msg("Job updated")

	return job, nil
}

// RemoveJob deletes a job
func (s *Service) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("service is stopped")
	}

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	s.cancelJobLocked(id)
	delete(s.jobs, id)

	if err := s.persist(); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}

	log.Info().
		Str("jobId", id).
		Str("name", job.Name).
		Msg("Job removed")

	return nil
}

// RunJob manually triggers a job regardless of its schedule
func (s *Service) RunJob(id string) error {
	s.mu.RLock()
	_, exists := s.jobs[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeJob(id)
	}()

	return nil
}

// ListJobs returns all jobs sorted by creation time
func (s *Service) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}

	for i := 0; i < len(jobs)-1; i++ {
		for j := i + 1; j < len(jobs); j++ {
			if jobs[j].CreatedAtMs < jobs[i].CreatedAtMs {
				jobs[i], jobs[j] = jobs[j], jobs[i]
			}
		}
	}

	return jobs
}

// GetJob returns a specific job, or nil
func (s *Service) GetJob(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.jobs[id]
}

// Stop cancels all timers, waits for in-flight runs, and persists
// final state. Idempotent.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.cancel()

	for id := range s.timers {
		s.cancelJobLocked(id)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persist(); err != nil {
		log.Error().Err(err).Msg("Failed to persist state on shutdown")
		return err
	}

	log.Info().Msg("Schedule service stopped")
	return nil
}

// scheduleAll arms timers for all enabled jobs
func (s *Service) scheduleAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Enabled {
			s.scheduleJobLocked(job)
		}
	}
}

// scheduleJobLocked arms a job's timer (must hold lock)
func (s *Service) scheduleJobLocked(job *Job) {
	if job.State.NextRunAtMs == nil {
		log.Warn().Str("jobId", job.ID).Msg("Cannot schedule job without next run time")
		return
	}

	delay := *job.State.NextRunAtMs - Now()
	if delay < 0 {
		delay = 0
	}

	jobID := job.ID
	timer := time.AfterFunc(time.Duration(delay)*time.Millisecond, func() {
		s.wg.Add(1)
		defer s.wg.Done()
		s.executeJob(jobID)
	})
	s.timers[jobID] = timer

	log.Debug().
		Str("jobId", jobID).
		Int64("delayMs", delay).
		Time("nextRun", time.UnixMilli(*job.State.NextRunAtMs)).
		Msg("Job scheduled")
}

// cancelJobLocked stops a job's timer (must hold lock)
func (s *Service) cancelJobLocked(id string) {
	if timer, exists := s.timers[id]; exists {
		timer.Stop()
		delete(s.timers, id)
	}
}

// executeJob enqueues the job's prompt into the cron lane and records
// the outcome.
func (s *Service) executeJob(id string) {
	s.mu.Lock()

	if s.stopped {
		s.mu.Unlock()
		return
	}
	job, exists := s.jobs[id]
	if !exists {
		s.mu.Unlock()
		log.Debug().Str("jobId", id).Msg("Job no longer exists, skipping execution")
		return
	}
	if job.State.RunningAtMs != nil {
		s.mu.Unlock()
		log.Debug().Str("jobId", id).Msg("Job already running, skipping execution")
		return
	}

	startMs := Now()
	job.State.RunningAtMs = Int64Ptr(startMs)

	taskID := fmt.Sprintf("cron_%s_%d", job.Name, startMs)
	task := &hub.Task{
		ID:        taskID,
		Lane:      hub.LaneCron,
		Prompt:    job.Prompt,
		Tools:     job.Tools,
		Priority:  job.Priority,
		SessionID: job.SessionID,
		Context:   map[string]interface{}{"agent_type": "cron", "job_id": job.ID},
	}
	s.mu.Unlock()

	log.Info().Str("jobId", id).Str("taskId", taskID).Msg("Executing job")

	result, err := s.options.Enqueuer.EnqueueAndWait(s.ctx, task, s.options.RunTimeout)
	if err == nil && result != nil && !result.Success {
		err = fmt.Errorf("%s", result.Error)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists = s.jobs[id]
	if !exists {
		return
	}

	endMs := Now()
	durationMs := endMs - startMs

	job.State.RunningAtMs = nil
	job.State.LastRunAtMs = Int64Ptr(startMs)
	job.State.LastDurationMs = Int64Ptr(durationMs)
	job.State.LastTaskID = taskID

	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		job.State.ConsecutiveErrors++

		log.Error().
			Str("jobId", id).
			Err(err).
			Int("consecutiveErrors", job.State.ConsecutiveErrors).
			Msg("Job execution failed")
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.ConsecutiveErrors = 0

		log.Info().
			Str("jobId", id).
			Int64("durationMs", durationMs).
			Msg("Job execution completed")
	}

	if job.DeleteAfterRun && err == nil {
		s.cancelJobLocked(id)
		delete(s.jobs, id)
		if persistErr := s.persist(); persistErr != nil {
			log.Error().Err(persistErr).Msg("Failed to persist after delete")
		}
		return
	}

	nextRunAtMs, calcErr := CalculateNextRun(job.Schedule)
	if calcErr != nil {
		log.Error().Str("jobId", id).Err(calcErr).Msg("Failed to calculate next run")
	} else {
		job.State.NextRunAtMs = Int64Ptr(nextRunAtMs)
	}

	if persistErr := s.persist(); persistErr != nil {
		log.Error().Err(persistErr).Msg("Failed to persist job state")
	}

	if job.Enabled && calcErr == nil && !s.stopped {
		s.scheduleJobLocked(job)
	}
}

// loadJobs loads jobs from the registry file
func (s *Service) loadJobs() error {
	if _, err := os.Stat(s.options.StorePath); os.IsNotExist(err) {
		log.Info().Msg("No existing job registry, starting with empty registry")
		return nil
	}

	data, err := os.ReadFile(s.options.StorePath)
	if err != nil {
		return fmt.Errorf("failed to read jobs file: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("failed to parse jobs file: %w", err)
	}

	s.jobs = make(map[string]*Job)
	for _, job := range jobs {
		// Stale running markers from a previous process are meaningless.
		job.State.RunningAtMs = nil
		s.jobs[job.ID] = job
	}

	log.Info().Int("count", len(jobs)).Msg("Loaded jobs from registry")
	return nil
}

// persist writes the registry atomically
func (s *Service) persist() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	dir := filepath.Dir(s.options.StorePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := s.options.StorePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, s.options.StorePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}
