// Package scheduler repeats scan runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/anstrom/neteye/internal/logging"
)

// RunFunc executes one run of a scheduled job.
type RunFunc func(ctx context.Context) error

// Scheduler manages recurring jobs.
type Scheduler struct {
	cron    *cron.Cron
	jobs    map[uuid.UUID]*ScheduledJob
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *logging.Logger
}

// ScheduledJob describes a registered job.
type ScheduledJob struct {
	ID       uuid.UUID
	Name     string
	CronExpr string
	CronID   cron.EntryID
	LastRun  time.Time
	NextRun  time.Time
	Runs     int
	LastErr  error
	Running  bool

	run RunFunc
}

// NewScheduler creates a new job scheduler.
func NewScheduler() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(),
		jobs:   make(map[uuid.UUID]*ScheduledJob),
		ctx:    ctx,
		cancel: cancel,
		logger: logging.Default().WithComponent("scheduler"),
	}
}

// Start begins the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop stops the scheduler, cancels running jobs and waits for them to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.cancel()
		s.wg.Wait()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()

	s.logger.Info("Scheduler stopped")
}

// AddJob registers fn to run on cronExpr, a standard five field expression
// or a descriptor such as "@hourly".
func (s *Scheduler) AddJob(name, cronExpr string, fn RunFunc) (uuid.UUID, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	job := &ScheduledJob{
		ID:       uuid.New(),
		Name:     name,
		CronExpr: cronExpr,
		NextRun:  schedule.Next(time.Now()),
		run:      fn,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cronID, err := s.cron.AddFunc(cronExpr, func() { s.execute(job.ID) })
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to add cron job: %w", err)
	}
	job.CronID = cronID
	s.jobs[job.ID] = job

	s.logger.Info("Added scheduled job", "name", name, "schedule", cronExpr, "next_run", job.NextRun)
	return job.ID, nil
}

// Trigger runs a job immediately and waits for it, outside its schedule.
func (s *Scheduler) Trigger(jobID uuid.UUID) error {
	s.mu.RLock()
	_, exists := s.jobs[jobID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job not found")
	}
	return s.execute(jobID)
}

// GetJobs returns a snapshot of all scheduled jobs.
func (s *Scheduler) GetJobs() []ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		snapshot := *job
		snapshot.run = nil
		if entry := s.cron.Entry(job.CronID); entry.Valid() && !entry.Next.IsZero() {
			snapshot.NextRun = entry.Next
		}
		jobs = append(jobs, snapshot)
	}
	return jobs
}

// execute runs a job unless a previous run of it is still going.
func (s *Scheduler) execute(jobID uuid.UUID) error {
	job, ok := s.prepareJobExecution(jobID)
	if !ok {
		return nil
	}
	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.Info("Executing scheduled job", "name", job.Name, "run", job.Runs)
	err := runRecovered(s.ctx, job.run)

	s.mu.Lock()
	job.Running = false
	job.LastErr = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("Scheduled job failed", "name", job.Name, "error", err)
		return err
	}
	s.logger.Info("Scheduled job completed", "name", job.Name)
	return nil
}

// prepareJobExecution marks a job running. It reports false when the job
// is gone or already running.
func (s *Scheduler) prepareJobExecution(jobID uuid.UUID) (*ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, false
	}
	if job.Running {
		s.logger.Warn("Scheduled job is already running, skipping", "name", job.Name)
		return nil, false
	}

	job.Running = true
	job.LastRun = time.Now()
	job.Runs++
	return job, true
}

// runRecovered turns a panic in fn into an error so one bad run does not
// take the scheduler down.
func runRecovered(ctx context.Context, fn RunFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled job panicked: %v", r)
		}
	}()
	return fn(ctx)
}
