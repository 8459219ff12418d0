// Package workers provides a spawn-and-collect task pool for work that must
// run off the critical path without being forgotten. Submit never blocks the
// caller; every submitted job is tracked until Wait joins it.
package workers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anstrom/neteye/internal/logging"
	"github.com/anstrom/neteye/internal/metrics"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for metrics and logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size caps the number of jobs executing at once (0 = no limit).
	// Jobs beyond the cap wait in their own goroutine, never in Submit.
	Size int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// JobTimeout bounds a single attempt (0 = no limit).
	JobTimeout time.Duration
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:       10,
		MaxRetries: 0,
		RetryDelay: time.Second,
		JobTimeout: time.Minute,
	}
}

// Pool tracks asynchronously running jobs and collects their results.
type Pool struct {
	config   Config
	slots    chan struct{}
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	results  []Result
	pending  atomic.Int64
	shutdown atomic.Bool
	recorder metrics.Recorder
	logger   *logging.Logger
}

// New creates a new worker pool with the given configuration.
func New(config Config) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		recorder: metrics.Nop{},
		logger:   logging.Default().WithComponent("workers"),
	}
	if config.Size > 0 {
		pool.slots = make(chan struct{}, config.Size)
	}
	return pool
}

// SetMetrics sets the recorder that counts finished jobs.
func (p *Pool) SetMetrics(r metrics.Recorder) {
	if r != nil {
		p.recorder = r
	}
}

// Submit starts job in its own goroutine and returns immediately. The job
// context is canceled when ctx is canceled or the pool shuts down.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	if p.shutdown.Load() {
		return fmt.Errorf("worker pool is shut down")
	}

	p.wg.Add(1)
	p.pending.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.pending.Add(-1)

		jobCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(p.ctx, cancel)
		defer stop()

		if p.slots != nil {
			select {
			case p.slots <- struct{}{}:
				defer func() { <-p.slots }()
			case <-jobCtx.Done():
				p.collect(Result{JobID: job.ID(), JobType: job.Type(), Error: jobCtx.Err()})
				return
			}
		}

		p.collect(p.execute(jobCtx, job))
	}()

	p.logger.Debug("Job submitted to worker pool",
		"job_id", job.ID(),
		"job_type", job.Type())
	return nil
}

// execute runs job with retry logic and recovers panics into errors.
func (p *Pool) execute(ctx context.Context, job Job) Result {
	var lastErr error
	var retries int
	start := time.Now()

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		lastErr = p.attempt(ctx, job)
		retries = attempt
		if lastErr == nil {
			break
		}

		if attempt < p.config.MaxRetries {
			p.logger.Debug("Job failed, retrying",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"attempt", attempt+1,
				"max_retries", p.config.MaxRetries,
				"error", lastErr)

			select {
			case <-time.After(p.config.RetryDelay):
			case <-ctx.Done():
				return Result{JobID: job.ID(), JobType: job.Type(), Error: ctx.Err(), Retries: retries}
			}
		}
	}

	return Result{
		JobID:    job.ID(),
		JobType:  job.Type(),
		Error:    lastErr,
		Duration: time.Since(start),
		Retries:  retries,
	}
}

func (p *Pool) attempt(ctx context.Context, job Job) (err error) {
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Execute(ctx)
}

func (p *Pool) collect(result Result) {
	status := "success"
	if result.Error != nil {
		status = "error"
		p.logger.Debug("Job failed",
			"job_id", result.JobID,
			"job_type", result.JobType,
			"retries", result.Retries,
			"error", result.Error)
	}
	p.recorder.IncrementHooks(result.JobType, status)

	p.mu.Lock()
	p.results = append(p.results, result)
	p.mu.Unlock()
}

// Pending returns the number of submitted jobs that have not finished.
func (p *Pool) Pending() int {
	return int(p.pending.Load())
}

// Wait blocks until every submitted job has finished or ctx is done, and
// returns the results collected so far.
func (p *Pool) Wait(ctx context.Context) ([]Result, error) {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return p.Results(), nil
	case <-ctx.Done():
		return p.Results(), ctx.Err()
	}
}

// Results returns a snapshot of the collected results.
func (p *Pool) Results() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out
}

// Shutdown rejects new jobs and cancels the ones still running.
func (p *Pool) Shutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		return
	}
	p.logger.Debug("Shutting down worker pool", "pending", p.Pending())
	p.cancel()
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	id      string
	jobType string
	fn      func(ctx context.Context) error
}

// NewFuncJob creates a job that runs fn.
func NewFuncJob(id, jobType string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{id: id, jobType: jobType, fn: fn}
}

// Execute implements the Job interface.
func (j *FuncJob) Execute(ctx context.Context) error {
	return j.fn(ctx)
}

// ID implements the Job interface.
func (j *FuncJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *FuncJob) Type() string {
	return j.jobType
}
