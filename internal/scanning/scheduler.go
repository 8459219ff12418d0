package scanning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/anstrom/neteye/internal/errors"
	"github.com/anstrom/neteye/internal/logging"
	"github.com/anstrom/neteye/internal/metrics"
	"github.com/anstrom/neteye/internal/workers"
)

// ResultWriter receives outcomes as probes complete and free-form text from
// hooks. Implementations must be safe for concurrent use.
type ResultWriter interface {
	Record(outcome ProbeOutcome)
	WriteText(text string)
}

// Hook is a post-discovery action run asynchronously for open outcomes.
type Hook interface {
	// Name labels the hook in logs and metrics.
	Name() string
	// Applies reports whether the hook wants this outcome.
	Applies(job *ScanJob, outcome ProbeOutcome) bool
	// Run produces the text routed to the result writer.
	Run(ctx context.Context, outcome ProbeOutcome) (string, error)
}

// Scheduler fans a job's ports out to a prober under a concurrency bound.
type Scheduler struct {
	prober   Prober
	writer   ResultWriter
	resolver Resolver
	hooks    []Hook
	pool     *workers.Pool
	recorder metrics.Recorder
	logger   *logging.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithHooks registers post-discovery hooks.
func WithHooks(hooks ...Hook) Option {
	return func(s *Scheduler) { s.hooks = append(s.hooks, hooks...) }
}

// WithHookPool replaces the pool that tracks hook executions.
func WithHookPool(pool *workers.Pool) Option {
	return func(s *Scheduler) { s.pool = pool }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// WithResolver replaces the target resolver.
func WithResolver(r Resolver) Option {
	return func(s *Scheduler) { s.resolver = r }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler writing results to w.
func NewScheduler(prober Prober, w ResultWriter, opts ...Option) *Scheduler {
	s := &Scheduler{
		prober:   prober,
		writer:   w,
		resolver: NetResolver{},
		recorder: metrics.Nop{},
		logger:   logging.Default().WithComponent("scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.pool == nil {
		s.pool = workers.New(workers.DefaultConfig())
	}
	s.pool.SetMetrics(s.recorder)
	return s
}

// Run validates and resolves the job, then scans each protocol in order and
// returns one report per protocol. It returns once all probes have finished;
// hooks may still be running and are joined by Wait. Validation and
// resolution errors abort before any probe is sent.
func (s *Scheduler) Run(ctx context.Context, job ScanJob) ([]*ScanReport, error) {
	if len(job.Protocols) == 0 {
		job.Protocols = []Protocol{TCP}
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	logger := s.logger.WithScanID(job.ID)

	host, err := s.resolver.Resolve(ctx, job.Target)
	if err != nil {
		logger.ErrorScan("Target resolution failed", job.Target, err)
		if errors.IsCode(err, errors.CodeUnknown) {
			err = errors.ErrInvalidTarget(job.Target, err)
		}
		return nil, err
	}

	logger.InfoScan("Scan started", job.Target,
		"address", host,
		"ports", fmt.Sprintf("%d-%d", job.StartPort, job.EndPort),
		"protocols", job.Protocols,
		"concurrency", job.Concurrency,
		"timeout", job.Timeout)

	reports := make([]*ScanReport, 0, len(job.Protocols))
	for _, proto := range job.Protocols {
		report := s.scanProtocol(ctx, &job, host, proto, logger)
		reports = append(reports, report)

		if ctx.Err() != nil {
			return reports, errors.WrapScanErrorWithTarget(errors.CodeCanceled, "scan interrupted", job.Target, ctx.Err()).
				WithContext("protocol", string(proto)).
				WithContext("probed", len(report.Outcomes))
		}
	}
	return reports, nil
}

// scanProtocol probes every port of the job over proto and returns the
// sorted report. Dispatch stops early when ctx is canceled.
func (s *Scheduler) scanProtocol(ctx context.Context, job *ScanJob, host string, proto Protocol,
	logger *logging.Logger) *ScanReport {
	report := &ScanReport{
		Target:   job.Target,
		Protocol: proto,
		Started:  time.Now(),
		Outcomes: make([]ProbeOutcome, 0, job.Ports().Len()),
	}

	limiter := NewLimiter(job.Concurrency, s.recorder)
	var throttle *rate.Limiter
	if job.RateLimit > 0 {
		throttle = rate.NewLimiter(rate.Limit(job.RateLimit), 1)
	}

	results := make(chan ProbeOutcome, job.Concurrency)
	go func() {
		var wg sync.WaitGroup
		defer close(results)
		defer wg.Wait()

		for spec := range job.Ports().All(proto) {
			if ctx.Err() != nil {
				return
			}
			if throttle != nil {
				if err := throttle.Wait(ctx); err != nil {
					return
				}
			}
			if err := limiter.Acquire(ctx); err != nil {
				return
			}

			wg.Add(1)
			go func(spec PortSpec) {
				defer wg.Done()
				defer limiter.Release()

				outcome := s.probeOne(ctx, host, spec, job.Timeout, logger)
				s.writer.Record(outcome)
				results <- outcome
			}(spec)
		}
	}()

	for outcome := range results {
		report.insert(outcome)
		if outcome.Open {
			s.dispatchHooks(ctx, job, outcome)
		}
	}

	report.Duration = time.Since(report.Started)
	status := "completed"
	if ctx.Err() != nil {
		status = "canceled"
	}
	s.recorder.ObserveScan(string(proto), status, report.Duration)
	logger.InfoScan("Protocol scan finished", job.Target,
		"protocol", proto,
		"status", status,
		"probed", len(report.Outcomes),
		"open", len(report.Open()),
		"duration", report.Duration)
	return report
}

// probeOne isolates a single probe. Panics and errors become a closed
// outcome so the rest of the scan continues.
func (s *Scheduler) probeOne(ctx context.Context, host string, spec PortSpec, timeout time.Duration,
	logger *logging.Logger) (outcome ProbeOutcome) {
	logger = logger.WithPort(spec.Port, string(spec.Protocol))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Probe panicked", "panic", r)
			outcome = closedOutcome(host, spec, 0)
		}
		s.recorder.ObserveProbe(string(spec.Protocol), outcome.Open, outcome.Latency)
	}()

	outcome, err := s.prober.Probe(ctx, host, spec, timeout)
	if err != nil {
		logger.Debug("Probe finished", "open", outcome.Open, "reason", err)
	}
	if !outcome.Open {
		outcome = closedOutcome(host, spec, outcome.Latency)
	}
	return outcome
}

// dispatchHooks submits every applicable hook to the pool without waiting.
func (s *Scheduler) dispatchHooks(ctx context.Context, job *ScanJob, outcome ProbeOutcome) {
	for _, hook := range s.hooks {
		if !hook.Applies(job, outcome) {
			continue
		}
		id := fmt.Sprintf("%s-%s-%s", job.ID, hook.Name(), outcome.Spec())
		err := s.pool.Submit(ctx, workers.NewFuncJob(id, hook.Name(), func(ctx context.Context) error {
			text, err := hook.Run(ctx, outcome)
			if text != "" {
				s.writer.WriteText(text)
			}
			if err != nil {
				s.logger.WarnHook("Hook failed", outcome.Port, err, "hook", hook.Name())
				return errors.ErrHookFailed(outcome.Target, err)
			}
			return nil
		}))
		if err != nil {
			s.logger.WarnHook("Hook not started", outcome.Port, err, "hook", hook.Name())
		}
	}
}

// Wait joins every hook started by Run. It returns the number of hooks that
// failed, or ctx's error when ctx ends first.
func (s *Scheduler) Wait(ctx context.Context) (int, error) {
	results, err := s.pool.Wait(ctx)
	failed := 0
	for _, r := range results {
		if r.Error != nil {
			failed++
		}
	}
	return failed, err
}

// Shutdown cancels hooks that are still running.
func (s *Scheduler) Shutdown() {
	s.pool.Shutdown()
}
