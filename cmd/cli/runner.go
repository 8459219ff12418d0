package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/anstrom/neteye/internal/config"
	"github.com/anstrom/neteye/internal/discovery"
	"github.com/anstrom/neteye/internal/enum"
	"github.com/anstrom/neteye/internal/errors"
	"github.com/anstrom/neteye/internal/inspect"
	"github.com/anstrom/neteye/internal/logging"
	"github.com/anstrom/neteye/internal/metrics"
	"github.com/anstrom/neteye/internal/scanning"
	"github.com/anstrom/neteye/internal/scheduler"
	"github.com/anstrom/neteye/internal/sink"
	"github.com/anstrom/neteye/internal/workers"
)

const (
	// enumTimeout bounds one deep enumeration routine.
	enumTimeout = 2 * time.Minute
	// hookGrace is the slack a hook gets beyond enumTimeout so that nmap's
	// own timeout fires before the pool cancels the job.
	hookGrace = 30 * time.Second
)

// pinger checks host reachability.
type pinger interface {
	PingCheck(ctx context.Context, target string) (discovery.Result, error)
}

// scanRunner executes one configured scan end to end.
type scanRunner struct {
	cfg     *config.Config
	stdout  io.Writer
	verbose bool
	summary bool

	prober     scanning.Prober
	resolver   scanning.Resolver
	pinger     pinger
	inspector  inspect.Inspector
	enumerator enum.Enumerator
	recorder   metrics.Recorder
	logger     *logging.Logger
}

func newScanRunner(cfg *config.Config, stdout io.Writer) *scanRunner {
	return &scanRunner{
		cfg:        cfg,
		stdout:     stdout,
		prober:     scanning.NewNetProber(),
		pinger:     newPinger(cfg.Timeout()),
		inspector:  inspect.NewSocketInspector(),
		enumerator: enum.NewNmapEnumerator(enumTimeout),
		recorder:   metrics.Nop{},
		logger:     logging.Default().WithComponent("cli"),
	}
}

// job converts the scanning configuration into a scan job.
func (r *scanRunner) job() scanning.ScanJob {
	s := r.cfg.Scanning
	return scanning.ScanJob{
		Target:      s.Target,
		StartPort:   uint16(s.StartPort),
		EndPort:     uint16(s.EndPort),
		Protocols:   scanning.NormalizeProtocols(s.TCP, s.UDP),
		Concurrency: s.Concurrency,
		Timeout:     r.cfg.Timeout(),
		RateLimit:   s.RateLimit,
		Inspect:     s.Inspect,
		Deep:        s.Deep,
	}
}

// run performs a single scan. Results stream to stdout and the output file;
// hooks are awaited before the elapsed time is printed.
func (r *scanRunner) run(ctx context.Context) error {
	start := time.Now()
	job := r.job()
	if err := job.Validate(); err != nil {
		return err
	}

	if r.verbose {
		r.printPreamble(job)
	}
	if r.cfg.Scanning.PingCheck {
		if err := r.pingCheck(ctx, job.Target); err != nil {
			return err
		}
	}

	// An unresolvable target must not truncate the output file.
	host, err := r.resolve(ctx, job.Target)
	if err != nil {
		return err
	}

	out, err := sink.New(r.stdout, r.cfg.Scanning.Output, sink.WithMetrics(r.recorder))
	if err != nil {
		return err
	}

	sched := scanning.NewScheduler(r.prober, out,
		scanning.WithHooks(inspect.NewHook(r.inspector), enum.NewHook(r.enumerator)),
		scanning.WithHookPool(workers.New(hookPoolConfig())),
		scanning.WithMetrics(r.recorder),
		scanning.WithResolver(scanning.FixedResolver{Address: host}),
	)

	reports, runErr := sched.Run(ctx, job)

	if ctx.Err() != nil {
		sched.Shutdown()
	}
	if failed, err := sched.Wait(context.WithoutCancel(ctx)); err != nil || failed > 0 {
		r.logger.WithTarget(job.Target).WithError(err).Warn("Some post-discovery hooks failed", "failed", failed)
	}

	if err := out.Finalize(); err != nil && runErr == nil {
		runErr = err
	}
	if r.summary && len(reports) > 0 {
		if err := sink.WriteSummary(r.stdout, reports); err != nil {
			r.logger.WithError(err).Warn("Failed to print summary")
		}
	}

	fmt.Fprintf(r.stdout, "Time Elapsed: %s\n", time.Since(start))
	return runErr
}

// resolve looks the target up once for the whole run.
func (r *scanRunner) resolve(ctx context.Context, target string) (string, error) {
	resolver := r.resolver
	if resolver == nil {
		resolver = scanning.NetResolver{}
	}
	host, err := resolver.Resolve(ctx, target)
	if err != nil {
		if errors.IsCode(err, errors.CodeUnknown) {
			err = errors.ErrInvalidTarget(target, err)
		}
		return "", err
	}
	return host, nil
}

// hookPoolConfig lets every hook run for at least one enumeration routine.
func hookPoolConfig() workers.Config {
	cfg := workers.DefaultConfig()
	cfg.JobTimeout = enumTimeout + hookGrace
	return cfg
}

func (r *scanRunner) printPreamble(job scanning.ScanJob) {
	protocols := make([]string, 0, len(job.Protocols))
	for _, p := range job.Protocols {
		protocols = append(protocols, strings.ToUpper(string(p)))
	}

	fmt.Fprintf(r.stdout, "Scanning target: %s\n", job.Target)
	fmt.Fprintf(r.stdout, "Start-port     : %d\n", job.StartPort)
	fmt.Fprintf(r.stdout, "End-port       : %d\n", job.EndPort)
	fmt.Fprintf(r.stdout, "Threads        : %d\n", job.Concurrency)
	fmt.Fprintf(r.stdout, "Protocol       : %s\n", strings.Join(protocols, ", "))
	fmt.Fprintln(r.stdout, "---------------------------------------------")
	fmt.Fprintln(r.stdout, sink.Header)
}

// pingCheck reports reachability. Only a failure to run the check is an
// error; an unreachable host is reported and scanned anyway.
func (r *scanRunner) pingCheck(ctx context.Context, target string) error {
	result, err := r.pinger.PingCheck(ctx, target)
	if err != nil {
		return errors.WrapScanErrorWithTarget(errors.CodeScanFailed, "ping check failed", target, err)
	}
	fmt.Fprintln(r.stdout, result.Message())
	return nil
}

// runScheduled runs the scan once immediately and then on the configured
// cron schedule until ctx is done.
func (r *scanRunner) runScheduled(ctx context.Context) error {
	job := r.job()
	if err := job.Validate(); err != nil {
		return err
	}

	s := scheduler.NewScheduler()
	id, err := s.AddJob("scan "+job.Target, r.cfg.Scanning.Schedule, r.run)
	if err != nil {
		return errors.WrapConfigError(errors.CodeValidation, "invalid schedule", err)
	}
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Stop()
	stopOnDone := context.AfterFunc(ctx, s.Stop)
	defer stopOnDone()

	if err := s.Trigger(id); err != nil && errors.IsFatal(err) {
		return err
	}
	for _, j := range s.GetJobs() {
		r.logger.Info("Waiting for next scheduled run", "next_run", j.NextRun)
	}

	<-ctx.Done()
	return nil
}
