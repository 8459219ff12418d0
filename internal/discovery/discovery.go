// Package discovery checks whether a target host is reachable before it is
// scanned, using an nmap ping scan.
package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/neteye/internal/logging"
)

const (
	defaultTimeout = 3 * time.Second
	// nmap needs more than the per-host timeout for probe retries.
	timeoutMultiplier = 10
	hostStateUp       = "up"
)

// RunFunc executes an nmap scan built from opts.
type RunFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error)

// Engine runs reachability checks.
type Engine struct {
	timeout time.Duration
	run     RunFunc
	logger  *logging.Logger
}

// Result reports the reachability of one target.
type Result struct {
	Target       string
	Address      string
	Up           bool
	Reason       string
	ResponseTime time.Duration
}

// NewEngine creates a discovery engine backed by the nmap binary.
func NewEngine() *Engine {
	return &Engine{
		timeout: defaultTimeout,
		run:     runNmap,
		logger:  logging.Default().WithComponent("discovery"),
	}
}

// SetTimeout sets the timeout for one host check.
func (e *Engine) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// SetRunner replaces the function that executes nmap.
func (e *Engine) SetRunner(run RunFunc) {
	e.run = run
}

func runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("nmap discovery failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		logging.Debug("Discovery completed with warnings", "warnings", *warnings)
	}
	return result, nil
}

// buildNmapOptions constructs nmap options based on target and timeout.
func buildNmapOptions(target string, timeout time.Duration) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(target),
		nmap.WithPingScan(), // Host discovery only, no port scan
	}

	if timeout <= 5*time.Second {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	} else if timeout <= 15*time.Second {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	} else {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingPolite))
	}

	return options
}

// PingCheck reports whether target answers a ping scan. An error means the
// check itself could not run; an unreachable host is not an error.
func (e *Engine) PingCheck(ctx context.Context, target string) (Result, error) {
	timeout := e.timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout*timeoutMultiplier)
	defer cancel()

	start := time.Now()
	result, err := e.run(ctx, buildNmapOptions(target, timeout)...)
	if err != nil {
		e.logger.Error("Ping check failed", "target", target, "error", err)
		return Result{Target: target}, err
	}

	out := hostResult(result, target)
	out.ResponseTime = time.Since(start)
	e.logger.Debug("Ping check finished", "target", target, "up", out.Up, "reason", out.Reason)
	return out, nil
}

// hostResult picks the first responsive host from an nmap run.
func hostResult(run *nmap.Run, target string) Result {
	out := Result{Target: target}
	if run == nil {
		return out
	}
	for i := range run.Hosts {
		host := &run.Hosts[i]
		if host.Status.State != hostStateUp {
			continue
		}
		out.Up = true
		out.Reason = host.Status.Reason
		if len(host.Addresses) > 0 {
			out.Address = host.Addresses[0].Addr
		}
		return out
	}
	return out
}

// Message renders the line printed for a ping check.
func (r Result) Message() string {
	if r.Up {
		return fmt.Sprintf("Ping to %s succeeded!", r.Target)
	}
	return fmt.Sprintf("Ping to %s failed!", r.Target)
}
