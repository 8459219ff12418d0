package metrics

import "time"

// Recorder is the metrics surface consumed by the scanning core, the sink and
// the hook pool. It allows scans to run without Prometheus in tests.
type Recorder interface {
	// ObserveProbe records the state and latency of one finished probe.
	ObserveProbe(protocol string, open bool, latency time.Duration)

	// ProbeStarted and ProbeFinished bracket a probe holding a concurrency slot.
	ProbeStarted()
	ProbeFinished()

	// ObserveScan records a completed protocol scan.
	ObserveScan(protocol, status string, duration time.Duration)

	// IncrementHooks counts a finished inspection or enumeration hook.
	IncrementHooks(kind, status string)

	// IncrementSinkErrors counts a result line that failed to reach the file.
	IncrementSinkErrors()
}

// Ensure that PrometheusMetrics implements Recorder interface.
var _ Recorder = (*PrometheusMetrics)(nil)

// Nop is a Recorder that discards everything.
type Nop struct{}

func (Nop) ObserveProbe(string, bool, time.Duration) {}
func (Nop) ProbeStarted() {}
func (Nop) ProbeFinished() {}
func (Nop) ObserveScan(string, string, time.Duration) {}
func (Nop) IncrementHooks(string, string) {}
func (Nop) IncrementSinkErrors() {}

var _ Recorder = Nop{}
