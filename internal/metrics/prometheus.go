// Package metrics provides Prometheus-based metrics collection for neteye.
// All collectors live on a private registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	// Namespace for all neteye metrics
	namespace = "neteye"

	// Subsystems
	subsystemProbe   = "probe"
	subsystemScan    = "scan"
	subsystemHook    = "hook"
	subsystemSink    = "sink"
	subsystemRuntime = "runtime"
)

// PrometheusMetrics holds all Prometheus metric collectors
type PrometheusMetrics struct {
	// Probe metrics
	probesTotal    *prometheus.CounterVec
	probeLatency   *prometheus.HistogramVec
	probesInFlight prometheus.Gauge

	// Scan metrics
	scansTotal   *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec

	// Hook metrics
	hooksTotal *prometheus.CounterVec

	// Sink metrics
	sinkWriteErrors prometheus.Counter

	uptime    prometheus.GaugeFunc
	startTime time.Time
	registry  *prometheus.Registry
}

// NewPrometheusMetrics creates a new Prometheus metrics instance with all collectors
func NewPrometheusMetrics() *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		startTime: time.Now(),
		registry:  registry,
	}

	pm.initProbeMetrics()
	pm.initScanMetrics()
	pm.initHookMetrics()

	pm.sinkWriteErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemSink,
			Name:      "write_errors_total",
			Help:      "Total number of result lines that failed to reach the output file",
		},
	)

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemRuntime,
			Name:      "uptime_seconds",
			Help:      "Scanner uptime in seconds",
		},
		func() float64 { return time.Since(pm.startTime).Seconds() },
	)

	pm.registerMetrics()

	// Register standard Go and process collectors for runtime visibility
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return pm
}

// initProbeMetrics initializes per-probe metrics
func (pm *PrometheusMetrics) initProbeMetrics() {
	pm.probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "total",
			Help:      "Total number of probes by protocol and resulting state",
		},
		[]string{"protocol", "state"},
	)

	pm.probeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "duration_seconds",
			Help:      "Duration of single probes in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 3.0, 5.0},
		},
		[]string{"protocol"},
	)

	pm.probesInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystemProbe,
			Name:      "in_flight",
			Help:      "Number of probes currently holding a concurrency slot",
		},
	)
}

// initScanMetrics initializes per-protocol scan metrics
func (pm *PrometheusMetrics) initScanMetrics() {
	pm.scansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "total",
			Help:      "Total number of protocol scans by protocol and status",
		},
		[]string{"protocol", "status"},
	)

	pm.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystemScan,
			Name:      "duration_seconds",
			Help:      "Duration of protocol scans in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 10.0, 30.0, 60.0, 300.0, 600.0},
		},
		[]string{"protocol"},
	)
}

// initHookMetrics initializes inspection and enumeration metrics
func (pm *PrometheusMetrics) initHookMetrics() {
	pm.hooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystemHook,
			Name:      "total",
			Help:      "Total number of post-discovery hooks by kind and status",
		},
		[]string{"kind", "status"},
	)
}

// registerMetrics registers all metrics with the Prometheus registry
func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(pm.probesTotal)
	pm.registry.MustRegister(pm.probeLatency)
	pm.registry.MustRegister(pm.probesInFlight)
	pm.registry.MustRegister(pm.scansTotal)
	pm.registry.MustRegister(pm.scanDuration)
	pm.registry.MustRegister(pm.hooksTotal)
	pm.registry.MustRegister(pm.sinkWriteErrors)
	pm.registry.MustRegister(pm.uptime)
}

// GetRegistry returns the Prometheus registry for HTTP handler
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

// ObserveProbe records one finished probe.
func (pm *PrometheusMetrics) ObserveProbe(protocol string, open bool, latency time.Duration) {
	state := "closed"
	if open {
		state = "open"
	}
	pm.probesTotal.WithLabelValues(protocol, state).Inc()
	pm.probeLatency.WithLabelValues(protocol).Observe(latency.Seconds())
}

// ProbeStarted increments the in-flight gauge.
func (pm *PrometheusMetrics) ProbeStarted() {
	pm.probesInFlight.Inc()
}

// ProbeFinished decrements the in-flight gauge.
func (pm *PrometheusMetrics) ProbeFinished() {
	pm.probesInFlight.Dec()
}

// ObserveScan records a completed protocol scan.
func (pm *PrometheusMetrics) ObserveScan(protocol, status string, duration time.Duration) {
	pm.scansTotal.WithLabelValues(protocol, status).Inc()
	pm.scanDuration.WithLabelValues(protocol).Observe(duration.Seconds())
}

// IncrementHooks counts a finished post-discovery hook.
func (pm *PrometheusMetrics) IncrementHooks(kind, status string) {
	pm.hooksTotal.WithLabelValues(kind, status).Inc()
}

// IncrementSinkErrors counts a failed file write.
func (pm *PrometheusMetrics) IncrementSinkErrors() {
	pm.sinkWriteErrors.Inc()
}
