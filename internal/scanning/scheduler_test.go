package scanning

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/neteye/internal/errors"
)

// memoryWriter records everything the scheduler forwards.
type memoryWriter struct {
	mu       sync.Mutex
	outcomes []ProbeOutcome
	texts    []string
}

func (w *memoryWriter) Record(o ProbeOutcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outcomes = append(w.outcomes, o)
}

func (w *memoryWriter) WriteText(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.texts = append(w.texts, text)
}

func (w *memoryWriter) Texts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.texts...)
}

// fakeProber marks the given ports open and tracks concurrency.
type fakeProber struct {
	open     map[uint16]string
	delay    time.Duration
	panicOn  uint16
	calls    atomic.Int32
	running  atomic.Int32
	maxAlive atomic.Int32
}

func (p *fakeProber) Probe(ctx context.Context, host string, spec PortSpec, timeout time.Duration) (ProbeOutcome, error) {
	p.calls.Add(1)
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		old := p.maxAlive.Load()
		if n <= old || p.maxAlive.CompareAndSwap(old, n) {
			break
		}
	}

	if p.panicOn != 0 && spec.Port == p.panicOn {
		panic("probe exploded")
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if banner, ok := p.open[spec.Port]; ok {
		service, version := SignatureClassifier{}.Classify([]byte(banner))
		return ProbeOutcome{Target: host, Port: spec.Port, Protocol: spec.Protocol, Open: true,
			Service: service, Version: version, RawSample: []byte(banner)}, nil
	}
	return closedOutcome(host, spec, 0), fmt.Errorf("connection refused")
}

type staticResolver struct {
	addr string
	err  error
}

func (r staticResolver) Resolve(context.Context, string) (string, error) {
	return r.addr, r.err
}

// recordingHook captures the outcomes it runs for.
type recordingHook struct {
	name  string
	delay time.Duration
	err   error
	mu    sync.Mutex
	ports []uint16
}

func (h *recordingHook) Name() string { return h.name }

func (h *recordingHook) Applies(job *ScanJob, o ProbeOutcome) bool { return job.Inspect && o.Open }

func (h *recordingHook) Run(ctx context.Context, o ProbeOutcome) (string, error) {
	if h.delay > 0 {
		select {
		case <-time.After(h.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	h.mu.Lock()
	h.ports = append(h.ports, o.Port)
	h.mu.Unlock()
	return fmt.Sprintf("Inspecting port: %d", o.Port), h.err
}

func baseJob() ScanJob {
	return ScanJob{
		Target:      "127.0.0.1",
		StartPort:   1,
		EndPort:     100,
		Protocols:   []Protocol{TCP},
		Concurrency: 8,
		Timeout:     100 * time.Millisecond,
	}
}

func TestScheduler_ReportSortedAndComplete(t *testing.T) {
	prober := &fakeProber{open: map[uint16]string{22: "SSH-2.0-x", 80: "HTTP/1.1 200 OK\r\nServer: t\r\n", 5: "+PONG"}}
	w := &memoryWriter{}
	s := NewScheduler(prober, w, WithResolver(staticResolver{addr: "127.0.0.1"}))

	reports, err := s.Run(context.Background(), baseJob())
	require.NoError(t, err)
	require.Len(t, reports, 1)

	report := reports[0]
	assert.Equal(t, TCP, report.Protocol)
	require.Len(t, report.Outcomes, 100)
	for i, o := range report.Outcomes {
		assert.Equal(t, uint16(i+1), o.Port)
	}

	open := report.Open()
	require.Len(t, open, 3)
	assert.Equal(t, []uint16{5, 22, 80}, []uint16{open[0].Port, open[1].Port, open[2].Port})
	assert.Equal(t, "ssh", open[1].Service)
	assert.Equal(t, "http", open[2].Service)
	assert.Equal(t, "Server: t", open[2].Version)

	assert.Len(t, w.outcomes, 100, "every outcome is forwarded to the writer")
	assert.Equal(t, int32(100), prober.calls.Load())
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	for _, limit := range []int{1, 4, 16} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			prober := &fakeProber{delay: 2 * time.Millisecond}
			s := NewScheduler(prober, &memoryWriter{}, WithResolver(staticResolver{addr: "127.0.0.1"}))

			job := baseJob()
			job.EndPort = 64
			job.Concurrency = limit
			_, err := s.Run(context.Background(), job)
			require.NoError(t, err)

			assert.LessOrEqual(t, int(prober.maxAlive.Load()), limit)
			assert.Equal(t, int32(64), prober.calls.Load())
		})
	}
}

func TestScheduler_ConcurrencyDoesNotChangeResults(t *testing.T) {
	listenPort := startTCPListener(t, func(conn net.Conn) {
		_, _ = conn.Write([]byte("SSH-2.0-OpenSSH_8.9\r\n"))
		time.Sleep(100 * time.Millisecond)
	})

	run := func(concurrency int) []ProbeOutcome {
		job := baseJob()
		job.StartPort = listenPort - 5
		job.EndPort = listenPort + 5
		job.Concurrency = concurrency
		job.Timeout = 300 * time.Millisecond

		reports, err := NewScheduler(NewNetProber(), &memoryWriter{}).Run(context.Background(), job)
		require.NoError(t, err)
		out := reports[0].Outcomes
		for i := range out {
			out[i].Latency = 0
		}
		return out
	}

	serial := run(1)
	parallel := run(64)
	require.Len(t, serial, 11)
	assert.Equal(t, serial, parallel)
}

func TestScheduler_ClosedPortsFinishWithinTimeout(t *testing.T) {
	job := ScanJob{
		Target:      "127.0.0.1",
		StartPort:   1,
		EndPort:     10,
		Protocols:   []Protocol{TCP},
		Concurrency: 2,
		Timeout:     500 * time.Millisecond,
	}

	start := time.Now()
	reports, err := NewScheduler(NewNetProber(), &memoryWriter{}).Run(context.Background(), job)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Len(t, reports[0].Outcomes, 10)
	for _, o := range reports[0].Outcomes {
		assert.False(t, o.Open, "port %d", o.Port)
	}
	assert.Less(t, elapsed, 500*time.Millisecond+250*time.Millisecond)
}

func TestScheduler_ProtocolsInOrder(t *testing.T) {
	s := NewScheduler(&fakeProber{}, &memoryWriter{}, WithResolver(staticResolver{addr: "127.0.0.1"}))

	job := baseJob()
	job.EndPort = 3
	job.Protocols = []Protocol{TCP, UDP}
	reports, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, TCP, reports[0].Protocol)
	assert.Equal(t, UDP, reports[1].Protocol)
	for _, o := range reports[1].Outcomes {
		assert.Equal(t, UDP, o.Protocol)
	}
}

func TestScheduler_DefaultsToTCP(t *testing.T) {
	s := NewScheduler(&fakeProber{}, &memoryWriter{}, WithResolver(staticResolver{addr: "127.0.0.1"}))

	job := baseJob()
	job.Protocols = nil
	job.EndPort = 2
	reports, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, TCP, reports[0].Protocol)
}

func TestScheduler_FatalErrorsBeforeProbing(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(j *ScanJob)
		resolver Resolver
		code     errors.ErrorCode
	}{
		{"inverted range", func(j *ScanJob) { j.StartPort, j.EndPort = 50, 10 }, nil, errors.CodeValidation},
		{"zero concurrency", func(j *ScanJob) { j.Concurrency = 0 }, nil, errors.CodeValidation},
		{"zero timeout", func(j *ScanJob) { j.Timeout = 0 }, nil, errors.CodeValidation},
		{"empty target", func(j *ScanJob) { j.Target = "" }, nil, errors.CodeValidation},
		{"bad protocol", func(j *ScanJob) { j.Protocols = []Protocol{"sctp"} }, nil, errors.CodeValidation},
		{
			"resolution failure",
			func(j *ScanJob) { j.Target = "nonexistent.invalid" },
			staticResolver{err: fmt.Errorf("no such host")},
			errors.CodeTargetInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{}
			w := &memoryWriter{}
			resolver := tt.resolver
			if resolver == nil {
				resolver = staticResolver{addr: "127.0.0.1"}
			}
			s := NewScheduler(prober, w, WithResolver(resolver))

			job := baseJob()
			tt.mutate(&job)
			reports, err := s.Run(context.Background(), job)

			require.Error(t, err)
			assert.Nil(t, reports)
			assert.Equal(t, tt.code, errors.GetCode(err))
			assert.True(t, errors.IsFatal(err))
			assert.Zero(t, prober.calls.Load(), "no probe may be dispatched")
			assert.Empty(t, w.outcomes)
		})
	}
}

func TestScheduler_NetResolverRejectsUnknownHost(t *testing.T) {
	job := baseJob()
	job.Target = "host.invalid"
	_, err := NewScheduler(&fakeProber{}, &memoryWriter{}).Run(context.Background(), job)
	require.Error(t, err)
	assert.Equal(t, errors.CodeTargetInvalid, errors.GetCode(err))
}

func TestScheduler_ProbePanicIsIsolated(t *testing.T) {
	prober := &fakeProber{panicOn: 7, open: map[uint16]string{8: "SSH-2.0-x"}}
	s := NewScheduler(prober, &memoryWriter{}, WithResolver(staticResolver{addr: "127.0.0.1"}))

	job := baseJob()
	job.EndPort = 10
	reports, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	require.Len(t, reports[0].Outcomes, 10)
	assert.False(t, reports[0].Outcomes[6].Open)
	assert.True(t, reports[0].Outcomes[7].Open)
}

func TestScheduler_HooksRunAsyncAndAreJoined(t *testing.T) {
	prober := &fakeProber{open: map[uint16]string{3: "SSH-2.0-a", 9: "SSH-2.0-b"}}
	hook := &recordingHook{name: "inspect", delay: 150 * time.Millisecond}
	w := &memoryWriter{}
	s := NewScheduler(prober, w, WithResolver(staticResolver{addr: "127.0.0.1"}), WithHooks(hook))

	job := baseJob()
	job.EndPort = 10
	job.Inspect = true

	start := time.Now()
	_, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "Run must not wait for hooks")

	failed, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Zero(t, failed)

	sort.Slice(hook.ports, func(i, j int) bool { return hook.ports[i] < hook.ports[j] })
	assert.Equal(t, []uint16{3, 9}, hook.ports)
	assert.ElementsMatch(t, []string{"Inspecting port: 3", "Inspecting port: 9"}, w.Texts())
}

func TestScheduler_HookFailureDoesNotFailScan(t *testing.T) {
	prober := &fakeProber{open: map[uint16]string{1: "SSH-2.0-a"}}
	hook := &recordingHook{name: "inspect", err: fmt.Errorf("lsof: command not found")}
	s := NewScheduler(prober, &memoryWriter{}, WithResolver(staticResolver{addr: "127.0.0.1"}), WithHooks(hook))

	job := baseJob()
	job.EndPort = 5
	job.Inspect = true
	reports, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Len(t, reports[0].Open(), 1)

	failed, err := s.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
}

func TestScheduler_HooksSkippedWhenNotRequested(t *testing.T) {
	prober := &fakeProber{open: map[uint16]string{1: "SSH-2.0-a"}}
	hook := &recordingHook{name: "inspect"}
	s := NewScheduler(prober, &memoryWriter{}, WithResolver(staticResolver{addr: "127.0.0.1"}), WithHooks(hook))

	job := baseJob()
	job.EndPort = 5
	_, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	_, err = s.Wait(context.Background())
	require.NoError(t, err)
	assert.Empty(t, hook.ports)
}

func TestScheduler_CancellationStopsDispatch(t *testing.T) {
	prober := &fakeProber{delay: 10 * time.Millisecond}
	s := NewScheduler(prober, &memoryWriter{}, WithResolver(staticResolver{addr: "127.0.0.1"}))

	job := baseJob()
	job.EndPort = 65535
	job.Concurrency = 4

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	reports, err := s.Run(ctx, job)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeCanceled))
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, reports, 1)
	assert.Less(t, len(reports[0].Outcomes), 65535)

	var scanErr *errors.ScanError
	require.True(t, stderrors.As(err, &scanErr))
	assert.Equal(t, "tcp", scanErr.Context["protocol"])
	assert.Equal(t, len(reports[0].Outcomes), scanErr.Context["probed"])
}

func TestScheduler_RateLimit(t *testing.T) {
	prober := &fakeProber{}
	s := NewScheduler(prober, &memoryWriter{}, WithResolver(staticResolver{addr: "127.0.0.1"}))

	job := baseJob()
	job.EndPort = 6
	job.RateLimit = 20

	start := time.Now()
	_, err := s.Run(context.Background(), job)
	require.NoError(t, err)
	// Six dispatches at 20/s with a burst of one take at least 250ms.
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestScanJob_Validate(t *testing.T) {
	job := baseJob()
	require.NoError(t, job.Validate())

	job.Target = "not a host!"
	err := job.Validate()
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.GetCode(err))

	job.Target = "http://example.com/"
	require.Error(t, job.Validate())
}

func TestScanJob_ValidateAcceptsResolvableForms(t *testing.T) {
	targets := []string{
		"localhost",
		"localhost.",
		"_ldap._tcp.example.com",
		"host_name.lan",
		"10.0.0.1",
		"::1",
		"fe80::1%eth0",
	}
	for _, target := range targets {
		t.Run(target, func(t *testing.T) {
			job := baseJob()
			job.Target = target
			assert.NoError(t, job.Validate())
		})
	}
}

func TestNetResolver_ZonedAddress(t *testing.T) {
	host, err := NetResolver{}.Resolve(context.Background(), "fe80::1%eth0")
	require.NoError(t, err)
	assert.Equal(t, "fe80::1%eth0", host)
}

func TestNormalizeProtocols(t *testing.T) {
	assert.Equal(t, []Protocol{TCP}, NormalizeProtocols(false, false))
	assert.Equal(t, []Protocol{TCP}, NormalizeProtocols(true, false))
	assert.Equal(t, []Protocol{UDP}, NormalizeProtocols(false, true))
	assert.Equal(t, []Protocol{TCP, UDP}, NormalizeProtocols(true, true))
}

func TestProbeOutcome_Line(t *testing.T) {
	o := ProbeOutcome{Port: 22, Protocol: TCP, Open: true, Service: "ssh", Version: "SSH-2.0-OpenSSH_8.9"}
	assert.Equal(t, "22/tcp   open   ssh   SSH-2.0-OpenSSH_8.9", o.Line())
}
