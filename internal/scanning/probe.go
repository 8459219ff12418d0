package scanning

import (
	"context"
	"net"
	"strconv"
	"time"
)

// readBufferSize is the largest banner a probe reads.
const readBufferSize = 1024

// Prober runs a single probe against an already resolved host.
type Prober interface {
	// Probe always returns a usable outcome. The error explains a closed or
	// unidentified result and is informational only.
	Probe(ctx context.Context, host string, spec PortSpec, timeout time.Duration) (ProbeOutcome, error)
}

// NetProber probes with real sockets.
type NetProber struct {
	Classifier Classifier
}

// NewNetProber creates a prober using the signature classifier.
func NewNetProber() *NetProber {
	return &NetProber{Classifier: SignatureClassifier{}}
}

// Probe dispatches on the protocol of spec.
func (p *NetProber) Probe(ctx context.Context, host string, spec PortSpec, timeout time.Duration) (ProbeOutcome, error) {
	switch spec.Protocol {
	case UDP:
		return p.probeUDP(ctx, host, spec, timeout)
	default:
		return p.probeTCP(ctx, host, spec, timeout)
	}
}

// probeTCP connects, sends a generic request and reads one banner, all
// within timeout. A connection that yields no bytes is still open.
func (p *NetProber) probeTCP(ctx context.Context, host string, spec PortSpec, timeout time.Duration) (ProbeOutcome, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(int(spec.Port)))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return closedOutcome(host, spec, time.Since(start)), &ScanError{Op: "connect", Host: host, Port: spec.Port, Err: err}
	}
	defer conn.Close()

	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	outcome := ProbeOutcome{
		Target:   host,
		Port:     spec.Port,
		Protocol: spec.Protocol,
		Open:     true,
		Service:  string(ServiceUnknown),
		Version:  string(ServiceUnknown),
	}

	// Servers that speak first have usually sent their banner already, so a
	// failed write still leaves something to read.
	_, writeErr := conn.Write(tcpProbe)

	buf := make([]byte, readBufferSize)
	n, readErr := conn.Read(buf)
	outcome.Latency = time.Since(start)
	if n == 0 {
		if readErr == nil {
			readErr = writeErr
		}
		return outcome, &ScanError{Op: "read banner", Host: host, Port: spec.Port, Err: readErr}
	}

	p.identify(&outcome, buf[:n], false)
	return outcome, nil
}

// probeUDP sends one datagram and waits up to timeout for any reply. No
// reply is reported as closed even though the port may be open.
func (p *NetProber) probeUDP(ctx context.Context, host string, spec PortSpec, timeout time.Duration) (ProbeOutcome, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	addr := net.JoinHostPort(host, strconv.Itoa(int(spec.Port)))
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return closedOutcome(host, spec, time.Since(start)), &ScanError{Op: "bind", Host: host, Port: spec.Port, Err: err}
	}
	defer conn.Close()

	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(udpPayload(spec.Port)); err != nil {
		return closedOutcome(host, spec, time.Since(start)), &ScanError{Op: "send", Host: host, Port: spec.Port, Err: err}
	}

	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if n == 0 {
		return closedOutcome(host, spec, time.Since(start)), &ScanError{Op: "receive", Host: host, Port: spec.Port, Err: err}
	}

	outcome := ProbeOutcome{
		Target:   host,
		Port:     spec.Port,
		Protocol: spec.Protocol,
		Open:     true,
		Latency:  time.Since(start),
	}
	p.identify(&outcome, buf[:n], true)
	return outcome, nil
}

func (p *NetProber) identify(outcome *ProbeOutcome, raw []byte, datagram bool) {
	outcome.RawSample = append([]byte(nil), raw...)

	if datagram {
		if service, version, ok := decodeDatagram(raw); ok {
			outcome.Service, outcome.Version = service, version
			return
		}
	}

	classifier := p.Classifier
	if classifier == nil {
		classifier = SignatureClassifier{}
	}
	outcome.Service, outcome.Version = classifier.Classify(raw)
}
