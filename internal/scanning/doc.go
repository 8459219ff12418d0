// Package scanning provides the core port scanning engine for neteye.
//
// A ScanJob names a target, an inclusive port range, the protocols to probe
// and the concurrency and timeout limits. Scheduler.Run resolves the target
// once, then for each protocol fans the ports of the range out to a Prober
// while a Limiter keeps at most Concurrency probes in flight. Every outcome
// is forwarded to a ResultWriter as soon as its probe finishes, so console
// output follows completion order; the ScanReport returned per protocol is
// sorted by port.
//
// # Probes
//
// NetProber implements both transports:
//
//   - TCP connects, sends a generic "HEAD / HTTP/1.0" request and reads up
//     to 1024 bytes within the same timeout. A connection that cannot be
//     read from is reported open with service "unknown".
//   - UDP sends one datagram and waits for any reply. Ports 53 and 161 get
//     a DNS query and an SNMP GetRequest so that real servers answer. No
//     reply is reported as closed, which misses silent UDP services.
//
// # Classification
//
// SignatureClassifier matches the response against an ordered list of
// case-insensitive tokens and picks the first hit. The version is the line
// holding "Server:" if there is one, otherwise the first line. DNS and SNMP
// datagrams are decoded before falling back to signatures.
//
// # Hooks
//
// Hooks registered with WithHooks run for open outcomes on a workers.Pool.
// They never block probing. Run returns when probing is done and Wait joins
// the hooks that are still running.
//
// # Usage
//
//	sched := scanning.NewScheduler(scanning.NewNetProber(), out)
//	reports, err := sched.Run(ctx, scanning.ScanJob{
//		Target:      "127.0.0.1",
//		StartPort:   1,
//		EndPort:     1024,
//		Protocols:   []scanning.Protocol{scanning.TCP},
//		Concurrency: 64,
//		Timeout:     500 * time.Millisecond,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	_, _ = sched.Wait(ctx)
package scanning
