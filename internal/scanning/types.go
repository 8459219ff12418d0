package scanning

import (
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/anstrom/neteye/internal/errors"
)

// Protocol is the transport a probe runs over.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// ParseProtocol accepts "tcp" or "udp" in any case.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(strings.TrimSpace(s))) {
	case TCP:
		return TCP, nil
	case UDP:
		return UDP, nil
	default:
		return "", errors.ErrConfigInvalid("protocol", s)
	}
}

// PortSpec is a single port tagged with the protocol to probe it over.
type PortSpec struct {
	Port     uint16
	Protocol Protocol
}

func (p PortSpec) String() string {
	return fmt.Sprintf("%d/%s", p.Port, p.Protocol)
}

// ProbeOutcome is the immutable result of one probe. When Open is false the
// service, version and raw sample are empty.
type ProbeOutcome struct {
	Target    string
	Port      uint16
	Protocol  Protocol
	Open      bool
	Service   string
	Version   string
	RawSample []byte
	Latency   time.Duration
}

// Spec returns the port and protocol the outcome describes.
func (o ProbeOutcome) Spec() PortSpec {
	return PortSpec{Port: o.Port, Protocol: o.Protocol}
}

// Line renders the outcome in the result stream format.
func (o ProbeOutcome) Line() string {
	return fmt.Sprintf("%d/%s   open   %s   %s", o.Port, o.Protocol, o.Service, o.Version)
}

func closedOutcome(target string, spec PortSpec, latency time.Duration) ProbeOutcome {
	return ProbeOutcome{
		Target:   target,
		Port:     spec.Port,
		Protocol: spec.Protocol,
		Latency:  latency,
	}
}

// ScanError represents a per-probe failure. It never escapes a probe; the
// scheduler absorbs it into a closed outcome.
type ScanError struct {
	Op   string // Operation that failed
	Err  error  // Original error
	Host string // Host where the error occurred, if applicable
	Port uint16 // Port where the error occurred, if applicable
}

func (e *ScanError) Error() string {
	if e.Host != "" && e.Port > 0 {
		return fmt.Sprintf("%s failed for %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
	}
	if e.Host != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// ScanJob is the read-only configuration of one scan.
type ScanJob struct {
	// ID correlates log lines and metrics for one run
	ID string
	// Target is a hostname or IP address. Only obviously malformed values are
	// rejected here; whether a name exists is left to the resolver.
	Target string `validate:"required,max=255,printascii,excludesall=!/?#*"`
	// StartPort and EndPort are inclusive bounds
	StartPort uint16
	EndPort   uint16 `validate:"gtefield=StartPort"`
	// Protocols are scanned in order, one report each
	Protocols []Protocol `validate:"required,min=1,dive,oneof=tcp udp"`
	// Concurrency caps the number of probes in flight
	Concurrency int `validate:"gt=0"`
	// Timeout bounds each probe
	Timeout time.Duration `validate:"gt=0"`
	// RateLimit caps probe dispatches per second, 0 for unlimited
	RateLimit int `validate:"gte=0"`
	// Inspect runs the socket inspection hook for open ports
	Inspect bool
	// Deep dispatches open TCP ports to service enumeration routines
	Deep bool
}

var validate = validator.New()

// Validate checks the job before any probe is dispatched.
func (j *ScanJob) Validate() error {
	err := validate.Struct(j)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if stderrors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("invalid scan job: %s failed %q", fe.Field(), fe.Tag()),
			strings.ToLower(fe.Field()), fe.Value())
	}
	return errors.WrapConfigError(errors.CodeValidation, "invalid scan job", err)
}

// Ports returns the port range of the job.
func (j *ScanJob) Ports() PortRange {
	return PortRange{Start: j.StartPort, End: j.EndPort}
}

// NormalizeProtocols defaults to TCP when nothing is selected and orders TCP
// before UDP.
func NormalizeProtocols(tcp, udp bool) []Protocol {
	if !tcp && !udp {
		return []Protocol{TCP}
	}
	var out []Protocol
	if tcp {
		out = append(out, TCP)
	}
	if udp {
		out = append(out, UDP)
	}
	return out
}

// ScanReport collects the outcomes of one protocol ordered by port.
type ScanReport struct {
	Target   string
	Protocol Protocol
	Started  time.Time
	Duration time.Duration
	Outcomes []ProbeOutcome
}

// insert keeps Outcomes sorted by port ascending.
func (r *ScanReport) insert(o ProbeOutcome) {
	i, _ := slices.BinarySearchFunc(r.Outcomes, o.Port, func(e ProbeOutcome, port uint16) int {
		return int(e.Port) - int(port)
	})
	r.Outcomes = slices.Insert(r.Outcomes, i, o)
}

// Open returns the open outcomes in port order.
func (r *ScanReport) Open() []ProbeOutcome {
	var open []ProbeOutcome
	for _, o := range r.Outcomes {
		if o.Open {
			open = append(open, o)
		}
	}
	return open
}
