package enum

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/neteye/internal/logging"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_enumerator.go -package=mocks github.com/anstrom/neteye/internal/enum Enumerator

// Enumerator runs an enumeration routine against one port.
type Enumerator interface {
	Enumerate(ctx context.Context, host string, port uint16, routine Routine) (string, error)
}

// scripts maps each routine to the NSE scripts it runs.
var scripts = map[Routine][]string{
	RoutineHTTP:  {"http-enum", "http-title", "http-headers"},
	RoutineSSH:   {"ssh2-enum-algos", "ssh-hostkey"},
	RoutineFTP:   {"ftp-anon", "ftp-syst"},
	RoutineSMTP:  {"smtp-commands", "smtp-enum-users"},
	RoutineSMB:   {"smb-os-discovery", "smb-enum-shares"},
	RoutineSNMP:  {"snmp-info", "snmp-sysdescr"},
	RoutineDNS:   {"dns-nsid", "dns-recursion"},
	RoutineMySQL: {"mysql-info"},
	RoutineRDP:   {"rdp-enum-encryption", "rdp-ntlm-info"},
}

// Scripts returns the NSE scripts for routine.
func Scripts(routine Routine) []string {
	return scripts[routine]
}

// RunFunc executes an nmap scan built from opts.
type RunFunc func(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error)

// NmapEnumerator runs routines as nmap script scans.
type NmapEnumerator struct {
	Timeout time.Duration
	Run     RunFunc
}

// NewNmapEnumerator creates an enumerator bounded by timeout per routine.
func NewNmapEnumerator(timeout time.Duration) *NmapEnumerator {
	return &NmapEnumerator{
		Timeout: timeout,
		Run:     runNmap,
	}
}

func runNmap(ctx context.Context, opts ...nmap.Option) (*nmap.Run, error) {
	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("nmap script scan failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		logging.Debug("Script scan completed with warnings", "warnings", *warnings)
	}
	return result, nil
}

// Options builds the nmap options for one routine.
func Options(host string, port uint16, routine Routine) []nmap.Option {
	return []nmap.Option{
		nmap.WithTargets(host),
		nmap.WithPorts(strconv.Itoa(int(port))),
		nmap.WithSkipHostDiscovery(),
		nmap.WithConnectScan(),
		nmap.WithScripts(Scripts(routine)...),
		nmap.WithTimingTemplate(nmap.TimingAggressive),
	}
}

// Enumerate implements Enumerator.
func (e *NmapEnumerator) Enumerate(ctx context.Context, host string, port uint16, routine Routine) (string, error) {
	if len(Scripts(routine)) == 0 {
		return "", fmt.Errorf("unknown enumeration routine %q", routine)
	}
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	run := e.Run
	if run == nil {
		run = runNmap
	}
	result, err := run(ctx, Options(host, port, routine)...)
	if err != nil {
		return "", err
	}
	return FormatScripts(result, port), nil
}

// FormatScripts renders the script output nmap reported for port.
func FormatScripts(result *nmap.Run, port uint16) string {
	if result == nil {
		return ""
	}
	var b strings.Builder
	for i := range result.Hosts {
		for j := range result.Hosts[i].Ports {
			p := &result.Hosts[i].Ports[j]
			if p.ID != port {
				continue
			}
			for _, s := range p.Scripts {
				fmt.Fprintf(&b, "| %s: %s\n", s.ID, strings.TrimSpace(s.Output))
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
