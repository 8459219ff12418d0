//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_inspector.go -package=mocks github.com/anstrom/neteye/internal/inspect Inspector

// Package inspect looks up which local process owns a port that a scan
// found open, using the platform's socket listing tool.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/anstrom/neteye/internal/scanning"
)

// Inspector describes the process bound to a local port.
type Inspector interface {
	Inspect(ctx context.Context, port uint16, protocol scanning.Protocol) (string, error)
}

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// SocketInspector shells out to lsof on Unix-like systems and netstat on
// Windows.
type SocketInspector struct {
	GOOS string
	Run  CommandRunner
}

// NewSocketInspector creates an inspector for the running platform.
func NewSocketInspector() *SocketInspector {
	return &SocketInspector{GOOS: runtime.GOOS, Run: execCommand}
}

func execCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 - arguments are built from a validated port number
	return exec.CommandContext(ctx, name, args...).Output()
}

// Command returns the command line used to inspect port.
func (i *SocketInspector) Command(port uint16, protocol scanning.Protocol) (string, []string) {
	p := strconv.Itoa(int(port))
	if i.GOOS == "windows" {
		return "cmd", []string{"/C", "netstat -ano | findstr :" + p}
	}
	return "lsof", []string{"-i" + string(protocol) + ":" + p}
}

// Inspect runs the listing tool and returns its output. Both tools exit
// with status 1 when nothing matches, which is reported as an empty result
// rather than an error.
func (i *SocketInspector) Inspect(ctx context.Context, port uint16, protocol scanning.Protocol) (string, error) {
	run := i.Run
	if run == nil {
		run = execCommand
	}
	name, args := i.Command(port, protocol)

	out, err := run(ctx, name, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(strings.TrimSpace(string(out))) == 0 {
			return "", nil
		}
		return "", fmt.Errorf("%s failed for port %d: %w", name, port, err)
	}
	return strings.TrimRight(string(out), "\r\n"), nil
}
