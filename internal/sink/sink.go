// Package sink serializes scan output to the console and an optional file.
//
// A Sink is shared by every probe goroutine and every hook. Each call writes
// one complete line under a mutex, so lines never interleave. Write failures
// are logged and counted but never stop the scan.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/olekukonko/tablewriter"

	"github.com/anstrom/neteye/internal/errors"
	"github.com/anstrom/neteye/internal/logging"
	"github.com/anstrom/neteye/internal/metrics"
	"github.com/anstrom/neteye/internal/scanning"
)

// Header is printed before results in verbose mode.
const Header = "Port        Status   Service           VERSION"

// Sink is a concurrency-safe result writer.
type Sink struct {
	mu       sync.Mutex
	console  io.Writer
	file     *os.File
	path     string
	closed   bool
	written  int
	recorder metrics.Recorder
	logger   *logging.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithMetrics counts write failures on r.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *Sink) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the logger used for write failures.
func WithLogger(l *logging.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a sink writing to console and, when path is not empty, to a
// file at path. An existing file is truncated.
func New(console io.Writer, path string, opts ...Option) (*Sink, error) {
	s := &Sink{
		console:  console,
		path:     path,
		recorder: metrics.Nop{},
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("sink")

	if path != "" {
		f, err := openOutput(path)
		if err != nil {
			return nil, err
		}
		s.file = f
	}
	return s, nil
}

func openOutput(path string) (*os.File, error) {
	// #nosec G304 - the output path is chosen by the operator
	f, err := os.Create(path)
	if err == nil {
		return f, nil
	}
	switch {
	case os.IsPermission(err):
		return nil, errors.WrapSinkError(errors.CodeFilePermission, "cannot open output file", path, err)
	case os.IsNotExist(err):
		return nil, errors.WrapSinkError(errors.CodeFileNotFound, "output directory does not exist", filepath.Dir(path), err)
	default:
		return nil, errors.WrapSinkError(errors.CodeFilePermission, "cannot open output file", path, err)
	}
}

// Record writes an open outcome as one result line. Closed outcomes are
// not written.
func (s *Sink) Record(outcome scanning.ProbeOutcome) {
	if !outcome.Open {
		return
	}
	s.WriteText(outcome.Line())
}

// WriteText writes text followed by a newline.
func (s *Sink) WriteText(text string) {
	line := strings.TrimRight(text, "\n") + "\n"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.console != nil {
		if _, err := io.WriteString(s.console, line); err != nil {
			s.writeFailed("console", err)
		}
	}
	if s.file != nil && !s.closed {
		if _, err := s.file.WriteString(line); err != nil {
			s.writeFailed(s.path, err)
		}
	}
	s.written++
}

// WriteHeader writes the verbose column header.
func (s *Sink) WriteHeader() {
	s.WriteText(Header)
}

func (s *Sink) writeFailed(dest string, err error) {
	s.recorder.IncrementSinkErrors()
	s.logger.ErrorSink("Write failed", err, "destination", dest)
}

// Lines returns the number of lines written so far.
func (s *Sink) Lines() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Path returns the output file path, if any.
func (s *Sink) Path() string {
	return s.path
}

// Finalize flushes and closes the output file. Later writes only reach the
// console.
func (s *Sink) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil || s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Sync(); err != nil {
		s.logger.Debug("Sync failed", "path", s.path, "error", err)
	}
	if err := s.file.Close(); err != nil {
		return errors.WrapSinkError(errors.CodeFilePermission, "cannot close output file", s.path, err)
	}
	return nil
}

// WriteSummary renders open outcomes of reports as a table on w.
func WriteSummary(w io.Writer, reports []*scanning.ScanReport) error {
	table := tablewriter.NewWriter(w)
	table.Header("Port", "Protocol", "Service", "Version", "Latency")

	open := 0
	for _, report := range reports {
		for _, o := range report.Open() {
			open++
			if err := table.Append([]string{
				strconv.Itoa(int(o.Port)),
				string(o.Protocol),
				o.Service,
				truncate(o.Version, 48),
				o.Latency.Round(time.Millisecond).String(),
			}); err != nil {
				return fmt.Errorf("failed to append summary row: %w", err)
			}
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render summary: %w", err)
	}

	total := 0
	for _, report := range reports {
		total += len(report.Outcomes)
	}
	_, err := fmt.Fprintf(w, "%d open of %d probed\n", open, total)
	return err
}

// truncate shortens s to at most n runes, never splitting a rune.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n-3]) + "..."
}
