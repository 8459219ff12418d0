package inspect

import (
	"context"
	"fmt"

	"github.com/anstrom/neteye/internal/scanning"
)

var _ scanning.Hook = (*Hook)(nil)

// Hook runs an Inspector for every open port of a job with inspection
// enabled.
type Hook struct {
	inspector Inspector
}

// NewHook wraps inspector as a scanning hook.
func NewHook(inspector Inspector) *Hook {
	return &Hook{inspector: inspector}
}

// Name implements scanning.Hook.
func (h *Hook) Name() string { return "inspect" }

// Applies implements scanning.Hook.
func (h *Hook) Applies(job *scanning.ScanJob, outcome scanning.ProbeOutcome) bool {
	return job.Inspect && outcome.Open
}

// Run implements scanning.Hook. The text always starts with the
// "Inspecting port" line so a failed lookup is still visible.
func (h *Hook) Run(ctx context.Context, outcome scanning.ProbeOutcome) (string, error) {
	text := fmt.Sprintf("Inspecting port: %d", outcome.Port)
	details, err := h.inspector.Inspect(ctx, outcome.Port, outcome.Protocol)
	if details != "" {
		text += "\n" + details
	}
	return text, err
}
