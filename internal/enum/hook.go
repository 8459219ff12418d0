package enum

import (
	"context"
	"fmt"

	"github.com/anstrom/neteye/internal/scanning"
)

var _ scanning.Hook = (*Hook)(nil)

// Hook dispatches open TCP outcomes of deep jobs to an Enumerator.
type Hook struct {
	enumerator Enumerator
}

// NewHook wraps enumerator as a scanning hook.
func NewHook(enumerator Enumerator) *Hook {
	return &Hook{enumerator: enumerator}
}

// Name implements scanning.Hook.
func (h *Hook) Name() string { return "enum" }

// Applies implements scanning.Hook. Only services with a routine qualify.
func (h *Hook) Applies(job *scanning.ScanJob, outcome scanning.ProbeOutcome) bool {
	if !job.Deep || !outcome.Open || outcome.Protocol != scanning.TCP {
		return false
	}
	_, ok := Lookup(outcome.Service)
	return ok
}

// Run implements scanning.Hook.
func (h *Hook) Run(ctx context.Context, outcome scanning.ProbeOutcome) (string, error) {
	routine, ok := Lookup(outcome.Service)
	if !ok {
		return "", nil
	}
	text := fmt.Sprintf("Enumerating %s on port %d (%s)", outcome.Service, outcome.Port, routine)
	details, err := h.enumerator.Enumerate(ctx, outcome.Target, outcome.Port, routine)
	if details != "" {
		text += "\n" + details
	}
	return text, err
}
