package scanning

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/anstrom/neteye/internal/metrics"
)

// Limiter bounds the number of probes in flight.
type Limiter struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	peak     atomic.Int64
	recorder metrics.Recorder
}

// NewLimiter creates a limiter with the given capacity. Non-positive
// capacities are raised to 1.
func NewLimiter(capacity int, recorder metrics.Recorder) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		recorder: recorder,
	}
}

// Acquire blocks until a slot is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	n := l.inFlight.Add(1)
	for {
		old := l.peak.Load()
		if n <= old || l.peak.CompareAndSwap(old, n) {
			break
		}
	}
	l.recorder.ProbeStarted()
	return nil
}

// Release returns a slot taken by Acquire.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.recorder.ProbeFinished()
	l.sem.Release(1)
}

// InFlight returns the number of slots currently held.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Peak returns the highest number of slots held at once.
func (l *Limiter) Peak() int {
	return int(l.peak.Load())
}
