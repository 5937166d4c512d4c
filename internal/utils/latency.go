package utils

import (
	"slices"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded ring of recent durations and answers percentile queries.
type LatencyTracker struct {
	mu      sync.RWMutex
	ring    []time.Duration
	next    int
	filled  bool
	maxSize int
}

// NewLatencyTracker creates a tracker storing up to maxSize samples.
func NewLatencyTracker(maxSize int) *LatencyTracker {
	if maxSize <= 0 {
		maxSize = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, maxSize), maxSize: maxSize}
}

// Observe records a new duration, overwriting the oldest sample once full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring[l.next] = d
	l.next = (l.next + 1) % l.maxSize
	if l.next == 0 {
		l.filled = true
	}
}

// Percentile returns the percentile (0-100) duration. Returns zero if no samples.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	l.mu.RLock()
	samples := slices.Clone(l.samples())
	l.mu.RUnlock()

	if len(samples) == 0 {
		return 0
	}
	slices.Sort(samples)
	switch {
	case p <= 0:
		return samples[0]
	case p >= 100:
		return samples[len(samples)-1]
	}
	index := int((p / 100.0) * float64(len(samples)-1))
	return samples[index]
}

// Count returns number of samples recorded.
func (l *LatencyTracker) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.samples())
}

func (l *LatencyTracker) samples() []time.Duration {
	if l.filled {
		return l.ring
	}
	return l.ring[:l.next]
}
