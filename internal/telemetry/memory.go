package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

type sample struct {
	o Outcome
}

// MemoryRecorder is an in-process Recorder for tests and single-binary
// runs with no Redis configured. Samples older than Window are dropped
// lazily on read.
type MemoryRecorder struct {
	mu        sync.Mutex
	samples   map[string][]sample
	lifetime  map[string]lifetimeCounts
	now       func() time.Time
}

type lifetimeCounts struct {
	attempts  int64
	successes int64
}

// NewMemoryRecorder constructs a Recorder with the real clock. Tests can
// build one directly with an explicit now func for determinism.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{samples: make(map[string][]sample), lifetime: make(map[string]lifetimeCounts), now: time.Now}
}

// NewMemoryRecorderWithClock lets tests control "now" so windowing
// behavior (24h expiry) can be exercised deterministically.
func NewMemoryRecorderWithClock(now func() time.Time) *MemoryRecorder {
	return &MemoryRecorder{samples: make(map[string][]sample), lifetime: make(map[string]lifetimeCounts), now: now}
}

func (m *MemoryRecorder) Record(_ context.Context, o Outcome) {
	if o.OccurredAt.IsZero() {
		o.OccurredAt = m.now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[o.ModelID] = append(m.samples[o.ModelID], sample{o: o})

	lc := m.lifetime[o.ModelID]
	lc.attempts++
	if o.Success {
		lc.successes++
	}
	m.lifetime[o.ModelID] = lc
}

// Lifetime returns the monotonic, never-aged attempt/success counters
// for a model — distinct from the rolling Window used for routing.
func (m *MemoryRecorder) Lifetime(modelID string) (attempts, successes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lc := m.lifetime[modelID]
	return lc.attempts, lc.successes
}

func (m *MemoryRecorder) Window(_ context.Context, modelID string) (domain.TelemetryWindow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-Window)
	all := m.samples[modelID]
	kept := all[:0:0]

	w := domain.TelemetryWindow{ModelID: modelID}
	for _, s := range all {
		if s.o.OccurredAt.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
		w.Attempts++
		if s.o.Success {
			w.Successes++
		} else {
			w.Errors++
		}
		w.TotalLatencyMS += s.o.LatencyMS
		w.TokensIn += s.o.TokensIn
		w.TokensOut += s.o.TokensOut
		w.CostTotal += s.o.Cost
	}
	m.samples[modelID] = kept

	return w, w.Attempts > 0
}
