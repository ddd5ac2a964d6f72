// Package telemetry implements the Telemetry Recorder: a rolling 24h
// window of per-model execution outcomes. The window is logical —
// samples older than the horizon are excluded on read (the Redis backend
// also prunes them on each write) — backed either by Redis sorted sets for durability across
// restarts or an in-memory map for tests and single-process runs.
package telemetry

import (
	"context"
	"time"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

const Window = 24 * time.Hour

// Outcome is one execution record fed in from the Scheduler via the
// Registry's Update method.
type Outcome struct {
	ModelID    string
	Success    bool
	LatencyMS  int64
	TokensIn   int64
	TokensOut  int64
	Cost       float64
	OccurredAt time.Time
}

// Recorder accepts outcomes and serves the merged rolling window for a
// model. Implementations must be safe for concurrent use: writes take a
// short exclusive lock, reads are expected to be frequent (one per
// routing decision).
type Recorder interface {
	Record(ctx context.Context, o Outcome)
	// Window returns the model's rolling window and whether any samples
	// exist at all within the horizon. A false second return means the
	// caller should substitute NeutralPrior rather than treat a zero
	// window as "zero success rate".
	Window(ctx context.Context, modelID string) (domain.TelemetryWindow, bool)
}

// NeutralPrior is the Registry's bring-up fallback for a model with
// literally zero samples: success=1.0 rather than the Laplace-smoothed
// 0.5 a freshly-zeroed window would otherwise imply, so unseen models
// aren't penalized relative to established ones.
func NeutralPrior(modelID string) domain.TelemetryWindow {
	return domain.TelemetryWindow{
		ModelID:  modelID,
		Attempts: 0,
		Successes: 0,
		Errors:    0,
	}
}
