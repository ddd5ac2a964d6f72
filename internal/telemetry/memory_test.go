package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petec4244/Ai3-Orchestrator/internal/telemetry"
)

func TestMemoryRecorder_WindowAggregatesRecentSamples(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	rec := telemetry.NewMemoryRecorderWithClock(clock)

	rec.Record(context.Background(), telemetry.Outcome{ModelID: "m1", Success: true, LatencyMS: 100})
	rec.Record(context.Background(), telemetry.Outcome{ModelID: "m1", Success: false, LatencyMS: 200})

	w, ok := rec.Window(context.Background(), "m1")
	require.True(t, ok)
	require.Equal(t, int64(2), w.Attempts)
	require.Equal(t, int64(1), w.Successes)
	require.Equal(t, int64(1), w.Errors)
	require.Equal(t, int64(300), w.TotalLatencyMS)
}

func TestMemoryRecorder_ExpiresSamplesOutsideWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	rec := telemetry.NewMemoryRecorderWithClock(clock)

	rec.Record(context.Background(), telemetry.Outcome{ModelID: "m1", Success: true})

	now = now.Add(telemetry.Window + time.Minute)
	w, ok := rec.Window(context.Background(), "m1")
	require.False(t, ok)
	require.Equal(t, int64(0), w.Attempts)
}

func TestMemoryRecorder_UnknownModelHasNoWindow(t *testing.T) {
	rec := telemetry.NewMemoryRecorder()
	w, ok := rec.Window(context.Background(), "never-seen")
	require.False(t, ok)
	require.Equal(t, "never-seen", w.ModelID)
}

func TestMemoryRecorder_LifetimeCountsNeverAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	rec := telemetry.NewMemoryRecorderWithClock(clock)

	rec.Record(context.Background(), telemetry.Outcome{ModelID: "m1", Success: true})
	now = now.Add(telemetry.Window * 2)
	rec.Record(context.Background(), telemetry.Outcome{ModelID: "m1", Success: false})

	attempts, successes := rec.Lifetime("m1")
	require.Equal(t, int64(2), attempts)
	require.Equal(t, int64(1), successes)
}
