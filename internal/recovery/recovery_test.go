package recovery

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/journal"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRegistry_StartWritesAndStopRemovesHeartbeat(t *testing.T) {
	client := newTestRedis(t)
	reg := NewRegistry(client, "", time.Hour)

	stop := reg.Start(context.Background(), "run_1")

	heartbeats, err := reg.All(context.Background())
	require.NoError(t, err)
	require.Len(t, heartbeats, 1)
	require.Equal(t, "run_1", heartbeats[0].RunID)

	stop()

	heartbeats, err = reg.All(context.Background())
	require.NoError(t, err)
	require.Empty(t, heartbeats)
}

func TestRegistry_RefreshesOnInterval(t *testing.T) {
	client := newTestRedis(t)
	reg := NewRegistry(client, "", 10*time.Millisecond)

	stop := reg.Start(context.Background(), "run_1")
	defer stop()

	first, _ := reg.All(context.Background())
	require.Len(t, first, 1)
	firstSeen := first[0].UpdatedAt

	require.Eventually(t, func() bool {
		current, err := reg.All(context.Background())
		return err == nil && len(current) == 1 && current[0].UpdatedAt.After(firstSeen)
	}, time.Second, 5*time.Millisecond)
}

func TestReclaimer_SweepSealsAbandonedRunAndClearsHeartbeat(t *testing.T) {
	client := newTestRedis(t)
	reg := NewRegistry(client, "", time.Hour)
	j, err := journal.New(t.TempDir(), nil)
	require.NoError(t, err)

	graph := domain.TaskGraph{Nodes: []domain.Node{{ID: "n1", Kind: domain.KindGeneral, PromptText: "x", Terminal: true}}}
	trace := domain.NewRunTrace("20260101_000000_abcdef", "x", graph, time.Now().UTC())
	require.NoError(t, j.Persist(context.Background(), trace))

	require.NoError(t, client.HSet(context.Background(), DefaultKey, trace.RunID, mustJSON(Heartbeat{
		RunID: trace.RunID, PID: 1234, UpdatedAt: time.Now().UTC().Add(-time.Hour),
	})).Err())

	reclaimer := NewReclaimer(reg, j, ReclaimerConfig{StaleAfter: time.Minute, Interval: time.Hour})
	require.NoError(t, reclaimer.sweepOnce(context.Background()))

	rehydrated, err := j.GetTrace(context.Background(), trace.RunID)
	require.NoError(t, err)
	require.True(t, rehydrated.Sealed)
	require.NotNil(t, rehydrated.Response)
	require.Contains(t, rehydrated.Response.Warnings[0], "reclaimed")

	remaining, err := reg.All(context.Background())
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestReclaimer_SkipsHeartbeatsWithinStaleWindow(t *testing.T) {
	client := newTestRedis(t)
	reg := NewRegistry(client, "", time.Hour)
	j, err := journal.New(t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, client.HSet(context.Background(), DefaultKey, "run_fresh", mustJSON(Heartbeat{
		RunID: "run_fresh", PID: 1, UpdatedAt: time.Now().UTC(),
	})).Err())

	reclaimer := NewReclaimer(reg, j, ReclaimerConfig{StaleAfter: time.Minute, Interval: time.Hour})
	require.NoError(t, reclaimer.sweepOnce(context.Background()))

	remaining, err := reg.All(context.Background())
	require.NoError(t, err)
	require.Len(t, remaining, 1)
}

func mustJSON(hb Heartbeat) []byte {
	b, err := json.Marshal(hb)
	if err != nil {
		panic(err)
	}
	return b
}
