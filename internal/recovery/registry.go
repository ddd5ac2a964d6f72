// Package recovery implements single-host crash recovery for in-flight
// runs: a Redis heartbeat per run id, refreshed while the Engine holds
// it, and a sweep (cmd/ai3-reclaimer) that marks abandoned runs
// cancelled after the holder stops updating.
//
// Grounded on the teacher's internal/worker/reclaimer.go ticker-loop
// shape, adapted from "reclaim a stuck stream message" to "reclaim a
// stuck run": there is no consumer group here, just a liveness hash.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis hash holding one heartbeat field per run id.
const DefaultKey = "ai3:heartbeats"

// Heartbeat is the value stored per run id.
type Heartbeat struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry writes and refreshes heartbeats on behalf of in-flight runs.
// One process-wide Registry is shared by every Engine.Run/RunStream call.
type Registry struct {
	client   *redis.Client
	key      string
	interval time.Duration
}

// NewRegistry builds a Registry against key (DefaultKey if empty),
// refreshing each held heartbeat every interval.
func NewRegistry(client *redis.Client, key string, interval time.Duration) *Registry {
	if key == "" {
		key = DefaultKey
	}
	return &Registry{client: client, key: key, interval: interval}
}

// Start writes an initial heartbeat for runID and spawns a goroutine that
// refreshes it every r.interval. The returned stop func removes the
// heartbeat and must be called (typically deferred) when the run exits,
// success or failure alike — a held-but-abandoned heartbeat is exactly
// the crash scenario the reclaimer exists to detect.
func (r *Registry) Start(ctx context.Context, runID string) (stop func()) {
	if r == nil || r.client == nil {
		return func() {}
	}

	done := make(chan struct{})
	r.beat(ctx, runID)

	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				r.beat(ctx, runID)
			}
		}
	}()

	var stopped bool
	return func() {
		if stopped {
			return
		}
		stopped = true
		close(done)
		removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.client.HDel(removeCtx, r.key, runID).Err(); err != nil {
			slog.WarnContext(removeCtx, "failed to clear heartbeat", "run_id", runID, "error", err)
		}
	}
}

func (r *Registry) beat(ctx context.Context, runID string) {
	hb := Heartbeat{RunID: runID, PID: os.Getpid(), UpdatedAt: time.Now().UTC()}
	payload, err := json.Marshal(hb)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal heartbeat", "run_id", runID, "error", err)
		return
	}
	if err := r.client.HSet(ctx, r.key, runID, payload).Err(); err != nil {
		slog.WarnContext(ctx, "failed to write heartbeat", "run_id", runID, "error", err)
	}
}

// All returns every heartbeat currently recorded, parse failures skipped.
func (r *Registry) All(ctx context.Context) ([]Heartbeat, error) {
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", r.key, err)
	}
	out := make([]Heartbeat, 0, len(raw))
	for runID, v := range raw {
		var hb Heartbeat
		if err := json.Unmarshal([]byte(v), &hb); err != nil {
			slog.Warn("dropping malformed heartbeat entry", "run_id", runID, "error", err)
			continue
		}
		out = append(out, hb)
	}
	return out, nil
}

// Remove clears a single run's heartbeat, used by the reclaimer once it
// has handled (or given up on) a stale entry.
func (r *Registry) Remove(ctx context.Context, runID string) error {
	return r.client.HDel(ctx, r.key, runID).Err()
}
