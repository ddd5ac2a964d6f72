package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petec4244/Ai3-Orchestrator/common/logger"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

// RedisRecorder persists outcomes in a per-model sorted set keyed by
// occurrence time, giving the window durability across process
// restarts. Score is the Unix millisecond timestamp; member is the
// JSON-encoded sample. ZREMRANGEBYSCORE on each write prunes samples
// older than Window so the set doesn't grow unbounded.
type RedisRecorder struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisRecorder(client *redis.Client, keyPrefix string) *RedisRecorder {
	if keyPrefix == "" {
		keyPrefix = "ai3:telemetry"
	}
	return &RedisRecorder{client: client, keyPrefix: keyPrefix}
}

func (r *RedisRecorder) key(modelID string) string {
	return fmt.Sprintf("%s:%s", r.keyPrefix, modelID)
}

func (r *RedisRecorder) Record(ctx context.Context, o Outcome) {
	if o.OccurredAt.IsZero() {
		o.OccurredAt = time.Now()
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ai3.telemetry.redis", ModelID: o.ModelID})

	payload, err := json.Marshal(o)
	if err != nil {
		slog.ErrorContext(ctx, "telemetry: marshal outcome failed", "error", err)
		return
	}

	key := r.key(o.ModelID)
	score := float64(o.OccurredAt.UnixMilli())
	cutoff := float64(time.Now().Add(-Window).UnixMilli())

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: payload})
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.Expire(ctx, key, Window+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.ErrorContext(ctx, "telemetry: record outcome failed", "error", err)
	}
}

func (r *RedisRecorder) Window(ctx context.Context, modelID string) (domain.TelemetryWindow, bool) {
	key := r.key(modelID)
	cutoff := fmt.Sprintf("%d", time.Now().Add(-Window).UnixMilli())

	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
	if err != nil {
		slog.ErrorContext(ctx, "telemetry: window query failed", "error", err, "model_id", modelID)
		return domain.TelemetryWindow{ModelID: modelID}, false
	}

	w := domain.TelemetryWindow{ModelID: modelID}
	for _, m := range members {
		var o Outcome
		if err := json.Unmarshal([]byte(m), &o); err != nil {
			continue
		}
		w.Attempts++
		if o.Success {
			w.Successes++
		} else {
			w.Errors++
		}
		w.TotalLatencyMS += o.LatencyMS
		w.TokensIn += o.TokensIn
		w.TokensOut += o.TokensOut
		w.CostTotal += o.Cost
	}

	return w, w.Attempts > 0
}
