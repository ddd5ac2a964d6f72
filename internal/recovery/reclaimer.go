package recovery

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/journal"
)

// ReclaimerConfig mirrors the teacher's RedisReclaimerConfig shape:
// an idle threshold and a sweep interval.
type ReclaimerConfig struct {
	StaleAfter time.Duration // no heartbeat update within this window means abandoned
	Interval   time.Duration
}

// Reclaimer periodically scans the heartbeat Registry for runs whose
// holder stopped updating — almost always because the process holding
// them crashed — and seals their Journal entry as cancelled. It never
// re-executes a run; per spec this is single-host crash bookkeeping,
// not distributed scheduling.
type Reclaimer struct {
	registry *Registry
	journal  *journal.Journal
	cfg      ReclaimerConfig

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func NewReclaimer(registry *Registry, j *journal.Journal, cfg ReclaimerConfig) *Reclaimer {
	return &Reclaimer{
		registry:  registry,
		journal:   j,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Run blocks, sweeping every cfg.Interval until ctx is cancelled or Stop
// is called.
func (r *Reclaimer) Run(ctx context.Context) {
	defer close(r.stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "reclaimer started", "interval", r.cfg.Interval, "stale_after", r.cfg.StaleAfter)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			slog.InfoContext(ctx, "reclaimer stopping")
			return
		case <-ticker.C:
			if err := r.sweepOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim sweep error", "error", err)
			}
		}
	}
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (r *Reclaimer) Stop() {
	close(r.stopCh)
	<-r.stoppedCh
}

func (r *Reclaimer) sweepOnce(ctx context.Context) error {
	heartbeats, err := r.registry.All(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, hb := range heartbeats {
		if now.Sub(hb.UpdatedAt) < r.cfg.StaleAfter {
			continue
		}
		r.reclaimOne(ctx, hb)
	}
	return nil
}

func (r *Reclaimer) reclaimOne(ctx context.Context, hb Heartbeat) {
	slog.WarnContext(ctx, "reclaiming abandoned run", "run_id", hb.RunID, "pid", hb.PID, "last_update", hb.UpdatedAt)

	trace, err := r.journal.GetTrace(ctx, hb.RunID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load trace for reclaim, dropping heartbeat anyway", "run_id", hb.RunID, "error", err)
		_ = r.registry.Remove(ctx, hb.RunID)
		return
	}

	if !trace.Sealed {
		trace.Seal(time.Now().UTC(), &domain.Response{
			Warnings: []string{"run_cancelled: reclaimed after abandoned heartbeat, pid " + strconv.Itoa(hb.PID)},
		}, trace.Stats)
		if err := r.journal.Persist(ctx, trace); err != nil {
			slog.ErrorContext(ctx, "failed to persist reclaimed trace", "run_id", hb.RunID, "error", err)
		}
	}

	if err := r.registry.Remove(ctx, hb.RunID); err != nil {
		slog.ErrorContext(ctx, "failed to clear reclaimed heartbeat", "run_id", hb.RunID, "error", err)
	}
}
