// Package engine ties the Planner, Scheduler, Assembler, and Journal
// into the single Run/RunStream entrypoint a client actually calls.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/petec4244/Ai3-Orchestrator/common/id"
	"github.com/petec4244/Ai3-Orchestrator/internal/assembler"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/journal"
	"github.com/petec4244/Ai3-Orchestrator/internal/planner"
	"github.com/petec4244/Ai3-Orchestrator/internal/providers"
	"github.com/petec4244/Ai3-Orchestrator/internal/recovery"
	"github.com/petec4244/Ai3-Orchestrator/internal/registry"
	"github.com/petec4244/Ai3-Orchestrator/internal/router"
	"github.com/petec4244/Ai3-Orchestrator/internal/scheduler"
	"github.com/petec4244/Ai3-Orchestrator/internal/verifier"
)

// Options configures one run; CLI flags and HTTP request bodies both
// funnel into this shape.
type Options struct {
	GlobalMax      int
	PerProviderMax int
	VerifyEnabled  bool
	RepairLimit    int
	PlannerModel   string
	PlannerMaxTokens int
	PlannerTemperature float64
	Timeout        time.Duration
}

// Engine is process-wide: one instance is constructed at startup and
// reused across runs. Each Run/RunStream call builds its own Scheduler
// and RunTrace, so calls are safe to issue concurrently.
type Engine struct {
	planner   *planner.Planner
	registry  *registry.Registry
	router    *router.Router
	bank      *providers.Bank
	verifier  *verifier.Verifier
	assembler *assembler.Assembler
	journal   *journal.Journal
	heartbeat *recovery.Registry
}

func New(
	p *planner.Planner,
	reg *registry.Registry,
	bank *providers.Bank,
	v *verifier.Verifier,
	asm *assembler.Assembler,
	j *journal.Journal,
	heartbeat *recovery.Registry,
) *Engine {
	return &Engine{
		planner:   p,
		registry:  reg,
		router:    router.New(reg),
		bank:      bank,
		verifier:  v,
		assembler: asm,
		journal:   j,
		heartbeat: heartbeat,
	}
}

// Run executes prompt to completion and returns the sealed RunTrace.
func (e *Engine) Run(ctx context.Context, prompt string, opts Options) (*domain.RunTrace, error) {
	return e.execute(ctx, prompt, opts, func(domain.Event) {})
}

// RunStream is identical to Run but additionally calls emit for every
// event in the streaming vocabulary as it occurs.
func (e *Engine) RunStream(ctx context.Context, prompt string, opts Options, emit func(domain.Event)) (*domain.RunTrace, error) {
	return e.execute(ctx, prompt, opts, emit)
}

func (e *Engine) execute(ctx context.Context, prompt string, opts Options, emit func(domain.Event)) (*domain.RunTrace, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	runID := id.NewRunID(time.Now())
	startedAt := time.Now()

	stopHeartbeat := e.heartbeat.Start(context.Background(), runID)
	defer stopHeartbeat()

	emit(domain.Event{Type: domain.EventAccepted, Payload: domain.AcceptedPayload{RunID: runID}})

	graph, err := e.planner.Plan(ctx, prompt, planner.Options{
		MaxTokens:   opts.PlannerMaxTokens,
		Temperature: floatPtr(opts.PlannerTemperature),
	})
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	applyRepairLimit(&graph, opts.RepairLimit)

	trace := domain.NewRunTrace(runID, prompt, graph, startedAt)

	taskIDs := make([]string, len(graph.Nodes))
	for i, n := range graph.Nodes {
		taskIDs[i] = n.ID
	}
	emit(domain.Event{Type: domain.EventPlan, Payload: domain.PlanPayload{TaskCount: len(graph.Nodes), TaskIDs: taskIDs}})

	sched := scheduler.New(e.router, e.bank, e.verifier, e.registry, emit)
	artifacts, err := sched.Run(ctx, trace, scheduler.Options{
		GlobalMax:      opts.GlobalMax,
		PerProviderMax: opts.PerProviderMax,
		SkipVerify:     !opts.VerifyEnabled,
	})
	if err != nil {
		e.sealFailed(ctx, trace, startedAt, err)
		return trace, &domain.RunOutcomeError{RunID: runID, Err: classifyRunError(ctx, err)}
	}

	emit(domain.Event{Type: domain.EventAssembleStart, Payload: domain.AssembleStartPayload{}})

	verdictScore := make(map[string]float64, len(trace.Verdicts))
	for _, v := range trace.Verdicts {
		verdictScore[v.ArtifactID] = v.Score
	}
	resp, err := e.assembler.Assemble(ctx, trace.Graph.TerminalNodes(), artifacts, verdictScore)
	if err != nil {
		e.sealFailed(ctx, trace, startedAt, err)
		return trace, &domain.RunOutcomeError{RunID: runID, Err: err}
	}

	stats := computeStats(trace, startedAt)
	trace.Seal(time.Now(), &resp, stats)

	emit(domain.Event{Type: domain.EventFinal, Payload: domain.FinalPayload{
		Content: resp.Content, Confidence: resp.Confidence, Warnings: resp.Warnings,
	}})
	emit(domain.Event{Type: domain.EventStats, Payload: domain.StatsPayload{Stats: stats}})

	if e.journal != nil {
		if perr := e.journal.Persist(ctx, trace); perr != nil {
			return trace, fmt.Errorf("run %s: %w", runID, perr)
		}
	}

	return trace, nil
}

func (e *Engine) sealFailed(ctx context.Context, trace *domain.RunTrace, startedAt time.Time, cause error) {
	stats := computeStats(trace, startedAt)
	stats.TasksFailed = countFailedVerdicts(trace)
	trace.Seal(time.Now(), nil, stats)
	if e.journal != nil {
		_ = e.journal.Persist(ctx, trace)
	}
}

// classifyRunError maps a scheduler failure plus the run's context state
// onto the RunError sentinel hierarchy the CLI and HTTP layer report.
func classifyRunError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return domain.ErrRunTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		return domain.ErrCancelled
	case errors.Is(err, domain.ErrConfiguration):
		return domain.ErrConfiguration
	default:
		return domain.ErrAllCandidatesFailed
	}
}

// applyRepairLimit clamps every node's repair_budget to the run-level
// --repair-limit (or AI3_REPAIR_LIMIT) ceiling; a negative limit means
// "leave the planner's per-node budgets alone".
func applyRepairLimit(graph *domain.TaskGraph, limit int) {
	if limit < 0 {
		return
	}
	for i := range graph.Nodes {
		if graph.Nodes[i].RepairBudget > limit {
			graph.Nodes[i].RepairBudget = limit
		}
	}
}

// computeStats derives the aggregate numbers from the trace's bindings,
// artifacts, and verdicts rather than the raw node count: a repair
// insertion adds a graph node but is still the same logical task, so
// tasks_executed counts distinct reported task ids, not graph nodes.
func computeStats(trace *domain.RunTrace, startedAt time.Time) domain.RunStats {
	trace.Mu.Lock()
	defer trace.Mu.Unlock()

	stats := domain.RunStats{WallTimeMS: time.Since(startedAt).Milliseconds()}

	executed := make(map[string]struct{})
	for _, art := range trace.Artifacts {
		executed[art.TaskID] = struct{}{}
		stats.TokensIn += int64(art.InputTokens)
		stats.TokensOut += int64(art.OutputTokens)
	}
	stats.TasksExecuted = len(executed)

	for _, v := range trace.Verdicts {
		if !v.Passed && v.RepairDirective != nil {
			stats.TasksRepaired++
		}
	}
	return stats
}

func countFailedVerdicts(trace *domain.RunTrace) int {
	trace.Mu.Lock()
	defer trace.Mu.Unlock()
	count := 0
	for _, v := range trace.Verdicts {
		if !v.Passed {
			count++
		}
	}
	return count
}

func floatPtr(f float64) *float64 { return &f }
