// Package router implements the Router: given a task, returns a ranked
// list of candidate (model, provider) bindings scored from static
// capabilities plus a rolling telemetry window.
package router

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

const neutralSkill = 0.5

// CandidateSource is the subset of the Capability Registry the Router
// depends on.
type CandidateSource interface {
	Candidates(ctx context.Context, kind domain.TaskKind) ([]domain.Candidate, error)
	RoutingOverride(kind domain.TaskKind) (string, bool)
}

type Router struct {
	registry CandidateSource
}

func New(registry CandidateSource) *Router {
	return &Router{registry: registry}
}

// scored pairs a candidate with its computed score for sorting.
type scored struct {
	binding domain.Binding
	score   float64
	cost    float64
	modelID string
}

// Route returns an ordered list of Binding candidates for task, lowest
// index is best. Every returned binding has AttemptIndex 0 — the
// Scheduler assigns the attempt index when it actually dispatches.
func (r *Router) Route(ctx context.Context, task domain.Node) ([]domain.Binding, error) {
	candidates, err := r.registry.Candidates(ctx, task.Kind)
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}

	eligible := make([]domain.Candidate, 0, len(candidates))
	for _, c := range candidates {
		if !coversFeatures(c.Descriptor, task.RequiredFeatures) {
			continue
		}
		if c.Descriptor.ContextWindow < task.MinContextTokens {
			continue
		}
		eligible = append(eligible, c)
	}

	if len(eligible) == 0 {
		return nil, fmt.Errorf("route: %w for kind %q", domain.ErrNoCandidate, task.Kind)
	}

	maxCost := maxCostPer1k(eligible)
	maxLatency, medianLatency := latencyStats(eligible)

	scoredList := make([]scored, 0, len(eligible))
	for _, c := range eligible {
		scoredList = append(scoredList, scored{
			binding: domain.Binding{TaskID: task.ID, ModelID: c.Descriptor.ModelID, ProviderID: c.Descriptor.ProviderID},
			score:   score(c, task, maxCost, maxLatency, medianLatency),
			cost:    c.Descriptor.CostPer1kInput,
			modelID: c.Descriptor.ModelID,
		})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		if scoredList[i].cost != scoredList[j].cost {
			return scoredList[i].cost < scoredList[j].cost
		}
		return scoredList[i].modelID < scoredList[j].modelID
	})

	bindings := make([]domain.Binding, len(scoredList))
	for i, s := range scoredList {
		bindings[i] = s.binding
	}

	if override, ok := r.registry.RoutingOverride(task.Kind); ok {
		bindings = promote(bindings, override)
	}

	return bindings, nil
}

// promote moves modelID to the front of the list without removing any
// other candidate, per §4.3: an override reorders, it does not prune.
func promote(bindings []domain.Binding, modelID string) []domain.Binding {
	idx := -1
	for i, b := range bindings {
		if b.ModelID == modelID {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return bindings
	}
	out := make([]domain.Binding, 0, len(bindings))
	out = append(out, bindings[idx])
	out = append(out, bindings[:idx]...)
	out = append(out, bindings[idx+1:]...)
	return out
}

func coversFeatures(d domain.ModelDescriptor, required []domain.Feature) bool {
	for _, f := range required {
		if !d.HasFeature(f) {
			return false
		}
	}
	return true
}

func maxCostPer1k(candidates []domain.Candidate) float64 {
	max := 0.0
	for _, c := range candidates {
		if c.Descriptor.CostPer1kInput > max {
			max = c.Descriptor.CostPer1kInput
		}
	}
	return max
}

// latencyStats returns the max mean-latency among sampled candidates
// (for lat_norm) and the median (the neutral prior's latency stand-in).
func latencyStats(candidates []domain.Candidate) (max, median float64) {
	var sampled []float64
	for _, c := range candidates {
		if !c.NeutralPrior {
			sampled = append(sampled, c.Telemetry.MeanLatencyMS())
		}
	}
	if len(sampled) == 0 {
		return 0, 0
	}
	sort.Float64s(sampled)
	for _, v := range sampled {
		if v > max {
			max = v
		}
	}
	mid := len(sampled) / 2
	if len(sampled)%2 == 0 {
		median = (sampled[mid-1] + sampled[mid]) / 2
	} else {
		median = sampled[mid]
	}
	return max, median
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func score(c domain.Candidate, task domain.Node, maxCost, maxLatency, medianLatency float64) float64 {
	skill := c.Descriptor.SkillFor(task.Kind, neutralSkill)

	latency := c.Telemetry.MeanLatencyMS()
	if c.NeutralPrior {
		latency = medianLatency
	}
	latNorm := 0.0
	if maxLatency > 0 {
		latNorm = clamp01(latency / maxLatency)
	}
	perf := 0.7*c.EffectiveSuccessRate() + 0.3*(1-latNorm)

	costEff := 1.0
	if maxCost > 0 {
		costEff = 1 - clamp01(c.Descriptor.CostPer1kInput/maxCost)
	}

	contextFit := 1.0
	if task.MinContextTokens > 0 {
		contextFit = math.Min(1, float64(c.Descriptor.ContextWindow)/math.Max(float64(task.MinContextTokens), 1))
	}

	feat := 1.0
	if len(task.RequiredFeatures) > 0 {
		matched := 0
		for _, f := range task.RequiredFeatures {
			if c.Descriptor.HasFeature(f) {
				matched++
			}
		}
		feat = float64(matched) / float64(len(task.RequiredFeatures))
	}

	return 0.50*skill + 0.20*perf + 0.15*costEff + 0.10*contextFit + 0.05*feat
}
