// Package assembler implements the Assembler: merges the terminal
// artifacts of a completed run into the single Response returned to the
// caller.
package assembler

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/petec4244/Ai3-Orchestrator/common/llm"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

// Synthesizer performs the one LLM call the synthesize strategy needs
// when terminal artifacts of differing kinds must be merged into one
// coherent response.
type Synthesizer interface {
	Synthesize(ctx context.Context, artifacts []domain.Artifact) (string, error)
}

type Assembler struct {
	synth Synthesizer
}

func New(synth Synthesizer) *Assembler {
	return &Assembler{synth: synth}
}

// Assemble picks a strategy from the terminal set's shape and returns
// the merged Response. verdictScore maps an artifact id to its verdict
// score, used for confidence and best_single selection.
func (a *Assembler) Assemble(ctx context.Context, terminals []domain.Node, artifacts []domain.Artifact, verdictScore map[string]float64) (domain.Response, error) {
	if len(artifacts) == 0 {
		return domain.Response{}, fmt.Errorf("assembler: no terminal artifacts to assemble")
	}

	switch strategyFor(terminals, artifacts) {
	case strategyBestSingle:
		return a.bestSingle(artifacts, verdictScore), nil
	case strategyConcatenate:
		return a.concatenate(terminals, artifacts, verdictScore), nil
	default:
		return a.synthesize(ctx, artifacts, verdictScore)
	}
}

type strategy int

const (
	strategyBestSingle strategy = iota
	strategyConcatenate
	strategySynthesize
)

// strategyFor implements the selection rule from §4.7: one artifact ->
// best_single (trivially, there is only one to pick); multiple sharing
// a task kind -> concatenate; otherwise synthesize.
func strategyFor(terminals []domain.Node, artifacts []domain.Artifact) strategy {
	if len(artifacts) == 1 {
		return strategyBestSingle
	}

	kindByTask := make(map[string]domain.TaskKind, len(terminals))
	for _, n := range terminals {
		kindByTask[n.ID] = n.Kind
	}

	var firstKind domain.TaskKind
	sameKind := true
	for i, art := range artifacts {
		k := kindByTask[art.TaskID]
		if i == 0 {
			firstKind = k
		} else if k != firstKind {
			sameKind = false
		}
	}
	if sameKind {
		return strategyConcatenate
	}
	return strategySynthesize
}

func (a *Assembler) bestSingle(artifacts []domain.Artifact, verdictScore map[string]float64) domain.Response {
	best := artifacts[0]
	bestScore := verdictScore[best.ArtifactID]
	for _, art := range artifacts[1:] {
		if s := verdictScore[art.ArtifactID]; s > bestScore {
			best, bestScore = art, s
		}
	}
	return domain.Response{
		Content:    best.Content,
		Confidence: bestScore,
		SourceIDs:  []string{best.ArtifactID},
	}
}

// concatenate orders artifacts by their terminal node's position in
// topological post-order (the order terminals appear in the graph,
// which TaskGraph.TerminalNodes already returns in declaration order).
func (a *Assembler) concatenate(terminals []domain.Node, artifacts []domain.Artifact, verdictScore map[string]float64) domain.Response {
	order := make(map[string]int, len(terminals))
	for i, n := range terminals {
		order[n.ID] = i
	}
	ordered := make([]domain.Artifact, len(artifacts))
	copy(ordered, artifacts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return order[ordered[i].TaskID] < order[ordered[j].TaskID]
	})

	var parts []string
	var sourceIDs []string
	var total float64
	for _, art := range ordered {
		parts = append(parts, art.Content)
		sourceIDs = append(sourceIDs, art.ArtifactID)
		total += verdictScore[art.ArtifactID]
	}

	return domain.Response{
		Content:    strings.Join(parts, "\n\n"),
		Confidence: total / float64(len(ordered)),
		SourceIDs:  sourceIDs,
	}
}

func (a *Assembler) synthesize(ctx context.Context, artifacts []domain.Artifact, verdictScore map[string]float64) (domain.Response, error) {
	if a.synth == nil {
		return domain.Response{}, fmt.Errorf("assembler: synthesize strategy selected but no synthesizer configured")
	}

	content, err := a.synth.Synthesize(ctx, artifacts)
	if err != nil {
		return domain.Response{}, fmt.Errorf("assembler: synthesize: %w", err)
	}

	var sourceIDs []string
	var total float64
	for _, art := range artifacts {
		sourceIDs = append(sourceIDs, art.ArtifactID)
		total += verdictScore[art.ArtifactID]
	}

	return domain.Response{
		Content:    content,
		Confidence: total / float64(len(artifacts)),
		SourceIDs:  sourceIDs,
	}, nil
}

// llmSynthesizer is the default Synthesizer, grounded on the same
// AgentClient contract the Planner and rubric checker use.
type llmSynthesizer struct {
	client llm.AgentClient
}

func NewLLMSynthesizer(client llm.AgentClient) Synthesizer {
	return &llmSynthesizer{client: client}
}

func (s *llmSynthesizer) Synthesize(ctx context.Context, artifacts []domain.Artifact) (string, error) {
	var b strings.Builder
	b.WriteString("Merge the following independently produced sections into one coherent response. Preserve all factual content; remove redundancy; do not add commentary about the merge itself.\n\n")
	for i, art := range artifacts {
		fmt.Fprintf(&b, "Section %d:\n%s\n\n", i+1, art.Content)
	}

	resp, err := s.client.ChatWithTools(ctx, llm.AgentRequest{
		Messages: []llm.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
