// Package verifier implements the Verifier: judges an artifact against
// a task's success criteria plus a set of defect-pattern checks, and
// yields a Verdict with an optional repair directive.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petec4244/Ai3-Orchestrator/common/llm"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

const (
	passThreshold  = 0.7
	defectPenalty  = 0.25
	doomLoopThreshold = 3
)

var (
	ErrInternalRubric = domain.ErrInternalRubric
)

// refusalPhrases and truncationMarkers ground the defect checks; both
// lists are intentionally small and literal rather than heuristic NLP.
var refusalPhrases = []string{
	"i cannot help with that",
	"i can't help with that",
	"i cannot assist with that",
	"as an ai language model",
	"i'm not able to",
}

var truncationMarkers = []string{
	"[truncated]",
	"...(continued)",
	"<|truncated|>",
}

// kindFloors sets a minimum acceptable artifact length per task kind;
// zero means no floor. Coding and professional writing tasks are the
// most sensitive to truncated output.
var kindFloors = map[domain.TaskKind]int{
	domain.KindCoding:              10,
	domain.KindProfessionalWriting: 10,
	domain.KindDocumentProcessing:  5,
}

// RubricChecker performs a criterion check that cannot be decided by a
// deterministic heuristic — an LLM rubric call. Implementations must be
// safe for concurrent use.
type RubricChecker interface {
	Check(ctx context.Context, criterion, artifactContent string) (passed bool, reason string, err error)
}

// Verifier evaluates artifacts. Rubric is optional; when nil, every
// criterion is checked with the deterministic heuristic only.
type Verifier struct {
	Rubric RubricChecker

	// doomLoop tracks, per task id, the sequence of verdict fingerprints
	// seen across repair attempts so a repeated-identical-verdict task
	// can be escalated straight to fallback instead of looping forever.
	doomLoop map[string][]string
}

func New(rubric RubricChecker) *Verifier {
	return &Verifier{Rubric: rubric, doomLoop: make(map[string][]string)}
}

// Verify judges artifact against task's criteria and defect patterns.
func (v *Verifier) Verify(ctx context.Context, task domain.Node, artifact domain.Artifact) (domain.Verdict, error) {
	var reasons []string
	criteriaTotal := len(task.SuccessCriteria)
	criteriaPassed := 0

	for _, criterion := range task.SuccessCriteria {
		passed, reason, err := v.checkCriterion(ctx, criterion, artifact.Content)
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("%w: %v", ErrInternalRubric, err)
		}
		if passed {
			criteriaPassed++
		} else {
			reasons = append(reasons, reason)
		}
	}

	defects := detectDefects(task, artifact.Content)
	for _, d := range defects {
		reasons = append(reasons, d)
	}

	score := 1.0
	if criteriaTotal > 0 {
		score = float64(criteriaPassed) / float64(criteriaTotal)
	}
	score -= defectPenalty * float64(len(defects))
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	fatal := hasFatalDefect(defects)
	passed := score >= passThreshold && !fatal

	verdict := domain.Verdict{
		ArtifactID:     artifact.ArtifactID,
		Score:          score,
		Passed:         passed,
		FailureReasons: reasons,
	}

	if !passed && task.RepairBudget > 0 {
		verdict.RepairDirective = repairDirective(task, artifact, reasons)
	}

	return verdict, nil
}

// DoomLooping records this verdict's fingerprint for task and reports
// whether the last doomLoopThreshold verdicts were identical, meaning
// repair is not converging and the task should skip straight to
// fallback rather than spend its remaining repair budget.
func (v *Verifier) DoomLooping(taskID string, verdict domain.Verdict) bool {
	fp := fingerprint(verdict)
	history := append(v.doomLoop[taskID], fp)
	if len(history) > doomLoopThreshold {
		history = history[len(history)-doomLoopThreshold:]
	}
	v.doomLoop[taskID] = history

	if len(history) < doomLoopThreshold {
		return false
	}
	for _, h := range history[1:] {
		if h != history[0] {
			return false
		}
	}
	return true
}

func fingerprint(v domain.Verdict) string {
	return fmt.Sprintf("%.2f|%t|%s", v.Score, v.Passed, strings.Join(v.FailureReasons, ";"))
}

func (v *Verifier) checkCriterion(ctx context.Context, criterion, content string) (bool, string, error) {
	if v.Rubric != nil {
		passed, reason, err := v.Rubric.Check(ctx, criterion, content)
		if err != nil {
			return false, "", err
		}
		if !passed && reason == "" {
			reason = fmt.Sprintf("criterion not satisfied: %s", criterion)
		}
		return passed, reason, nil
	}
	return heuristicCheck(criterion, content)
}

// heuristicCheck implements the deterministic fallback rubric: a
// criterion phrased as "must contain X" or "must include X" is checked
// literally, after dropping a leading "the word" or "the phrase" from X;
// anything else degrades to a non-empty-content check, since
// there is no LLM available to judge free-form criteria.
func heuristicCheck(criterion, content string) (bool, string, error) {
	lower := strings.ToLower(criterion)
	lowerContent := strings.ToLower(content)

	for _, verb := range []string{"must contain", "must include"} {
		if idx := strings.Index(lower, verb); idx >= 0 {
			needle := strings.TrimSpace(lower[idx+len(verb):])
			needle = strings.Trim(needle, "\"'. ")
			for _, lead := range []string{"the word ", "the phrase "} {
				needle = strings.Trim(strings.TrimPrefix(needle, lead), "\"'. ")
			}
			if needle == "" {
				continue
			}
			if strings.Contains(lowerContent, needle) {
				return true, "", nil
			}
			return false, fmt.Sprintf("expected output to contain %q", needle), nil
		}
	}

	if strings.TrimSpace(content) == "" {
		return false, fmt.Sprintf("criterion %q not satisfiable against empty output", criterion), nil
	}
	return true, "", nil
}

func detectDefects(task domain.Node, content string) []string {
	var defects []string

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		defects = append(defects, "empty output")
		return defects
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			defects = append(defects, "refusal phrase detected")
			break
		}
	}

	for _, marker := range truncationMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			defects = append(defects, "truncation marker detected")
			break
		}
	}

	if floor, ok := kindFloors[task.Kind]; ok && len(strings.Fields(trimmed)) < floor {
		defects = append(defects, fmt.Sprintf("output shorter than the %d-word floor for %s tasks", floor, task.Kind))
	}

	return defects
}

// hasFatalDefect treats an empty output or refusal as fatal regardless
// of score — a task cannot pass on a technicality of having few
// criteria to fail.
func hasFatalDefect(defects []string) bool {
	for _, d := range defects {
		if d == "empty output" || d == "refusal phrase detected" {
			return true
		}
	}
	return false
}

// repairDirective builds the one-node subgraph templated per §4.5: the
// new node inherits the original task's criteria and consumes the
// rejected artifact as input.
func repairDirective(task domain.Node, artifact domain.Artifact, reasons []string) *domain.TaskGraph {
	repairID := task.ID + ":repair"
	prompt := fmt.Sprintf(
		"Given the prior attempt %q, address the following issues: %s. Produce a corrected version.",
		artifact.Content, strings.Join(reasons, "; "),
	)

	return &domain.TaskGraph{
		Nodes: []domain.Node{
			{
				ID:               repairID,
				Kind:             task.Kind,
				PromptText:       prompt,
				Inputs:           []string{task.ID},
				SuccessCriteria:  task.SuccessCriteria,
				RequiredFeatures: task.RequiredFeatures,
				MinContextTokens: task.MinContextTokens,
				RepairBudget:     0,
				Terminal:         false,
			},
		},
	}
}

// llmRubricChecker is the LLM-backed RubricChecker implementation,
// grounded on the same AgentClient contract the Planner uses.
type llmRubricChecker struct {
	client llm.AgentClient
}

func NewLLMRubricChecker(client llm.AgentClient) RubricChecker {
	return &llmRubricChecker{client: client}
}

func (c *llmRubricChecker) Check(ctx context.Context, criterion, content string) (bool, string, error) {
	prompt := fmt.Sprintf(
		"Criterion: %s\n\nOutput to judge:\n%s\n\nDoes the output satisfy the criterion? Reply with exactly \"yes\" or \"no\" followed by a one-sentence reason.",
		criterion, content,
	)

	resp, err := c.client.ChatWithTools(ctx, llm.AgentRequest{
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: 128,
	})
	if err != nil {
		return false, "", err
	}

	answer := strings.ToLower(strings.TrimSpace(resp.Content))
	if strings.HasPrefix(answer, "yes") {
		return true, "", nil
	}
	if strings.HasPrefix(answer, "no") {
		return false, strings.TrimSpace(resp.Content), nil
	}
	return false, "", errors.New("rubric response did not start with yes/no")
}
