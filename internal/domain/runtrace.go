package domain

import (
	"sync"
	"time"
)

// RunStats are the aggregate numbers reported in RunTrace and the final
// `stats` SSE event.
type RunStats struct {
	WallTimeMS    int64   `json:"wall_time_ms"`
	TokensIn      int64   `json:"tokens_in"`
	TokensOut     int64   `json:"tokens_out"`
	Cost          float64 `json:"cost"`
	TasksExecuted int     `json:"tasks_executed"`
	TasksRepaired int     `json:"tasks_repaired"`
	TasksFailed   int     `json:"tasks_failed"`
}

// Response is the Assembler's merged output.
type Response struct {
	Content     string   `json:"content"`
	Confidence  float64  `json:"confidence"`
	SourceIDs   []string `json:"source_artifact_ids"`
	Warnings    []string `json:"warnings,omitempty"`
}

// RunTrace is the full, sealed record of one invocation. The Engine owns
// it exclusively for the run's duration; other components receive
// references with append-only access to their own sub-collection. Every
// mutation path is single-writer, guarded by Mu.
type RunTrace struct {
	Mu sync.Mutex `json:"-"`

	RunID     string    `json:"run_id"`
	Prompt    string    `json:"prompt"`
	StartedAt time.Time `json:"started_at"`
	SealedAt  time.Time `json:"sealed_at,omitempty"`
	Sealed    bool      `json:"sealed"`

	Graph     TaskGraph           `json:"graph"`
	Bindings  []Binding           `json:"bindings"`
	Artifacts []Artifact          `json:"artifacts"`
	Verdicts  []Verdict           `json:"verdicts"`
	Response  *Response           `json:"response,omitempty"`
	Stats     RunStats            `json:"stats"`
}

// NewRunTrace creates a fresh, unsealed trace for run_id on Engine entry.
func NewRunTrace(runID, prompt string, graph TaskGraph, startedAt time.Time) *RunTrace {
	return &RunTrace{
		RunID:     runID,
		Prompt:    prompt,
		StartedAt: startedAt,
		Graph:     graph,
	}
}

// AddBinding appends a binding under the trace's mutex.
func (t *RunTrace) AddBinding(b Binding) {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	t.Bindings = append(t.Bindings, b)
}

// AddArtifact appends an artifact under the trace's mutex.
func (t *RunTrace) AddArtifact(a Artifact) {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	t.Artifacts = append(t.Artifacts, a)
}

// AddVerdict appends a verdict under the trace's mutex.
func (t *RunTrace) AddVerdict(v Verdict) {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	t.Verdicts = append(t.Verdicts, v)
}

// AppendGraphNodes splices repair-generated nodes into the trace's graph
// under mutex; used by the Scheduler's repair flow.
func (t *RunTrace) AppendGraphNodes(nodes ...Node) {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	t.Graph.Append(nodes...)
}

// Seal marks the trace read-only on Engine exit. Further mutation methods
// still run mechanically but callers must not invoke them after Seal.
func (t *RunTrace) Seal(sealedAt time.Time, resp *Response, stats RunStats) {
	t.Mu.Lock()
	defer t.Mu.Unlock()
	t.Response = resp
	t.Stats = stats
	t.SealedAt = sealedAt
	t.Sealed = true
}
