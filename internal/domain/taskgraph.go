// Package domain holds the closed, JSON-shaped value types every other
// package operates on: the task graph, model descriptors, bindings,
// artifacts, verdicts, and the run trace. Nothing here talks to the
// network or a store — these are the nouns, not the verbs.
package domain

import (
	"fmt"
)

// TaskKind is a stable identifier used in task graphs, routing overrides,
// and telemetry indices.
type TaskKind string

const (
	KindCoding                TaskKind = "coding"
	KindCreativeWriting       TaskKind = "creative_writing"
	KindProfessionalWriting   TaskKind = "professional_writing"
	KindDocumentProcessing    TaskKind = "document_processing"
	KindAutomation            TaskKind = "automation"
	KindSummarization         TaskKind = "summarization"
	KindDataAnalysis          TaskKind = "data_analysis"
	KindMultimodal            TaskKind = "multimodal"
	KindIntegration           TaskKind = "integration"
	KindMathematicalReasoning TaskKind = "mathematical_reasoning"
	KindRealtimeSocial        TaskKind = "realtime_social"
	KindCreativeInsight       TaskKind = "creative_insight"
	KindGeneral               TaskKind = "general"
)

var validKinds = map[TaskKind]struct{}{
	KindCoding: {}, KindCreativeWriting: {}, KindProfessionalWriting: {},
	KindDocumentProcessing: {}, KindAutomation: {}, KindSummarization: {},
	KindDataAnalysis: {}, KindMultimodal: {}, KindIntegration: {},
	KindMathematicalReasoning: {}, KindRealtimeSocial: {}, KindCreativeInsight: {},
	KindGeneral: {},
}

func (k TaskKind) Valid() bool {
	_, ok := validKinds[k]
	return ok
}

// Feature is a capability a model may or may not support.
type Feature string

const (
	FeatureStreaming      Feature = "streaming"
	FeatureLongContext    Feature = "long_context"
	FeatureVision         Feature = "vision"
	FeatureFunctionCalling Feature = "function_calling"
)

// Node is one vertex of a TaskGraph.
type Node struct {
	ID               string    `json:"id"`
	Kind             TaskKind  `json:"kind"`
	PromptText       string    `json:"prompt"`
	Inputs           []string  `json:"inputs"`
	SuccessCriteria  []string  `json:"criteria"`
	RequiredFeatures []Feature `json:"features"`
	MinContextTokens int       `json:"min_context"`
	RepairBudget     int       `json:"repair_budget"`
	Terminal         bool      `json:"terminal"`
}

// TaskGraph is a finite DAG of Nodes. Edges are encoded by Node.Inputs.
type TaskGraph struct {
	Nodes []Node `json:"tasks"`
}

// ByID returns the node with the given id, or false if absent.
func (g *TaskGraph) ByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Append adds nodes to the graph (used when a repair directive is spliced
// in). Caller is responsible for mutex discipline around the graph.
func (g *TaskGraph) Append(nodes ...Node) {
	g.Nodes = append(g.Nodes, nodes...)
}

// TerminalNodes returns nodes flagged terminal, or — if none are flagged —
// every node with no downstream consumer (a graph sink).
func (g *TaskGraph) TerminalNodes() []Node {
	var flagged []Node
	for _, n := range g.Nodes {
		if n.Terminal {
			flagged = append(flagged, n)
		}
	}
	if len(flagged) > 0 {
		return flagged
	}

	consumed := make(map[string]struct{})
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			consumed[in] = struct{}{}
		}
	}
	var sinks []Node
	for _, n := range g.Nodes {
		if _, ok := consumed[n.ID]; !ok {
			sinks = append(sinks, n)
		}
	}
	return sinks
}

// Validate checks the structural invariants from the spec: unique ids,
// every referenced input exists, and the graph is acyclic.
func (g *TaskGraph) Validate() error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrSchema)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrSchema, n.ID)
		}
		seen[n.ID] = struct{}{}
		if !n.Kind.Valid() {
			return fmt.Errorf("%w: node %q has unknown kind %q", ErrSchema, n.ID, n.Kind)
		}
	}
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if _, ok := seen[in]; !ok {
				return fmt.Errorf("%w: node %q references unknown input %q", ErrSchema, n.ID, in)
			}
		}
	}
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph has no nodes", ErrSchema)
	}
	if cyclic, cycleID := g.hasCycle(); cyclic {
		return fmt.Errorf("%w: cycle detected through node %q", ErrCycle, cycleID)
	}
	return nil
}

// hasCycle runs a three-color DFS over the inputs-as-edges graph.
func (g *TaskGraph) hasCycle() (bool, string) {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	byID := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, in := range byID[id].Inputs {
			switch color[in] {
			case gray:
				return true
			case white:
				if visit(in) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}

	for _, n := range g.Nodes {
		if color[n.ID] == white {
			if visit(n.ID) {
				return true, n.ID
			}
		}
	}
	return false, ""
}
