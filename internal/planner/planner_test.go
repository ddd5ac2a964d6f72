package planner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/petec4244/Ai3-Orchestrator/common/llm"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/planner"
)

// scriptedClient returns each response in order, one per ChatWithTools call.
type scriptedClient struct {
	responses []string
	err       error
	calls     int
}

func (c *scriptedClient) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	if c.err != nil {
		return nil, c.err
	}
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return &llm.AgentResponse{Content: c.responses[idx]}, nil
}

func (c *scriptedClient) Model() string { return "stub-model" }

func TestPlan_ValidGraph_ReturnsOnFirstAttempt(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"tasks":[{"id":"t1","kind":"general","prompt":"do it","criteria":["must be correct"],"terminal":true}]}`,
	}}
	p := planner.New(client)

	graph, err := p.Plan(context.Background(), "do something", planner.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(graph.Nodes) != 1 || graph.Nodes[0].ID != "t1" {
		t.Fatalf("unexpected graph: %+v", graph)
	}
	if client.calls != 1 {
		t.Fatalf("expected a single call, got %d", client.calls)
	}
}

func TestPlan_InvalidJSONThenValidGraph_RetriesOnce(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`not json`,
		`{"tasks":[{"id":"t1","kind":"general","prompt":"do it","criteria":["must be correct"],"terminal":true}]}`,
	}}
	p := planner.New(client)

	graph, err := p.Plan(context.Background(), "do something", planner.Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(graph.Nodes) != 1 {
		t.Fatalf("unexpected graph: %+v", graph)
	}
	if client.calls != 2 {
		t.Fatalf("expected the corrective retry to fire, got %d calls", client.calls)
	}
}

func TestPlan_InvalidAfterRetry_ReturnsSchemaError(t *testing.T) {
	client := &scriptedClient{responses: []string{`not json`, `still not json`}}
	p := planner.New(client)

	_, err := p.Plan(context.Background(), "do something", planner.Options{})
	if !errors.Is(err, domain.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
	if client.calls != 2 {
		t.Fatalf("expected exactly maxAttempts calls, got %d", client.calls)
	}
}

func TestPlan_CyclicGraph_ReturnsCycleError(t *testing.T) {
	client := &scriptedClient{responses: []string{
		`{"tasks":[{"id":"a","kind":"general","prompt":"p","inputs":["b"]},{"id":"b","kind":"general","prompt":"p","inputs":["a"]}]}`,
		`{"tasks":[{"id":"a","kind":"general","prompt":"p","inputs":["b"]},{"id":"b","kind":"general","prompt":"p","inputs":["a"]}]}`,
	}}
	p := planner.New(client)

	_, err := p.Plan(context.Background(), "do something", planner.Options{})
	if !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestPlan_ClientError_WrapsUpstreamLLM(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection reset")}
	p := planner.New(client)

	_, err := p.Plan(context.Background(), "do something", planner.Options{})
	if !errors.Is(err, domain.ErrUpstreamLLM) {
		t.Fatalf("expected ErrUpstreamLLM, got %v", err)
	}
}
