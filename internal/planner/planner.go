// Package planner implements the Planner: turns a prompt into a
// validated TaskGraph by calling one designated LLM.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/petec4244/Ai3-Orchestrator/common/llm"
	"github.com/petec4244/Ai3-Orchestrator/common/logger"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

const systemPrompt = `You decompose a user's request into a directed acyclic graph of subtasks.
Respond with a JSON document matching the required schema exactly: a "tasks" array where
each task has a unique "id", a "kind" from the fixed task-kind enumeration, a "prompt",
an "inputs" list of upstream task ids whose artifacts become this task's context, a
"criteria" list of checkable success statements, optional "features" required of the
executing model, "min_context" tokens, a non-negative "repair_budget" (default 1), and a
"terminal" flag marking tasks whose output feeds the final response. A single-task graph
is a legal decomposition for a simple request. The graph must be acyclic and every input
id must reference a task id present in the same document.`

// Options configures one planning call.
type Options struct {
	MaxTokens   int
	Temperature *float64
}

// Planner wraps a designated LLM client behind the plan(prompt) contract.
type Planner struct {
	client llm.AgentClient
}

func New(client llm.AgentClient) *Planner {
	return &Planner{client: client}
}

// schemaDoc is generated once; it mirrors domain.TaskGraph's JSON shape.
var schemaDoc = func() any {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	return reflector.Reflect(&domain.TaskGraph{})
}()

// Plan calls the planner LLM and validates its output, retrying once
// with a corrective message listing the first attempt's violations.
func (p *Planner) Plan(ctx context.Context, prompt string, opts Options) (domain.TaskGraph, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "ai3.planner"})

	schemaJSON, err := json.Marshal(schemaDoc)
	if err != nil {
		return domain.TaskGraph{}, fmt.Errorf("%w: marshal schema: %v", domain.ErrUpstreamLLM, err)
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt + "\n\nJSON schema:\n" + string(schemaJSON)},
		{Role: "user", Content: prompt},
	}

	temp := opts.Temperature
	if temp == nil {
		zero := 0.0
		temp = &zero
	}

	const maxAttempts = 2
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		resp, err := p.client.ChatWithTools(ctx, llm.AgentRequest{
			Messages:    messages,
			MaxTokens:   opts.MaxTokens,
			Temperature: temp,
		})
		if err != nil {
			return domain.TaskGraph{}, fmt.Errorf("%w: %v", domain.ErrUpstreamLLM, err)
		}

		slog.DebugContext(ctx, "planner call completed",
			"attempt", attempt+1,
			"duration_ms", time.Since(start).Milliseconds())

		graph, verr, violations := parseAndValidate(resp.Content)
		if verr == nil {
			return graph, nil
		}

		lastErr = verr
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "user", Content: correctiveMessage(violations)},
		)
	}

	return domain.TaskGraph{}, lastErr
}

func correctiveMessage(violations []string) string {
	msg := "The previous attempt violated the schema:\n"
	for _, v := range violations {
		msg += "- " + v + "\n"
	}
	msg += "Produce a corrected JSON document that fixes every listed violation."
	return msg
}

func parseAndValidate(content string) (domain.TaskGraph, error, []string) {
	var graph domain.TaskGraph
	if err := json.Unmarshal([]byte(content), &graph); err != nil {
		wrapped := fmt.Errorf("%w: response is not valid JSON matching the TaskGraph schema: %v", domain.ErrSchema, err)
		return domain.TaskGraph{}, wrapped, []string{wrapped.Error()}
	}
	if err := graph.Validate(); err != nil {
		return domain.TaskGraph{}, err, []string{err.Error()}
	}
	return graph, nil, nil
}
