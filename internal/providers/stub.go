package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

// StubResponder lets tests script per-call responses for a deterministic
// stub adapter, keyed by call order for a given model.
type StubResponder func(callIndex int, prompt string) (content string, err error)

// StubAdapter is the deterministic adapter used by Planner/Scheduler/
// Verifier tests — no network calls, fully scripted, used for the
// literal scenarios S1-S6.
type StubAdapter struct {
	mu         sync.Mutex
	responders map[string]StubResponder
	calls      map[string]int
}

func NewStubAdapter() *StubAdapter {
	return &StubAdapter{responders: make(map[string]StubResponder), calls: make(map[string]int)}
}

// OnModel registers the response sequence for a model_id.
func (s *StubAdapter) OnModel(modelID string, fn StubResponder) {
	s.mu.Lock()
	s.responders[modelID] = fn
	s.mu.Unlock()
}

// Script is a convenience over OnModel for a fixed ordered list of
// responses, one per call.
func (s *StubAdapter) Script(modelID string, responses ...string) {
	s.OnModel(modelID, func(callIndex int, _ string) (string, error) {
		if callIndex >= len(responses) {
			return responses[len(responses)-1], nil
		}
		return responses[callIndex], nil
	})
}

func (s *StubAdapter) ProviderID() domain.Provider { return domain.ProviderStub }
func (s *StubAdapter) SupportsStreaming() bool      { return false }

func (s *StubAdapter) Execute(_ context.Context, prompt string, modelID string, _ Options) (domain.Artifact, error) {
	s.mu.Lock()
	fn, ok := s.responders[modelID]
	idx := s.calls[modelID]
	if ok {
		s.calls[modelID] = idx + 1
	}
	s.mu.Unlock()
	if !ok {
		return domain.Artifact{}, domain.NewProviderError(modelID, domain.ProviderErrPermanent, false, errNoResponder(modelID))
	}

	content, err := fn(idx, prompt)
	if err != nil {
		return domain.Artifact{}, err
	}

	return domain.Artifact{
		Content:      content,
		InputTokens:  len(strings.Fields(prompt)),
		OutputTokens: len(strings.Fields(content)),
		LatencyMS:    1,
		ProducedAt:   time.Now(),
		Status:       domain.ArtifactProduced,
		Binding:      domain.Binding{ModelID: modelID, ProviderID: domain.ProviderStub},
	}, nil
}

type noResponderError struct{ modelID string }

func (e noResponderError) Error() string { return "stub adapter: no responder registered for " + e.modelID }

func errNoResponder(modelID string) error { return noResponderError{modelID: modelID} }
