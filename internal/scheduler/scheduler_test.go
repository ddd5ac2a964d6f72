package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/providers"
	"github.com/petec4244/Ai3-Orchestrator/internal/scheduler"
	"github.com/petec4244/Ai3-Orchestrator/internal/verifier"
)

// fixedRouter returns a scripted candidate list per task id, ignoring
// the live Capability Registry entirely — the scheduler tests care
// about dispatch ordering, not scoring.
type fixedRouter struct {
	candidates map[string][]domain.Binding
}

func (f fixedRouter) Route(_ context.Context, task domain.Node) ([]domain.Binding, error) {
	bindings, ok := f.candidates[task.ID]
	if !ok {
		return nil, domain.ErrNoCandidate
	}
	out := make([]domain.Binding, len(bindings))
	copy(out, bindings)
	return out, nil
}

func newTrace(nodes ...domain.Node) *domain.RunTrace {
	graph := domain.TaskGraph{Nodes: nodes}
	return domain.NewRunTrace("run_test", "test prompt", graph, time.Now())
}

func collectEvents() (func(domain.Event), func() []domain.Event) {
	var mu sync.Mutex
	var events []domain.Event
	emit := func(e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
	}
	get := func() []domain.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]domain.Event, len(events))
		copy(out, events)
		return out
	}
	return emit, get
}

func TestScheduler_S1_SingleTaskSuccess(t *testing.T) {
	node := domain.Node{ID: "n1", Kind: domain.KindGeneral, PromptText: "What is 2+2?", Terminal: true, RepairBudget: 1}
	trace := newTrace(node)

	router := fixedRouter{candidates: map[string][]domain.Binding{
		"n1": {{ModelID: "stub-a", ProviderID: domain.ProviderStub}},
	}}
	bank := providers.NewBank()
	stub := providers.NewStubAdapter()
	stub.Script("stub-a", "4")
	bank.Register(stub)

	emit, getEvents := collectEvents()
	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	artifacts, err := s.Run(context.Background(), trace, scheduler.Options{GlobalMax: 2, PerProviderMax: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Content != "4" {
		t.Fatalf("expected single artifact %q, got %+v", "4", artifacts)
	}

	var verifiedCount int
	for _, e := range getEvents() {
		if e.Type == domain.EventTaskVerified {
			p := e.Payload.(domain.TaskVerifiedPayload)
			if !p.Passed {
				t.Fatalf("expected passed verdict, got %+v", p)
			}
			verifiedCount++
		}
	}
	if verifiedCount != 1 {
		t.Fatalf("expected exactly one task_verified event, got %d", verifiedCount)
	}
}

func TestScheduler_SkipVerify_AcceptsOtherwiseRejectedArtifact(t *testing.T) {
	node := domain.Node{ID: "n1", Kind: domain.KindGeneral, PromptText: "say something", Terminal: true, RepairBudget: 1,
		SuccessCriteria: []string{"must contain FOO"}}
	trace := newTrace(node)

	router := fixedRouter{candidates: map[string][]domain.Binding{
		"n1": {{ModelID: "stub-a", ProviderID: domain.ProviderStub}},
	}}
	bank := providers.NewBank()
	stub := providers.NewStubAdapter()
	stub.Script("stub-a", "") // empty output is a defect the Verifier would normally reject
	bank.Register(stub)

	emit, getEvents := collectEvents()
	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	artifacts, err := s.Run(context.Background(), trace, scheduler.Options{GlobalMax: 2, PerProviderMax: 2, SkipVerify: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(artifacts) != 1 {
		t.Fatalf("expected single artifact, got %+v", artifacts)
	}

	for _, e := range getEvents() {
		if e.Type == domain.EventTaskVerified {
			p := e.Payload.(domain.TaskVerifiedPayload)
			if !p.Passed || p.Score != 1 {
				t.Fatalf("expected a bypassed passing verdict, got %+v", p)
			}
		}
		if e.Type == domain.EventTaskRepaired {
			t.Fatalf("repair should never trigger when verification is skipped")
		}
	}
}

func TestScheduler_S3_ConcurrencyCap(t *testing.T) {
	const globalMax = 2
	var nodes []domain.Node
	candidates := map[string][]domain.Binding{}
	bank := providers.NewBank()
	stub := providers.NewStubAdapter()
	bank.Register(stub)

	var inFlight int32
	var maxObserved int32
	var mu sync.Mutex

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		nodes = append(nodes, domain.Node{ID: id, Kind: domain.KindGeneral, PromptText: "x", Terminal: true})
		candidates[id] = []domain.Binding{{ModelID: "m-" + id, ProviderID: domain.ProviderStub}}
		modelID := "m-" + id
		stub.OnModel(modelID, func(_ int, _ string) (string, error) {
			n := atomic.AddInt32(&inFlight, 1)
			mu.Lock()
			if n > maxObserved {
				maxObserved = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return "ok", nil
		})
	}

	trace := newTrace(nodes...)
	router := fixedRouter{candidates: candidates}
	emit, _ := collectEvents()
	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	artifacts, err := s.Run(context.Background(), trace, scheduler.Options{GlobalMax: globalMax, PerProviderMax: 5})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(artifacts) != 5 {
		t.Fatalf("expected 5 artifacts, got %d", len(artifacts))
	}
	if maxObserved > globalMax {
		t.Fatalf("observed %d concurrent tasks, global_max is %d", maxObserved, globalMax)
	}
}

func TestScheduler_S4_PerProviderCap(t *testing.T) {
	var nodes []domain.Node
	candidates := map[string][]domain.Binding{}
	bank := providers.NewBank()
	stub := providers.NewStubAdapter()
	bank.Register(stub)

	var inFlight int32
	var maxObserved int32
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		id := string(rune('a' + i))
		nodes = append(nodes, domain.Node{ID: id, Kind: domain.KindGeneral, PromptText: "x", Terminal: true})
		candidates[id] = []domain.Binding{{ModelID: "shared-model", ProviderID: domain.ProviderStub}}
	}
	stub.OnModel("shared-model", func(_ int, _ string) (string, error) {
		n := atomic.AddInt32(&inFlight, 1)
		mu.Lock()
		if n > maxObserved {
			maxObserved = n
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return "ok", nil
	})

	trace := newTrace(nodes...)
	router := fixedRouter{candidates: candidates}
	emit, _ := collectEvents()
	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	artifacts, err := s.Run(context.Background(), trace, scheduler.Options{GlobalMax: 5, PerProviderMax: 1})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(artifacts) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(artifacts))
	}
	if maxObserved > 1 {
		t.Fatalf("observed %d concurrent calls against a per_provider_max=1 provider", maxObserved)
	}
}

func TestScheduler_S5_RepairSucceeds(t *testing.T) {
	node := domain.Node{
		ID: "n1", Kind: domain.KindGeneral, PromptText: "say FOO",
		SuccessCriteria: []string{"must contain the word FOO"},
		RepairBudget:    1, Terminal: true,
	}
	trace := newTrace(node)

	router := fixedRouter{candidates: map[string][]domain.Binding{
		"n1":          {{ModelID: "stub-a", ProviderID: domain.ProviderStub}},
		"n1:repair":   {{ModelID: "stub-a", ProviderID: domain.ProviderStub}},
	}}
	bank := providers.NewBank()
	stub := providers.NewStubAdapter()
	stub.Script("stub-a", "bar", "bar FOO")
	bank.Register(stub)

	emit, getEvents := collectEvents()
	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	artifacts, err := s.Run(context.Background(), trace, scheduler.Options{GlobalMax: 2, PerProviderMax: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Content != "bar FOO" {
		t.Fatalf("expected repaired artifact %q, got %+v", "bar FOO", artifacts)
	}

	var repairedEvents, verifiedPassed int
	taskIDs := map[string]struct{}{}
	for _, e := range getEvents() {
		switch p := e.Payload.(type) {
		case domain.TaskRepairedPayload:
			repairedEvents++
			taskIDs[p.TaskID] = struct{}{}
		case domain.TaskVerifiedPayload:
			taskIDs[p.TaskID] = struct{}{}
			if p.Passed {
				verifiedPassed++
			}
		}
	}
	if repairedEvents != 1 {
		t.Fatalf("expected exactly one task_repaired event, got %d", repairedEvents)
	}
	if len(taskIDs) != 1 {
		t.Fatalf("expected a single task_id across both attempts, saw %v", taskIDs)
	}
}

func TestScheduler_S6_FallbackAfterRepairExhaustion(t *testing.T) {
	node := domain.Node{
		ID: "n1", Kind: domain.KindGeneral, PromptText: "help me",
		RepairBudget: 0, Terminal: true,
	}
	trace := newTrace(node)

	router := fixedRouter{candidates: map[string][]domain.Binding{
		"n1": {
			{ModelID: "model-1", ProviderID: domain.ProviderStub},
			{ModelID: "model-2", ProviderID: domain.ProviderStub},
		},
	}}
	bank := providers.NewBank()
	stub := providers.NewStubAdapter()
	stub.Script("model-1", "I cannot help with that")
	stub.Script("model-2", "ok")
	bank.Register(stub)

	emit, getEvents := collectEvents()
	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	artifacts, err := s.Run(context.Background(), trace, scheduler.Options{GlobalMax: 2, PerProviderMax: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Content != "ok" {
		t.Fatalf("expected fallback artifact %q, got %+v", "ok", artifacts)
	}

	var repaired, decisions int
	for _, e := range getEvents() {
		if e.Type == domain.EventTaskRepaired {
			repaired++
		}
		if e.Type == domain.EventDecision {
			decisions++
		}
	}
	if repaired != 0 {
		t.Fatalf("expected no task_repaired events, got %d", repaired)
	}
	if decisions != 2 {
		t.Fatalf("expected two decision events (initial + fallback rebind), got %d", decisions)
	}
}

func TestScheduler_DependencyOrdering(t *testing.T) {
	parent := domain.Node{ID: "p", Kind: domain.KindGeneral, PromptText: "first"}
	child := domain.Node{ID: "c", Kind: domain.KindGeneral, PromptText: "second", Inputs: []string{"p"}, Terminal: true}
	trace := newTrace(parent, child)

	router := fixedRouter{candidates: map[string][]domain.Binding{
		"p": {{ModelID: "m", ProviderID: domain.ProviderStub}},
		"c": {{ModelID: "m", ProviderID: domain.ProviderStub}},
	}}
	bank := providers.NewBank()
	stub := providers.NewStubAdapter()
	stub.Script("m", "parent output", "child output")
	bank.Register(stub)

	emit, _ := collectEvents()
	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	artifacts, err := s.Run(context.Background(), trace, scheduler.Options{GlobalMax: 2, PerProviderMax: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Content != "child output" {
		t.Fatalf("expected only the terminal child artifact, got %+v", artifacts)
	}
}

func TestScheduler_Cancellation_FailsNonTerminalTasksWithReason(t *testing.T) {
	// "stuck" depends on a task id that never exists, so it can never be
	// promoted out of pending — a stand-in for a task still in flight
	// when cancellation arrives.
	stuck := domain.Node{ID: "stuck", Kind: domain.KindGeneral, Inputs: []string{"missing"}, Terminal: true}
	trace := newTrace(stuck)

	router := fixedRouter{candidates: map[string][]domain.Binding{}}
	bank := providers.NewBank()

	emit, getEvents := collectEvents()
	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	artifacts, err := s.Run(ctx, trace, scheduler.Options{GlobalMax: 2, PerProviderMax: 2})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if len(artifacts) != 0 {
		t.Fatalf("expected no artifacts, got %+v", artifacts)
	}

	var failedEvents int
	for _, e := range getEvents() {
		if e.Type == domain.EventTaskFailed {
			p := e.Payload.(domain.TaskFailedPayload)
			if p.TaskID != "stuck" || p.Reason != "cancelled" {
				t.Fatalf("unexpected task_failed payload: %+v", p)
			}
			failedEvents++
		}
	}
	if failedEvents != 1 {
		t.Fatalf("expected exactly one task_failed event for the stuck task, got %d", failedEvents)
	}
}

func TestScheduler_CancellationAfterTerminalsDone_StillReturnsArtifacts(t *testing.T) {
	done := domain.Node{ID: "done", Kind: domain.KindGeneral, Terminal: true}
	sidecar := domain.Node{ID: "sidecar", Kind: domain.KindGeneral}
	trace := newTrace(done, sidecar)

	router := fixedRouter{candidates: map[string][]domain.Binding{
		"done":    {{ModelID: "m-done", ProviderID: domain.ProviderStub}},
		"sidecar": {{ModelID: "m-sidecar", ProviderID: domain.ProviderStub}},
	}}
	bank := providers.NewBank()
	stub := providers.NewStubAdapter()
	stub.Script("m-done", "final content")
	release := make(chan struct{})
	stub.OnModel("m-sidecar", func(callIndex int, _ string) (string, error) {
		<-release
		return "sidecar content", nil
	})
	bank.Register(stub)

	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var sawDoneVerified bool
	emit := func(e domain.Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Type == domain.EventTaskVerified {
			p := e.Payload.(domain.TaskVerifiedPayload)
			if p.TaskID == "done" && !sawDoneVerified {
				sawDoneVerified = true
				cancel()
			}
		}
	}

	s := scheduler.New(router, bank, verifier.New(nil), nil, emit)

	resultCh := make(chan struct {
		artifacts []domain.Artifact
		err       error
	}, 1)
	go func() {
		artifacts, err := s.Run(ctx, trace, scheduler.Options{GlobalMax: 2, PerProviderMax: 2})
		resultCh <- struct {
			artifacts []domain.Artifact
			err       error
		}{artifacts, err}
	}()

	var result struct {
		artifacts []domain.Artifact
		err       error
	}
	select {
	case result = <-resultCh:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	close(release)

	if result.err != nil {
		t.Fatalf("expected a completed run despite cancellation, got error: %v", result.err)
	}
	if len(result.artifacts) != 1 || result.artifacts[0].Content != "final content" {
		t.Fatalf("expected the already-done terminal artifact, got %+v", result.artifacts)
	}
}
