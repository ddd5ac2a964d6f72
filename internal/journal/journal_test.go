package journal_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/journal"
)

func TestPersistAndGetTrace_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.New(dir, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	graph := domain.TaskGraph{Nodes: []domain.Node{
		{ID: "n1", Kind: domain.KindGeneral, PromptText: "hi", Terminal: true},
	}}
	trace := domain.NewRunTrace("20260101_000000_abcdef", "hi", graph, time.Now().UTC().Truncate(time.Second))
	trace.AddBinding(domain.Binding{TaskID: "n1", ModelID: "m1", ProviderID: domain.ProviderStub})
	trace.AddArtifact(domain.Artifact{
		ArtifactID: "art_1", TaskID: "n1",
		Binding:    domain.Binding{TaskID: "n1", ModelID: "m1", ProviderID: domain.ProviderStub},
		Content:    "hello",
		ProducedAt: time.Now().UTC().Truncate(time.Second),
		Status:     domain.ArtifactProduced,
	})
	trace.AddVerdict(domain.Verdict{ArtifactID: "art_1", Score: 1, Passed: true})
	trace.Seal(time.Now().UTC().Truncate(time.Second), &domain.Response{Content: "hello", Confidence: 1, SourceIDs: []string{"art_1"}}, domain.RunStats{TasksExecuted: 1})

	if err := j.Persist(context.Background(), trace); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	rehydrated, err := j.GetTrace(context.Background(), trace.RunID)
	if err != nil {
		t.Fatalf("GetTrace: %v", err)
	}

	diff := cmp.Diff(trace, rehydrated, cmpopts.IgnoreFields(domain.RunTrace{}, "Mu"))
	if diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}
