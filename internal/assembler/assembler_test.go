package assembler_test

import (
	"context"
	"testing"

	"github.com/petec4244/Ai3-Orchestrator/internal/assembler"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

func TestAssemble_SingleArtifact_BestSingle(t *testing.T) {
	terminals := []domain.Node{{ID: "n1", Kind: domain.KindGeneral}}
	artifacts := []domain.Artifact{{ArtifactID: "a1", TaskID: "n1", Content: "4"}}
	scores := map[string]float64{"a1": 0.9}

	a := assembler.New(nil)
	resp, err := a.Assemble(context.Background(), terminals, artifacts, scores)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if resp.Content != "4" || resp.Confidence != 0.9 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestAssemble_SameKind_Concatenate(t *testing.T) {
	terminals := []domain.Node{
		{ID: "n1", Kind: domain.KindSummarization},
		{ID: "n2", Kind: domain.KindSummarization},
	}
	artifacts := []domain.Artifact{
		{ArtifactID: "a2", TaskID: "n2", Content: "second"},
		{ArtifactID: "a1", TaskID: "n1", Content: "first"},
	}
	scores := map[string]float64{"a1": 1.0, "a2": 0.5}

	a := assembler.New(nil)
	resp, err := a.Assemble(context.Background(), terminals, artifacts, scores)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if resp.Content != "first\n\nsecond" {
		t.Fatalf("expected topological order, got %q", resp.Content)
	}
	if resp.Confidence != 0.75 {
		t.Fatalf("expected mean confidence 0.75, got %v", resp.Confidence)
	}
}

type stubSynthesizer struct{ out string }

func (s stubSynthesizer) Synthesize(_ context.Context, _ []domain.Artifact) (string, error) {
	return s.out, nil
}

func TestAssemble_DifferentKinds_Synthesize(t *testing.T) {
	terminals := []domain.Node{
		{ID: "n1", Kind: domain.KindCoding},
		{ID: "n2", Kind: domain.KindCreativeWriting},
	}
	artifacts := []domain.Artifact{
		{ArtifactID: "a1", TaskID: "n1", Content: "code"},
		{ArtifactID: "a2", TaskID: "n2", Content: "poem"},
	}
	scores := map[string]float64{"a1": 1.0, "a2": 1.0}

	a := assembler.New(stubSynthesizer{out: "merged"})
	resp, err := a.Assemble(context.Background(), terminals, artifacts, scores)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if resp.Content != "merged" {
		t.Fatalf("expected synthesized content, got %q", resp.Content)
	}
	if len(resp.SourceIDs) != 2 {
		t.Fatalf("expected both artifacts listed as sources, got %v", resp.SourceIDs)
	}
}
