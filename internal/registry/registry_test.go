package registry_test

import (
	"context"
	"testing"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/registry"
	"github.com/petec4244/Ai3-Orchestrator/internal/telemetry"
)

func TestCandidates_SkipsDisabledModels(t *testing.T) {
	r := registry.New(telemetry.NewMemoryRecorder())
	r.LoadFromDescriptors([]domain.ModelDescriptor{
		{ModelID: "active", ProviderID: domain.ProviderStub},
		{ModelID: "off", ProviderID: domain.ProviderStub, Disabled: true},
	}, nil)

	candidates, err := r.Candidates(context.Background(), domain.KindGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Descriptor.ModelID != "active" {
		t.Fatalf("expected only the active model, got %+v", candidates)
	}
}

func TestCandidates_UnseenModelGetsNeutralPrior(t *testing.T) {
	r := registry.New(telemetry.NewMemoryRecorder())
	r.LoadFromDescriptors([]domain.ModelDescriptor{{ModelID: "fresh", ProviderID: domain.ProviderStub}}, nil)

	candidates, err := r.Candidates(context.Background(), domain.KindGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || !candidates[0].NeutralPrior {
		t.Fatalf("expected a neutral-prior candidate, got %+v", candidates)
	}
}

func TestCandidates_ReflectsRecordedTelemetry(t *testing.T) {
	rec := telemetry.NewMemoryRecorder()
	r := registry.New(rec)
	r.LoadFromDescriptors([]domain.ModelDescriptor{{ModelID: "seen", ProviderID: domain.ProviderStub}}, nil)

	rec.Record(context.Background(), telemetry.Outcome{ModelID: "seen", Success: true, LatencyMS: 100})

	candidates, err := r.Candidates(context.Background(), domain.KindGeneral)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) != 1 || candidates[0].NeutralPrior {
		t.Fatalf("expected telemetry-backed candidate, got %+v", candidates)
	}
	if candidates[0].Telemetry.Attempts != 1 {
		t.Fatalf("expected one recorded attempt, got %+v", candidates[0].Telemetry)
	}
}

func TestCandidates_NotLoaded_ReturnsError(t *testing.T) {
	r := registry.New(telemetry.NewMemoryRecorder())
	if _, err := r.Candidates(context.Background(), domain.KindGeneral); err == nil {
		t.Fatal("expected an error before Load/LoadFromDescriptors is called")
	}
}

func TestRoutingOverride_ReturnsConfiguredPin(t *testing.T) {
	r := registry.New(telemetry.NewMemoryRecorder())
	r.LoadFromDescriptors(nil, map[domain.TaskKind]string{domain.KindCoding: "pinned-model"})

	modelID, ok := r.RoutingOverride(domain.KindCoding)
	if !ok || modelID != "pinned-model" {
		t.Fatalf("expected pinned-model override, got %q ok=%v", modelID, ok)
	}

	if _, ok := r.RoutingOverride(domain.KindGeneral); ok {
		t.Fatal("expected no override for an unconfigured kind")
	}
}

func TestDescribe_ReturnsStaticDescriptor(t *testing.T) {
	r := registry.New(telemetry.NewMemoryRecorder())
	r.LoadFromDescriptors([]domain.ModelDescriptor{{ModelID: "m1", DisplayName: "Model One"}}, nil)

	d, ok := r.Describe("m1")
	if !ok || d.DisplayName != "Model One" {
		t.Fatalf("expected to describe m1, got %+v ok=%v", d, ok)
	}

	if _, ok := r.Describe("missing"); ok {
		t.Fatal("expected no descriptor for an unknown model id")
	}
}
