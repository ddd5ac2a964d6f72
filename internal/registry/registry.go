// Package registry implements the Capability Registry: a static,
// declaratively configured table of model descriptors merged at query
// time with live telemetry. It never caches a merged score past a
// single routing decision — only the static half is loaded once.
package registry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/telemetry"
)

// configFile is the on-disk shape of configs/models.yaml.
type configFile struct {
	Models            []domain.ModelDescriptor `yaml:"models"`
	RoutingOverrides  map[domain.TaskKind]string `yaml:"routing_overrides"`
}

// Registry is process-wide state: an explicit initialization step
// (Load) followed by read-only snapshots thereafter. Reads are
// lock-free against an atomic.Pointer snapshot; reloads swap it.
type Registry struct {
	snapshot atomic.Pointer[snapshot]
	tel      telemetry.Recorder
}

type snapshot struct {
	descriptors []domain.ModelDescriptor
	byID        map[string]domain.ModelDescriptor
	overrides   map[domain.TaskKind]string
}

// New constructs a Registry backed by tel for live statistics. Call Load
// before first use.
func New(tel telemetry.Recorder) *Registry {
	return &Registry{tel: tel}
}

// Load reads and validates descriptors from a YAML file, replacing any
// previous snapshot atomically.
func (r *Registry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: reading %s: %w", path, err)
	}

	var cf configFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("registry: parsing %s: %w", path, err)
	}

	byID := make(map[string]domain.ModelDescriptor, len(cf.Models))
	for _, m := range cf.Models {
		if m.ModelID == "" {
			return fmt.Errorf("registry: model descriptor with empty model_id in %s", path)
		}
		if _, dup := byID[m.ModelID]; dup {
			return fmt.Errorf("registry: duplicate model_id %q in %s", m.ModelID, path)
		}
		byID[m.ModelID] = m
	}

	snap := &snapshot{
		descriptors: cf.Models,
		byID:        byID,
		overrides:   cf.RoutingOverrides,
	}
	r.snapshot.Store(snap)
	return nil
}

// LoadFromDescriptors installs a fixed set of descriptors without
// touching the filesystem — used by tests and the deterministic stub
// adapter harness.
func (r *Registry) LoadFromDescriptors(descs []domain.ModelDescriptor, overrides map[domain.TaskKind]string) {
	byID := make(map[string]domain.ModelDescriptor, len(descs))
	for _, m := range descs {
		byID[m.ModelID] = m
	}
	r.snapshot.Store(&snapshot{descriptors: descs, byID: byID, overrides: overrides})
}

// Candidates returns every enabled descriptor merged with its current
// telemetry window, sorted by model_id for determinism. The Router is
// responsible for scoring and ordering; the Registry never blocks
// execution on a Telemetry miss — it substitutes the neutral prior.
func (r *Registry) Candidates(ctx context.Context, kind domain.TaskKind) ([]domain.Candidate, error) {
	snap := r.snapshot.Load()
	if snap == nil {
		return nil, fmt.Errorf("registry: not loaded")
	}

	out := make([]domain.Candidate, 0, len(snap.descriptors))
	for _, d := range snap.descriptors {
		if d.Disabled {
			continue
		}
		window, hasSamples := r.tel.Window(ctx, d.ModelID)
		if !hasSamples {
			window = telemetry.NeutralPrior(d.ModelID)
		}
		out = append(out, domain.Candidate{Descriptor: d, Telemetry: window, NeutralPrior: !hasSamples})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.ModelID < out[j].Descriptor.ModelID })
	return out, nil
}

// RoutingOverride returns the pinned model_id for a task kind, if any.
func (r *Registry) RoutingOverride(kind domain.TaskKind) (string, bool) {
	snap := r.snapshot.Load()
	if snap == nil || snap.overrides == nil {
		return "", false
	}
	modelID, ok := snap.overrides[kind]
	return modelID, ok
}

// Update forwards an execution outcome to Telemetry. The Registry itself
// holds no mutable per-model state beyond the static descriptor table.
func (r *Registry) Update(ctx context.Context, outcome telemetry.Outcome) {
	r.tel.Record(ctx, outcome)
}

// Describe returns the static descriptor for a model_id.
func (r *Registry) Describe(modelID string) (domain.ModelDescriptor, bool) {
	snap := r.snapshot.Load()
	if snap == nil {
		return domain.ModelDescriptor{}, false
	}
	d, ok := snap.byID[modelID]
	return d, ok
}
