// Package journal implements the Journal: append-only durable storage
// of run traces on the filesystem, with an optional Postgres secondary
// index over individual artifacts for offline inspection.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/petec4244/Ai3-Orchestrator/common"
	"github.com/petec4244/Ai3-Orchestrator/core/db"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

// Journal persists RunTraces to journal/<run_id>.json and indexes
// artifacts under artifacts/<date>/<kind>/<model_id>/<artifact_id>.txt.
// The Postgres index is optional: Index is nil when no DSN is
// configured, and every indexing call degrades to a no-op.
type Journal struct {
	baseDir string
	index   *db.DB
}

func New(baseDir string, index *db.DB) (*Journal, error) {
	for _, sub := range []string{"journal", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("journal: creating %s dir: %w", sub, err)
		}
	}
	return &Journal{baseDir: baseDir, index: index}, nil
}

// EnsureSchema creates the Postgres secondary index table when an index
// is configured. Safe to call on every startup.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	if j.index == nil {
		return nil
	}
	return j.index.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS artifact_index (
			artifact_id TEXT PRIMARY KEY,
			run_id      TEXT NOT NULL,
			task_kind   TEXT NOT NULL,
			model_id    TEXT NOT NULL,
			produced_at TIMESTAMPTZ NOT NULL
		)`)
}

// Persist writes trace to journal/<run_id>.json and indexes each of its
// artifacts, under the trace's own mutex for the duration of the
// snapshot read.
func (j *Journal) Persist(ctx context.Context, trace *domain.RunTrace) error {
	trace.Mu.Lock()
	snapshot, err := json.MarshalIndent(trace, "", "  ")
	artifacts := append([]domain.Artifact(nil), trace.Artifacts...)
	graph := trace.Graph
	trace.Mu.Unlock()
	if err != nil {
		return fmt.Errorf("journal: marshal run trace: %w", err)
	}

	path := filepath.Join(j.baseDir, "journal", trace.RunID+".json")
	if err := os.WriteFile(path, snapshot, 0o644); err != nil {
		return fmt.Errorf("journal: write run trace: %w", err)
	}

	for _, art := range artifacts {
		kind := domain.KindGeneral
		if node, ok := graph.ByID(art.TaskID); ok {
			kind = node.Kind
		}
		if err := j.indexArtifact(ctx, trace.RunID, art, kind); err != nil {
			return err
		}
	}
	return nil
}

func (j *Journal) indexArtifact(ctx context.Context, runID string, art domain.Artifact, kind domain.TaskKind) error {
	kindSlug, err := common.Slugify(string(kind), "unknown-kind")
	if err != nil {
		return fmt.Errorf("journal: slugify task kind: %w", err)
	}
	modelSlug, err := common.Slugify(art.Binding.ModelID, "unknown-model")
	if err != nil {
		return fmt.Errorf("journal: slugify model id: %w", err)
	}

	dateDir := art.ProducedAt.UTC().Format("2006-01-02")
	dir := filepath.Join(j.baseDir, "artifacts", dateDir, kindSlug, modelSlug)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("journal: creating artifact dir: %w", err)
	}

	path := filepath.Join(dir, art.ArtifactID+".txt")
	if err := os.WriteFile(path, []byte(art.Content), 0o644); err != nil {
		return fmt.Errorf("journal: write artifact: %w", err)
	}

	if j.index == nil {
		return nil
	}
	return j.index.Exec(ctx, `
		INSERT INTO artifact_index (artifact_id, run_id, task_kind, model_id, produced_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (artifact_id) DO NOTHING`,
		art.ArtifactID, runID, string(kind), art.Binding.ModelID, art.ProducedAt,
	)
}

// GetTrace rehydrates a previously persisted RunTrace for replay. It
// performs no LLM calls and does not re-execute the graph.
func (j *Journal) GetTrace(_ context.Context, runID string) (*domain.RunTrace, error) {
	path := filepath.Join(j.baseDir, "journal", runID+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("journal: read run trace %s: %w", runID, err)
	}

	var trace domain.RunTrace
	if err := json.Unmarshal(raw, &trace); err != nil {
		return nil, fmt.Errorf("journal: unmarshal run trace %s: %w", runID, err)
	}
	return &trace, nil
}

// PruneBefore removes journal and artifact files older than cutoff, for
// operators who want bounded local disk usage. Best-effort: a removal
// failure for one file does not stop the sweep.
func (j *Journal) PruneBefore(cutoff time.Time) {
	_ = filepath.WalkDir(filepath.Join(j.baseDir, "artifacts"), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil && !info.ModTime().After(cutoff) {
			_ = os.Remove(path)
		}
		return nil
	})

	entries, err := os.ReadDir(filepath.Join(j.baseDir, "journal"))
	if err != nil {
		return
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		_ = os.Remove(filepath.Join(j.baseDir, "journal", e.Name()))
	}
}
