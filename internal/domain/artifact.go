package domain

import "time"

// ArtifactStatus is the lifecycle stage of a produced artifact.
type ArtifactStatus string

const (
	ArtifactProduced ArtifactStatus = "produced"
	ArtifactVerified ArtifactStatus = "verified"
	ArtifactRejected ArtifactStatus = "rejected"
	ArtifactRepaired ArtifactStatus = "repaired"
)

// Binding is a concrete (task, model, provider, attempt) association used
// for one execution. Immutable once created — a new attempt always
// creates a new Binding rather than mutating an existing one.
type Binding struct {
	TaskID      string   `json:"task_id"`
	ModelID     string   `json:"model_id"`
	ProviderID  Provider `json:"provider_id"`
	AttemptIndex int     `json:"attempt_index"`
}

// Artifact is the text produced by executing a Binding.
type Artifact struct {
	ArtifactID   string         `json:"artifact_id"`
	TaskID       string         `json:"task_id"`
	Binding      Binding        `json:"binding"`
	Content      string         `json:"content"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	LatencyMS    int64          `json:"latency_ms"`
	ProducedAt   time.Time      `json:"produced_at"`
	Status       ArtifactStatus `json:"status"`
}

// Verdict is the Verifier's structured judgement over an artifact.
type Verdict struct {
	ArtifactID     string           `json:"artifact_id"`
	Score          float64          `json:"score"`
	Passed         bool             `json:"passed"`
	FailureReasons []string         `json:"failure_reasons,omitempty"`
	RepairDirective *TaskGraph      `json:"repair_directive,omitempty"`
}
