package domain

import "errors"

// PlanError sentinels. Wrap with fmt.Errorf("...: %w", ErrSchema) to add
// context; callers switch on errors.Is against these.
var (
	ErrSchema      = errors.New("plan: schema violation")
	ErrCycle       = errors.New("plan: graph contains a cycle")
	ErrUpstreamLLM = errors.New("plan: upstream planner call failed")
)

// ProviderError sentinels, classifying adapter failures for retry/fallback
// decisions. Every adapter normalizes its SDK's error into one of these.
var (
	ErrTransient  = errors.New("provider: transient failure")
	ErrPermanent  = errors.New("provider: permanent failure")
	ErrRateLimited = errors.New("provider: rate limited")
	ErrAuthFailed = errors.New("provider: authentication failed")
	ErrTimeout    = errors.New("provider: request timed out")
)

// VerifyError sentinels.
var ErrInternalRubric = errors.New("verify: internal rubric failure")

// RouteError sentinels.
var ErrNoCandidate = errors.New("route: no candidate model available")

// RunError sentinels, surfaced by the Engine as the terminal outcome of a
// run when it cannot produce a final artifact.
var (
	ErrAllCandidatesFailed = errors.New("run: all candidate models failed")
	ErrCancelled           = errors.New("run: cancelled")
	ErrRunTimeout          = errors.New("run: deadline exceeded")
	ErrConfiguration       = errors.New("run: configuration error")
)

// ProviderErrorKind names the ProviderError variant for structured
// logging and journaling, independent of the sentinel chain used for
// errors.Is matching.
type ProviderErrorKind string

const (
	ProviderErrTransient   ProviderErrorKind = "transient"
	ProviderErrPermanent   ProviderErrorKind = "permanent"
	ProviderErrRateLimited ProviderErrorKind = "rate_limited"
	ProviderErrAuthFailed  ProviderErrorKind = "auth_failed"
	ProviderErrTimeout     ProviderErrorKind = "timeout"
)

// ProviderError is the normalized failure shape every provider adapter
// returns. Kind drives retry/backoff/fallback decisions in the scheduler;
// the wrapped Err preserves the underlying SDK error for logs.
type ProviderError struct {
	Kind      ProviderErrorKind
	ModelID   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err == nil {
		return "provider error: " + string(e.Kind) + " (" + e.ModelID + ")"
	}
	return "provider error: " + string(e.Kind) + " (" + e.ModelID + "): " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	switch e.Kind {
	case ProviderErrTransient:
		return ErrTransient
	case ProviderErrPermanent:
		return ErrPermanent
	case ProviderErrRateLimited:
		return ErrRateLimited
	case ProviderErrAuthFailed:
		return ErrAuthFailed
	case ProviderErrTimeout:
		return ErrTimeout
	default:
		return ErrTransient
	}
}

// NewProviderError classifies a raw error into the normalized shape. kind
// and retryable are supplied by the caller (the adapter has already
// inspected the SDK-specific error type).
func NewProviderError(modelID string, kind ProviderErrorKind, retryable bool, cause error) *ProviderError {
	return &ProviderError{Kind: kind, ModelID: modelID, Err: cause, Retryable: retryable}
}

// RunOutcomeError wraps a terminal run failure with the originating
// node id, when one applies, so the HTTP layer and CLI can report which
// task sank the run.
type RunOutcomeError struct {
	RunID  string
	NodeID string
	Err    error
}

func (e *RunOutcomeError) Error() string {
	if e.NodeID == "" {
		return "run " + e.RunID + ": " + e.Err.Error()
	}
	return "run " + e.RunID + " task " + e.NodeID + ": " + e.Err.Error()
}

func (e *RunOutcomeError) Unwrap() error { return e.Err }
