package handler

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/engine"
	"github.com/petec4244/Ai3-Orchestrator/internal/httpapi/dto"
)

func TestClassify_MapsSentinelsToDocumentedStatusCodes(t *testing.T) {
	cases := []struct {
		err        error
		wantKind   string
		wantStatus int
	}{
		{domain.ErrSchema, "schema", http.StatusBadRequest},
		{domain.ErrCycle, "cycle", http.StatusBadRequest},
		{domain.ErrUpstreamLLM, "upstream_llm", http.StatusBadRequest},
		{domain.ErrAllCandidatesFailed, "all_candidates_failed", http.StatusFailedDependency},
		{domain.ErrRunTimeout, "timeout", http.StatusRequestTimeout},
		{domain.ErrCancelled, "cancelled", 499},
		{domain.ErrConfiguration, "configuration", http.StatusInternalServerError},
	}

	for _, tc := range cases {
		wrapped := &domain.RunOutcomeError{RunID: "run_1", Err: tc.err}
		kind, status := classify(wrapped)
		require.Equal(t, tc.wantKind, kind)
		require.Equal(t, tc.wantStatus, status)
	}
}

func TestClassify_UnknownErrorIsInternal(t *testing.T) {
	kind, status := classify(errors.New("boom"))
	require.Equal(t, "internal", kind)
	require.Equal(t, http.StatusInternalServerError, status)
}

func TestResolveOptions_OverridesOnlyNonZeroFields(t *testing.T) {
	h := &RunHandler{defaults: engine.Options{
		GlobalMax:      4,
		PerProviderMax: 2,
		VerifyEnabled:  true,
		RepairLimit:    1,
		PlannerModel:   "claude-sonnet-4-5-20250514",
	}}

	repairLimit := 3
	verify := false
	got := h.resolveOptions(&dto.RunOptions{
		MaxConcurrency: 8,
		RepairLimit:    &repairLimit,
		VerifyEnabled:  &verify,
		TimeoutSeconds: 30,
	})

	require.Equal(t, 8, got.GlobalMax)
	require.Equal(t, 2, got.PerProviderMax, "untouched field keeps the default")
	require.False(t, got.VerifyEnabled)
	require.Equal(t, 3, got.RepairLimit)
	require.Equal(t, "claude-sonnet-4-5-20250514", got.PlannerModel, "untouched field keeps the default")
	require.Equal(t, 30*time.Second, got.Timeout)
}

func TestResolveOptions_NilOptionsReturnsDefaults(t *testing.T) {
	defaults := engine.Options{GlobalMax: 4}
	h := &RunHandler{defaults: defaults}
	require.Equal(t, defaults, h.resolveOptions(nil))
}
