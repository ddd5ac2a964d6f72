// Package handler implements the gin handlers backing the HTTP surface:
// one handler per feature, bound to a DTO, delegating into the Engine,
// and mapping sentinel errors onto the documented status codes.
package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/petec4244/Ai3-Orchestrator/common/logger"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/engine"
	"github.com/petec4244/Ai3-Orchestrator/internal/httpapi/dto"
)

// RunHandler serves POST /run and POST /stream/run against a shared
// Engine. Defaults fill any field the request body leaves zero-valued.
type RunHandler struct {
	engine   *engine.Engine
	defaults engine.Options
}

func NewRunHandler(eng *engine.Engine, defaults engine.Options) *RunHandler {
	return &RunHandler{engine: eng, defaults: defaults}
}

// Run handles POST /run: the body is executed to completion and the
// assembled response returned as a single JSON document.
func (h *RunHandler) Run(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorBody("schema", err.Error()))
		return
	}

	opts := h.resolveOptions(req.Options)
	trace, err := h.engine.Run(ctx, req.Prompt, opts)
	if err != nil {
		h.writeError(c, trace, err)
		return
	}

	c.JSON(http.StatusOK, dto.RunResponse{
		RunID:      trace.RunID,
		Content:    trace.Response.Content,
		Confidence: trace.Response.Confidence,
		Stats:      toDTOStats(trace.Stats),
	})
}

// Stream handles POST /stream/run: every engine event is relayed to the
// client as a named SSE event as it occurs.
func (h *RunHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorBody("schema", err.Error()))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	opts := h.resolveOptions(req.Options)

	flusher, canFlush := c.Writer.(http.Flusher)
	emit := func(ev domain.Event) {
		c.SSEvent(string(ev.Type), ev.Payload)
		if canFlush {
			flusher.Flush()
		}
	}

	_, err := h.engine.RunStream(ctx, req.Prompt, opts, emit)
	if err != nil {
		slog.ErrorContext(ctx, "stream run failed", "error", err)
		kind, _ := classify(err)
		c.SSEvent("error", dto.NewErrorBody(kind, err.Error()).Error)
		if canFlush {
			flusher.Flush()
		}
	}
}

func (h *RunHandler) resolveOptions(o *dto.RunOptions) engine.Options {
	opts := h.defaults
	if o == nil {
		return opts
	}
	if o.MaxConcurrency > 0 {
		opts.GlobalMax = o.MaxConcurrency
	}
	if o.MaxConcurrencyPerProvider > 0 {
		opts.PerProviderMax = o.MaxConcurrencyPerProvider
	}
	if o.VerifyEnabled != nil {
		opts.VerifyEnabled = *o.VerifyEnabled
	}
	if o.RepairLimit != nil {
		opts.RepairLimit = *o.RepairLimit
	}
	if o.PlannerModel != "" {
		opts.PlannerModel = o.PlannerModel
	}
	if o.PlannerMaxTokens > 0 {
		opts.PlannerMaxTokens = o.PlannerMaxTokens
	}
	if o.PlannerTemperature > 0 {
		opts.PlannerTemperature = o.PlannerTemperature
	}
	if o.TimeoutSeconds > 0 {
		opts.Timeout = time.Duration(o.TimeoutSeconds) * time.Second
	}
	return opts
}

func (h *RunHandler) writeError(c *gin.Context, trace *domain.RunTrace, err error) {
	ctx := c.Request.Context()
	runID := ""
	if trace != nil {
		runID = trace.RunID
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{RunID: runID, Component: "ai3.httpapi.run"})
	slog.ErrorContext(ctx, "run failed", "run_id", runID, "error", err)

	kind, status := classify(err)
	c.JSON(status, dto.NewErrorBody(kind, err.Error()))
}

// classify maps a run-terminal error onto the documented status codes:
// 400 plan error, 424 all providers failed, 408 timeout, 499 cancelled,
// 500 everything else (including configuration errors).
func classify(err error) (kind string, status int) {
	switch {
	case errors.Is(err, domain.ErrSchema):
		return "schema", http.StatusBadRequest
	case errors.Is(err, domain.ErrCycle):
		return "cycle", http.StatusBadRequest
	case errors.Is(err, domain.ErrUpstreamLLM):
		return "upstream_llm", http.StatusBadRequest
	case errors.Is(err, domain.ErrAllCandidatesFailed):
		return "all_candidates_failed", http.StatusFailedDependency
	case errors.Is(err, domain.ErrRunTimeout):
		return "timeout", http.StatusRequestTimeout
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled", 499
	case errors.Is(err, domain.ErrConfiguration):
		return "configuration", http.StatusInternalServerError
	default:
		return "internal", http.StatusInternalServerError
	}
}

func toDTOStats(s domain.RunStats) dto.Stats {
	return dto.Stats{
		WallTimeMS:    s.WallTimeMS,
		TokensIn:      s.TokensIn,
		TokensOut:     s.TokensOut,
		Cost:          s.Cost,
		TasksExecuted: s.TasksExecuted,
		TasksRepaired: s.TasksRepaired,
		TasksFailed:   s.TasksFailed,
	}
}
