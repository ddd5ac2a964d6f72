// Package providers implements the uniform Provider Adapter contract
// over the heterogeneous LLM backends in common/llm: token counting,
// timing, per-adapter retry with exponential backoff, and normalization
// of SDK-specific errors into domain.ProviderError.
package providers

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
	openaisdk "github.com/openai/openai-go"

	"github.com/petec4244/Ai3-Orchestrator/common/llm"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
)

// Options carries per-call tuning the Scheduler derives from the task
// and run configuration.
type Options struct {
	MaxTokens   int
	Temperature *float64
	Timeout     time.Duration
}

const defaultTimeout = 120 * time.Second

// Adapter is the contract every provider backend fulfills. execute never
// invokes the Router or Verifier — it is a pure I/O boundary.
type Adapter interface {
	Execute(ctx context.Context, prompt string, modelID string, opts Options) (domain.Artifact, error)
	ProviderID() domain.Provider
	SupportsStreaming() bool
}

// StreamFunc receives incremental text fragments. The Scheduler batches
// these into task_artifact events.
type StreamFunc func(fragment string)

type llmAdapter struct {
	providerID domain.Provider
	client     llm.AgentClient
	streaming  bool
}

// NewAdapter wraps an already-constructed AgentClient (one per model, or
// one per provider reused across models by passing modelID at call
// time) into the uniform Adapter contract.
func NewAdapter(providerID domain.Provider, client llm.AgentClient) Adapter {
	return &llmAdapter{providerID: providerID, client: client, streaming: providerID != domain.ProviderStub}
}

func (a *llmAdapter) ProviderID() domain.Provider { return a.providerID }
func (a *llmAdapter) SupportsStreaming() bool      { return a.streaming }

func (a *llmAdapter) Execute(ctx context.Context, prompt string, modelID string, opts Options) (domain.Artifact, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var artifact domain.Artifact
	operation := func() (domain.Artifact, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		start := time.Now()
		resp, err := a.client.ChatWithTools(callCtx, llm.AgentRequest{
			Messages:    []llm.Message{{Role: "user", Content: prompt}},
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		})
		latency := time.Since(start)

		if err != nil {
			cerr := classify(modelID, callCtx, err)
			if !cerr.Retryable {
				return domain.Artifact{}, backoff.Permanent(cerr)
			}
			return domain.Artifact{}, cerr
		}

		return domain.Artifact{
			Content:      resp.Content,
			InputTokens:  resp.PromptTokens,
			OutputTokens: resp.CompletionTokens,
			LatencyMS:    latency.Milliseconds(),
			ProducedAt:   time.Now(),
			Status:       domain.ArtifactProduced,
			Binding: domain.Binding{
				ModelID:    modelID,
				ProviderID: a.providerID,
			},
		}, nil
	}

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff(func(b *backoff.ExponentialBackOff) {
			b.InitialInterval = 250 * time.Millisecond
			b.Multiplier = 2
		})),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		var perr *domain.ProviderError
		if errors.As(err, &perr) {
			return domain.Artifact{}, perr
		}
		return domain.Artifact{}, domain.NewProviderError(modelID, domain.ProviderErrTransient, false, err)
	}
	return result, nil
}

// classify normalizes an SDK error into a domain.ProviderError,
// following the same status-code triage the teacher's IsRetryable used
// for OpenAI and extending it to Anthropic and plain network failures.
func classify(modelID string, ctx context.Context, err error) *domain.ProviderError {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewProviderError(modelID, domain.ProviderErrTimeout, true, err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewProviderError(modelID, domain.ProviderErrPermanent, false, err)
	}

	var oaiErr *openaisdk.Error
	if errors.As(err, &oaiErr) {
		switch {
		case oaiErr.StatusCode == 401 || oaiErr.StatusCode == 403:
			return domain.NewProviderError(modelID, domain.ProviderErrAuthFailed, false, err)
		case oaiErr.StatusCode == 429:
			return domain.NewProviderError(modelID, domain.ProviderErrRateLimited, true, err)
		case oaiErr.StatusCode >= 500:
			return domain.NewProviderError(modelID, domain.ProviderErrTransient, true, err)
		default:
			return domain.NewProviderError(modelID, domain.ProviderErrPermanent, false, err)
		}
	}

	var anthErr *anthropic.Error
	if errors.As(err, &anthErr) {
		switch {
		case anthErr.StatusCode == 401 || anthErr.StatusCode == 403:
			return domain.NewProviderError(modelID, domain.ProviderErrAuthFailed, false, err)
		case anthErr.StatusCode == 429:
			return domain.NewProviderError(modelID, domain.ProviderErrRateLimited, true, err)
		case anthErr.StatusCode >= 500:
			return domain.NewProviderError(modelID, domain.ProviderErrTransient, true, err)
		default:
			return domain.NewProviderError(modelID, domain.ProviderErrPermanent, false, err)
		}
	}

	// No structured API error: treat as a transient network failure.
	return domain.NewProviderError(modelID, domain.ProviderErrTransient, true, err)
}
