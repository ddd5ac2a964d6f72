// Package bootstrap assembles the Engine's dependency graph from a
// loaded Config. Every binary that runs a prompt (the HTTP server and
// the CLI) shares this construction path so they can never drift apart
// on how a provider key becomes a registered Adapter.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petec4244/Ai3-Orchestrator/common/llm"
	"github.com/petec4244/Ai3-Orchestrator/core/config"
	"github.com/petec4244/Ai3-Orchestrator/core/db"
	"github.com/petec4244/Ai3-Orchestrator/internal/assembler"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/engine"
	"github.com/petec4244/Ai3-Orchestrator/internal/journal"
	"github.com/petec4244/Ai3-Orchestrator/internal/planner"
	"github.com/petec4244/Ai3-Orchestrator/internal/providers"
	"github.com/petec4244/Ai3-Orchestrator/internal/recovery"
	"github.com/petec4244/Ai3-Orchestrator/internal/registry"
	"github.com/petec4244/Ai3-Orchestrator/internal/telemetry"
	"github.com/petec4244/Ai3-Orchestrator/internal/verifier"
)

// ModelsPath is the default location of the static capability descriptor
// file, relative to the process's working directory.
const ModelsPath = "configs/models.yaml"

// Deps is everything bootstrapped alongside the Engine that a binary's
// main function still needs direct access to for graceful shutdown.
type Deps struct {
	Engine     *engine.Engine
	RedisClient *redis.Client
	DB         *db.DB
	Heartbeat  *recovery.Registry
}

// Build wires a provider Bank, the capability Registry, Planner,
// Verifier, Assembler, and Journal from cfg, and returns a ready Engine.
// The caller is responsible for closing the returned Redis/DB handles.
func Build(ctx context.Context, cfg config.Config) (*Deps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var redisClient *redis.Client
	var recorder telemetry.Recorder = telemetry.NewMemoryRecorder()
	var heartbeat *recovery.Registry

	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		recorder = telemetry.NewRedisRecorder(redisClient, "")
		heartbeat = recovery.NewRegistry(redisClient, "", 15*time.Second)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	bank, err := buildBank(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(recorder)
	if err := reg.Load(ModelsPath); err != nil {
		return nil, fmt.Errorf("loading model registry %s: %w", ModelsPath, err)
	}

	plannerClient, err := llm.NewProviderClient(llm.Config{
		Provider: plannerProvider(cfg),
		APIKey:   plannerAPIKey(cfg),
		Model:    cfg.PlannerModel,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing planner client: %w", err)
	}
	p := planner.New(plannerClient)

	verifierClient, err := llm.NewProviderClient(llm.Config{
		Provider: plannerProvider(cfg),
		APIKey:   plannerAPIKey(cfg),
		Model:    cfg.PlannerModel,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing verifier client: %w", err)
	}
	v := verifier.New(verifier.NewLLMRubricChecker(verifierClient))

	asmClient, err := llm.NewProviderClient(llm.Config{
		Provider: plannerProvider(cfg),
		APIKey:   plannerAPIKey(cfg),
		Model:    cfg.PlannerModel,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing assembler client: %w", err)
	}
	asm := assembler.New(assembler.NewLLMSynthesizer(asmClient))

	j, err := journal.New(cfg.JournalDir, database)
	if err != nil {
		return nil, fmt.Errorf("opening journal at %s: %w", cfg.JournalDir, err)
	}

	eng := engine.New(p, reg, bank, v, asm, j, heartbeat)

	return &Deps{Engine: eng, RedisClient: redisClient, DB: database, Heartbeat: heartbeat}, nil
}

// buildBank registers one Adapter per configured provider API key. At
// least one key is guaranteed present by cfg.Validate.
func buildBank(cfg config.Config) (*providers.Bank, error) {
	bank := providers.NewBank()

	type credential struct {
		provider domain.Provider
		apiKey   string
	}
	creds := []credential{
		{domain.ProviderAnthropic, cfg.AnthropicAPIKey},
		{domain.ProviderOpenAI, cfg.OpenAIAPIKey},
		{domain.ProviderXAI, cfg.XAIAPIKey},
	}

	for _, c := range creds {
		if c.apiKey == "" {
			continue
		}
		client, err := llm.NewProviderClient(llm.Config{Provider: string(c.provider), APIKey: c.apiKey})
		if err != nil {
			return nil, fmt.Errorf("constructing %s client: %w", c.provider, err)
		}
		bank.Register(providers.NewAdapter(c.provider, client))
	}

	return bank, nil
}

// plannerProvider picks which configured credential backs the Planner,
// Verifier, and Assembler's own LLM calls: Anthropic first, then
// OpenAI, then xAI, mirroring the Bank's registration preference.
func plannerProvider(cfg config.Config) string {
	switch {
	case cfg.AnthropicAPIKey != "":
		return "anthropic"
	case cfg.OpenAIAPIKey != "":
		return "openai"
	default:
		return "xai"
	}
}

func plannerAPIKey(cfg config.Config) string {
	switch plannerProvider(cfg) {
	case "anthropic":
		return cfg.AnthropicAPIKey
	case "openai":
		return cfg.OpenAIAPIKey
	default:
		return cfg.XAIAPIKey
	}
}
