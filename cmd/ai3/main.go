// Package main implements the ai3 CLI: one prompt in, one assembled
// response (or a live event stream) out.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/petec4244/Ai3-Orchestrator/common/logger"
	"github.com/petec4244/Ai3-Orchestrator/core/config"
	"github.com/petec4244/Ai3-Orchestrator/internal/bootstrap"
	"github.com/petec4244/Ai3-Orchestrator/internal/domain"
	"github.com/petec4244/Ai3-Orchestrator/internal/engine"
)

// Exit codes per the documented CLI surface.
const (
	exitSuccess             = 0
	exitPlanError           = 1
	exitAllCandidatesFailed = 2
	exitCancelledOrTimeout  = 3
	exitConfigurationError  = 4
)

func main() {
	_ = godotenv.Load()
	os.Exit(run())
}

func run() int {
	cmd, opts := rootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return exitConfigurationError
	}
	return opts.exitCode
}

// cliOptions collects the flag values and the final exit code the root
// command's RunE computes, since cobra's Execute only reports whether
// parsing/execution itself errored.
type cliOptions struct {
	stream                    bool
	maxConcurrency            int
	maxConcurrencyPerProvider int
	plannerModel              string
	noVerify                  bool
	repairLimit               int
	exitCode                  int
}

func rootCmd() (*cobra.Command, *cliOptions) {
	opts := &cliOptions{repairLimit: -1}

	cmd := &cobra.Command{
		Use:   "ai3 [prompt]",
		Short: "Decompose a prompt into a task graph and execute it across configured LLM providers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.exitCode = execute(cmd.Context(), args[0], opts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.stream, "stream", false, "stream events as they occur instead of printing the final result")
	cmd.Flags().IntVar(&opts.maxConcurrency, "max-concurrency", 0, "global concurrent task cap (0 uses the configured default)")
	cmd.Flags().IntVar(&opts.maxConcurrencyPerProvider, "max-concurrency-per-provider", 0, "per-provider concurrent task cap (0 uses the configured default)")
	cmd.Flags().StringVar(&opts.plannerModel, "planner-model", "", "override the planner's model id")
	cmd.Flags().BoolVar(&opts.noVerify, "no-verify", false, "skip verification and accept the first artifact per task")
	cmd.Flags().IntVar(&opts.repairLimit, "repair-limit", -1, "clamp every node's repair budget (negative leaves planner defaults)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cmd.SetContext(ctx)
	cmd.PostRun = func(*cobra.Command, []string) { stop() }

	return cmd, opts
}

func execute(ctx context.Context, prompt string, cli *cliOptions) int {
	cfg := config.Load()
	logger.Setup(cfg)

	if err := cfg.Validate(); err != nil {
		slog.ErrorContext(ctx, "configuration error", "error", err)
		return exitConfigurationError
	}
	if strings.TrimSpace(cli.plannerModel) != "" {
		cfg.PlannerModel = cli.plannerModel
	}

	deps, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to bootstrap engine", "error", err)
		return exitConfigurationError
	}
	if deps.RedisClient != nil {
		defer deps.RedisClient.Close()
	}
	if deps.DB != nil {
		defer deps.DB.Close()
	}

	opts := engine.Options{
		GlobalMax:          firstNonZero(cli.maxConcurrency, cfg.MaxConcurrency),
		PerProviderMax:     firstNonZero(cli.maxConcurrencyPerProvider, cfg.MaxConcurrencyPerProvider),
		VerifyEnabled:      cfg.VerifyEnabled && !cli.noVerify,
		RepairLimit:        cli.repairLimit,
		PlannerModel:       firstNonEmpty(cli.plannerModel, cfg.PlannerModel),
		PlannerMaxTokens:   cfg.PlannerMaxTokens,
		PlannerTemperature: cfg.PlannerTemperature,
	}

	if cli.stream {
		return runStream(ctx, deps.Engine, prompt, opts)
	}
	return runOnce(ctx, deps.Engine, prompt, opts)
}

func runOnce(ctx context.Context, eng *engine.Engine, prompt string, opts engine.Options) int {
	trace, err := eng.Run(ctx, prompt, opts)
	if err != nil {
		return reportError(trace, err)
	}

	fmt.Println(trace.Response.Content)
	fmt.Fprintf(os.Stderr, "\n[%d tasks, %d repaired, %dms]\n",
		trace.Stats.TasksExecuted, trace.Stats.TasksRepaired, trace.Stats.WallTimeMS)
	return exitSuccess
}

func runStream(ctx context.Context, eng *engine.Engine, prompt string, opts engine.Options) int {
	emit := func(ev domain.Event) {
		payload, _ := json.Marshal(ev.Payload)
		fmt.Printf("event: %s\ndata: %s\n\n", ev.Type, payload)
	}

	trace, err := eng.RunStream(ctx, prompt, opts, emit)
	if err != nil {
		return reportError(trace, err)
	}
	return exitSuccess
}

func reportError(trace *domain.RunTrace, err error) int {
	switch {
	case errorIsAny(err, domain.ErrSchema, domain.ErrCycle, domain.ErrUpstreamLLM):
		fmt.Fprintln(os.Stderr, "plan error:", err)
		return exitPlanError
	case errorIsAny(err, domain.ErrAllCandidatesFailed):
		fmt.Fprintln(os.Stderr, "all candidate models failed:", err)
		return exitAllCandidatesFailed
	case errorIsAny(err, domain.ErrCancelled, domain.ErrRunTimeout):
		fmt.Fprintln(os.Stderr, "run did not complete:", err)
		return exitCancelledOrTimeout
	case errorIsAny(err, domain.ErrConfiguration):
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		return exitConfigurationError
	default:
		fmt.Fprintln(os.Stderr, "run failed:", err)
		if trace != nil {
			return exitAllCandidatesFailed
		}
		return exitConfigurationError
	}
}

func errorIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
