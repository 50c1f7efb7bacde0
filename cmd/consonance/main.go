// Command consonance analyzes diarized clinical conversations: it detects
// cross-talk, clusters speakers, and scores conversation quality. Input is a
// JSON file of diarized segments; output is the analysis JSON on stdout.
// With -serve it additionally exposes Prometheus metrics and health probes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/consonance-ai/consonance/internal/app"
	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/internal/observe"
	"github.com/consonance-ai/consonance/pkg/types"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults apply when empty)")
	segmentsPath := flag.String("segments", "", "path to a JSON file of diarized segments to analyze")
	serve := flag.Bool("serve", false, "keep the metrics/health server running until SIGINT/SIGTERM")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	var cfg *config.Config
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "consonance: %v\n", err)
			return 1
		}
		cfg = loaded
	} else {
		def := config.Default()
		cfg = &def
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("consonance starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "consonance",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	application, err := app.New(cfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Batch analysis ────────────────────────────────────────────────────────
	if *segmentsPath != "" {
		if err := analyzeFile(ctx, application, *segmentsPath); err != nil {
			slog.Error("analysis failed", "path", *segmentsPath, "err", err)
			return 1
		}
	} else if !*serve {
		fmt.Fprintln(os.Stderr, "consonance: nothing to do — pass -segments and/or -serve")
		return 2
	}

	// ── Serve mode ────────────────────────────────────────────────────────────
	if *serve {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("run error", "err", err)
			return 1
		}
	}

	slog.Info("goodbye")
	return 0
}

// analysisOutput is the stdout JSON document for one analyzed conversation.
type analysisOutput struct {
	ConversationID string                    `json:"conversation_id"`
	Analysis       *types.ConversationFlow   `json:"analysis"`
	Metrics        types.ConversationMetrics `json:"metrics"`
}

// analyzeFile reads diarized segments from a JSON file, runs the batch
// pipeline plus scoring, and writes the result to stdout.
func analyzeFile(ctx context.Context, application *app.App, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read segments: %w", err)
	}

	var segments []types.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return fmt.Errorf("parse segments: %w", err)
	}

	id := uuid.NewString()
	flow, scores, err := application.AnalyzeBatch(ctx, id, segments)
	if err != nil {
		return err
	}

	out := analysisOutput{
		ConversationID: id,
		Analysis:       flow,
		Metrics:        scores,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
