// Package app wires the Consonance subsystems into a running service: the
// batch analysis pipeline, the conversation-quality scorer, a manager for
// live tracked conversations, and the HTTP observability surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/consonance-ai/consonance/internal/analytics"
	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/internal/health"
	"github.com/consonance-ai/consonance/internal/observe"
	"github.com/consonance-ai/consonance/internal/processor"
	"github.com/consonance-ai/consonance/internal/realtime"
	"github.com/consonance-ai/consonance/pkg/types"
)

// shutdownTimeout bounds graceful HTTP server shutdown.
const shutdownTimeout = 5 * time.Second

// App owns the analysis subsystems and the observability server.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	proc          *processor.Processor
	analyzer      *analytics.Analyzer
	conversations *ConversationManager
}

// Option is a functional option for [New]. Use these to inject test doubles.
type Option func(*App)

// WithMetrics injects a metrics instance instead of the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App from validated configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	proc, err := processor.New(cfg.Pipeline, processor.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: build processor: %w", err)
	}
	a.proc = proc
	a.analyzer = analytics.New(cfg.Analytics)
	a.conversations = NewConversationManager(realtime.FromConfig(cfg.Realtime), a.metrics)

	return a, nil
}

// Conversations returns the live conversation manager.
func (a *App) Conversations() *ConversationManager {
	return a.conversations
}

// AnalyzeBatch runs the batch pipeline over diarized segments and scores the
// resulting flow. conversationID keys the analytics cache; pass the tracked
// conversation's UUID when one exists.
func (a *App) AnalyzeBatch(ctx context.Context, conversationID string, segments []types.Segment) (*types.ConversationFlow, types.ConversationMetrics, error) {
	if len(segments) == 0 {
		return nil, types.ConversationMetrics{}, errors.New("app: no segments to analyze")
	}

	ctx, span := observe.StartSpan(ctx, "analyze_conversation")
	defer span.End()

	start := time.Now()
	flow := a.proc.ProcessConversation(ctx, segments)
	a.metrics.ProcessingDuration.Record(ctx, time.Since(start).Seconds())

	for _, ov := range flow.Overlaps {
		a.metrics.RecordOverlap(ctx, string(ov.Type))
	}

	scoreStart := time.Now()
	scores := a.analyzer.AnalyzeConversation(conversationID, flow)
	a.metrics.AnalyticsDuration.Record(ctx, time.Since(scoreStart).Seconds())
	a.metrics.RecordConversation(ctx, "ok")

	observe.Logger(ctx).Info("conversation analyzed",
		"conversation_id", conversationID,
		"segments", len(flow.Segments),
		"overlaps", len(flow.Overlaps),
		"engagement", scores.PatientEngagement,
	)
	return flow, scores, nil
}

// handler builds the observability HTTP surface: Prometheus metrics, health
// probes, all wrapped in the tracing/metrics middleware.
func (a *App) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	h := health.New(
		health.Checker{Name: "pipeline", Check: func(context.Context) error {
			if a.proc == nil {
				return errors.New("processor not initialised")
			}
			return nil
		}},
	)
	h.Register(mux)

	return observe.Middleware(a.metrics)(mux)
}

// Run serves the observability endpoints until ctx is cancelled. With no
// listen address configured it just blocks on ctx.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Server.ListenAddr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("observability server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
