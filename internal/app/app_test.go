package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/internal/observe"
	"github.com/consonance-ai/consonance/pkg/types"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	cfg := config.Default()
	a, err := New(&cfg, WithMetrics(m))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func conversationSegments() []types.Segment {
	return []types.Segment{
		{SpeakerLabel: "doc", Role: types.RolePhysician, Start: 0, End: 5,
			Text: "let me explain the results", Confidence: 0.9},
		{SpeakerLabel: "pat", Role: types.RolePatient, Start: 4.5, End: 8,
			Text: "what does that mean?", Confidence: 0.85},
		{SpeakerLabel: "doc", Role: types.RolePhysician, Start: 8.5, End: 14,
			Text: "it means the treatment is working", Confidence: 0.9},
	}
}

func TestNew_InvalidPipelineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.MaxConcurrentSpeakers = 1

	if _, err := New(&cfg); err == nil {
		t.Fatal("expected configuration error")
	}
}

func TestAnalyzeBatch(t *testing.T) {
	a := newTestApp(t)

	flow, scores, err := a.AnalyzeBatch(context.Background(), "conv-1", conversationSegments())
	if err != nil {
		t.Fatalf("AnalyzeBatch: %v", err)
	}
	if len(flow.Overlaps) != 1 {
		t.Errorf("got %d overlaps, want 1", len(flow.Overlaps))
	}
	for name, v := range map[string]float64{
		"engagement":    scores.PatientEngagement,
		"communication": scores.ProviderCommunication,
		"exchange":      scores.InformationExchange,
		"rapport":       scores.EmotionalRapport,
		"efficiency":    scores.ClinicalEfficiency,
	} {
		if v < 0 || v > 1 {
			t.Errorf("%s score %v outside [0, 1]", name, v)
		}
	}
}

func TestAnalyzeBatch_NoSegments(t *testing.T) {
	a := newTestApp(t)
	if _, _, err := a.AnalyzeBatch(context.Background(), "", nil); err == nil {
		t.Fatal("expected an error for empty input")
	}
}

func TestHandler_Endpoints(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + path)
			if err != nil {
				t.Fatalf("GET %s: %v", path, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
			}
		})
	}
}

func TestConversationManager_Lifecycle(t *testing.T) {
	a := newTestApp(t)
	cm := a.Conversations()
	ctx := context.Background()

	id, err := cm.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := cm.ActiveCount(); got != 1 {
		t.Errorf("active count = %d, want 1", got)
	}

	// Overlapping handoff so a transition is recorded.
	if err := cm.Feed(ctx, id, "doc", 0.0, true, 0.9); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := cm.Feed(ctx, id, "pat", 4.0, true, 0.9); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if err := cm.Feed(ctx, id, "doc", 4.5, false, 0.9); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	snap, err := cm.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.TransitionCount != 1 || len(snap.Active) != 1 {
		t.Errorf("snapshot = %+v, want 1 transition and 1 active speaker", snap)
	}

	final, err := cm.Conclude(ctx, id)
	if err != nil {
		t.Fatalf("Conclude: %v", err)
	}
	if final.States["doc"].SegmentCount != 1 {
		t.Errorf("doc segment count = %d, want 1", final.States["doc"].SegmentCount)
	}
	if got := cm.ActiveCount(); got != 0 {
		t.Errorf("active count after conclude = %d, want 0", got)
	}
}

func TestConversationManager_UnknownID(t *testing.T) {
	a := newTestApp(t)
	cm := a.Conversations()
	ctx := context.Background()

	id := uuid.New()
	if err := cm.Feed(ctx, id, "doc", 0, true, 0.9); !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("Feed error = %v, want ErrUnknownConversation", err)
	}
	if _, err := cm.Snapshot(id); !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("Snapshot error = %v, want ErrUnknownConversation", err)
	}
	if _, err := cm.Conclude(ctx, id); !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("Conclude error = %v, want ErrUnknownConversation", err)
	}

	// Concluding twice hits the same path.
	started, err := cm.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := cm.Conclude(ctx, started); err != nil {
		t.Fatalf("first Conclude: %v", err)
	}
	if _, err := cm.Conclude(ctx, started); !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("second Conclude error = %v, want ErrUnknownConversation", err)
	}
}

func TestRun_NoServerBlocksUntilCancel(t *testing.T) {
	a := newTestApp(t)
	a.cfg.Server.ListenAddr = ""

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
