package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/consonance-ai/consonance/internal/observe"
	"github.com/consonance-ai/consonance/internal/realtime"
)

// ErrUnknownConversation is returned for operations on a conversation ID that
// was never started or has already been concluded.
var ErrUnknownConversation = errors.New("app: unknown conversation")

// liveConversation pairs a tracker with its running background loops.
type liveConversation struct {
	tracker   *realtime.Tracker
	lifecycle *realtime.Lifecycle
	startedAt time.Time
}

// ConversationManager owns all live tracked conversations, keyed by UUID.
// All exported methods are safe for concurrent use.
type ConversationManager struct {
	cfg     realtime.Config
	metrics *observe.Metrics

	mu   sync.Mutex
	live map[uuid.UUID]*liveConversation
}

// NewConversationManager creates an empty manager.
func NewConversationManager(cfg realtime.Config, metrics *observe.Metrics) *ConversationManager {
	return &ConversationManager{
		cfg:     cfg,
		metrics: metrics,
		live:    map[uuid.UUID]*liveConversation{},
	}
}

// Start creates a new tracked conversation and launches its tracker loops.
// The loops run until [ConversationManager.Conclude] or ctx cancellation.
func (m *ConversationManager) Start(ctx context.Context) (uuid.UUID, error) {
	tr, err := realtime.New(m.cfg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("app: start conversation: %w", err)
	}

	id := uuid.New()
	c := &liveConversation{
		tracker:   tr,
		lifecycle: tr.Start(ctx),
		startedAt: time.Now(),
	}

	m.mu.Lock()
	m.live[id] = c
	m.mu.Unlock()

	m.metrics.ActiveConversations.Add(ctx, 1)
	slog.Info("conversation started", "conversation_id", id)
	return id, nil
}

// Feed forwards one live diarization event to the conversation's tracker and
// keeps the speaker/transition metrics in step.
func (m *ConversationManager) Feed(ctx context.Context, id uuid.UUID, speakerID string, timestamp float64, isSpeaking bool, confidence float64) error {
	c := m.get(id)
	if c == nil {
		return fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	activeBefore := len(c.tracker.ActiveSpeakers())
	transitionsBefore := c.tracker.TransitionCount()

	c.tracker.UpdateSpeakerActivity(speakerID, timestamp, isSpeaking, confidence)

	if delta := len(c.tracker.ActiveSpeakers()) - activeBefore; delta != 0 {
		m.metrics.ActiveSpeakers.Add(ctx, int64(delta))
	}
	if c.tracker.TransitionCount() > transitionsBefore {
		if hist := c.tracker.History(); len(hist) > 0 {
			m.metrics.RecordTransition(ctx, string(hist[len(hist)-1].Type))
		}
	}
	return nil
}

// Snapshot returns the conversation's current tracker state.
func (m *ConversationManager) Snapshot(id uuid.UUID) (realtime.Snapshot, error) {
	c := m.get(id)
	if c == nil {
		return realtime.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	return c.tracker.Snapshot(), nil
}

// PredictNextSpeaker proxies the tracker's prediction for a live conversation.
func (m *ConversationManager) PredictNextSpeaker(id uuid.UUID) (string, bool, error) {
	c := m.get(id)
	if c == nil {
		return "", false, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}
	speaker, ok := c.tracker.PredictNextSpeaker()
	return speaker, ok, nil
}

// Conclude stops the conversation's background loops, removes it from the
// live set, and returns the final tracker state.
func (m *ConversationManager) Conclude(ctx context.Context, id uuid.UUID) (realtime.Snapshot, error) {
	m.mu.Lock()
	c, ok := m.live[id]
	delete(m.live, id)
	m.mu.Unlock()
	if !ok {
		return realtime.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownConversation, id)
	}

	c.lifecycle.Stop()
	snap := c.tracker.Snapshot()

	m.metrics.ActiveConversations.Add(ctx, -1)
	if n := len(snap.Active); n > 0 {
		m.metrics.ActiveSpeakers.Add(ctx, -int64(n))
	}

	slog.Info("conversation concluded",
		"conversation_id", id,
		"duration", time.Since(c.startedAt),
		"transitions", snap.TransitionCount,
	)
	return snap, nil
}

// ActiveCount returns the number of live conversations.
func (m *ConversationManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *ConversationManager) get(id uuid.UUID) *liveConversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[id]
}
