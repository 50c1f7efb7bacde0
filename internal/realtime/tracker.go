// Package realtime implements the online speaker-tracking state machine.
//
// A [Tracker] consumes live speaker start/stop events, maintains the
// active-speaker working set, classifies handoffs between speakers, and
// predicts segment end times from each speaker's rolling average utterance
// length. Two cooperative background loops — a timeout monitor and an
// end-time predictor — run for the lifetime of a tracked conversation and
// are owned by the [Lifecycle] returned from [Tracker.Start].
//
// All state mutation is serialized behind one mutex: the background loops
// use the same idempotent stop path as live events, so a monitor-forced stop
// racing an incoming stop event for the same speaker resolves to a no-op on
// whichever side loses.
package realtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/pkg/types"
)

// Transition classification thresholds, in seconds.
const (
	// overlapGap marks a handoff where the new speaker started well before
	// the previous one was predicted to finish.
	overlapGap = -0.2

	// smoothGap is the longest wait still considered a natural handoff.
	smoothGap = 0.5
)

// Config holds the tracker options.
type Config struct {
	// HistorySize bounds the transition ring buffer. Must be positive.
	HistorySize int

	// MonitorInterval is the period of the timeout-cleanup loop.
	MonitorInterval time.Duration

	// PredictorInterval is the period of the end-time refresh loop.
	PredictorInterval time.Duration

	// DefaultSegmentEstimate is the predicted utterance duration, in
	// seconds, for speakers with no history. Must be positive.
	DefaultSegmentEstimate float64
}

// FromConfig converts the YAML-facing realtime settings into a [Config].
func FromConfig(rc config.RealtimeConfig) Config {
	return Config{
		HistorySize:            rc.HistorySize,
		MonitorInterval:        time.Duration(rc.MonitorIntervalMs) * time.Millisecond,
		PredictorInterval:      time.Duration(rc.PredictorIntervalMs) * time.Millisecond,
		DefaultSegmentEstimate: rc.DefaultSegmentEstimateSec,
	}
}

// Tracker is the online multi-speaker state machine. All exported methods
// are safe for concurrent use.
type Tracker struct {
	cfg Config

	mu              sync.Mutex
	states          map[string]*types.SpeakerState
	active          []types.ActiveSpeaker
	history         *ring
	transitionCount int

	// Conversation clock: conversation time at the last event plus wall
	// time elapsed since. Lets the monitor loop reason in conversation
	// seconds without the caller feeding it timestamps.
	timeOffset float64
	timeAnchor time.Time
	now        func() time.Time
}

// New creates a [Tracker]. Configuration violations are collected and
// returned as one joined error.
func New(cfg Config) (*Tracker, error) {
	var errs []error
	if cfg.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("history_size %d must be at least 1", cfg.HistorySize))
	}
	if cfg.MonitorInterval <= 0 {
		errs = append(errs, fmt.Errorf("monitor_interval %v must be positive", cfg.MonitorInterval))
	}
	if cfg.PredictorInterval <= 0 {
		errs = append(errs, fmt.Errorf("predictor_interval %v must be positive", cfg.PredictorInterval))
	}
	if cfg.DefaultSegmentEstimate <= 0 {
		errs = append(errs, fmt.Errorf("default_segment_estimate %.2f must be positive", cfg.DefaultSegmentEstimate))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("realtime: invalid configuration: %w", errors.Join(errs...))
	}

	return &Tracker{
		cfg:        cfg,
		states:     map[string]*types.SpeakerState{},
		history:    newRing(cfg.HistorySize),
		now:        time.Now,
		timeAnchor: time.Now(),
	}, nil
}

// UpdateSpeakerActivity feeds one live diarization event into the state
// machine. timestamp is in seconds from conversation start. A start event
// for an already-active speaker and a stop event for an inactive speaker are
// both no-ops, which makes the monitor loop's forced stops safe against
// racing live events.
func (t *Tracker) UpdateSpeakerActivity(speakerID string, timestamp float64, isSpeaking bool, confidence float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timeOffset = timestamp
	t.timeAnchor = t.now()

	if isSpeaking {
		t.startLocked(speakerID, timestamp, confidence)
	} else {
		t.stopLocked(speakerID, timestamp)
	}
}

// startLocked handles the Inactive → Active transition.
func (t *Tracker) startLocked(speakerID string, timestamp, confidence float64) {
	if t.findActiveLocked(speakerID) >= 0 {
		return
	}

	// Classify the handoff from the most recently started active speaker,
	// measured against their predicted end.
	if prev := t.latestActiveLocked(); prev != nil {
		gap := timestamp - (prev.Start + prev.PredictedEnd)
		tr := types.SpeakerTransition{
			From: prev.SpeakerID,
			To:   speakerID,
			At:   timestamp,
			Gap:  gap,
			Type: classifyGap(gap),
		}
		t.history.push(tr)
		t.transitionCount++
	}

	state := t.stateLocked(speakerID)
	state.Active = true
	state.LastActive = timestamp

	t.active = append(t.active, types.ActiveSpeaker{
		SpeakerID:    speakerID,
		Start:        timestamp,
		Confidence:   confidence,
		PredictedEnd: t.estimateLocked(speakerID),
	})
}

// stopLocked handles the Active → Inactive transition. Stopping an inactive
// speaker is a no-op.
func (t *Tracker) stopLocked(speakerID string, timestamp float64) {
	idx := t.findActiveLocked(speakerID)
	if idx < 0 {
		return
	}
	entry := t.active[idx]
	t.active = append(t.active[:idx], t.active[idx+1:]...)

	dur := timestamp - entry.Start
	if dur < 0 {
		dur = 0
	}

	state := t.stateLocked(speakerID)
	state.Active = false
	state.LastActive = timestamp
	state.TotalSpeakingTime += dur
	state.SegmentCount++
	state.AvgSegmentDuration = state.TotalSpeakingTime / float64(state.SegmentCount)
}

// classifyGap applies the transition thresholds to a signed gap.
func classifyGap(gap float64) types.TransitionType {
	switch {
	case gap < overlapGap:
		return types.TransitionOverlapped
	case gap < smoothGap:
		return types.TransitionSmooth
	default:
		return types.TransitionInterrupted
	}
}

// estimateLocked returns the predicted utterance duration for a speaker:
// their rolling average, or the configured default with no history.
func (t *Tracker) estimateLocked(speakerID string) float64 {
	if s, ok := t.states[speakerID]; ok && s.SegmentCount > 0 {
		return s.AvgSegmentDuration
	}
	return t.cfg.DefaultSegmentEstimate
}

func (t *Tracker) stateLocked(speakerID string) *types.SpeakerState {
	s, ok := t.states[speakerID]
	if !ok {
		s = &types.SpeakerState{SpeakerID: speakerID}
		t.states[speakerID] = s
	}
	return s
}

func (t *Tracker) findActiveLocked(speakerID string) int {
	for i, a := range t.active {
		if a.SpeakerID == speakerID {
			return i
		}
	}
	return -1
}

// latestActiveLocked returns the active speaker with the latest start time.
func (t *Tracker) latestActiveLocked() *types.ActiveSpeaker {
	var latest *types.ActiveSpeaker
	for i := range t.active {
		if latest == nil || t.active[i].Start > latest.Start {
			latest = &t.active[i]
		}
	}
	return latest
}

// conversationNowLocked maps wall time onto the conversation clock.
func (t *Tracker) conversationNowLocked() float64 {
	return t.timeOffset + t.now().Sub(t.timeAnchor).Seconds()
}

// sweepTimeouts force-stops every active speaker whose predicted end has
// elapsed. Cleanup for missed stop events; runs on the monitor loop.
func (t *Tracker) sweepTimeouts() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.conversationNowLocked()
	// Collect first: stopLocked mutates the active slice.
	var expired []string
	for _, a := range t.active {
		if a.Start+a.PredictedEnd < now {
			expired = append(expired, a.SpeakerID)
		}
	}
	for _, id := range expired {
		slog.Debug("realtime: force-stopping speaker past predicted end",
			"speaker", id,
			"conversation_time", now,
		)
		t.stopLocked(id, now)
	}
}

// refreshPredictions updates every active speaker's predicted end from the
// latest rolling averages. Runs on the predictor loop.
func (t *Tracker) refreshPredictions() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.active {
		t.active[i].PredictedEnd = t.estimateLocked(t.active[i].SpeakerID)
	}
}

// ActiveSpeakers returns a copy of the live working set.
func (t *Tracker) ActiveSpeakers() []types.ActiveSpeaker {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.ActiveSpeaker, len(t.active))
	copy(out, t.active)
	return out
}

// SpeakerStates returns a copy of all per-speaker accumulators.
func (t *Tracker) SpeakerStates() map[string]types.SpeakerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]types.SpeakerState, len(t.states))
	for id, s := range t.states {
		out[id] = *s
	}
	return out
}

// History returns the transitions still held in the ring buffer, oldest first.
func (t *Tracker) History() []types.SpeakerTransition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history.items()
}

// TransitionCount returns the number of transitions observed since start,
// including any evicted from the ring buffer.
func (t *Tracker) TransitionCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transitionCount
}

// PredictNextSpeaker predicts who speaks next: the most frequent destination
// in the transition history originating from the most recently started
// active speaker. Ties resolve to the destination that reached the winning
// count first. Returns ok=false with no active speaker or no matching
// history.
func (t *Tracker) PredictNextSpeaker() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	latest := t.latestActiveLocked()
	if latest == nil {
		return "", false
	}

	counts := map[string]int{}
	best, bestCount := "", 0
	for _, tr := range t.history.items() {
		if tr.From != latest.SpeakerID {
			continue
		}
		counts[tr.To]++
		if counts[tr.To] > bestCount {
			best, bestCount = tr.To, counts[tr.To]
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// Snapshot is a point-in-time copy of the tracker state, safe to hand to
// downstream consumers.
type Snapshot struct {
	Active          []types.ActiveSpeaker         `json:"active_speakers"`
	States          map[string]types.SpeakerState `json:"speaker_states"`
	Transitions     []types.SpeakerTransition     `json:"transitions"`
	TransitionCount int                           `json:"transition_count"`
}

// Snapshot copies the full tracker state under one lock acquisition.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Active:          make([]types.ActiveSpeaker, len(t.active)),
		States:          make(map[string]types.SpeakerState, len(t.states)),
		Transitions:     t.history.items(),
		TransitionCount: t.transitionCount,
	}
	copy(s.Active, t.active)
	for id, st := range t.states {
		s.States[id] = *st
	}
	return s
}

// Analytics summarizes the transition history.
type Analytics struct {
	// CountByType breaks transitions down per classification.
	CountByType map[types.TransitionType]int `json:"count_by_type"`

	// AvgGap is the mean positive gap in seconds (silence between turns).
	AvgGap float64 `json:"avg_gap"`

	// AvgOverlap is the mean magnitude of negative gaps in seconds.
	AvgOverlap float64 `json:"avg_overlap"`

	// PairFrequency counts ordered from → to handoffs.
	PairFrequency map[types.Transition]int `json:"-"`
}

// TransitionAnalytics aggregates the current ring-buffer contents.
func (t *Tracker) TransitionAnalytics() Analytics {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := Analytics{
		CountByType:   map[types.TransitionType]int{},
		PairFrequency: map[types.Transition]int{},
	}

	gapSum, gapN := 0.0, 0
	overlapSum, overlapN := 0.0, 0
	for _, tr := range t.history.items() {
		a.CountByType[tr.Type]++
		a.PairFrequency[types.Transition{From: tr.From, To: tr.To}]++
		if tr.Gap >= 0 {
			gapSum += tr.Gap
			gapN++
		} else {
			overlapSum += -tr.Gap
			overlapN++
		}
	}
	if gapN > 0 {
		a.AvgGap = gapSum / float64(gapN)
	}
	if overlapN > 0 {
		a.AvgOverlap = overlapSum / float64(overlapN)
	}
	return a
}

// ring is a bounded FIFO of transitions; pushing past capacity drops the
// oldest entry.
type ring struct {
	buf   []types.SpeakerTransition
	start int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]types.SpeakerTransition, capacity)}
}

func (r *ring) push(tr types.SpeakerTransition) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = tr
		r.count++
		return
	}
	r.buf[r.start] = tr
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) items() []types.SpeakerTransition {
	out := make([]types.SpeakerTransition, 0, r.count)
	for i := range r.count {
		out = append(out, r.buf[(r.start+i)%len(r.buf)])
	}
	return out
}
