// Package channel analyzes per-channel audio quality and assigns speakers to
// physical or logical recording channels. Channel-separated audio is the
// cleanest diarization signal available, so when it exists the assignment
// feeds straight into speaker identification.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/internal/observe"
	"github.com/consonance-ai/consonance/pkg/audio"
	"github.com/consonance-ai/consonance/pkg/types"
)

// Type describes the channel layout inferred from the channel count.
type Type string

const (
	TypeMono   Type = "mono"
	TypeStereo Type = "stereo"
	TypeMulti  Type = "multi"
)

// typeFor maps a channel count to its layout type.
func typeFor(channels int) Type {
	switch {
	case channels <= 1:
		return TypeMono
	case channels == 2:
		return TypeStereo
	default:
		return TypeMulti
	}
}

// Info holds the quality measurements for one channel.
type Info struct {
	// Type is the layout of the parent clip.
	Type Type `json:"type"`

	// SignalStrength is the mean per-window RMS level.
	SignalStrength float64 `json:"signal_strength"`

	// NoiseLevel is the estimated background floor.
	NoiseLevel float64 `json:"noise_level"`

	// ActivePercentage is the share of windows above the noise floor.
	ActivePercentage float64 `json:"active_percentage"`

	// QualityScore combines signal-to-noise and activity into [0, 1].
	QualityScore float64 `json:"quality_score"`
}

// Assignment maps channels to speakers and back.
type Assignment struct {
	ChannelToSpeaker map[int]string `json:"channel_to_speaker"`
	SpeakerToChannel map[string]int `json:"speaker_to_channel"`

	// Confidence reflects how trustworthy the pairing is: 1 for manual
	// assignments, the mean accepted channel quality for automatic ones.
	Confidence float64 `json:"confidence"`
}

// analysisWindow is the RMS measurement granularity.
const analysisWindowSec = 0.25

// Manager analyzes channels and assigns speakers to them. A Manager holds
// the most recent analysis for [Manager.OptimizeChannelUsage]; use one
// Manager per conversation.
type Manager struct {
	cfg     config.ChannelConfig
	metrics *observe.Metrics
	last    map[int]Info
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithMetrics injects the metrics instance used for analysis latency.
// Without it, the package default applies.
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a [Manager], applying the default quality threshold
// when none is configured.
func NewManager(cfg config.ChannelConfig, opts ...Option) *Manager {
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = 0.7
	}
	m := &Manager{cfg: cfg}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// AnalyzeChannels measures every channel of the clip and returns the results
// keyed by channel index. The analysis is retained for
// [Manager.OptimizeChannelUsage].
func (m *Manager) AnalyzeChannels(ctx context.Context, clip audio.Clip) map[int]Info {
	start := time.Now()
	out := make(map[int]Info, clip.Channels)
	layout := typeFor(clip.Channels)

	for ch := range clip.Channels {
		samples := clip.Channel(ch)
		wins := audio.Windows(samples, clip.SampleRate, analysisWindowSec, analysisWindowSec)
		out[ch] = measure(wins, layout)
	}

	m.last = out
	m.metrics.ChannelDuration.Record(ctx, time.Since(start).Seconds())
	return out
}

// measure computes the per-channel quality numbers from RMS windows.
func measure(wins []audio.Window, layout Type) Info {
	info := Info{Type: layout}
	if len(wins) == 0 {
		return info
	}

	floor := audio.NoiseFloor(wins)
	info.NoiseLevel = floor

	sum := 0.0
	active := 0
	for _, w := range wins {
		rms := audio.RMS(w.Samples)
		sum += rms
		// Windows clearly above the floor carry speech.
		if rms > floor*2 && rms > 1e-4 {
			active++
		}
	}
	info.SignalStrength = sum / float64(len(wins))
	info.ActivePercentage = float64(active) / float64(len(wins)) * 100

	info.QualityScore = qualityScore(info.SignalStrength, floor, info.ActivePercentage)
	return info
}

// qualityScore blends signal-to-noise ratio and activity into [0, 1].
// SNR saturates at 20:1; a channel nobody speaks on scores low regardless
// of how clean it is.
func qualityScore(signal, noise, activePct float64) float64 {
	if signal <= 0 {
		return 0
	}

	snr := 20.0
	if noise > 0 {
		snr = signal / noise
	}
	snrScore := math.Min(snr/20, 1)
	activityScore := math.Min(activePct/50, 1)

	return 0.6*snrScore + 0.4*activityScore
}

// AssignSpeakersToChannels pairs detected channels with speakers. Manual
// assignments from configuration always win; otherwise channels and speakers
// are enumerated in parallel (channel order by index, speakers by first
// appearance) and paired index-for-index, accepting a pairing only when the
// channel's quality score exceeds the configured threshold.
//
// Call [Manager.AnalyzeChannels] first; without an analysis only manual
// assignment is possible.
func (m *Manager) AssignSpeakersToChannels(speakerSegments map[string][]types.Segment) Assignment {
	if len(m.cfg.ManualAssignments) > 0 {
		return m.manualAssignment()
	}
	return m.automaticAssignment(speakerSegments)
}

func (m *Manager) manualAssignment() Assignment {
	a := Assignment{
		ChannelToSpeaker: make(map[int]string, len(m.cfg.ManualAssignments)),
		SpeakerToChannel: make(map[string]int, len(m.cfg.ManualAssignments)),
		Confidence:       1,
	}
	for ch, speaker := range m.cfg.ManualAssignments {
		a.ChannelToSpeaker[ch] = speaker
		a.SpeakerToChannel[speaker] = ch
	}
	return a
}

func (m *Manager) automaticAssignment(speakerSegments map[string][]types.Segment) Assignment {
	a := Assignment{
		ChannelToSpeaker: map[int]string{},
		SpeakerToChannel: map[string]int{},
	}

	channels := make([]int, 0, len(m.last))
	for ch := range m.last {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	speakers := speakersByFirstAppearance(speakerSegments)

	accepted := 0
	qualitySum := 0.0
	for i, ch := range channels {
		if i >= len(speakers) {
			break
		}
		info := m.last[ch]
		if info.QualityScore < m.cfg.QualityThreshold {
			slog.Debug("channel below quality threshold, skipping assignment",
				"channel", ch,
				"quality", info.QualityScore,
			)
			continue
		}
		a.ChannelToSpeaker[ch] = speakers[i]
		a.SpeakerToChannel[speakers[i]] = ch
		accepted++
		qualitySum += info.QualityScore
	}

	if accepted > 0 {
		a.Confidence = qualitySum / float64(accepted)
	}
	return a
}

// speakersByFirstAppearance orders speakers by their earliest segment start.
func speakersByFirstAppearance(speakerSegments map[string][]types.Segment) []string {
	type first struct {
		speaker string
		at      float64
	}
	firsts := make([]first, 0, len(speakerSegments))
	for speaker, segs := range speakerSegments {
		at := math.Inf(1)
		for _, s := range segs {
			if s.Start < at {
				at = s.Start
			}
		}
		firsts = append(firsts, first{speaker, at})
	}
	sort.Slice(firsts, func(i, j int) bool {
		if firsts[i].at != firsts[j].at {
			return firsts[i].at < firsts[j].at
		}
		return firsts[i].speaker < firsts[j].speaker
	})

	out := make([]string, len(firsts))
	for i, f := range firsts {
		out[i] = f.speaker
	}
	return out
}

// OptimizeChannelUsage reviews the most recent analysis and returns
// recommendations for unmatched or low-quality channels.
func (m *Manager) OptimizeChannelUsage() []string {
	var recs []string

	channels := make([]int, 0, len(m.last))
	for ch := range m.last {
		channels = append(channels, ch)
	}
	sort.Ints(channels)

	activeCount := 0
	for _, ch := range channels {
		info := m.last[ch]
		if info.ActivePercentage > 10 {
			activeCount++
		}
		if info.QualityScore < m.cfg.QualityThreshold && info.ActivePercentage > 10 {
			recs = append(recs, fmt.Sprintf(
				"channel %d is active but below the %.2f quality threshold (%.2f); consider reassigning its speaker to a cleaner channel",
				ch, m.cfg.QualityThreshold, info.QualityScore))
		}
		if info.ActivePercentage <= 1 {
			recs = append(recs, fmt.Sprintf("channel %d carries no speech; it can be disabled", ch))
		}
	}

	if activeCount > 4 {
		recs = append(recs, fmt.Sprintf(
			"%d channels are active; consolidating to fewer channels simplifies diarization", activeCount))
	}
	return recs
}
