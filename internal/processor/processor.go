// Package processor orchestrates a full batch pass over a diarized
// conversation: overlap detection, overlap resolution, speaker clustering,
// and conversation-flow construction (transition matrix, speaking order,
// speaking-time distribution).
//
// Both the resolution and clustering behaviours are strategy interfaces
// selected once at construction time from the validated configuration —
// never by runtime string comparison.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/internal/observe"
	"github.com/consonance-ai/consonance/internal/overlap"
	"github.com/consonance-ai/consonance/pkg/types"
)

// Processor runs the batch conversation pipeline. Processors are stateless
// after construction and safe for concurrent use across conversations.
type Processor struct {
	cfg       config.PipelineConfig
	metrics   *observe.Metrics
	detector  *overlap.Detector
	resolver  resolutionStrategy
	clusterer clusteringStrategy
}

// Option configures optional Processor collaborators.
type Option func(*Processor)

// WithMetrics injects the metrics instance used for stage latency. Without
// it, the package default applies.
func WithMetrics(m *observe.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New creates a [Processor] from the pipeline configuration. All
// configuration violations are collected and returned as one joined error so
// the caller sees every problem at once.
func New(cfg config.PipelineConfig, opts ...Option) (*Processor, error) {
	var errs []error
	if cfg.OverlapHandling != "" && !cfg.OverlapHandling.IsValid() {
		errs = append(errs, fmt.Errorf("overlap_handling %q is invalid", cfg.OverlapHandling))
	}
	if cfg.SpeakerGrouping != "" && !cfg.SpeakerGrouping.IsValid() {
		errs = append(errs, fmt.Errorf("speaker_grouping %q is invalid", cfg.SpeakerGrouping))
	}
	if cfg.MaxConcurrentSpeakers < 2 {
		errs = append(errs, fmt.Errorf("max_concurrent_speakers %d must be at least 2", cfg.MaxConcurrentSpeakers))
	}
	if cfg.OverlapThresholdMs < 50 {
		errs = append(errs, fmt.Errorf("overlap_threshold_ms %d must be at least 50", cfg.OverlapThresholdMs))
	}
	if cfg.CrossTalkTolerance < 0 || cfg.CrossTalkTolerance > 1 {
		errs = append(errs, fmt.Errorf("cross_talk_tolerance %.2f is out of range [0, 1]", cfg.CrossTalkTolerance))
	}
	if cfg.MinSpeechDurationMs < 100 {
		errs = append(errs, fmt.Errorf("min_speech_duration_ms %d must be at least 100", cfg.MinSpeechDurationMs))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("processor: invalid configuration: %w", errors.Join(errs...))
	}

	minInteraction := cfg.MinInteractionCount
	if minInteraction < 1 {
		minInteraction = 2
	}

	p := &Processor{
		cfg: cfg,
		detector: overlap.NewDetector(overlap.Config{
			MinOverlapDuration: float64(cfg.OverlapThresholdMs) / 1000,
			CrossTalkTolerance: cfg.CrossTalkTolerance,
		}),
		resolver:  newResolutionStrategy(cfg.OverlapHandling),
		clusterer: newClusteringStrategy(cfg.SpeakerGrouping, minInteraction),
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p, nil
}

// ProcessConversation runs the full batch pipeline over segments and returns
// the aggregated [types.ConversationFlow]. The input is never mutated.
func (p *Processor) ProcessConversation(ctx context.Context, segments []types.Segment) *types.ConversationFlow {
	sorted := make([]types.Segment, 0, len(segments))
	minDur := float64(p.cfg.MinSpeechDurationMs) / 1000
	for _, s := range segments {
		if s.Duration() >= minDur {
			sorted = append(sorted, s)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	detectStart := time.Now()
	analysis := p.detector.AnalyzeOverlaps(sorted, 0)
	p.metrics.OverlapDuration.Record(ctx, time.Since(detectStart).Seconds())

	resolved := p.resolver.resolve(sorted, analysis.Overlaps)

	flow := &types.ConversationFlow{
		Segments:         resolved,
		Overlaps:         analysis.Overlaps,
		Clusters:         p.clusterer.cluster(resolved),
		TransitionMatrix: transitionMatrix(resolved),
		SpeakingOrder:    speakingOrder(resolved),
		SpeakingTime:     speakingTime(resolved),
		QualityMetrics:   map[string]float64{},
	}
	flow.DominantSpeaker = dominantSpeaker(flow.SpeakingTime)

	flow.QualityMetrics["overlap_percentage"] = analysis.Metrics.OverlapPercentage
	flow.QualityMetrics["overlap_count"] = float64(analysis.Metrics.TotalCount)
	flow.QualityMetrics["speaking_balance"] = speakingBalance(flow.SpeakingTime)
	if dur := conversationSpan(resolved); dur > 0 {
		flow.QualityMetrics["turn_rate_per_minute"] = float64(len(flow.SpeakingOrder)) / (dur / 60)
		flow.QualityMetrics["conversation_duration"] = dur
	}

	return flow
}

// ConcurrentWindow reports which speakers were active during one fixed
// analysis window.
type ConcurrentWindow struct {
	Start    float64  `json:"start"`
	End      float64  `json:"end"`
	Speakers []string `json:"speakers"`
}

// AnalyzeConcurrentSpeakers buckets the conversation into fixed windows of
// windowSec seconds and returns, per window, the set of speakers active at
// the window midpoint. Windows past the configured concurrency limit are how
// crowding is detected downstream.
func (p *Processor) AnalyzeConcurrentSpeakers(segments []types.Segment, windowSec float64) []ConcurrentWindow {
	if windowSec <= 0 || len(segments) == 0 {
		return nil
	}
	span := conversationEnd(segments)

	var out []ConcurrentWindow
	for start := 0.0; start < span; start += windowSec {
		end := math.Min(start+windowSec, span)
		mid := (start + end) / 2

		seen := map[string]bool{}
		var speakers []string
		for _, s := range segments {
			if s.Start <= mid && mid < s.End && !seen[s.SpeakerLabel] {
				seen[s.SpeakerLabel] = true
				speakers = append(speakers, s.SpeakerLabel)
			}
		}
		sort.Strings(speakers)
		out = append(out, ConcurrentWindow{Start: start, End: end, Speakers: speakers})
	}
	return out
}

// transitionMatrix counts adjacent-segment speaker handoffs.
func transitionMatrix(segments []types.Segment) map[types.Transition]int {
	matrix := map[types.Transition]int{}
	for i := 1; i < len(segments); i++ {
		from := segments[i-1].SpeakerLabel
		to := segments[i].SpeakerLabel
		if from != to {
			matrix[types.Transition{From: from, To: to}]++
		}
	}
	return matrix
}

// speakingOrder returns the order-preserving sequence of speaker changes,
// collapsing consecutive segments by the same speaker.
func speakingOrder(segments []types.Segment) []string {
	var order []string
	for _, s := range segments {
		if len(order) == 0 || order[len(order)-1] != s.SpeakerLabel {
			order = append(order, s.SpeakerLabel)
		}
	}
	return order
}

// speakingTime sums each speaker's segment durations.
func speakingTime(segments []types.Segment) map[string]float64 {
	dist := map[string]float64{}
	for _, s := range segments {
		dist[s.SpeakerLabel] += s.Duration()
	}
	return dist
}

// dominantSpeaker returns the label with the largest speaking time, with
// lexicographic tie-breaking for determinism.
func dominantSpeaker(dist map[string]float64) string {
	best := ""
	bestTime := -1.0
	for speaker, t := range dist {
		if t > bestTime || (t == bestTime && speaker < best) {
			best, bestTime = speaker, t
		}
	}
	return best
}

// speakingBalance scores how evenly speaking time is distributed: 1 means a
// perfectly even split, degrading quadratically with the variance of the
// per-speaker shares, 0 means one speaker held the floor throughout.
func speakingBalance(dist map[string]float64) float64 {
	n := len(dist)
	if n < 2 {
		return 0
	}
	total := 0.0
	for _, t := range dist {
		total += t
	}
	if total == 0 {
		return 0
	}

	ideal := 1.0 / float64(n)
	variance := 0.0
	for _, t := range dist {
		d := t/total - ideal
		variance += d * d
	}
	variance /= float64(n)

	// Worst case: one speaker has everything.
	worst := (float64(n) - 1) / (float64(n) * float64(n))
	if worst == 0 {
		return 0
	}
	balance := 1 - variance/worst
	if balance < 0 {
		return 0
	}
	return balance
}

func conversationEnd(segments []types.Segment) float64 {
	end := 0.0
	for _, s := range segments {
		if s.End > end {
			end = s.End
		}
	}
	return end
}

// conversationSpan is first segment start to last segment end.
func conversationSpan(segments []types.Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	start := math.Inf(1)
	for _, s := range segments {
		if s.Start < start {
			start = s.Start
		}
	}
	return conversationEnd(segments) - start
}
