// Package overlap implements cross-talk detection for diarized conversations.
//
// The detector sweeps start-sorted segments while maintaining the set of
// currently active segments, emits one [types.Overlap] per intersecting
// speaker pair, classifies each window, and aggregates conversation-level
// cross-talk metrics and recommendations.
//
// Detection is a pure function over immutable inputs: running it twice on the
// same segment list yields identical results, and segments are never mutated.
package overlap

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/consonance-ai/consonance/pkg/types"
)

// Classification thresholds, in seconds.
const (
	// backChannelMax is the longest overlap still considered an
	// acknowledgment rather than genuine cross-talk.
	backChannelMax = 0.5

	// interruptionOffset is the minimum start-time lead of the interrupted
	// segment over the interruptor. The rule compares absolute segment
	// start times: a speaker who cuts in at least this long after another
	// took the floor is interrupting; closer starts are simultaneous speech.
	interruptionOffset = 0.5

	// problematicDuration flags overlaps long enough to lose information.
	problematicDuration = 2.0

	// temporalBuckets is the number of equal conversation slices used for
	// the temporal distribution.
	temporalBuckets = 10
)

// Config holds the detector options.
type Config struct {
	// MinOverlapDuration is the shortest intersection, in seconds, that
	// counts as an overlap. Defaults to 0.1 (100 ms).
	MinOverlapDuration float64

	// CrossTalkTolerance is the accepted fraction of conversation time
	// spent overlapping before recommendations fire. Defaults to 0.2.
	CrossTalkTolerance float64
}

// Metrics aggregates conversation-level cross-talk measurements.
type Metrics struct {
	// TotalCount is the number of detected overlaps.
	TotalCount int `json:"total_count"`

	// TotalDuration is the summed overlap time in seconds.
	TotalDuration float64 `json:"total_duration"`

	// OverlapPercentage is overlap time as a percentage of the
	// conversation duration.
	OverlapPercentage float64 `json:"overlap_percentage"`

	// CountByType breaks the total down per classification.
	CountByType map[types.OverlapType]int `json:"count_by_type"`

	// MaxConcurrentSpeakers is the largest number of speakers active at
	// any instant.
	MaxConcurrentSpeakers int `json:"max_concurrent_speakers"`
}

// Analysis is the full result of one detection pass.
type Analysis struct {
	// Overlaps lists every detected cross-talk window in start order.
	Overlaps []types.Overlap `json:"overlaps"`

	// Metrics holds the aggregate measurements.
	Metrics Metrics `json:"metrics"`

	// Problematic lists overlaps longer than 2 s or involving more than
	// two speakers.
	Problematic []types.Overlap `json:"problematic,omitempty"`

	// SpeakerMatrix counts overlaps per unordered speaker pair.
	SpeakerMatrix map[types.SpeakerPair]int `json:"-"`

	// TemporalDistribution counts overlaps per conversation decile,
	// bucketed by overlap start time.
	TemporalDistribution []int `json:"temporal_distribution"`

	// Recommendations holds threshold-driven guidance text.
	Recommendations []string `json:"recommendations,omitempty"`
}

// Detector finds and classifies cross-talk in a diarized conversation.
// Detectors are stateless and safe for concurrent use.
type Detector struct {
	cfg Config
}

// NewDetector creates a [Detector], applying defaults for zero-value options.
func NewDetector(cfg Config) *Detector {
	if cfg.MinOverlapDuration <= 0 {
		cfg.MinOverlapDuration = 0.1
	}
	if cfg.CrossTalkTolerance <= 0 {
		cfg.CrossTalkTolerance = 0.2
	}
	return &Detector{cfg: cfg}
}

// AnalyzeOverlaps detects all pairwise overlaps among segments and computes
// aggregate cross-talk metrics. conversationDuration is the full span of the
// conversation in seconds; when zero, the last segment end is used.
func (d *Detector) AnalyzeOverlaps(segments []types.Segment, conversationDuration float64) *Analysis {
	sorted := make([]types.Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	if conversationDuration <= 0 {
		for _, s := range sorted {
			if s.End > conversationDuration {
				conversationDuration = s.End
			}
		}
	}

	analysis := &Analysis{
		Metrics: Metrics{
			CountByType: map[types.OverlapType]int{},
		},
		SpeakerMatrix:        map[types.SpeakerPair]int{},
		TemporalDistribution: make([]int, temporalBuckets),
	}

	// Sweep left to right, keeping segments whose end exceeds the incoming
	// segment's start in the active set.
	var active []types.Segment
	for _, seg := range sorted {
		active = slices.DeleteFunc(active, func(a types.Segment) bool {
			return a.End <= seg.Start
		})

		for _, other := range active {
			if other.SpeakerLabel == seg.SpeakerLabel {
				continue
			}
			ov, ok := d.intersect(other, seg)
			if !ok {
				continue
			}
			// The contributing pair leads the speaker list; any further
			// speakers active in the window are appended after it.
			for _, s := range concurrentSpeakers(sorted, ov.Start, ov.End) {
				if s != other.SpeakerLabel && s != seg.SpeakerLabel {
					ov.Speakers = append(ov.Speakers, s)
				}
			}
			analysis.Overlaps = append(analysis.Overlaps, ov)
		}

		active = append(active, seg)
	}

	sort.SliceStable(analysis.Overlaps, func(i, j int) bool {
		return analysis.Overlaps[i].Start < analysis.Overlaps[j].Start
	})

	d.aggregate(analysis, sorted, conversationDuration)
	return analysis
}

// intersect computes and classifies the overlap window between two segments.
// Returns ok=false when the intersection is shorter than the configured
// minimum.
func (d *Detector) intersect(a, b types.Segment) (types.Overlap, bool) {
	start := math.Max(a.Start, b.Start)
	end := math.Min(a.End, b.End)
	dur := end - start
	if dur < d.cfg.MinOverlapDuration {
		return types.Overlap{}, false
	}

	shorter := math.Min(a.Duration(), b.Duration())
	ov := types.Overlap{
		Start:      start,
		End:        end,
		Speakers:   []string{a.SpeakerLabel, b.SpeakerLabel},
		Type:       classify(a, b, dur),
		Confidence: (a.Confidence + b.Confidence) / 2,
		Ratio:      math.Min(dur/shorter, 1),
	}

	// Dominant speaker: the higher confidence × duration product.
	if a.Confidence*a.Duration() >= b.Confidence*b.Duration() {
		ov.DominantSpeaker = a.SpeakerLabel
	} else {
		ov.DominantSpeaker = b.SpeakerLabel
	}
	return ov, true
}

// classify applies the pinned classification rule: short windows are
// back-channels; otherwise a late-enough absolute start offset makes the
// later speaker an interruptor; near-simultaneous starts are cross-talk.
func classify(a, b types.Segment, overlapDur float64) types.OverlapType {
	if overlapDur < backChannelMax {
		return types.OverlapBackChannel
	}
	if math.Abs(b.Start-a.Start) >= interruptionOffset {
		return types.OverlapInterruption
	}
	return types.OverlapSimultaneous
}

// concurrentSpeakers returns the distinct labels of all segments covering the
// midpoint of [start, end], sorted for deterministic output. The result has
// at least the two pair members since both cover the whole window.
func concurrentSpeakers(segments []types.Segment, start, end float64) []string {
	mid := (start + end) / 2
	seen := map[string]bool{}
	var out []string
	for _, s := range segments {
		if s.Start <= mid && mid < s.End && !seen[s.SpeakerLabel] {
			seen[s.SpeakerLabel] = true
			out = append(out, s.SpeakerLabel)
		}
	}
	sort.Strings(out)
	return out
}

// aggregate fills in metrics, the pair matrix, the temporal distribution,
// problematic overlaps, and recommendations.
func (d *Detector) aggregate(analysis *Analysis, segments []types.Segment, duration float64) {
	m := &analysis.Metrics
	for _, ov := range analysis.Overlaps {
		m.TotalCount++
		m.TotalDuration += ov.Duration()
		m.CountByType[ov.Type]++

		if len(ov.Speakers) >= 2 {
			analysis.SpeakerMatrix[types.NewSpeakerPair(ov.Speakers[0], ov.Speakers[1])]++
		}
		if ov.Duration() > problematicDuration || len(ov.Speakers) > 2 {
			analysis.Problematic = append(analysis.Problematic, ov)
		}
		if duration > 0 {
			// Clamp both ends: upstream timestamps may start before zero.
			bucket := int(ov.Start / duration * temporalBuckets)
			if bucket < 0 {
				bucket = 0
			}
			if bucket >= temporalBuckets {
				bucket = temporalBuckets - 1
			}
			analysis.TemporalDistribution[bucket]++
		}
	}
	if duration > 0 {
		m.OverlapPercentage = m.TotalDuration / duration * 100
	}
	m.MaxConcurrentSpeakers = maxConcurrent(segments)

	analysis.Recommendations = d.recommend(analysis)
}

// maxConcurrent computes the largest number of simultaneously active speakers
// by sweeping segment boundaries as +1/-1 events.
func maxConcurrent(segments []types.Segment) int {
	type boundary struct {
		at    float64
		delta int
	}
	events := make([]boundary, 0, len(segments)*2)
	for _, s := range segments {
		events = append(events, boundary{s.Start, +1}, boundary{s.End, -1})
	}
	// Ends sort before starts at the same instant so touching segments do
	// not count as concurrent.
	sort.Slice(events, func(i, j int) bool {
		if events[i].at != events[j].at {
			return events[i].at < events[j].at
		}
		return events[i].delta < events[j].delta
	})

	current, peak := 0, 0
	for _, e := range events {
		current += e.delta
		if current > peak {
			peak = current
		}
	}
	return peak
}

// recommend produces threshold-driven guidance from the aggregate metrics.
func (d *Detector) recommend(analysis *Analysis) []string {
	var recs []string
	m := analysis.Metrics

	if m.OverlapPercentage > d.cfg.CrossTalkTolerance*100 {
		recs = append(recs, fmt.Sprintf(
			"%.1f%% of the conversation is cross-talk; consider an explicit turn-taking protocol",
			m.OverlapPercentage))
	}
	if m.CountByType[types.OverlapInterruption] > 3 {
		recs = append(recs, fmt.Sprintf(
			"%d interruptions detected; allow speakers to finish before responding",
			m.CountByType[types.OverlapInterruption]))
	}
	if m.MaxConcurrentSpeakers > 3 {
		recs = append(recs, fmt.Sprintf(
			"up to %d speakers talked at once; large-group segments may be untranscribable",
			m.MaxConcurrentSpeakers))
	}
	if len(analysis.Problematic) > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d overlap(s) exceed 2s or involve 3+ speakers; review these windows manually",
			len(analysis.Problematic)))
	}
	return recs
}
