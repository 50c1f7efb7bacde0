package processor

import (
	"math"
	"sort"
	"strings"

	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/pkg/types"
)

// resolutionStrategy decides which segments survive overlap resolution.
// Implementations must not mutate their inputs.
type resolutionStrategy interface {
	resolve(segments []types.Segment, overlaps []types.Overlap) []types.Segment
}

// newResolutionStrategy maps the configured mode to its implementation.
// An empty mode defaults to preserve-all.
func newResolutionStrategy(mode config.OverlapHandling) resolutionStrategy {
	switch mode {
	case config.PrioritizePrimary:
		return prioritizePrimary{}
	case config.MergeOverlaps:
		return mergeOverlaps{}
	case config.IntelligentSwitching:
		return intelligentSwitching{}
	default:
		return preserveAll{}
	}
}

// preserveAll keeps every segment untouched.
type preserveAll struct{}

func (preserveAll) resolve(segments []types.Segment, _ []types.Overlap) []types.Segment {
	return segments
}

// prioritizePrimary drops any segment belonging to a non-dominant speaker in
// an overlap it participates in.
type prioritizePrimary struct{}

func (prioritizePrimary) resolve(segments []types.Segment, overlaps []types.Overlap) []types.Segment {
	drop := map[int]bool{}
	for _, ov := range overlaps {
		for i, s := range segments {
			if s.SpeakerLabel != ov.DominantSpeaker && participates(s, ov) {
				drop[i] = true
			}
		}
	}
	return without(segments, drop)
}

// intelligentSwitching keeps the interruptor's segment for interruptions and
// the primary (dominant) speaker's segment for back-channels and
// simultaneous speech.
type intelligentSwitching struct{}

func (intelligentSwitching) resolve(segments []types.Segment, overlaps []types.Overlap) []types.Segment {
	drop := map[int]bool{}
	for _, ov := range overlaps {
		switch ov.Type {
		case types.OverlapInterruption:
			// The interruptor is the participant whose segment starts
			// later; the interrupted speaker's segment is dropped.
			interruptor := latestStarter(segments, ov)
			for i, s := range segments {
				if participates(s, ov) && s.SpeakerLabel != interruptor {
					drop[i] = true
				}
			}
		default:
			for i, s := range segments {
				if participates(s, ov) && s.SpeakerLabel != ov.DominantSpeaker {
					drop[i] = true
				}
			}
		}
	}
	return without(segments, drop)
}

// mergeOverlaps combines each overlap's contributing segments into one:
// union time bounds, text joined in start order, the earlier segment's
// speaker label and the lower of the two confidences. Roles are kept only
// when all merged segments agree.
type mergeOverlaps struct{}

func (mergeOverlaps) resolve(segments []types.Segment, overlaps []types.Overlap) []types.Segment {
	if len(overlaps) == 0 {
		return segments
	}

	// Union-find over segment indices: segments participating in the same
	// overlap merge into one group.
	parent := make([]int, len(segments))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) { parent[find(a)] = find(b) }

	for _, ov := range overlaps {
		first := -1
		for i, s := range segments {
			if !participates(s, ov) {
				continue
			}
			if first < 0 {
				first = i
			} else {
				union(first, i)
			}
		}
	}

	groups := map[int][]types.Segment{}
	for i, s := range segments {
		root := find(i)
		groups[root] = append(groups[root], s)
	}

	merged := make([]types.Segment, 0, len(groups))
	for _, group := range groups {
		merged = append(merged, mergeGroup(group))
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Start < merged[j].Start })
	return merged
}

// mergeGroup folds a group of overlapping segments into a single segment.
func mergeGroup(group []types.Segment) types.Segment {
	if len(group) == 1 {
		return group[0]
	}
	sort.SliceStable(group, func(i, j int) bool { return group[i].Start < group[j].Start })

	out := group[0]
	texts := make([]string, 0, len(group))
	sameRole := true
	for _, s := range group {
		if s.Text != "" {
			texts = append(texts, s.Text)
		}
		out.End = math.Max(out.End, s.End)
		out.Confidence = math.Min(out.Confidence, s.Confidence)
		if s.Role != out.Role {
			sameRole = false
		}
	}
	out.Text = strings.Join(texts, " ")
	if !sameRole {
		out.Role = types.RoleUnknown
	}
	return out
}

// participates reports whether s is one of the overlap's contributing
// segments: its speaker is listed and its span covers the overlap window.
func participates(s types.Segment, ov types.Overlap) bool {
	if s.Start > ov.Start || s.End < ov.End {
		return false
	}
	for _, label := range ov.Speakers {
		if label == s.SpeakerLabel {
			return true
		}
	}
	return false
}

// latestStarter returns the participating speaker whose segment starts last.
func latestStarter(segments []types.Segment, ov types.Overlap) string {
	best := ""
	bestStart := math.Inf(-1)
	for _, s := range segments {
		if participates(s, ov) && s.Start > bestStart {
			best, bestStart = s.SpeakerLabel, s.Start
		}
	}
	return best
}

// without returns segments minus the dropped indices, preserving order.
func without(segments []types.Segment, drop map[int]bool) []types.Segment {
	if len(drop) == 0 {
		return segments
	}
	out := make([]types.Segment, 0, len(segments)-len(drop))
	for i, s := range segments {
		if !drop[i] {
			out = append(out, s)
		}
	}
	return out
}
