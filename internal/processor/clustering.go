package processor

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/pkg/types"
)

// clusteringStrategy groups speakers into [types.SpeakerCluster]s.
// Implementations must not mutate their inputs and must return clusters with
// non-empty, sorted speaker sets.
type clusteringStrategy interface {
	cluster(segments []types.Segment) []types.SpeakerCluster
}

// newClusteringStrategy maps the configured grouping to its implementation.
// Channel and voice-similarity grouping need per-channel audio that the
// batch pipeline does not carry, so both fall back to interaction-pattern
// grouping with a warning.
func newClusteringStrategy(mode config.SpeakerGrouping, minInteraction int) clusteringStrategy {
	switch mode {
	case config.GroupByRole:
		return byRole{}
	case config.GroupByInteractionPattern:
		return byInteraction{minWeight: minInteraction}
	case config.GroupByChannel, config.GroupByVoiceSimilarity:
		slog.Warn("speaker grouping falls back to interaction-pattern clustering",
			"requested", string(mode),
		)
		return byInteraction{minWeight: minInteraction}
	default:
		return dynamic{interaction: byInteraction{minWeight: minInteraction}}
	}
}

// byRole builds one cluster per observed clinical role. A speaker's role is
// the majority role across their segments.
type byRole struct{}

func (byRole) cluster(segments []types.Segment) []types.SpeakerCluster {
	roleOf := majorityRoles(segments)

	members := map[types.Role][]string{}
	for speaker, role := range roleOf {
		members[role] = append(members[role], speaker)
	}

	clusters := make([]types.SpeakerCluster, 0, len(members))
	for role, speakers := range members {
		sort.Strings(speakers)
		clusters = append(clusters, finishCluster(types.SpeakerCluster{
			ID:          fmt.Sprintf("role-%s", role),
			Speakers:    speakers,
			PrimaryRole: role,
		}, segments))
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return clusters
}

// byInteraction clusters speakers connected by adjacent-segment handoffs
// with at least minWeight occurrences: an undirected weighted graph whose
// connected components become clusters.
type byInteraction struct {
	minWeight int
}

func (b byInteraction) cluster(segments []types.Segment) []types.SpeakerCluster {
	weights := map[types.SpeakerPair]int{}
	for i := 1; i < len(segments); i++ {
		from := segments[i-1].SpeakerLabel
		to := segments[i].SpeakerLabel
		if from != to {
			weights[types.NewSpeakerPair(from, to)]++
		}
	}

	// Union speakers joined by a strong enough edge.
	parent := map[string]string{}
	var find func(string) string
	find = func(s string) string {
		if parent[s] == "" || parent[s] == s {
			parent[s] = s
			return s
		}
		root := find(parent[s])
		parent[s] = root
		return root
	}
	for _, s := range segments {
		find(s.SpeakerLabel)
	}
	for pair, w := range weights {
		if w >= b.minWeight {
			parent[find(pair.A)] = find(pair.B)
		}
	}

	members := map[string][]string{}
	for speaker := range parent {
		root := find(speaker)
		members[root] = append(members[root], speaker)
	}

	roleOf := majorityRoles(segments)
	roots := make([]string, 0, len(members))
	for root := range members {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	clusters := make([]types.SpeakerCluster, 0, len(roots))
	for i, root := range roots {
		speakers := members[root]
		sort.Strings(speakers)
		clusters = append(clusters, finishCluster(types.SpeakerCluster{
			ID:          fmt.Sprintf("group-%d", i+1),
			Speakers:    speakers,
			PrimaryRole: majorityClusterRole(speakers, roleOf),
		}, segments))
	}
	return clusters
}

// dynamic computes both role and interaction clusterings and merges them:
// speakers with a declared role stay in their role cluster, speakers without
// one keep the interaction cluster that grouped them.
type dynamic struct {
	interaction byInteraction
}

func (d dynamic) cluster(segments []types.Segment) []types.SpeakerCluster {
	roleClusters := byRole{}.cluster(segments)
	interClusters := d.interaction.cluster(segments)

	// Unlabeled speakers have no clinical identity to anchor a role
	// cluster; leave them to the interaction clustering.
	claimed := map[string]bool{}
	merged := make([]types.SpeakerCluster, 0, len(roleClusters))
	for _, rc := range roleClusters {
		if rc.PrimaryRole == types.RoleUnknown {
			continue
		}
		for _, s := range rc.Speakers {
			claimed[s] = true
		}
		merged = append(merged, rc)
	}

	// Interaction clusters survive only with members no role cluster claimed.
	for _, ic := range interClusters {
		var leftover []string
		for _, s := range ic.Speakers {
			if !claimed[s] {
				leftover = append(leftover, s)
			}
		}
		if len(leftover) == 0 {
			continue
		}
		ic.Speakers = leftover
		merged = append(merged, finishCluster(ic, segments))
	}
	return merged
}

// majorityRoles resolves each speaker to their most frequent declared role.
// Speakers with no declared role map to [types.RoleUnknown].
func majorityRoles(segments []types.Segment) map[string]types.Role {
	counts := map[string]map[types.Role]int{}
	for _, s := range segments {
		role := s.Role
		if role == "" {
			role = types.RoleUnknown
		}
		if counts[s.SpeakerLabel] == nil {
			counts[s.SpeakerLabel] = map[types.Role]int{}
		}
		counts[s.SpeakerLabel][role]++
	}

	out := map[string]types.Role{}
	for speaker, roleCounts := range counts {
		best, bestCount := types.RoleUnknown, 0
		for role, c := range roleCounts {
			if c > bestCount || (c == bestCount && role < best) {
				best, bestCount = role, c
			}
		}
		out[speaker] = best
	}
	return out
}

// majorityClusterRole picks the most common member role, unknown last.
func majorityClusterRole(speakers []string, roleOf map[string]types.Role) types.Role {
	counts := map[types.Role]int{}
	for _, s := range speakers {
		counts[roleOf[s]]++
	}
	best, bestCount := types.RoleUnknown, 0
	for role, c := range counts {
		if role == types.RoleUnknown {
			continue
		}
		if c > bestCount || (c == bestCount && role < best) {
			best, bestCount = role, c
		}
	}
	return best
}

// finishCluster fills the interaction count and total duration for a
// cluster's member set.
func finishCluster(c types.SpeakerCluster, segments []types.Segment) types.SpeakerCluster {
	member := map[string]bool{}
	for _, s := range c.Speakers {
		member[s] = true
	}

	c.InteractionCount = 0
	c.TotalDuration = 0
	for i, s := range segments {
		if member[s.SpeakerLabel] {
			c.TotalDuration += s.Duration()
		}
		if i > 0 {
			prev := segments[i-1].SpeakerLabel
			if prev != s.SpeakerLabel && member[prev] && member[s.SpeakerLabel] {
				c.InteractionCount++
			}
		}
	}
	return c
}
