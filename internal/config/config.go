// Package config provides the configuration schema and loader for the
// Consonance conversation analysis engine.
package config

import "github.com/consonance-ai/consonance/pkg/types"

// LogLevel controls log verbosity for the Consonance server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// OverlapHandling selects how overlapping segments are resolved before
// clustering and flow analysis.
type OverlapHandling string

const (
	// PreserveAll keeps every segment untouched.
	PreserveAll OverlapHandling = "preserve_all"

	// PrioritizePrimary drops segments from non-dominant speakers in every
	// overlap they participate in.
	PrioritizePrimary OverlapHandling = "prioritize_primary"

	// MergeOverlaps combines overlapping segments into one.
	MergeOverlaps OverlapHandling = "merge_overlaps"

	// IntelligentSwitching keeps the interruptor's segment for
	// interruptions and the primary speaker's segment otherwise.
	IntelligentSwitching OverlapHandling = "intelligent_switching"
)

// IsValid reports whether o is a recognised overlap handling mode.
func (o OverlapHandling) IsValid() bool {
	switch o {
	case PreserveAll, PrioritizePrimary, MergeOverlaps, IntelligentSwitching:
		return true
	}
	return false
}

// SpeakerGrouping selects the speaker clustering strategy.
type SpeakerGrouping string

const (
	// GroupByRole builds one cluster per observed clinical role.
	GroupByRole SpeakerGrouping = "by_role"

	// GroupByChannel clusters speakers by their assigned audio channel.
	GroupByChannel SpeakerGrouping = "by_channel"

	// GroupByVoiceSimilarity clusters by acoustic similarity. Requires raw
	// audio and currently falls back to interaction-pattern grouping.
	GroupByVoiceSimilarity SpeakerGrouping = "by_voice_similarity"

	// GroupByInteractionPattern clusters speakers connected by frequent
	// adjacent-segment handoffs.
	GroupByInteractionPattern SpeakerGrouping = "by_interaction_pattern"

	// GroupDynamic merges role and interaction clustering.
	GroupDynamic SpeakerGrouping = "dynamic"
)

// IsValid reports whether g is a recognised speaker grouping strategy.
func (g SpeakerGrouping) IsValid() bool {
	switch g {
	case GroupByRole, GroupByChannel, GroupByVoiceSimilarity, GroupByInteractionPattern, GroupDynamic:
		return true
	}
	return false
}

// Config is the root configuration structure for Consonance.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Channels  ChannelConfig   `yaml:"channels"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Analytics AnalyticsConfig `yaml:"analytics"`
}

// ServerConfig holds network and logging settings for the observability server.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g. ":9090"). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// PipelineConfig holds the batch analysis options.
type PipelineConfig struct {
	// OverlapHandling selects the overlap resolution strategy.
	OverlapHandling OverlapHandling `yaml:"overlap_handling"`

	// SpeakerGrouping selects the clustering strategy.
	SpeakerGrouping SpeakerGrouping `yaml:"speaker_grouping"`

	// MaxConcurrentSpeakers is the crowd limit used for crowding detection.
	// Must be at least 2.
	MaxConcurrentSpeakers int `yaml:"max_concurrent_speakers"`

	// OverlapThresholdMs is the minimum intersection duration, in
	// milliseconds, for two segments to count as overlapping. Must be at
	// least 50.
	OverlapThresholdMs int `yaml:"overlap_threshold_ms"`

	// CrossTalkTolerance is the accepted fraction of conversation time
	// spent in overlap before recommendations fire, in [0, 1].
	CrossTalkTolerance float64 `yaml:"cross_talk_tolerance"`

	// MinSpeechDurationMs is the shortest segment considered speech, in
	// milliseconds. Must be at least 100.
	MinSpeechDurationMs int `yaml:"min_speech_duration_ms"`

	// MinInteractionCount is the minimum adjacent-handoff count for two
	// speakers to share an interaction cluster. Defaults to 2.
	MinInteractionCount int `yaml:"min_interaction_count"`
}

// ChannelConfig holds channel analysis and assignment settings.
type ChannelConfig struct {
	// QualityThreshold is the minimum channel quality score for automatic
	// speaker assignment, in [0, 1]. Defaults to 0.7.
	QualityThreshold float64 `yaml:"quality_threshold"`

	// ManualAssignments maps channel index to speaker label. When
	// non-empty, automatic assignment is skipped.
	ManualAssignments map[int]string `yaml:"manual_assignments"`
}

// RealtimeConfig holds the live tracker settings.
type RealtimeConfig struct {
	// HistorySize bounds the transition ring buffer. Defaults to 100.
	HistorySize int `yaml:"history_size"`

	// MonitorIntervalMs is the period of the timeout-cleanup loop.
	// Defaults to 1000.
	MonitorIntervalMs int `yaml:"monitor_interval_ms"`

	// PredictorIntervalMs is the period of the end-time refresh loop.
	// Defaults to 5000.
	PredictorIntervalMs int `yaml:"predictor_interval_ms"`

	// DefaultSegmentEstimateSec seeds end-time predictions for speakers
	// with no history. Defaults to 5.
	DefaultSegmentEstimateSec float64 `yaml:"default_segment_estimate_sec"`
}

// AnalyticsConfig holds the conversation scoring settings.
type AnalyticsConfig struct {
	// ConversationType selects the expected-duration profile. Defaults to
	// "consultation".
	ConversationType types.ConversationType `yaml:"conversation_type"`

	// ExpectedMinMinutes and ExpectedMaxMinutes override the duration range
	// for the selected conversation type when both are positive.
	ExpectedMinMinutes float64 `yaml:"expected_min_minutes"`
	ExpectedMaxMinutes float64 `yaml:"expected_max_minutes"`
}

// Default returns a Config populated with the documented defaults. Used when
// no config file is given and as the base for partial files.
func Default() Config {
	return Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Pipeline: PipelineConfig{
			OverlapHandling:       PreserveAll,
			SpeakerGrouping:       GroupDynamic,
			MaxConcurrentSpeakers: 4,
			OverlapThresholdMs:    100,
			CrossTalkTolerance:    0.2,
			MinSpeechDurationMs:   100,
			MinInteractionCount:   2,
		},
		Channels: ChannelConfig{
			QualityThreshold: 0.7,
		},
		Realtime: RealtimeConfig{
			HistorySize:               100,
			MonitorIntervalMs:         1000,
			PredictorIntervalMs:       5000,
			DefaultSegmentEstimateSec: 5,
		},
		Analytics: AnalyticsConfig{
			ConversationType: types.ConversationConsultation,
		},
	}
}
