package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Fields absent from the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found, so a
// caller sees every problem at once instead of fixing them one by one.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	p := cfg.Pipeline
	if p.OverlapHandling != "" && !p.OverlapHandling.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.overlap_handling %q is invalid; valid values: preserve_all, prioritize_primary, merge_overlaps, intelligent_switching", p.OverlapHandling))
	}
	if p.SpeakerGrouping != "" && !p.SpeakerGrouping.IsValid() {
		errs = append(errs, fmt.Errorf("pipeline.speaker_grouping %q is invalid; valid values: by_role, by_channel, by_voice_similarity, by_interaction_pattern, dynamic", p.SpeakerGrouping))
	}
	if p.MaxConcurrentSpeakers < 2 {
		errs = append(errs, fmt.Errorf("pipeline.max_concurrent_speakers %d is out of range; must be at least 2", p.MaxConcurrentSpeakers))
	}
	if p.OverlapThresholdMs < 50 {
		errs = append(errs, fmt.Errorf("pipeline.overlap_threshold_ms %d is out of range; must be at least 50", p.OverlapThresholdMs))
	}
	if p.CrossTalkTolerance < 0 || p.CrossTalkTolerance > 1 {
		errs = append(errs, fmt.Errorf("pipeline.cross_talk_tolerance %.2f is out of range [0, 1]", p.CrossTalkTolerance))
	}
	if p.MinSpeechDurationMs < 100 {
		errs = append(errs, fmt.Errorf("pipeline.min_speech_duration_ms %d is out of range; must be at least 100", p.MinSpeechDurationMs))
	}
	if p.MinInteractionCount < 1 {
		errs = append(errs, fmt.Errorf("pipeline.min_interaction_count %d is out of range; must be at least 1", p.MinInteractionCount))
	}

	if cfg.Channels.QualityThreshold < 0 || cfg.Channels.QualityThreshold > 1 {
		errs = append(errs, fmt.Errorf("channels.quality_threshold %.2f is out of range [0, 1]", cfg.Channels.QualityThreshold))
	}
	for ch, speaker := range cfg.Channels.ManualAssignments {
		if ch < 0 {
			errs = append(errs, fmt.Errorf("channels.manual_assignments: channel index %d is negative", ch))
		}
		if speaker == "" {
			errs = append(errs, fmt.Errorf("channels.manual_assignments[%d]: speaker label is empty", ch))
		}
	}

	rt := cfg.Realtime
	if rt.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("realtime.history_size %d is out of range; must be at least 1", rt.HistorySize))
	}
	if rt.MonitorIntervalMs < 100 {
		errs = append(errs, fmt.Errorf("realtime.monitor_interval_ms %d is out of range; must be at least 100", rt.MonitorIntervalMs))
	}
	if rt.PredictorIntervalMs < 100 {
		errs = append(errs, fmt.Errorf("realtime.predictor_interval_ms %d is out of range; must be at least 100", rt.PredictorIntervalMs))
	}
	if rt.DefaultSegmentEstimateSec <= 0 {
		errs = append(errs, fmt.Errorf("realtime.default_segment_estimate_sec %.2f must be positive", rt.DefaultSegmentEstimateSec))
	}

	a := cfg.Analytics
	if a.ConversationType != "" && !a.ConversationType.IsValid() {
		errs = append(errs, fmt.Errorf("analytics.conversation_type %q is invalid; valid values: consultation, follow_up, emergency, procedure", a.ConversationType))
	}
	if (a.ExpectedMinMinutes > 0) != (a.ExpectedMaxMinutes > 0) {
		errs = append(errs, errors.New("analytics.expected_min_minutes and expected_max_minutes must be set together"))
	}
	if a.ExpectedMinMinutes > 0 && a.ExpectedMaxMinutes > 0 && a.ExpectedMinMinutes >= a.ExpectedMaxMinutes {
		errs = append(errs, fmt.Errorf("analytics.expected_min_minutes %.1f must be below expected_max_minutes %.1f", a.ExpectedMinMinutes, a.ExpectedMaxMinutes))
	}

	return errors.Join(errs...)
}
