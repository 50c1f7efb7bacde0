// Package analytics scores a completed conversation analysis along five
// quality dimensions and derives barriers, recommendations, and satisfaction
// indicators from it.
//
// Scoring is deterministic over the conversation flow; results are cached per
// conversation ID so repeated lookups are free.
package analytics

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/consonance-ai/consonance/internal/config"
	"github.com/consonance-ai/consonance/pkg/types"
)

// expectedDuration maps a conversation type to its expected length range in
// minutes.
var expectedDuration = map[types.ConversationType][2]float64{
	types.ConversationConsultation: {15, 30},
	types.ConversationFollowUp:     {5, 15},
	types.ConversationEmergency:    {2, 10},
	types.ConversationProcedure:    {20, 60},
}

// Analyzer computes [types.ConversationMetrics] from a conversation flow.
// Safe for concurrent use.
type Analyzer struct {
	cfg config.AnalyticsConfig

	mu    sync.Mutex
	cache map[string]types.ConversationMetrics
}

// New creates an [Analyzer]. An unset or unknown conversation type falls back
// to consultation.
func New(cfg config.AnalyticsConfig) *Analyzer {
	if !cfg.ConversationType.IsValid() {
		cfg.ConversationType = types.ConversationConsultation
	}
	return &Analyzer{
		cfg:   cfg,
		cache: map[string]types.ConversationMetrics{},
	}
}

// AnalyzeConversation scores the flow. Results are cached under
// conversationID; an empty ID bypasses the cache.
func (a *Analyzer) AnalyzeConversation(conversationID string, flow *types.ConversationFlow) types.ConversationMetrics {
	if conversationID != "" {
		a.mu.Lock()
		if m, ok := a.cache[conversationID]; ok {
			a.mu.Unlock()
			return m
		}
		a.mu.Unlock()
	}

	m := a.compute(flow)

	if conversationID != "" {
		a.mu.Lock()
		a.cache[conversationID] = m
		a.mu.Unlock()
		slog.Debug("analytics: conversation scored",
			"conversation_id", conversationID,
			"engagement", m.PatientEngagement,
			"efficiency", m.ClinicalEfficiency,
		)
	}
	return m
}

func (a *Analyzer) compute(flow *types.ConversationFlow) types.ConversationMetrics {
	if flow == nil || len(flow.Segments) == 0 {
		return types.ConversationMetrics{}
	}

	m := types.ConversationMetrics{
		PatientEngagement:     patientEngagement(flow),
		ProviderCommunication: providerCommunication(flow),
		InformationExchange:   informationExchange(flow),
		EmotionalRapport:      emotionalRapport(flow),
		ClinicalEfficiency:    a.clinicalEfficiency(flow),
		Satisfaction:          satisfaction(flow),
	}
	m.Barriers = barriers(flow)
	m.Recommendations = recommendations(m)
	return m
}

// patientEngagement averages three sub-signals: the patient's share of
// speaking time (ideal 30–40%), their question rate (ideal 1–3 per minute),
// and their average utterance length (ideal 5–15 s).
func patientEngagement(flow *types.ConversationFlow) float64 {
	var patientTime, totalTime float64
	var patientSegments, patientQuestions int
	for _, s := range flow.Segments {
		totalTime += s.Duration()
		if s.Role != types.RolePatient {
			continue
		}
		patientTime += s.Duration()
		patientSegments++
		if isQuestion(s.Text) {
			patientQuestions++
		}
	}
	if totalTime == 0 || patientSegments == 0 {
		return 0
	}

	ratio := patientTime / totalTime
	ratioScore := bandScore(ratio, 0.30, 0.40, 0.20, 0.50)

	minutes := conversationSpan(flow.Segments) / 60
	questionScore := 0.3
	if minutes > 0 {
		rate := float64(patientQuestions) / minutes
		questionScore = bandScore(rate, 1, 3, 0.5, 4)
	}

	avgUtterance := patientTime / float64(patientSegments)
	utteranceScore := bandScore(avgUtterance, 5, 15, 3, 20)

	return clamp((ratioScore + questionScore + utteranceScore) / 3)
}

// providerCommunication averages the explanatory-phrasing fraction of
// provider segments (ideal 20–40%) and an empathy-marker presence signal
// (full credit at 3 or more marked segments).
func providerCommunication(flow *types.ConversationFlow) float64 {
	var provider, explanatory, empathic int
	for _, s := range flow.Segments {
		if !s.Role.IsProvider() {
			continue
		}
		provider++
		if explanationMarkers.matches(s.Text) {
			explanatory++
		}
		if empathyMarkers.matches(s.Text) {
			empathic++
		}
	}
	if provider == 0 {
		return 0
	}

	fraction := float64(explanatory) / float64(provider)
	explainScore := bandScore(fraction, 0.20, 0.40, 0.10, 0.60)

	empathyScore := 0.2
	switch {
	case empathic >= 3:
		empathyScore = 1.0
	case empathic >= 1:
		empathyScore = 0.6
	}

	return clamp((explainScore + empathyScore) / 2)
}

// informationExchange averages the turn-rate score (ideal 10–20 turns per
// minute) with the precomputed speaking-balance metric.
func informationExchange(flow *types.ConversationFlow) float64 {
	minutes := conversationSpan(flow.Segments) / 60
	turnScore := 0.3
	if minutes > 0 && len(flow.SpeakingOrder) > 1 {
		rate := float64(len(flow.SpeakingOrder)-1) / minutes
		turnScore = bandScore(rate, 10, 20, 5, 30)
	}
	balance := flow.QualityMetrics["speaking_balance"]
	return clamp((turnScore + balance) / 2)
}

// emotionalRapport thresholds the fraction of segments carrying
// positive-sentiment markers.
func emotionalRapport(flow *types.ConversationFlow) float64 {
	positive := 0
	for _, s := range flow.Segments {
		if positiveMarkers.matches(s.Text) {
			positive++
		}
	}
	fraction := float64(positive) / float64(len(flow.Segments))
	switch {
	case fraction >= 0.10:
		return 1.0
	case fraction >= 0.05:
		return 0.7
	default:
		return 0.4
	}
}

// clinicalEfficiency scores the conversation duration against the expected
// range for the configured conversation type. Too short risks missed
// information (0.8); too long decays linearly, floored at 0.3.
func (a *Analyzer) clinicalEfficiency(flow *types.ConversationFlow) float64 {
	lo, hi := a.expectedRange()
	minutes := conversationSpan(flow.Segments) / 60

	switch {
	case minutes < lo:
		return 0.8
	case minutes <= hi:
		return 1.0
	default:
		return clampMin(1-(minutes-hi)/hi, 0.3)
	}
}

// expectedRange returns the expected duration bounds in minutes, honoring
// the configured override when both ends are set.
func (a *Analyzer) expectedRange() (lo, hi float64) {
	if a.cfg.ExpectedMinMinutes > 0 && a.cfg.ExpectedMaxMinutes > a.cfg.ExpectedMinMinutes {
		return a.cfg.ExpectedMinMinutes, a.cfg.ExpectedMaxMinutes
	}
	r := expectedDuration[a.cfg.ConversationType]
	return r[0], r[1]
}

// barriers flags structural communication problems in the flow.
func barriers(flow *types.ConversationFlow) []string {
	var out []string

	if len(flow.Overlaps) > 5 {
		out = append(out, fmt.Sprintf(
			"frequent cross-talk: %d overlapping windows disrupt the conversation", len(flow.Overlaps)))
	}

	short, lowConfidence := 0, 0
	for _, s := range flow.Segments {
		if s.Duration() < 2 {
			short++
		}
		if s.Confidence < 0.7 {
			lowConfidence++
		}
	}
	n := float64(len(flow.Segments))
	if float64(short)/n > 0.30 {
		out = append(out, "fragmented speech: over 30% of utterances are shorter than 2 seconds")
	}
	if flow.QualityMetrics["speaking_balance"] < 0.3 {
		out = append(out, "one-sided conversation: speaking time is heavily skewed toward one participant")
	}
	if float64(lowConfidence)/n > 0.20 {
		out = append(out, "low transcription confidence on over 20% of segments; scores may be unreliable")
	}
	return out
}

// recommendations derives improvement suggestions from sub-par scores.
func recommendations(m types.ConversationMetrics) []string {
	var out []string
	if m.PatientEngagement < 0.5 {
		out = append(out, "encourage open-ended questions to increase patient participation")
	}
	if m.ProviderCommunication < 0.5 {
		out = append(out, "use more explanatory language and acknowledge patient concerns")
	}
	if m.InformationExchange < 0.5 {
		out = append(out, "balance speaking time and allow more back-and-forth exchanges")
	}
	if m.EmotionalRapport < 0.5 {
		out = append(out, "reinforce positive moments to build rapport")
	}
	if m.ClinicalEfficiency < 0.5 {
		out = append(out, "review the visit length against the expected range for this conversation type")
	}
	return out
}

// satisfaction computes the three secondary indicators.
func satisfaction(flow *types.ConversationFlow) types.SatisfactionIndicators {
	return types.SatisfactionIndicators{
		QuestionAnsweredRate:  questionAnsweredRate(flow.Segments),
		WaitTimeAcceptability: waitTimeAcceptability(flow.Segments),
		ExplanationClarity:    explanationClarity(flow.Segments),
	}
}

// questionAnsweredRate is the fraction of question segments immediately
// followed by a different speaker. No questions counts as fully answered.
func questionAnsweredRate(segments []types.Segment) float64 {
	questions, answered := 0, 0
	for i, s := range segments {
		if !isQuestion(s.Text) {
			continue
		}
		questions++
		if i+1 < len(segments) && segments[i+1].SpeakerLabel != s.SpeakerLabel {
			answered++
		}
	}
	if questions == 0 {
		return 1
	}
	return float64(answered) / float64(questions)
}

// waitTimeAcceptability is the fraction of speaker handoffs whose silence
// gap falls in the ideal 0.5–2 s conversational rhythm.
func waitTimeAcceptability(segments []types.Segment) float64 {
	handoffs, acceptable := 0, 0
	for i := 1; i < len(segments); i++ {
		if segments[i].SpeakerLabel == segments[i-1].SpeakerLabel {
			continue
		}
		handoffs++
		gap := segments[i].Start - segments[i-1].End
		if gap >= 0.5 && gap <= 2 {
			acceptable++
		}
	}
	if handoffs == 0 {
		return 1
	}
	return float64(acceptable) / float64(handoffs)
}

// explanationClarity is the clarity-marker share among all clarity and
// jargon markers in provider segments. Neutral 0.5 with no markers at all.
func explanationClarity(segments []types.Segment) float64 {
	clarity, jargon := 0, 0
	for _, s := range segments {
		if !s.Role.IsProvider() {
			continue
		}
		if clarityMarkers.matches(s.Text) {
			clarity++
		}
		if jargonMarkers.matches(s.Text) {
			jargon++
		}
	}
	if clarity+jargon == 0 {
		return 0.5
	}
	return float64(clarity) / float64(clarity+jargon)
}

// bandScore gives full credit inside [idealLo, idealHi], partial credit
// inside the wider [okLo, okHi], and a low floor outside both.
func bandScore(v, idealLo, idealHi, okLo, okHi float64) float64 {
	switch {
	case v >= idealLo && v <= idealHi:
		return 1.0
	case v >= okLo && v <= okHi:
		return 0.7
	default:
		return 0.3
	}
}

// conversationSpan is the elapsed time from the earliest start to the latest
// end, in seconds.
func conversationSpan(segments []types.Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	start, end := math.Inf(1), math.Inf(-1)
	for _, s := range segments {
		start = math.Min(start, s.Start)
		end = math.Max(end, s.End)
	}
	return end - start
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func clampMin(v, floor float64) float64 {
	return math.Max(floor, math.Min(1, v))
}
