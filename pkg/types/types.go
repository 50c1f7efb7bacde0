// Package types defines the shared data model used across all Consonance packages.
//
// These types form the lingua franca between the overlap detector, the batch
// processor, the real-time tracker, and the analytics layer. Each package
// defines its own internal working types, but cross-cutting data structures
// live here to avoid circular imports.
package types

// Role identifies a participant's function in a clinical conversation.
// Roles are assigned by the upstream diarization collaborator; segments
// without a known role carry [RoleUnknown].
type Role string

const (
	RolePatient     Role = "patient"
	RolePhysician   Role = "physician"
	RoleNurse       Role = "nurse"
	RoleCaregiver   Role = "caregiver"
	RoleInterpreter Role = "interpreter"
	RoleUnknown     Role = "unknown"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RolePatient, RolePhysician, RoleNurse, RoleCaregiver, RoleInterpreter, RoleUnknown:
		return true
	}
	return false
}

// IsProvider reports whether r is a care-provider role. Provider segments are
// the ones scored for explanatory phrasing and empathy markers.
func (r Role) IsProvider() bool {
	return r == RolePhysician || r == RoleNurse
}

// Segment is a single speaker's continuous span of speech with timing, text,
// and confidence. Segments are produced by the upstream ASR/diarization
// service and are immutable once ingested — the pipeline never mutates a
// segment's time bounds or text.
type Segment struct {
	// SpeakerLabel identifies who spoke (diarization label, e.g. "spk_0").
	SpeakerLabel string `json:"speaker_label"`

	// Start and End are offsets in seconds from conversation start.
	// End is always strictly greater than Start.
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`

	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Confidence is the ASR confidence score in [0, 1]. May be zero if the
	// upstream service does not report confidence.
	Confidence float64 `json:"confidence"`

	// Role is the speaker's clinical role when known.
	Role Role `json:"role,omitempty"`

	// SpeakerID is an optional stable identifier resolved from the
	// diarization label (e.g. a staff directory ID).
	SpeakerID string `json:"speaker_id,omitempty"`
}

// Duration returns the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// OverlapType classifies a detected cross-talk window.
type OverlapType string

const (
	// OverlapBackChannel is a short overlap typically representing an
	// acknowledgment ("mm-hmm") rather than a genuine interruption.
	OverlapBackChannel OverlapType = "back_channel"

	// OverlapInterruption means one speaker cut in well after another
	// had the floor.
	OverlapInterruption OverlapType = "interruption"

	// OverlapSimultaneous means both speakers started close together and
	// talked over each other.
	OverlapSimultaneous OverlapType = "simultaneous"
)

// Overlap is a time window during which two or more different speakers'
// segments intersect. Overlaps are derived per analysis pass and are never
// persisted independently of the analysis they belong to.
type Overlap struct {
	// Start and End bound the intersection window. The window is always a
	// subset of every contributing segment's span.
	Start float64 `json:"start_time"`
	End   float64 `json:"end_time"`

	// Speakers holds the labels of all contributing speakers (≥ 2).
	Speakers []string `json:"speakers"`

	// Type is the cross-talk classification.
	Type OverlapType `json:"overlap_type"`

	// DominantSpeaker is the label of the segment with the higher
	// confidence × duration product, when determinable.
	DominantSpeaker string `json:"dominant_speaker,omitempty"`

	// Confidence is the detection confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Ratio is the overlap duration divided by the shorter contributing
	// segment's duration, in (0, 1].
	Ratio float64 `json:"overlap_ratio"`
}

// Duration returns the overlap window length in seconds.
func (o Overlap) Duration() float64 {
	return o.End - o.Start
}

// SpeakerCluster groups speakers that belong together, either by shared role
// or by interaction pattern. A cluster's speaker set is never empty.
type SpeakerCluster struct {
	// ID is a stable identifier within one analysis pass (e.g. "role-physician").
	ID string `json:"cluster_id"`

	// Speakers holds the member labels.
	Speakers []string `json:"speakers"`

	// PrimaryRole is the dominant role of the cluster members, when known.
	PrimaryRole Role `json:"primary_role,omitempty"`

	// InteractionCount is the number of adjacent-segment handoffs observed
	// between cluster members.
	InteractionCount int `json:"interaction_count"`

	// TotalDuration is the summed speaking time of all members, in seconds.
	TotalDuration float64 `json:"total_duration"`
}

// SpeakerPair is an unordered pair of speaker labels used as a map key in
// overlap and transition matrices. Construct with [NewSpeakerPair] so that
// (a, b) and (b, a) produce the same key.
type SpeakerPair struct {
	A, B string
}

// NewSpeakerPair returns the canonical (sorted) pair for two labels.
func NewSpeakerPair(a, b string) SpeakerPair {
	if b < a {
		a, b = b, a
	}
	return SpeakerPair{A: a, B: b}
}

// Transition is an ordered speaker handoff used as a transition-matrix key.
type Transition struct {
	From, To string
}

// ConversationFlow is the aggregate result of a batch conversation pass.
// It is built once per conversation and read-only downstream.
type ConversationFlow struct {
	// Segments are the (possibly strategy-filtered) segments in start order.
	Segments []Segment `json:"segments"`

	// Overlaps are all detected cross-talk windows.
	Overlaps []Overlap `json:"overlaps"`

	// Clusters groups speakers by role or interaction pattern.
	Clusters []SpeakerCluster `json:"clusters"`

	// TransitionMatrix counts speaker-to-speaker handoffs.
	TransitionMatrix map[Transition]int `json:"-"`

	// SpeakingOrder is the de-duplicated, order-preserving sequence of
	// speaker changes.
	SpeakingOrder []string `json:"speaking_order"`

	// SpeakingTime maps each speaker label to total seconds spoken.
	SpeakingTime map[string]float64 `json:"speaking_time_distribution"`

	// DominantSpeaker is the label with the largest share of speaking time.
	DominantSpeaker string `json:"dominant_speaker,omitempty"`

	// QualityMetrics holds scalar pipeline metrics (overlap percentage,
	// speaking balance, turn rate) keyed by name.
	QualityMetrics map[string]float64 `json:"quality_metrics"`
}

// TransitionType classifies a live speaker handoff.
type TransitionType string

const (
	// TransitionSmooth is a handoff with a small positive gap.
	TransitionSmooth TransitionType = "smooth"

	// TransitionInterrupted is a handoff after an unusually long wait.
	TransitionInterrupted TransitionType = "interrupted"

	// TransitionOverlapped is a handoff where the new speaker started
	// before the previous one was predicted to finish.
	TransitionOverlapped TransitionType = "overlapped"
)

// SpeakerState is the per-speaker accumulator maintained by the real-time
// tracker. It is mutated incrementally as live events arrive.
type SpeakerState struct {
	SpeakerID string `json:"speaker_id"`

	// Active reports whether the speaker currently holds the floor.
	Active bool `json:"is_active"`

	// LastActive is the timestamp (seconds from conversation start) of the
	// speaker's most recent start or stop event.
	LastActive float64 `json:"last_active_time"`

	// TotalSpeakingTime is the accumulated speaking time in seconds.
	TotalSpeakingTime float64 `json:"total_speaking_time"`

	// SegmentCount is the number of completed utterances.
	SegmentCount int `json:"segment_count"`

	// AvgSegmentDuration is the rolling average utterance length in
	// seconds, used to seed end-time predictions.
	AvgSegmentDuration float64 `json:"average_segment_duration"`
}

// ActiveSpeaker is one entry in the tracker's live working set. Created on a
// speaker-start event, removed on the matching stop event.
type ActiveSpeaker struct {
	SpeakerID string `json:"speaker_id"`

	// Start is when the speaker took the floor (seconds from conversation start).
	Start float64 `json:"start_time"`

	// Confidence is the diarization confidence of the start event.
	Confidence float64 `json:"confidence"`

	// PredictedEnd is the expected utterance duration in seconds, seeded
	// from the speaker's historical average and refreshed periodically.
	PredictedEnd float64 `json:"predicted_end_time"`
}

// SpeakerTransition records one observed live handoff between speakers.
type SpeakerTransition struct {
	From string `json:"from_speaker"`
	To   string `json:"to_speaker"`

	// At is the handoff timestamp in seconds from conversation start.
	At float64 `json:"transition_time"`

	// Gap is the signed distance between the previous speaker's predicted
	// end and the new speaker's start. Negative values indicate overlap.
	Gap float64 `json:"gap_duration"`

	Type TransitionType `json:"transition_type"`
}

// ConversationType selects the expected-duration profile used by the
// clinical-efficiency score.
type ConversationType string

const (
	ConversationConsultation ConversationType = "consultation"
	ConversationFollowUp     ConversationType = "follow_up"
	ConversationEmergency    ConversationType = "emergency"
	ConversationProcedure    ConversationType = "procedure"
)

// IsValid reports whether t is a recognised conversation type.
func (t ConversationType) IsValid() bool {
	switch t {
	case ConversationConsultation, ConversationFollowUp, ConversationEmergency, ConversationProcedure:
		return true
	}
	return false
}

// SatisfactionIndicators are secondary signals about how well the
// conversation served the patient.
type SatisfactionIndicators struct {
	// QuestionAnsweredRate is the fraction of question segments followed by
	// a different speaker's segment.
	QuestionAnsweredRate float64 `json:"question_answered_rate"`

	// WaitTimeAcceptability scores inter-turn gaps against the ideal
	// 0.5–2 s conversational rhythm.
	WaitTimeAcceptability float64 `json:"wait_time_acceptability"`

	// ExplanationClarity is the clarity-marker to jargon-marker ratio in
	// provider segments, scaled to [0, 1].
	ExplanationClarity float64 `json:"explanation_clarity"`
}

// ConversationMetrics is the multi-dimensional quality score produced by the
// analytics layer. All scores are clamped to [0, 1]. Computed once and
// cached per conversation ID.
type ConversationMetrics struct {
	PatientEngagement     float64 `json:"patient_engagement"`
	ProviderCommunication float64 `json:"provider_communication"`
	InformationExchange   float64 `json:"information_exchange"`
	EmotionalRapport      float64 `json:"emotional_rapport"`
	ClinicalEfficiency    float64 `json:"clinical_efficiency"`

	// Barriers lists detected communication barriers, free text.
	Barriers []string `json:"barriers,omitempty"`

	// Recommendations lists threshold-driven improvement suggestions.
	Recommendations []string `json:"recommendations,omitempty"`

	Satisfaction SatisfactionIndicators `json:"satisfaction_indicators"`
}
