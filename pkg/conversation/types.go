// Package conversation defines the shared conversation state that flows
// through the workflow graph: messages, findings, assessments, and the
// reducer rules that merge partial node updates into the state.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind tags a message variant.
type MessageKind string

const (
	KindHuman  MessageKind = "human"
	KindAI     MessageKind = "ai"
	KindSystem MessageKind = "system"
)

// Message is a single conversation message. Messages are append-only within
// a conversation; the ID is used to deduplicate re-applied deltas.
type Message struct {
	ID         string            `json:"id"`
	Kind       MessageKind       `json:"kind"`
	Content    string            `json:"content"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NewMessage creates a message with a fresh ID and timestamp.
func NewMessage(kind MessageKind, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// FindingType categorizes a progress note appended to conversation state.
type FindingType string

const (
	FindingInitialDiscovery         FindingType = "initial_discovery"
	FindingSpecialistAnalysis       FindingType = "specialist_analysis"
	FindingPartnerMatches           FindingType = "partner_matches"
	FindingConfidenceAssessment     FindingType = "confidence_assessment"
	FindingApplicationGuidance      FindingType = "application_guidance"
	FindingConversationContinuation FindingType = "conversation_continuation"
	FindingGreeting                 FindingType = "greeting"
)

// Finding is a structured progress note. Confidence is optional; nil entries
// are excluded from aggregation.
type Finding struct {
	Type        FindingType `json:"type"`
	Insight     string      `json:"insight"`
	Confidence  *float64    `json:"confidence,omitempty"`
	Agent       string      `json:"agent,omitempty"`
	Sources     []string    `json:"sources,omitempty"`
	NextActions []string    `json:"next_actions,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewFinding creates a finding stamped with the current time.
func NewFinding(ft FindingType, insight string) Finding {
	return Finding{Type: ft, Insight: insight, Timestamp: time.Now().UTC()}
}

// WithConfidence sets the optional confidence score.
func (f Finding) WithConfidence(c float64) Finding {
	f.Confidence = &c
	return f
}

// WithAgent tags the finding with the producing specialist.
func (f Finding) WithAgent(agent string) Finding {
	f.Agent = agent
	return f
}

// Emotion classifies the user's primary emotional state.
type Emotion string

const (
	EmotionCrisis      Emotion = "crisis"
	EmotionDistressed  Emotion = "distressed"
	EmotionAnxious     Emotion = "anxious"
	EmotionNeutral     Emotion = "neutral"
	EmotionPositive    Emotion = "positive"
	EmotionStress      Emotion = "stress"
	EmotionConfidence  Emotion = "confidence"
	EmotionFrustration Emotion = "frustration"
	EmotionExcitement  Emotion = "excitement"
	EmotionUncertainty Emotion = "uncertainty"
)

// SupportLevel is the degree of support a user needs.
type SupportLevel string

const (
	SupportLow      SupportLevel = "low"
	SupportModerate SupportLevel = "moderate"
	SupportHigh     SupportLevel = "high"
)

// AssessmentMethod records how an assessment was produced.
type AssessmentMethod string

const (
	MethodLLMReasoning AssessmentMethod = "llm_reasoning"
	MethodFallback     AssessmentMethod = "fallback"
)

// EmotionalAssessment is the structured result of classifying a user turn's
// emotional content.
type EmotionalAssessment struct {
	PrimaryEmotion  Emotion          `json:"primary_emotion"`
	Intensity       float64          `json:"intensity"`
	SupportNeeded   SupportLevel     `json:"support_needed"`
	CareerReadiness float64          `json:"career_readiness"`
	Reasoning       string           `json:"reasoning"`
	Method          AssessmentMethod `json:"method"`
}

// Intent is the coarse routing intent of a user turn.
type Intent string

const (
	IntentCrisisSupport       Intent = "crisis_support"
	IntentSpecificSpecialist  Intent = "specific_specialist_needed"
	IntentUserAssessment      Intent = "user_assessment_needed"
	IntentClimateOverview     Intent = "climate_overview_needed"
	IntentGeneralCoordination Intent = "general_coordination"
)

// Urgency grades how quickly a turn needs attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyModerate Urgency = "moderate"
	UrgencyHigh     Urgency = "high"
	UrgencyCrisis   Urgency = "crisis"
)

// RoutingAssessment is the structured result of routing classification.
type RoutingAssessment struct {
	PrimaryIntent         Intent  `json:"primary_intent"`
	Urgency               Urgency `json:"urgency"`
	RecommendedSpecialist string  `json:"recommended_specialist,omitempty"`
	SpecialistConfidence  float64 `json:"specialist_confidence"`
	Reasoning             string  `json:"reasoning"`
}

// Limits enforced by the workflow's termination guards.
const (
	MaxHumanSteering = 3
	MaxSteps         = 10
)

// State is the conversation state carried through one graph execution.
// Messages and IncrementalFindings are append-only (merged by the additive
// reducer); scalar fields are last-writer-wins; counters never decrease
// within one execution.
type State struct {
	Messages             []Message      `json:"messages"`
	NeedsHumanReview     bool           `json:"needs_human_review"`
	HumanSteeringContext map[string]any `json:"human_steering_context,omitempty"`
	WorkflowState        string         `json:"workflow_state"`
	HumanSteeringCount   int            `json:"human_steering_count"`
	StepCount            int            `json:"step_count"`
	WaitingForInput      bool           `json:"waiting_for_input"`
	IncrementalFindings  []Finding      `json:"incremental_findings"`
	ConversationHistory  []Message      `json:"conversation_history,omitempty"`
	UserID               string         `json:"user_id"`
	SessionID            string         `json:"session_id"`
	ConversationComplete bool           `json:"conversation_complete"`

	// Routing is the turn's routing assessment, set by the runner before the
	// graph starts so nodes can honor a recommended specialist.
	Routing *RoutingAssessment `json:"routing,omitempty"`

	// Empathy sub-workflow fields.
	CrisisDetected       bool                 `json:"crisis_detected,omitempty"`
	NeedsHumanEscalation bool                 `json:"needs_human_escalation,omitempty"`
	EmotionalState       *EmotionalAssessment `json:"emotional_state,omitempty"`
}

// LastHumanMessage returns the most recent human message, or false when the
// conversation has none.
func (s *State) LastHumanMessage() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Kind == KindHuman {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// LastFinding returns the most recent finding, or false when there are none.
func (s *State) LastFinding() (Finding, bool) {
	if len(s.IncrementalFindings) == 0 {
		return Finding{}, false
	}
	return s.IncrementalFindings[len(s.IncrementalFindings)-1], true
}

// Clone returns a deep copy of the state. Nodes receive copies so a partial
// return never aliases the engine's accumulated state.
func (s *State) Clone() *State {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.IncrementalFindings = append([]Finding(nil), s.IncrementalFindings...)
	out.ConversationHistory = append([]Message(nil), s.ConversationHistory...)
	if s.HumanSteeringContext != nil {
		out.HumanSteeringContext = make(map[string]any, len(s.HumanSteeringContext))
		for k, v := range s.HumanSteeringContext {
			out.HumanSteeringContext[k] = v
		}
	}
	if s.EmotionalState != nil {
		es := *s.EmotionalState
		out.EmotionalState = &es
	}
	if s.Routing != nil {
		ra := *s.Routing
		out.Routing = &ra
	}
	return &out
}
