package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatepath/pendo/pkg/agent"
	"github.com/climatepath/pendo/pkg/conversation"
	"github.com/climatepath/pendo/pkg/graph"
	"github.com/climatepath/pendo/pkg/llms"
	"github.com/climatepath/pendo/pkg/memory"
	"github.com/climatepath/pendo/pkg/observability"
	"github.com/climatepath/pendo/pkg/prompts"
	"github.com/climatepath/pendo/pkg/store"
)

// stubProvider answers structured calls by recognizing the system prompt, so
// concurrent reflection calls cannot steal scripted replies.
type stubProvider struct {
	routing    string
	emotion    string
	confidence string
}

func (p *stubProvider) GenerateStructured(ctx context.Context, messages []llms.Message, out any) (llms.Usage, error) {
	if len(messages) == 0 {
		return llms.Usage{}, errors.New("stub: no messages")
	}
	system := messages[0].Content
	var payload string
	switch {
	case strings.Contains(system, "route climate-career questions"):
		payload = p.routing
	case strings.Contains(system, "assess the emotional state"):
		payload = p.emotion
	case strings.Contains(system, "Rate from 0 to 1"):
		payload = p.confidence
	}
	if payload == "" {
		return llms.Usage{}, errors.New("stub: no scripted reply")
	}
	return llms.Usage{}, json.Unmarshal([]byte(payload), out)
}

func (p *stubProvider) Generate(ctx context.Context, messages []llms.Message) (string, llms.Usage, error) {
	return "", llms.Usage{}, errors.New("stub: generate not scripted")
}

func (p *stubProvider) GenerateStreaming(ctx context.Context, messages []llms.Message) (<-chan llms.StreamChunk, error) {
	return nil, errors.New("stub: streaming not scripted")
}

func (p *stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("stub: no embeddings")
}

func (p *stubProvider) ModelName() string { return "stub" }
func (p *stubProvider) Close() error      { return nil }

type harness struct {
	runner     *Runner
	workflow   *Supervisor
	empathy    *Empathy
	supervisor *agent.Supervisor
	store      *store.MemoryStore
}

func newHarness(t *testing.T, provider llms.Provider) *harness {
	t.Helper()
	registry := prompts.NewRegistry()
	require.NoError(t, registry.Load(""))

	_, sup, err := agent.BuildTeam(agent.Deps{
		Provider: provider,
		Prompts:  registry,
		Memory:   memory.NewManager(nil, nil, nil),
	})
	require.NoError(t, err)

	st := store.NewMemoryStore()
	require.NoError(t, st.AddPartner(context.Background(), &store.Partner{
		Organization:  "SolarWorks",
		Role:          "Solar Project Developer",
		FocusAreas:    []string{"solar", "climate", "jobs", "search", "renewable energy"},
		CareerPageURL: "https://solarworks.example/careers",
		Location:      "Phoenix, AZ",
	}))

	wf, err := NewSupervisor(sup, registry, st, nil)
	require.NoError(t, err)
	em, err := NewEmpathy(sup, provider, registry, nil)
	require.NoError(t, err)

	return &harness{
		runner:     NewRunner(wf, em, sup, st, nil),
		workflow:   wf,
		empathy:    em,
		supervisor: sup,
		store:      st,
	}
}

func TestIsBareGreeting(t *testing.T) {
	for _, greeting := range []string{"hi", "Hello", "  hey  ", "SUP", "yo", "Howdy"} {
		assert.True(t, IsBareGreeting(greeting), greeting)
	}
	for _, other := range []string{"hi there", "hello, I need help", "", "greetings"} {
		assert.False(t, IsBareGreeting(other), other)
	}
}

func TestGreetingCompletesInOneStep(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing: `{"primary_intent": "general_coordination", "urgency": "low"}`,
	})

	res, err := h.runner.HandleTurn(context.Background(), "u1", "c1", "hi")
	require.NoError(t, err)

	assert.False(t, res.Suspended)
	assert.True(t, res.State.ConversationComplete)
	assert.Equal(t, 1, res.State.StepCount, "greeting path visits exactly one node")
	assert.Contains(t, res.Content, "climate career")
	assert.Equal(t, "pendo", res.Specialist)

	require.Len(t, res.State.IncrementalFindings, 1)
	assert.Equal(t, conversation.FindingGreeting, res.State.IncrementalFindings[0].Type)
}

func TestAnalysisThenSteeringInterrupt(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing:    `{"primary_intent": "specific_specialist_needed", "urgency": "moderate", "recommended_specialist": "mai", "specialist_confidence": 0.8}`,
		confidence: `{"confidence": 0.8}`,
	})

	res, err := h.runner.HandleTurn(context.Background(), "u1", "c1",
		"I need help with my resume for climate jobs")
	require.NoError(t, err)

	require.True(t, res.Suspended)
	assert.True(t, res.State.WaitingForInput)
	assert.Equal(t, 1, res.State.HumanSteeringCount)
	assert.Equal(t, "comprehensive_guidance", res.SteeringPayload["type"])
	assert.NotEmpty(t, res.SteeringPayload["example_inputs"])
	assert.Equal(t, "mai", res.Specialist, "last finding credits the rotated specialist")

	types := findingTypes(res.State)
	assert.Contains(t, types, conversation.FindingInitialDiscovery)
	assert.Contains(t, types, conversation.FindingSpecialistAnalysis)
}

func TestRoutingRecommendationSelectsAnalyst(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing:    `{"primary_intent": "specific_specialist_needed", "urgency": "moderate", "recommended_specialist": "marcus", "specialist_confidence": 0.8}`,
		confidence: `{"confidence": 0.8}`,
	})

	res, err := h.runner.HandleTurn(context.Background(), "u1", "c1",
		"I'm an Army veteran with an 11B MOS exploring climate careers.")
	require.NoError(t, err)

	require.True(t, res.Suspended)
	assert.Equal(t, "marcus", res.Specialist)
	assert.Contains(t, res.SpecialistType, "veteran")

	var analyst string
	for _, f := range res.State.IncrementalFindings {
		if f.Type == conversation.FindingSpecialistAnalysis {
			analyst = f.Agent
		}
	}
	assert.Equal(t, "marcus", analyst, "analysis runs on the recommended specialist")
}

func TestSteeringResumeThroughApplicationGuidance(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing:    `{"primary_intent": "specific_specialist_needed", "urgency": "moderate", "recommended_specialist": "mai", "specialist_confidence": 0.8}`,
		confidence: `{"confidence": 0.8}`,
	})
	ctx := context.Background()

	res, err := h.runner.HandleTurn(ctx, "u1", "c1", "I need help with my resume for climate jobs")
	require.NoError(t, err)
	require.True(t, res.Suspended)

	// The steering answer asks for a job search, which routes through
	// partner matching and, with enough confidence, into application
	// guidance.
	res, err = h.runner.HandleTurn(ctx, "u1", "c1", "search for climate solar jobs")
	require.NoError(t, err)

	assert.False(t, res.Suspended)
	assert.True(t, res.State.ConversationComplete)
	assert.Contains(t, res.Content, "https://solarworks.example/careers")

	types := findingTypes(res.State)
	assert.Contains(t, types, conversation.FindingPartnerMatches)
	assert.Contains(t, types, conversation.FindingConfidenceAssessment)
	assert.Contains(t, types, conversation.FindingApplicationGuidance)

	var guidance conversation.Finding
	for _, f := range res.State.IncrementalFindings {
		if f.Type == conversation.FindingApplicationGuidance {
			guidance = f
		}
	}
	require.NotEmpty(t, guidance.Sources)
	assert.Equal(t, "https://solarworks.example/careers", guidance.Sources[0])

	// The steering answer itself was preserved as a human message.
	human, ok := res.State.LastHumanMessage()
	require.True(t, ok)
	assert.Equal(t, "search for climate solar jobs", human.Content)
}

func TestCrisisTurnEntersEmpathyWorkflow(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing: `{"primary_intent": "crisis_support", "urgency": "crisis", "recommended_specialist": "alex", "specialist_confidence": 0.95}`,
		emotion: `{"primary_emotion": "crisis", "intensity": 0.9, "support_needed": "high", "career_readiness": 0.1, "reasoning": "hopelessness signals"}`,
	})

	res, err := h.runner.HandleTurn(context.Background(), "u1", "c1",
		"I feel hopeless, nothing I do matters anymore")
	require.NoError(t, err)

	assert.True(t, res.State.CrisisDetected)
	assert.True(t, res.State.NeedsHumanEscalation)
	assert.True(t, res.State.ConversationComplete)
	require.NotNil(t, res.State.EmotionalState)
	assert.Equal(t, conversation.EmotionCrisis, res.State.EmotionalState.PrimaryEmotion)

	// The referral goes out before any career content.
	var all strings.Builder
	for _, m := range res.State.Messages {
		if m.Kind == conversation.KindAI {
			all.WriteString(m.Content)
		}
	}
	assert.Contains(t, all.String(), "988")
}

func TestDistressedTurnGetsAlexNotEscalation(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing:    `{"primary_intent": "crisis_support", "urgency": "high", "recommended_specialist": "alex", "specialist_confidence": 0.8}`,
		emotion:    `{"primary_emotion": "distressed", "intensity": 0.6, "support_needed": "moderate", "career_readiness": 0.4}`,
		confidence: `{"confidence": 0.7}`,
	})

	res, err := h.runner.HandleTurn(context.Background(), "u1", "c1",
		"I'm really struggling with this career change")
	require.NoError(t, err)

	assert.False(t, res.State.NeedsHumanEscalation)
	assert.False(t, res.State.CrisisDetected)
	assert.True(t, res.State.ConversationComplete)

	var alexSpoke bool
	for _, f := range res.State.IncrementalFindings {
		if f.Agent == "alex" {
			alexSpoke = true
		}
	}
	assert.True(t, alexSpoke)
}

func TestEmotionalAssessmentKeywordFallback(t *testing.T) {
	h := newHarness(t, &stubProvider{})

	assessment := h.empathy.assess(context.Background(), "I feel hopeless about all of this")
	assert.Equal(t, conversation.EmotionCrisis, assessment.PrimaryEmotion)
	assert.Equal(t, conversation.MethodFallback, assessment.Method)

	assessment = h.empathy.assess(context.Background(), "what jobs are out there?")
	assert.Equal(t, conversation.EmotionNeutral, assessment.PrimaryEmotion)
	assert.Equal(t, conversation.MethodFallback, assessment.Method)
}

func TestSteeringExhaustionProducesSummary(t *testing.T) {
	h := newHarness(t, &stubProvider{})

	state := &conversation.State{
		HumanSteeringCount: conversation.MaxHumanSteering,
		IncrementalFindings: []conversation.Finding{
			conversation.NewFinding(conversation.FindingSpecialistAnalysis, "strong fit for solar project work").
				WithConfidence(0.8).
				WithAgent("lauren"),
		},
	}
	delta, err := h.workflow.humanSteeringPoint(context.Background(), &graph.NodeContext{}, state)
	require.NoError(t, err)

	require.NotNil(t, delta.ConversationComplete)
	assert.True(t, *delta.ConversationComplete)
	require.Len(t, delta.Messages, 1)
	assert.Contains(t, delta.Messages[0].Content, "strong fit for solar project work")

	state.Apply(delta)
	assert.Equal(t, graph.END, h.workflow.routeAfterSteering(state))
}

func TestConfidenceGateRouting(t *testing.T) {
	h := newHarness(t, &stubProvider{})
	ctx := context.Background()

	high := &conversation.State{
		IncrementalFindings: []conversation.Finding{
			conversation.NewFinding(conversation.FindingInitialDiscovery, "a").WithConfidence(0.9),
			conversation.NewFinding(conversation.FindingSpecialistAnalysis, "b").WithConfidence(0.85),
			conversation.NewFinding(conversation.FindingSpecialistAnalysis, "c").WithConfidence(0.8),
			conversation.NewFinding(conversation.FindingPartnerMatches, "top match: GridFlow (Grid Data Analyst) with score 0.92").WithConfidence(0.92),
		},
	}
	delta, err := h.workflow.confidenceAssessment(ctx, &graph.NodeContext{}, high)
	require.NoError(t, err)
	high.Apply(delta)
	assert.Equal(t, NodeApplicationGuidance, h.workflow.routeAfterConfidence(high))

	low := &conversation.State{
		IncrementalFindings: []conversation.Finding{
			conversation.NewFinding(conversation.FindingSpecialistAnalysis, "b").WithConfidence(0.5),
		},
	}
	delta, err = h.workflow.confidenceAssessment(ctx, &graph.NodeContext{}, low)
	require.NoError(t, err)
	low.Apply(delta)
	assert.Equal(t, NodeContinuation, h.workflow.routeAfterConfidence(low))
}

func TestApplicationGuidanceUsesTopMatch(t *testing.T) {
	h := newHarness(t, &stubProvider{})

	match := conversation.NewFinding(conversation.FindingPartnerMatches,
		"top match: GridFlow (Grid Data Analyst) with score 0.92").WithConfidence(0.92)
	match.Sources = []string{"https://gridflow.example/jobs"}
	state := &conversation.State{IncrementalFindings: []conversation.Finding{match}}

	delta, err := h.workflow.applicationGuidance(context.Background(), &graph.NodeContext{}, state)
	require.NoError(t, err)

	require.Len(t, delta.Messages, 1)
	assert.Contains(t, delta.Messages[0].Content, "GridFlow")
	assert.Contains(t, delta.Messages[0].Content, "https://gridflow.example/jobs")
	require.Len(t, delta.Findings, 1)
	assert.Equal(t, conversation.FindingApplicationGuidance, delta.Findings[0].Type)
	assert.Equal(t, []string{"https://gridflow.example/jobs"}, delta.Findings[0].Sources)
	require.NotNil(t, delta.ConversationComplete)
	assert.True(t, *delta.ConversationComplete)
}

func TestAnalysisRotation(t *testing.T) {
	finding := func(agent string) conversation.Finding {
		return conversation.NewFinding(conversation.FindingSpecialistAnalysis, "x").WithAgent(agent)
	}
	recommended := &conversation.RoutingAssessment{
		PrimaryIntent:         conversation.IntentSpecificSpecialist,
		RecommendedSpecialist: "marcus",
	}
	tests := []struct {
		name     string
		routing  *conversation.RoutingAssessment
		findings []conversation.Finding
		want     agent.SpecialistID
	}{
		{"no findings", nil, nil, agent.Mai},
		{"pendo findings only", nil, []conversation.Finding{finding("pendo")}, agent.Mai},
		{"after mai", nil, []conversation.Finding{finding("mai")}, agent.Lauren},
		{"after lauren", nil, []conversation.Finding{finding("mai"), finding("lauren")}, agent.Marcus},
		{"after marcus", nil, []conversation.Finding{finding("marcus")}, agent.Lauren},
		{"routing recommendation wins the first analysis", recommended, nil, agent.Marcus},
		{"routing ignored once rotation has started", recommended, []conversation.Finding{finding("mai")}, agent.Lauren},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &conversation.State{Routing: tt.routing, IncrementalFindings: tt.findings}
			assert.Equal(t, tt.want, analysisRotation(s))
		})
	}
}

func TestSteeringKeywordStage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"search for matching jobs", NodePartnerMatching},
		{"can you analyze my skills", NodeIncrementalAnalysis},
		{"help me plan a roadmap", NodeConfidenceGate},
		{"how do I apply and network", NodeApplicationGuidance},
		{"something else entirely", NodeIncrementalAnalysis},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, steeringKeywordStage(tt.text))
		})
	}
}

func TestRunnerPersistsSessions(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing: `{"primary_intent": "general_coordination", "urgency": "low"}`,
	})
	ctx := context.Background()

	_, err := h.runner.HandleTurn(ctx, "u1", "c1", "hi")
	require.NoError(t, err)

	ws, err := h.store.GetSession(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, WorkflowTypeSupervisor, ws.WorkflowType)
	assert.Equal(t, store.SessionInactive, ws.Status)
	assert.Equal(t, "u1", ws.UserID)
}

func TestRunnerSerializesTurnsPerConversation(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing: `{"primary_intent": "general_coordination", "urgency": "low"}`,
	})
	ctx := context.Background()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := h.runner.HandleTurn(ctx, "u1", "c1", "hi")
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	history := h.runner.History("c1")
	human := 0
	for _, m := range history {
		if m.Kind == conversation.KindHuman {
			human++
		}
	}
	assert.Equal(t, 8, human, "every turn's message lands exactly once")
}

func TestEndConversationDropsState(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing: `{"primary_intent": "general_coordination", "urgency": "low"}`,
	})
	ctx := context.Background()

	_, err := h.runner.HandleTurn(ctx, "u1", "c1", "hi")
	require.NoError(t, err)
	require.NoError(t, h.runner.EndConversation(ctx, "c1"))

	assert.Nil(t, h.runner.StateOf("c1"))
	assert.Error(t, h.runner.EndConversation(ctx, "c1"))
}

func TestTracedTurnEmitsTurnAndNodeSpans(t *testing.T) {
	h := newHarness(t, &stubProvider{
		routing: `{"primary_intent": "general_coordination", "urgency": "low"}`,
	})

	var buf bytes.Buffer
	tracer, shutdown, err := observability.NewTracer(true, &buf)
	require.NoError(t, err)
	h.runner.SetTracer(tracer)

	_, err = h.runner.HandleTurn(context.Background(), "u1", "c1", "hi")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	out := buf.String()
	assert.Contains(t, out, `"turn"`)
	assert.Contains(t, out, `"node.initial_discovery"`)
}

func findingTypes(s *conversation.State) []conversation.FindingType {
	var out []conversation.FindingType
	for _, f := range s.IncrementalFindings {
		out = append(out, f.Type)
	}
	return out
}
