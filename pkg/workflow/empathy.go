package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/climatepath/pendo/pkg/agent"
	"github.com/climatepath/pendo/pkg/conversation"
	"github.com/climatepath/pendo/pkg/graph"
	"github.com/climatepath/pendo/pkg/llms"
	"github.com/climatepath/pendo/pkg/prompts"
)

// Node names of the empathy sub-workflow.
const (
	NodeEmotionalAssessment = "emotional_assessment"
	NodeCrisisEscalation    = "crisis_escalation"
	NodeEmpathyResponse     = "alex_empathy_response"
	NodeActionPlanning      = "action_planning"
)

// crisisKeywords drive the assessment fallback when the LLM call fails.
// Any hit classifies the turn as crisis; missing a real crisis is worse
// than over-escalating.
var crisisKeywords = []string{
	"hopeless", "suicide", "suicidal", "kill myself", "end it all",
	"no reason to live", "self-harm", "hurt myself",
}

// Empathy is the compiled empathy sub-workflow, entered when routing
// classifies a turn as emotionally loaded.
type Empathy struct {
	supervisor *agent.Supervisor
	provider   llms.Provider
	prompts    *prompts.Registry
	logger     *slog.Logger

	engine *graph.Engine
}

// NewEmpathy compiles the empathy workflow.
func NewEmpathy(sup *agent.Supervisor, provider llms.Provider, registry *prompts.Registry, logger *slog.Logger) (*Empathy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Empathy{supervisor: sup, provider: provider, prompts: registry, logger: logger}

	g := graph.New()
	if err := g.AddNode(NodeEmotionalAssessment, e.emotionalAssessment); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeCrisisEscalation, e.crisisEscalation); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeEmpathyResponse, e.empathyResponse); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeActionPlanning, e.actionPlanning); err != nil {
		return nil, err
	}

	if err := g.AddEdge(graph.START, NodeEmotionalAssessment); err != nil {
		return nil, err
	}
	if err := g.AddConditionalEdge(NodeEmotionalAssessment, e.routeAfterAssessment, map[string]string{
		NodeCrisisEscalation: NodeCrisisEscalation,
		NodeEmpathyResponse:  NodeEmpathyResponse,
	}); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeCrisisEscalation, NodeActionPlanning); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeEmpathyResponse, NodeActionPlanning); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeActionPlanning, graph.END); err != nil {
		return nil, err
	}

	engine, err := graph.NewEngine(g, logger)
	if err != nil {
		return nil, err
	}
	e.engine = engine
	return e, nil
}

// Engine exposes the compiled execution engine.
func (e *Empathy) Engine() *graph.Engine { return e.engine }

// routeAfterAssessment escalates exactly when the primary emotion is crisis.
func (e *Empathy) routeAfterAssessment(s *conversation.State) string {
	if s.EmotionalState != nil && s.EmotionalState.PrimaryEmotion == conversation.EmotionCrisis {
		return NodeCrisisEscalation
	}
	return NodeEmpathyResponse
}

func (e *Empathy) emotionalAssessment(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	human, ok := s.LastHumanMessage()
	if !ok {
		return nil, fmt.Errorf("emotional assessment: no human message in state")
	}

	assessment := e.assess(ctx, human.Content)
	return &conversation.Delta{
		EmotionalState: assessment,
		CrisisDetected: conversation.Bool(assessment.PrimaryEmotion == conversation.EmotionCrisis),
	}, nil
}

// assess classifies the emotional content of a message, falling back to a
// keyword scan when the LLM call fails.
func (e *Empathy) assess(ctx context.Context, message string) *conversation.EmotionalAssessment {
	if e.provider != nil {
		system := "You assess the emotional state of someone discussing their career. Classify primary_emotion as one of: crisis, distressed, anxious, neutral, positive. crisis means immediate risk signals such as hopelessness or self-harm. Estimate intensity and career_readiness in [0,1] and support_needed as low, moderate, or high."
		messages := []llms.Message{llms.System(system), llms.User(message)}

		var reply conversation.EmotionalAssessment
		if _, err := e.provider.GenerateStructured(ctx, messages, &reply); err == nil && reply.PrimaryEmotion != "" {
			reply.Method = conversation.MethodLLMReasoning
			return &reply
		} else if err != nil {
			e.logger.Warn("emotional assessment failed, using fallback", "error", err)
		}
	}

	lower := strings.ToLower(message)
	for _, kw := range crisisKeywords {
		if strings.Contains(lower, kw) {
			return &conversation.EmotionalAssessment{
				PrimaryEmotion:  conversation.EmotionCrisis,
				Intensity:       0.9,
				SupportNeeded:   conversation.SupportHigh,
				CareerReadiness: 0.1,
				Reasoning:       "keyword fallback: " + kw,
				Method:          conversation.MethodFallback,
			}
		}
	}
	return &conversation.EmotionalAssessment{
		PrimaryEmotion:  conversation.EmotionNeutral,
		Intensity:       0.3,
		SupportNeeded:   conversation.SupportLow,
		CareerReadiness: 0.5,
		Reasoning:       "fallback default",
		Method:          conversation.MethodFallback,
	}
}

// crisisEscalation flags the conversation for a human and sends the crisis
// referral immediately, before any career content.
func (e *Empathy) crisisEscalation(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	human, _ := s.LastHumanMessage()

	tmpl, err := e.prompts.Template(string(agent.Alex), "crisis_support")
	if err != nil {
		return nil, err
	}
	message := strings.NewReplacer("{message}", human.Content, "{insight}", "").Replace(tmpl)

	if pack, err := e.prompts.Get(string(agent.Alex)); err == nil {
		if referral, ok := pack.Config["crisis_referral"].(string); ok && referral != "" && !strings.Contains(message, referral) {
			message += "\n\n" + referral
		}
	}

	return &conversation.Delta{
		Messages:             []conversation.Message{conversation.NewMessage(conversation.KindAI, message)},
		NeedsHumanEscalation: conversation.Bool(true),
		NeedsHumanReview:     conversation.Bool(true),
	}, nil
}

func (e *Empathy) empathyResponse(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	human, ok := s.LastHumanMessage()
	if !ok {
		return nil, fmt.Errorf("empathy response: no human message in state")
	}

	resp, err := e.supervisor.DelegateToSpecialist(ctx, agent.Alex, human.Content, &agent.Request{
		Message:        human.Content,
		UserID:         s.UserID,
		ConversationID: s.SessionID,
	})
	if err != nil {
		return nil, err
	}

	return &conversation.Delta{
		Messages: []conversation.Message{conversation.NewMessage(conversation.KindAI, resp.Content)},
		Findings: []conversation.Finding{
			conversation.NewFinding(conversation.FindingSpecialistAnalysis, firstSentences(resp.Content, 2)).
				WithConfidence(resp.ConfidenceScore).
				WithAgent(string(agent.Alex)),
		},
	}, nil
}

// actionPlanning closes the empathy pass with concrete, low-pressure next
// steps sized to the assessed support level.
func (e *Empathy) actionPlanning(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	var steps []string
	if s.EmotionalState != nil && s.EmotionalState.SupportNeeded == conversation.SupportHigh {
		steps = []string{
			"Reach out to the support resources above before anything career-related",
			"When you're ready, we can pick this back up at whatever pace works for you",
		}
	} else {
		steps = []string{
			"Take one small step this week, like listing what drew you to climate work",
			"Come back anytime and we'll map out the next move together",
		}
	}

	var b strings.Builder
	b.WriteString("Here's a gentle plan for where to go from here:\n")
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}

	finding := conversation.NewFinding(conversation.FindingSpecialistAnalysis, "shared a paced action plan").
		WithAgent(string(agent.Alex))
	finding.NextActions = steps

	return &conversation.Delta{
		Messages:             []conversation.Message{conversation.NewMessage(conversation.KindAI, b.String())},
		Findings:             []conversation.Finding{finding},
		ConversationComplete: conversation.Bool(true),
	}, nil
}
