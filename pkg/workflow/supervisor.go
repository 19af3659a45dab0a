// Package workflow compiles the supervisor graph that routes each user turn:
// discovery, specialist analysis, human steering with interrupts, partner
// matching, the confidence gate, and application guidance. It also hosts the
// empathy sub-workflow used for emotionally loaded turns.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/climatepath/pendo/pkg/agent"
	"github.com/climatepath/pendo/pkg/conversation"
	"github.com/climatepath/pendo/pkg/graph"
	"github.com/climatepath/pendo/pkg/prompts"
	"github.com/climatepath/pendo/pkg/store"
)

// Node names of the supervisor graph.
const (
	NodeInitialDiscovery    = "initial_discovery"
	NodeIncrementalAnalysis = "incremental_analysis"
	NodeHumanSteering       = "human_steering_point"
	NodePartnerMatching     = "partner_matching"
	NodeConfidenceGate      = "confidence_assessment"
	NodeApplicationGuidance = "application_guidance"
	NodeContinuation        = "conversation_continuation"
)

// ApplicationConfidenceGate separates application guidance from continued
// exploration.
const ApplicationConfidenceGate = 0.8

// bareGreetings is the literal greeting set. Matching is case-insensitive
// after trimming and only on the whole message.
var bareGreetings = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "sup": {}, "yo": {}, "howdy": {},
}

// IsBareGreeting reports whether text is exactly one of the greeting
// literals, ignoring case and surrounding whitespace.
func IsBareGreeting(text string) bool {
	_, ok := bareGreetings[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// nextStageKey stores the steering keyword routing decision in the steering
// context for the router to read.
const nextStageKey = "next_stage"

// Supervisor wires the compiled supervisor graph over the agent team.
type Supervisor struct {
	supervisor *agent.Supervisor
	prompts    *prompts.Registry
	partners   store.PartnerStore
	logger     *slog.Logger

	engine *graph.Engine
}

// NewSupervisor compiles the supervisor workflow.
func NewSupervisor(sup *agent.Supervisor, registry *prompts.Registry, partners store.PartnerStore, logger *slog.Logger) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Supervisor{supervisor: sup, prompts: registry, partners: partners, logger: logger}

	g := graph.New()
	nodes := map[string]graph.NodeFunc{
		NodeInitialDiscovery:    w.initialDiscovery,
		NodeIncrementalAnalysis: w.incrementalAnalysis,
		NodeHumanSteering:       w.humanSteeringPoint,
		NodePartnerMatching:     w.partnerMatching,
		NodeConfidenceGate:      w.confidenceAssessment,
		NodeApplicationGuidance: w.applicationGuidance,
		NodeContinuation:        w.conversationContinuation,
	}
	for name, fn := range nodes {
		if err := g.AddNode(name, fn); err != nil {
			return nil, err
		}
	}

	if err := g.AddEdge(graph.START, NodeInitialDiscovery); err != nil {
		return nil, err
	}
	conditionals := []struct {
		from   string
		router graph.RouterFunc
	}{
		{NodeInitialDiscovery, w.routeAfterDiscovery},
		{NodeIncrementalAnalysis, w.routeAfterAnalysis},
		{NodeHumanSteering, w.routeAfterSteering},
		{NodePartnerMatching, w.routeAfterPartnerMatching},
		{NodeConfidenceGate, w.routeAfterConfidence},
		{NodeApplicationGuidance, w.routeToEnd},
		{NodeContinuation, w.routeToEnd},
	}
	targets := map[string]string{
		NodeIncrementalAnalysis: NodeIncrementalAnalysis,
		NodeHumanSteering:       NodeHumanSteering,
		NodePartnerMatching:     NodePartnerMatching,
		NodeConfidenceGate:      NodeConfidenceGate,
		NodeApplicationGuidance: NodeApplicationGuidance,
		NodeContinuation:        NodeContinuation,
	}
	for _, c := range conditionals {
		if err := g.AddConditionalEdge(c.from, c.router, targets); err != nil {
			return nil, err
		}
	}

	engine, err := graph.NewEngine(g, logger)
	if err != nil {
		return nil, err
	}
	w.engine = engine
	return w, nil
}

// Engine exposes the compiled execution engine.
func (w *Supervisor) Engine() *graph.Engine { return w.engine }

// terminationGuard applies the global routing guards shared by every router.
func terminationGuard(s *conversation.State) (string, bool) {
	switch {
	case s.ConversationComplete:
		return graph.END, true
	case s.StepCount >= conversation.MaxSteps:
		return graph.END, true
	case s.HumanSteeringCount >= conversation.MaxHumanSteering && !s.WaitingForInput:
		return graph.END, true
	}
	return "", false
}

func (w *Supervisor) routeToEnd(s *conversation.State) string { return graph.END }

func (w *Supervisor) routeAfterDiscovery(s *conversation.State) string {
	if to, done := terminationGuard(s); done {
		return to
	}
	if s.NeedsHumanReview {
		return NodeHumanSteering
	}
	return NodeIncrementalAnalysis
}

func (w *Supervisor) routeAfterAnalysis(s *conversation.State) string {
	if to, done := terminationGuard(s); done {
		return to
	}
	return NodeHumanSteering
}

func (w *Supervisor) routeAfterSteering(s *conversation.State) string {
	if to, done := terminationGuard(s); done {
		return to
	}
	if s.HumanSteeringContext != nil {
		if stage, ok := s.HumanSteeringContext[nextStageKey].(string); ok && stage != "" {
			return stage
		}
	}
	return NodeIncrementalAnalysis
}

func (w *Supervisor) routeAfterPartnerMatching(s *conversation.State) string {
	if to, done := terminationGuard(s); done {
		return to
	}
	return NodeConfidenceGate
}

// routeAfterConfidence applies the application gate. The node has already
// appended its confidence_assessment finding; the router reads it rather
// than recomputing the aggregate.
func (w *Supervisor) routeAfterConfidence(s *conversation.State) string {
	if to, done := terminationGuard(s); done {
		return to
	}
	for i := len(s.IncrementalFindings) - 1; i >= 0; i-- {
		f := s.IncrementalFindings[i]
		if f.Type == conversation.FindingConfidenceAssessment && f.Confidence != nil {
			if *f.Confidence >= ApplicationConfidenceGate {
				return NodeApplicationGuidance
			}
			break
		}
	}
	return NodeContinuation
}

// initialDiscovery handles the first hop: bare greetings short-circuit to a
// single greeting message, everything else gets a supervisor response.
func (w *Supervisor) initialDiscovery(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	human, ok := s.LastHumanMessage()
	if !ok {
		return nil, fmt.Errorf("initial discovery: no human message in state")
	}

	if IsBareGreeting(human.Content) {
		greeting, err := w.prompts.Template(string(agent.Pendo), "greeting")
		if err != nil {
			return nil, err
		}
		return &conversation.Delta{
			Messages: []conversation.Message{conversation.NewMessage(conversation.KindAI, greeting)},
			Findings: []conversation.Finding{
				conversation.NewFinding(conversation.FindingGreeting, "user opened with a greeting").
					WithAgent(string(agent.Pendo)),
			},
			ConversationComplete: conversation.Bool(true),
		}, nil
	}

	resp, err := w.supervisor.HandleInteraction(ctx, &agent.Request{
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
			conversation.NewFinding(conversation.FindingInitialDiscovery, firstSentences(resp.Content, 2)).
				WithConfidence(0.7).
				WithAgent(string(agent.Pendo)),
		},
	}, nil
}

// analysisRotation picks the next analysis specialist from the last
// finding's agent. The first analysis of a turn honors a specific specialist
// recommended by the routing assessment; rotation continues from there.
func analysisRotation(s *conversation.State) agent.SpecialistID {
	last := ""
	for i := len(s.IncrementalFindings) - 1; i >= 0; i-- {
		if a := s.IncrementalFindings[i].Agent; a != "" && a != string(agent.Pendo) {
			last = a
			break
		}
	}
	switch last {
	case "":
		if r := s.Routing; r != nil && r.PrimaryIntent == conversation.IntentSpecificSpecialist {
			if id := agent.SpecialistID(r.RecommendedSpecialist); id.Valid() && id != agent.Pendo {
				return id
			}
		}
		return agent.Mai
	case string(agent.Mai):
		return agent.Lauren
	case string(agent.Lauren):
		return agent.Marcus
	default:
		return agent.Lauren
	}
}

func (w *Supervisor) incrementalAnalysis(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	human, ok := s.LastHumanMessage()
	if !ok {
		return nil, fmt.Errorf("incremental analysis: no human message in state")
	}

	specialist := analysisRotation(s)
	resp, err := w.supervisor.DelegateToSpecialist(ctx, specialist, human.Content, &agent.Request{
		Message:        human.Content,
		UserID:         s.UserID,
		ConversationID: s.SessionID,
	})
	if err != nil {
		return nil, err
	}

	keyInsight := firstSentences(resp.Content, 2)
	nextActions := resp.NextActions
	if len(nextActions) > 2 {
		nextActions = nextActions[:2]
	}

	finding := conversation.NewFinding(conversation.FindingSpecialistAnalysis, keyInsight).
		WithConfidence(resp.ConfidenceScore).
		WithAgent(string(specialist))
	finding.NextActions = nextActions

	return &conversation.Delta{
		Messages: []conversation.Message{conversation.NewMessage(conversation.KindAI, resp.Content)},
		Findings: []conversation.Finding{finding},
		HumanSteeringContext: map[string]any{
			"suggested_question": fmt.Sprintf("Would you like %s to go deeper, or should we look at something else?", specialist),
		},
	}, nil
}

// steeringKeywordStage routes a steering reply by intent keywords.
func steeringKeywordStage(text string) string {
	lower := strings.ToLower(text)
	contains := func(words ...string) bool {
		for _, word := range words {
			if strings.Contains(lower, word) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("search", "find", "jobs"):
		return NodePartnerMatching
	case contains("analyze", "assess", "skills"):
		return NodeIncrementalAnalysis
	case contains("plan", "strategy", "roadmap"):
		return NodeConfidenceGate
	case contains("apply", "connect", "network"):
		return NodeApplicationGuidance
	default:
		return NodeIncrementalAnalysis
	}
}

func (w *Supervisor) humanSteeringPoint(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	if s.HumanSteeringCount >= conversation.MaxHumanSteering {
		return w.steeringSummary(nc, s)
	}

	value, err := nc.Interrupt(w.steeringPayload(s))
	if err != nil {
		// First entry: suspend, surfacing the guidance payload. The counter
		// and waiting flag ride along with the suspension delta.
		return &conversation.Delta{
			HumanSteeringCount: conversation.Int(s.HumanSteeringCount + 1),
			WaitingForInput:    conversation.Bool(true),
		}, err
	}

	text, _ := value.(string)
	delta := &conversation.Delta{
		WaitingForInput: conversation.Bool(false),
		HumanSteeringContext: map[string]any{
			nextStageKey: steeringKeywordStage(text),
		},
	}
	if strings.TrimSpace(text) != "" {
		delta.Messages = []conversation.Message{conversation.NewMessage(conversation.KindHuman, text)}
	}
	return delta, nil
}

// steeringSummary closes the conversation once steering is exhausted.
func (w *Supervisor) steeringSummary(nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	insight := "we covered your goals, the strongest specialist matches, and concrete next steps"
	if f, ok := s.LastFinding(); ok && f.Insight != "" {
		insight = f.Insight
	}
	tmpl, err := w.prompts.Template(string(agent.Pendo), "completion_summary")
	if err != nil {
		return nil, err
	}
	summary := strings.Replace(tmpl, "{insight}", insight, 1)

	delta := &conversation.Delta{
		Messages:             []conversation.Message{conversation.NewMessage(conversation.KindAI, summary)},
		WaitingForInput:      conversation.Bool(false),
		ConversationComplete: conversation.Bool(true),
	}
	if value, ok := nc.ResumeValue(); ok {
		if text, _ := value.(string); strings.TrimSpace(text) != "" {
			delta.Messages = append([]conversation.Message{conversation.NewMessage(conversation.KindHuman, text)}, delta.Messages...)
		}
	}
	return delta, nil
}

// steeringPayload is the comprehensive_guidance context surfaced to the
// transport while the execution is suspended.
func (w *Supervisor) steeringPayload(s *conversation.State) map[string]any {
	question := "What would you like to focus on next?"
	if s.HumanSteeringContext != nil {
		if q, ok := s.HumanSteeringContext["suggested_question"].(string); ok && q != "" {
			question = q
		}
	}
	return map[string]any{
		"type":             "comprehensive_guidance",
		"database_summary": "partner organizations with climate roles, ranked by fit",
		"available_tools":  []string{"partner_search", "skill_analysis", "career_roadmap", "application_guidance"},
		"example_inputs": []string{
			"search for matching jobs",
			"analyze my skills in more depth",
			"help me plan a career roadmap",
			"how do I apply and network",
		},
		"suggested_actions": []string{"search", "analyze", "plan", "apply"},
		"question":          question,
		"stage":             s.WorkflowState,
	}
}

func (w *Supervisor) partnerMatching(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	query := ""
	if human, ok := s.LastHumanMessage(); ok {
		query = human.Content
	}

	matches, err := w.partners.MatchPartners(ctx, query, 5)
	if err != nil {
		return nil, fmt.Errorf("partner matching: %w", err)
	}

	if len(matches) == 0 {
		finding := conversation.NewFinding(conversation.FindingPartnerMatches, "no partner matches yet for this profile").
			WithConfidence(0).
			WithAgent(string(agent.Pendo))
		return &conversation.Delta{
			Messages: []conversation.Message{conversation.NewMessage(conversation.KindAI,
				"I didn't find a strong partner match yet. Let's sharpen your profile a bit more so the next search lands better.")},
			Findings: []conversation.Finding{finding},
		}, nil
	}

	top := matches[0]
	best := top.MatchScore
	for _, m := range matches[1:] {
		if m.MatchScore > best {
			best = m.MatchScore
		}
	}

	tmpl, err := w.prompts.Template(string(agent.Pendo), "partner_match")
	if err != nil {
		return nil, err
	}
	message := strings.NewReplacer(
		"{organization}", top.Organization,
		"{role}", top.Role,
		"{location}", top.Location,
	).Replace(tmpl)

	finding := conversation.NewFinding(conversation.FindingPartnerMatches,
		fmt.Sprintf("top match: %s (%s) with score %.2f", top.Organization, top.Role, top.MatchScore)).
		WithConfidence(best).
		WithAgent(string(agent.Pendo))
	finding.Sources = []string{top.CareerPageURL}

	return &conversation.Delta{
		Messages: []conversation.Message{conversation.NewMessage(conversation.KindAI, message)},
		Findings: []conversation.Finding{finding},
	}, nil
}

func (w *Supervisor) confidenceAssessment(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	overall := conversation.AggregateConfidence(s.IncrementalFindings)

	insight := fmt.Sprintf("overall guidance confidence is %.2f", overall)
	if overall >= ApplicationConfidenceGate {
		insight += "; ready for application guidance"
	} else {
		insight += "; more exploration would help"
	}

	return &conversation.Delta{
		Findings: []conversation.Finding{
			conversation.NewFinding(conversation.FindingConfidenceAssessment, insight).
				WithConfidence(overall).
				WithAgent(string(agent.Pendo)),
		},
	}, nil
}

func (w *Supervisor) applicationGuidance(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	org, role, url := "a matched partner organization", "climate role", ""
	for i := len(s.IncrementalFindings) - 1; i >= 0; i-- {
		f := s.IncrementalFindings[i]
		if f.Type == conversation.FindingPartnerMatches && len(f.Sources) > 0 {
			url = f.Sources[0]
			if parts := strings.SplitN(f.Insight, ": ", 2); len(parts) == 2 {
				detail := parts[1]
				if open := strings.Index(detail, " ("); open > 0 {
					org = detail[:open]
					if end := strings.Index(detail[open:], ")"); end > 0 {
						role = detail[open+2 : open+end]
					}
				}
			}
			break
		}
	}

	tmpl, err := w.prompts.Template(string(agent.Pendo), "application_guidance")
	if err != nil {
		return nil, err
	}
	message := strings.NewReplacer(
		"{organization}", org,
		"{role}", role,
		"{career_page_url}", url,
	).Replace(tmpl)

	finding := conversation.NewFinding(conversation.FindingApplicationGuidance,
		fmt.Sprintf("recommended applying to %s; careers page: %s", org, url)).
		WithAgent(string(agent.Pendo))
	finding.Sources = []string{url}
	finding.NextActions = []string{"Tailor your resume to the role", "Apply via the careers page", "Follow up within a week"}

	return &conversation.Delta{
		Messages:             []conversation.Message{conversation.NewMessage(conversation.KindAI, message)},
		Findings:             []conversation.Finding{finding},
		ConversationComplete: conversation.Bool(true),
	}, nil
}

func (w *Supervisor) conversationContinuation(ctx context.Context, nc *graph.NodeContext, s *conversation.State) (*conversation.Delta, error) {
	menu, err := w.prompts.Template(string(agent.Pendo), "continuation_menu")
	if err != nil {
		return nil, err
	}
	return &conversation.Delta{
		Messages: []conversation.Message{conversation.NewMessage(conversation.KindAI, menu)},
		Findings: []conversation.Finding{
			conversation.NewFinding(conversation.FindingConversationContinuation, "offered next-step options").
				WithAgent(string(agent.Pendo)),
		},
		NeedsHumanReview: conversation.Bool(true),
	}, nil
}

// firstSentences extracts up to n sentences from text as the key insight.
func firstSentences(text string, n int) string {
	text = strings.TrimSpace(text)
	count := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == n {
				return strings.TrimSpace(text[:i+1])
			}
		}
	}
	return text
}
