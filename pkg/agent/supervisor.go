package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/climatepath/pendo/pkg/conversation"
	"github.com/climatepath/pendo/pkg/llms"
	"github.com/climatepath/pendo/pkg/registry"
)

// Team is the id-keyed agent registry. Agents never hold references to each
// other; the supervisor resolves specialists through the team by id.
type Team = registry.Registry[Agent]

// Supervisor is the routing agent. It shares the runtime pipeline and adds
// delegation and routing assessment.
type Supervisor struct {
	*Runtime
	team *Team
}

// NewSupervisor wraps the pendo runtime with delegation over the team.
func NewSupervisor(rt *Runtime, team *Team) *Supervisor {
	return &Supervisor{Runtime: rt, team: team}
}

// DelegateToSpecialist invokes the named specialist and tags the response
// with delegation metadata.
func (s *Supervisor) DelegateToSpecialist(ctx context.Context, id SpecialistID, message string, req *Request) (*Response, error) {
	if !id.Valid() || id == Pendo {
		return nil, fmt.Errorf("%w: cannot delegate to %q", ErrInvalidInput, id)
	}
	specialist, ok := s.team.Get(string(id))
	if !ok {
		return nil, fmt.Errorf("specialist %q not registered", id)
	}

	delegated := *req
	delegated.Message = message
	resp, err := specialist.HandleInteraction(ctx, &delegated)
	if err != nil {
		return nil, err
	}

	if resp.Metadata == nil {
		resp.Metadata = make(map[string]any)
	}
	resp.Metadata["delegated_by"] = string(Pendo)
	resp.Metadata["delegation_timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return resp, nil
}

// routingFallbackKeywords maps message substrings to specialists, used only
// when the LLM routing call fails.
var routingFallbackKeywords = []struct {
	keyword    string
	specialist SpecialistID
	intent     conversation.Intent
	urgency    conversation.Urgency
}{
	{"hopeless", Alex, conversation.IntentCrisisSupport, conversation.UrgencyCrisis},
	{"crisis", Alex, conversation.IntentCrisisSupport, conversation.UrgencyCrisis},
	{"veteran", Marcus, conversation.IntentSpecificSpecialist, conversation.UrgencyModerate},
	{"military", Marcus, conversation.IntentSpecificSpecialist, conversation.UrgencyModerate},
	{"visa", Liv, conversation.IntentSpecificSpecialist, conversation.UrgencyModerate},
	{"resume", Mai, conversation.IntentSpecificSpecialist, conversation.UrgencyModerate},
	{"internship", Jasmine, conversation.IntentSpecificSpecialist, conversation.UrgencyLow},
	{"student", Jasmine, conversation.IntentSpecificSpecialist, conversation.UrgencyLow},
	{"justice", Miguel, conversation.IntentSpecificSpecialist, conversation.UrgencyModerate},
	{"green job", Lauren, conversation.IntentClimateOverview, conversation.UrgencyLow},
	{"climate career", Lauren, conversation.IntentClimateOverview, conversation.UrgencyLow},
}

// AssessRouting classifies a turn into a routing assessment. On LLM failure
// the assessment defaults to general coordination, with keyword hints
// applied as explicit fallback.
func (s *Supervisor) AssessRouting(ctx context.Context, message string) conversation.RoutingAssessment {
	if s.provider != nil {
		system := fmt.Sprintf(
			"You route climate-career questions to specialists: %s (emotional support and crisis), %s (resume and transitions), %s (veterans), %s (international professionals), %s (environmental justice), %s (youth and early career), %s (climate sectors and green jobs). Classify the message's primary intent, urgency, and recommended specialist.",
			Alex, Mai, Marcus, Liv, Miguel, Jasmine, Lauren)
		messages := []llms.Message{llms.System(system), llms.User(message)}

		var reply conversation.RoutingAssessment
		if usage, err := s.provider.GenerateStructured(ctx, messages, &reply); err == nil && reply.PrimaryIntent != "" {
			s.recordUsage(usage)
			if !SpecialistID(reply.RecommendedSpecialist).Valid() {
				reply.RecommendedSpecialist = ""
			}
			return reply
		} else if err != nil {
			s.logger.Warn("routing assessment failed, using fallback", "error", err)
		}
	}

	lower := strings.ToLower(message)
	for _, rule := range routingFallbackKeywords {
		if strings.Contains(lower, rule.keyword) {
			return conversation.RoutingAssessment{
				PrimaryIntent:         rule.intent,
				Urgency:               rule.urgency,
				RecommendedSpecialist: string(rule.specialist),
				SpecialistConfidence:  0.5,
				Reasoning:             "keyword fallback: " + rule.keyword,
			}
		}
	}
	return conversation.RoutingAssessment{
		PrimaryIntent:        conversation.IntentGeneralCoordination,
		Urgency:              conversation.UrgencyLow,
		SpecialistConfidence: 0.3,
		Reasoning:            "fallback default",
	}
}
