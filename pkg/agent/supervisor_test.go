package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climatepath/pendo/pkg/conversation"
	"github.com/climatepath/pendo/pkg/llms"
	"github.com/climatepath/pendo/pkg/memory"
)

func newTestTeam(t *testing.T, provider llms.Provider) (*Team, *Supervisor) {
	t.Helper()
	team, supervisor, err := BuildTeam(Deps{
		Provider: provider,
		Prompts:  testPrompts(t),
		Memory:   memory.NewManager(nil, nil, nil),
	})
	require.NoError(t, err)
	return team, supervisor
}

func TestDelegateToSpecialistStampsMetadata(t *testing.T) {
	provider := llms.NewMockProvider(
		`{"intent": "emotional_support", "confidence": 0.8}`,
		`{"confidence": 0.75}`,
	)
	_, supervisor := newTestTeam(t, provider)

	resp, err := supervisor.DelegateToSpecialist(context.Background(), Alex,
		"I could use some support with this change", validRequest("original"))
	require.NoError(t, err)

	assert.Equal(t, "empathy_specialist", resp.SpecialistType)
	assert.Equal(t, "pendo", resp.Metadata["delegated_by"])

	ts, ok := resp.Metadata["delegation_timestamp"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, ts)
	assert.NoError(t, err, "delegation_timestamp must be RFC3339")
}

func TestDelegateRejectsInvalidTargets(t *testing.T) {
	_, supervisor := newTestTeam(t, llms.NewMockProvider("{}"))

	_, err := supervisor.DelegateToSpecialist(context.Background(), "nobody", "hi", validRequest("hi"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = supervisor.DelegateToSpecialist(context.Background(), Pendo, "hi", validRequest("hi"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAssessRoutingLLMPath(t *testing.T) {
	provider := llms.NewMockProvider(`{
		"primary_intent": "specific_specialist_needed",
		"urgency": "moderate",
		"recommended_specialist": "marcus",
		"specialist_confidence": 0.9,
		"reasoning": "veteran with MOS background"
	}`)
	_, supervisor := newTestTeam(t, provider)

	ra := supervisor.AssessRouting(context.Background(), "I'm an Army veteran with an 11B MOS exploring climate careers.")
	assert.Equal(t, conversation.IntentSpecificSpecialist, ra.PrimaryIntent)
	assert.Equal(t, "marcus", ra.RecommendedSpecialist)
	assert.InDelta(t, 0.9, ra.SpecialistConfidence, 1e-9)
}

func TestAssessRoutingFallbackKeywords(t *testing.T) {
	provider := llms.NewMockProvider("totally not json")
	_, supervisor := newTestTeam(t, provider)

	tests := []struct {
		message    string
		specialist string
		intent     conversation.Intent
	}{
		{"I'm a military veteran looking for work", "marcus", conversation.IntentSpecificSpecialist},
		{"my visa situation is complicated", "liv", conversation.IntentSpecificSpecialist},
		{"I feel hopeless about everything", "alex", conversation.IntentCrisisSupport},
		{"just tell me about stuff", "", conversation.IntentGeneralCoordination},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			ra := supervisor.AssessRouting(context.Background(), tt.message)
			assert.Equal(t, tt.intent, ra.PrimaryIntent)
			assert.Equal(t, tt.specialist, ra.RecommendedSpecialist)
		})
	}
}

func TestAssessRoutingDropsUnknownSpecialist(t *testing.T) {
	provider := llms.NewMockProvider(`{
		"primary_intent": "general_coordination",
		"urgency": "low",
		"recommended_specialist": "dr_strange",
		"specialist_confidence": 0.4
	}`)
	_, supervisor := newTestTeam(t, provider)

	ra := supervisor.AssessRouting(context.Background(), "hello there")
	assert.Empty(t, ra.RecommendedSpecialist)
}
