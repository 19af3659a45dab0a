package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAppendsMessages(t *testing.T) {
	s := &State{}
	m1 := NewMessage(KindHuman, "hello there")
	m2 := NewMessage(KindAI, "hi, how can I help?")

	appended := s.Apply(&Delta{Messages: []Message{m1, m2}})

	require.Len(t, s.Messages, 2)
	assert.Equal(t, []string{m1.ID, m2.ID}, appended)
	assert.Equal(t, KindHuman, s.Messages[0].Kind)
}

func TestApplyIsIdempotentForMessages(t *testing.T) {
	s := &State{}
	m := NewMessage(KindAI, "analysis complete")
	d := &Delta{Messages: []Message{m}}

	s.Apply(d)
	appended := s.Apply(d)

	assert.Len(t, s.Messages, 1)
	assert.Empty(t, appended)
}

func TestApplyDeduplicatesFindings(t *testing.T) {
	s := &State{}
	f := NewFinding(FindingSpecialistAnalysis, "strong transferable skills").WithAgent("mai")
	d := &Delta{Findings: []Finding{f}}

	s.Apply(d)
	s.Apply(d)

	assert.Len(t, s.IncrementalFindings, 1)
}

func TestApplyCountersAreMonotone(t *testing.T) {
	s := &State{StepCount: 4, HumanSteeringCount: 2}

	s.Apply(&Delta{StepCount: Int(3), HumanSteeringCount: Int(1)})
	assert.Equal(t, 4, s.StepCount)
	assert.Equal(t, 2, s.HumanSteeringCount)

	s.Apply(&Delta{StepCount: Int(5), HumanSteeringCount: Int(3)})
	assert.Equal(t, 5, s.StepCount)
	assert.Equal(t, 3, s.HumanSteeringCount)
}

func TestApplyScalarsLastWriterWins(t *testing.T) {
	s := &State{WorkflowState: "initial_discovery"}

	s.Apply(&Delta{WorkflowState: String("incremental_analysis")})
	s.Apply(&Delta{WorkflowState: String("confidence_assessment"), ConversationComplete: Bool(true)})

	assert.Equal(t, "confidence_assessment", s.WorkflowState)
	assert.True(t, s.ConversationComplete)
}

func TestApplyAssociativeOverDisjointDeltas(t *testing.T) {
	a := NewMessage(KindAI, "from node a")
	b := NewMessage(KindAI, "from node b")
	c := NewMessage(KindAI, "from node c")

	left := &State{}
	left.Apply(&Delta{Messages: []Message{a}})
	left.Apply(&Delta{Messages: []Message{b}})
	left.Apply(&Delta{Messages: []Message{c}})

	right := &State{}
	right.Apply(&Delta{Messages: []Message{a, b}})
	right.Apply(&Delta{Messages: []Message{c}})

	require.Len(t, left.Messages, 3)
	require.Len(t, right.Messages, 3)
	for i := range left.Messages {
		assert.Equal(t, left.Messages[i].ID, right.Messages[i].ID)
	}
}

func TestAggregateConfidence(t *testing.T) {
	tests := []struct {
		name     string
		findings []Finding
		want     float64
	}{
		{
			name: "mean of non-nil confidences",
			findings: []Finding{
				NewFinding(FindingInitialDiscovery, "a").WithConfidence(0.9),
				NewFinding(FindingSpecialistAnalysis, "b").WithConfidence(0.85),
				NewFinding(FindingPartnerMatches, "c").WithConfidence(0.8),
			},
			want: 0.85,
		},
		{
			name: "nil confidences excluded",
			findings: []Finding{
				NewFinding(FindingGreeting, "hi"),
				NewFinding(FindingSpecialistAnalysis, "b").WithConfidence(0.6),
			},
			want: 0.6,
		},
		{
			name:     "no findings defaults to 0.5",
			findings: nil,
			want:     0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AggregateConfidence(tt.findings)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := &State{
		Messages:             []Message{NewMessage(KindHuman, "hello")},
		HumanSteeringContext: map[string]any{"stage": "analysis"},
	}

	c := s.Clone()
	c.Messages = append(c.Messages, NewMessage(KindAI, "reply"))
	c.HumanSteeringContext["stage"] = "matching"

	assert.Len(t, s.Messages, 1)
	assert.Equal(t, "analysis", s.HumanSteeringContext["stage"])
}

func TestLastHumanMessage(t *testing.T) {
	s := &State{}
	_, ok := s.LastHumanMessage()
	assert.False(t, ok)

	first := NewMessage(KindHuman, "first")
	reply := NewMessage(KindAI, "reply")
	second := NewMessage(KindHuman, "second")
	s.Apply(&Delta{Messages: []Message{first, reply, second}})

	got, ok := s.LastHumanMessage()
	require.True(t, ok)
	assert.Equal(t, "second", got.Content)
}
