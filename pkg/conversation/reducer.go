package conversation

// Delta is a partial state update returned by a workflow node. The engine
// merges deltas into the accumulated state with per-field reducers:
//
//   - Messages and Findings are appended, deduplicated by message ID so a
//     node re-entered after a suspension cannot double-append.
//   - Pointer-typed scalar fields overwrite only when non-nil (last writer
//     wins).
//   - Counters only move forward.
type Delta struct {
	Messages []Message
	Findings []Finding

	NeedsHumanReview     *bool
	HumanSteeringContext map[string]any
	WorkflowState        *string
	HumanSteeringCount   *int
	StepCount            *int
	WaitingForInput      *bool
	ConversationComplete *bool
	CrisisDetected       *bool
	NeedsHumanEscalation *bool
	EmotionalState       *EmotionalAssessment
}

// Bool returns a *bool for delta fields.
func Bool(v bool) *bool { return &v }

// Int returns an *int for delta fields.
func Int(v int) *int { return &v }

// String returns a *string for delta fields.
func String(v string) *string { return &v }

// IsZero reports whether the delta carries no update at all.
func (d *Delta) IsZero() bool {
	if d == nil {
		return true
	}
	return len(d.Messages) == 0 && len(d.Findings) == 0 &&
		d.NeedsHumanReview == nil && d.HumanSteeringContext == nil &&
		d.WorkflowState == nil && d.HumanSteeringCount == nil &&
		d.StepCount == nil && d.WaitingForInput == nil &&
		d.ConversationComplete == nil && d.CrisisDetected == nil &&
		d.NeedsHumanEscalation == nil && d.EmotionalState == nil
}

// Apply merges a delta into the state and returns the message IDs that were
// actually appended. Applying the same delta twice is idempotent for the
// append-only fields, which is what makes interrupt re-entry safe.
func (s *State) Apply(d *Delta) []string {
	if d == nil {
		return nil
	}

	seen := make(map[string]struct{}, len(s.Messages))
	for _, m := range s.Messages {
		seen[m.ID] = struct{}{}
	}

	var appended []string
	for _, m := range d.Messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		s.Messages = append(s.Messages, m)
		appended = append(appended, m.ID)
	}

	for _, f := range d.Findings {
		if containsFinding(s.IncrementalFindings, f) {
			continue
		}
		s.IncrementalFindings = append(s.IncrementalFindings, f)
	}

	if d.NeedsHumanReview != nil {
		s.NeedsHumanReview = *d.NeedsHumanReview
	}
	if d.HumanSteeringContext != nil {
		s.HumanSteeringContext = d.HumanSteeringContext
	}
	if d.WorkflowState != nil {
		s.WorkflowState = *d.WorkflowState
	}
	if d.HumanSteeringCount != nil && *d.HumanSteeringCount > s.HumanSteeringCount {
		s.HumanSteeringCount = *d.HumanSteeringCount
	}
	if d.StepCount != nil && *d.StepCount > s.StepCount {
		s.StepCount = *d.StepCount
	}
	if d.WaitingForInput != nil {
		s.WaitingForInput = *d.WaitingForInput
	}
	if d.ConversationComplete != nil {
		s.ConversationComplete = *d.ConversationComplete
	}
	if d.CrisisDetected != nil {
		s.CrisisDetected = *d.CrisisDetected
	}
	if d.NeedsHumanEscalation != nil {
		s.NeedsHumanEscalation = *d.NeedsHumanEscalation
	}
	if d.EmotionalState != nil {
		s.EmotionalState = d.EmotionalState
	}
	return appended
}

func containsFinding(findings []Finding, f Finding) bool {
	for _, existing := range findings {
		if existing.Type == f.Type && existing.Insight == f.Insight &&
			existing.Agent == f.Agent && existing.Timestamp.Equal(f.Timestamp) {
			return true
		}
	}
	return false
}

// AggregateConfidence returns the arithmetic mean of all non-nil finding
// confidences, or 0.5 when no finding carries one. The 0.8 application gate
// compares against this value, so it stays a pure function.
func AggregateConfidence(findings []Finding) float64 {
	sum := 0.0
	count := 0
	for _, f := range findings {
		if f.Confidence == nil {
			continue
		}
		sum += *f.Confidence
		count++
	}
	if count == 0 {
		return 0.5
	}
	return sum / float64(count)
}
