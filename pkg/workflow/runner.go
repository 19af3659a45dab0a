package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/climatepath/pendo/pkg/agent"
	"github.com/climatepath/pendo/pkg/cache"
	"github.com/climatepath/pendo/pkg/conversation"
	"github.com/climatepath/pendo/pkg/graph"
	"github.com/climatepath/pendo/pkg/store"
)

// WorkflowTypeSupervisor and WorkflowTypeEmpathy name the two compiled
// workflows in persisted session rows.
const (
	WorkflowTypeSupervisor = "supervisor"
	WorkflowTypeEmpathy    = "empathy"
)

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	// Content is the assistant's reply: the last AI message appended during
	// this turn.
	Content string
	// Specialist is the agent credited with the reply.
	Specialist string
	// SpecialistType is the descriptive type label for that agent.
	SpecialistType string
	// Confidence is the aggregate finding confidence after the turn.
	Confidence float64
	// Routing is the assessment that selected the workflow.
	Routing conversation.RoutingAssessment
	// Suspended reports that the workflow is waiting for steering input; the
	// guidance payload is in SteeringPayload.
	Suspended       bool
	SteeringPayload map[string]any
	// State is the accumulated conversation state after the turn.
	State *conversation.State
}

// conversationRun is the serialized execution slot for one conversation.
// A mutex per conversation enforces the single-writer rule.
type conversationRun struct {
	mu         sync.Mutex
	state      *conversation.State
	checkpoint *graph.Checkpoint
	workflow   string
}

// Runner drives one workflow execution per user turn, carrying conversation
// state and suspension checkpoints across turns.
type Runner struct {
	supervisorWF *Supervisor
	empathyWF    *Empathy
	router       *agent.Supervisor
	sessions     store.SessionStore
	routingCache *cache.Cache
	tracer       trace.Tracer
	logger       *slog.Logger

	mu   sync.Mutex
	runs map[string]*conversationRun
}

// NewRunner builds a runner. sessions may be nil; checkpoint persistence is
// then skipped.
func NewRunner(supervisorWF *Supervisor, empathyWF *Empathy, router *agent.Supervisor, sessions store.SessionStore, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		supervisorWF: supervisorWF,
		empathyWF:    empathyWF,
		router:       router,
		sessions:     sessions,
		logger:       logger,
		runs:         make(map[string]*conversationRun),
	}
}

// SetCache installs a cache for routing assessments. Identical consecutive
// messages skip the routing LLM call.
func (r *Runner) SetCache(c *cache.Cache) { r.routingCache = c }

// SetTracer enables a span per turn and per workflow node.
func (r *Runner) SetTracer(t trace.Tracer) {
	r.tracer = t
	if r.supervisorWF != nil {
		r.supervisorWF.Engine().SetTracer(t)
	}
	if r.empathyWF != nil {
		r.empathyWF.Engine().SetTracer(t)
	}
}

// assessRouting consults the cache before the supervisor's routing call.
func (r *Runner) assessRouting(ctx context.Context, text string) conversation.RoutingAssessment {
	key := "routing:" + text
	if r.routingCache != nil {
		if v, ok := r.routingCache.Get(key); ok {
			if ra, ok := v.(conversation.RoutingAssessment); ok {
				return ra
			}
		}
	}
	ra := r.router.AssessRouting(ctx, text)
	if r.routingCache != nil {
		r.routingCache.Set(key, ra)
	}
	return ra
}

func (r *Runner) run(conversationID string) *conversationRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	cr, ok := r.runs[conversationID]
	if !ok {
		cr = &conversationRun{}
		r.runs[conversationID] = cr
	}
	return cr
}

// HandleTurn processes one user message for a conversation. Turns within the
// same conversation are serialized; turns across conversations run freely.
func (r *Runner) HandleTurn(ctx context.Context, userID, conversationID, text string) (*TurnResult, error) {
	if r.tracer != nil {
		var span trace.Span
		ctx, span = r.tracer.Start(ctx, "turn")
		defer span.End()
	}
	cr := r.run(conversationID)
	cr.mu.Lock()
	defer cr.mu.Unlock()

	// A pending checkpoint means the last turn suspended at a steering
	// point; this turn's text is the steering answer.
	if cr.checkpoint != nil {
		cp := cr.checkpoint
		cr.checkpoint = nil
		res, err := r.supervisorWF.Engine().Resume(ctx, cp, text)
		if err != nil {
			return nil, err
		}
		return r.finishTurn(ctx, cr, conversation.RoutingAssessment{
			PrimaryIntent: conversation.IntentGeneralCoordination,
			Reasoning:     "steering resume",
		}, res)
	}

	routing := r.assessRouting(ctx, text)

	state := r.turnState(cr, userID, conversationID, text, routing)
	var (
		res *graph.Result
		err error
	)
	if r.useEmpathy(routing) {
		cr.workflow = WorkflowTypeEmpathy
		res, err = r.empathyWF.Engine().Invoke(ctx, state)
	} else {
		cr.workflow = WorkflowTypeSupervisor
		res, err = r.supervisorWF.Engine().Invoke(ctx, state)
	}
	if err != nil {
		return nil, err
	}
	return r.finishTurn(ctx, cr, routing, res)
}

// useEmpathy decides whether a turn enters the empathy workflow.
func (r *Runner) useEmpathy(ra conversation.RoutingAssessment) bool {
	if r.empathyWF == nil {
		return false
	}
	return ra.PrimaryIntent == conversation.IntentCrisisSupport ||
		ra.Urgency == conversation.UrgencyCrisis ||
		ra.RecommendedSpecialist == string(agent.Alex)
}

// turnState extends the carried conversation state with the new human
// message and the turn's routing assessment. Per-execution control fields
// are reset; history accumulates.
func (r *Runner) turnState(cr *conversationRun, userID, conversationID, text string, routing conversation.RoutingAssessment) *conversation.State {
	state := cr.state
	if state == nil {
		state = &conversation.State{}
	}
	state.UserID = userID
	state.SessionID = conversationID
	state.StepCount = 0
	state.WaitingForInput = false
	state.ConversationComplete = false
	state.NeedsHumanReview = false
	state.Routing = &routing
	state.Messages = append(state.Messages, conversation.NewMessage(conversation.KindHuman, text))
	return state
}

func (r *Runner) finishTurn(ctx context.Context, cr *conversationRun, routing conversation.RoutingAssessment, res *graph.Result) (*TurnResult, error) {
	cr.state = res.State

	result := &TurnResult{
		Routing:    routing,
		Suspended:  res.Suspended,
		State:      res.State,
		Confidence: conversation.AggregateConfidence(res.State.IncrementalFindings),
	}
	for i := len(res.State.Messages) - 1; i >= 0; i-- {
		if res.State.Messages[i].Kind == conversation.KindAI {
			result.Content = res.State.Messages[i].Content
			break
		}
	}
	result.Specialist = string(agent.Pendo)
	if f, ok := res.State.LastFinding(); ok && f.Agent != "" {
		result.Specialist = f.Agent
	}
	result.SpecialistType = agent.TypeOf(agent.SpecialistID(result.Specialist))

	status := store.SessionInactive
	if res.Suspended {
		cr.checkpoint = res.Checkpoint
		result.SteeringPayload = res.Checkpoint.Payload
		status = store.SessionActive
	}
	r.persist(ctx, cr, status)
	return result, nil
}

// persist saves the session row best-effort; storage trouble never fails
// the turn.
func (r *Runner) persist(ctx context.Context, cr *conversationRun, status store.SessionStatus) {
	if r.sessions == nil || cr.state == nil {
		return
	}
	data := map[string]any{"node": cr.state.WorkflowState}
	if cr.checkpoint != nil {
		raw, err := json.Marshal(cr.checkpoint)
		if err != nil {
			r.logger.Warn("checkpoint not serializable", "error", err)
		} else {
			var decoded map[string]any
			if err := json.Unmarshal(raw, &decoded); err == nil {
				data["checkpoint"] = decoded
			}
		}
	}
	err := r.sessions.SaveSession(ctx, &store.WorkflowSession{
		SessionID:    cr.state.SessionID,
		UserID:       cr.state.UserID,
		WorkflowType: cr.workflow,
		Status:       status,
		Data:         data,
	})
	if err != nil {
		r.logger.Warn("session persist failed", "session", cr.state.SessionID, "error", err)
	}
}

// StreamTurn is HandleTurn with per-node updates. The caller must drain the
// channel and then call wait; the conversation stays locked until wait
// returns.
func (r *Runner) StreamTurn(ctx context.Context, userID, conversationID, text string) (<-chan graph.NodeUpdate, func() (*TurnResult, error)) {
	cr := r.run(conversationID)
	cr.mu.Lock()

	var (
		updates <-chan graph.NodeUpdate
		wait    func() (*graph.Result, error)
		routing conversation.RoutingAssessment
	)
	if cr.checkpoint != nil {
		cp := cr.checkpoint
		cr.checkpoint = nil
		routing = conversation.RoutingAssessment{
			PrimaryIntent: conversation.IntentGeneralCoordination,
			Reasoning:     "steering resume",
		}
		updates, wait = r.supervisorWF.Engine().StreamResume(ctx, cp, text)
	} else {
		routing = r.assessRouting(ctx, text)
		state := r.turnState(cr, userID, conversationID, text, routing)
		if r.useEmpathy(routing) {
			cr.workflow = WorkflowTypeEmpathy
			updates, wait = r.empathyWF.Engine().Stream(ctx, state)
		} else {
			cr.workflow = WorkflowTypeSupervisor
			updates, wait = r.supervisorWF.Engine().Stream(ctx, state)
		}
	}

	finish := func() (*TurnResult, error) {
		defer cr.mu.Unlock()
		res, err := wait()
		if err != nil {
			return nil, err
		}
		return r.finishTurn(ctx, cr, routing, res)
	}
	return updates, finish
}

// History returns the accumulated messages of a conversation.
func (r *Runner) History(conversationID string) []conversation.Message {
	cr := r.run(conversationID)
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.state == nil {
		return nil
	}
	return append([]conversation.Message(nil), cr.state.Messages...)
}

// StateOf returns a copy of the conversation's accumulated state, or nil.
func (r *Runner) StateOf(conversationID string) *conversation.State {
	cr := r.run(conversationID)
	cr.mu.Lock()
	defer cr.mu.Unlock()
	if cr.state == nil {
		return nil
	}
	return cr.state.Clone()
}

// EndConversation drops in-memory state and marks the persisted session
// inactive.
func (r *Runner) EndConversation(ctx context.Context, conversationID string) error {
	r.mu.Lock()
	cr, ok := r.runs[conversationID]
	delete(r.runs, conversationID)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("workflow: unknown conversation %s", conversationID)
	}

	cr.mu.Lock()
	defer cr.mu.Unlock()
	if r.sessions != nil && cr.state != nil {
		if err := r.sessions.SaveSession(ctx, &store.WorkflowSession{
			SessionID:    cr.state.SessionID,
			UserID:       cr.state.UserID,
			WorkflowType: cr.workflow,
			Status:       store.SessionInactive,
		}); err != nil {
			r.logger.Warn("session close failed", "session", conversationID, "error", err)
		}
	}
	return nil
}

// Conversations lists the conversation ids with in-memory state.
func (r *Runner) Conversations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	return ids
}
