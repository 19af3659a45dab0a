package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/climatepath/pendo/pkg/conversation"
	"github.com/climatepath/pendo/pkg/llms"
	"github.com/climatepath/pendo/pkg/memory"
	"github.com/climatepath/pendo/pkg/prompts"
	"github.com/climatepath/pendo/pkg/reflection"
)

const (
	reflectionTimeout = 15 * time.Second

	apologyContent = "I'm sorry, I ran into a problem handling that. Could you try rephrasing, or ask me to connect you with a different specialist?"
)

var apologyNextActions = []string{"Try rephrasing your question", "Ask to speak with a specialist"}

// Runtime is the shared interaction pipeline, parameterized by a Profile.
type Runtime struct {
	profile    Profile
	provider   llms.Provider
	prompts    *prompts.Registry
	memory     *memory.Store
	reflection *reflection.Engine
	usage      UsageRecorder
	logger     *slog.Logger

	// reflectAsync is swapped out in tests to make reflection synchronous.
	reflectAsync func(in reflection.Interaction)
}

// NewRuntime builds the runtime for one specialist profile.
func NewRuntime(profile Profile, provider llms.Provider, registry *prompts.Registry, store *memory.Store, engine *reflection.Engine, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{
		profile:    profile,
		provider:   provider,
		prompts:    registry,
		memory:     store,
		reflection: engine,
		logger:     logger,
	}
	r.reflectAsync = func(in reflection.Interaction) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), reflectionTimeout)
			defer cancel()
			r.reflection.Reflect(ctx, in)
		}()
	}
	return r
}

// ID implements Agent.
func (r *Runtime) ID() SpecialistID { return r.profile.ID }

// recordUsage forwards token counts from one LLM call.
func (r *Runtime) recordUsage(u llms.Usage) {
	if r.usage == nil || r.provider == nil {
		return
	}
	model := r.provider.ModelName()
	r.usage.AddTokens(model, "prompt", u.PromptTokens)
	r.usage.AddTokens(model, "completion", u.CompletionTokens)
}

// Capabilities implements Agent.
func (r *Runtime) Capabilities() []string {
	return append([]string(nil), r.profile.Capabilities...)
}

type intentReply struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type confidenceReply struct {
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// HandleInteraction implements Agent. All failures after validation are
// absorbed into a Response with success=false.
func (r *Runtime) HandleInteraction(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	if err := validate(req); err != nil {
		return nil, err
	}

	actx := r.buildContext(ctx, req)
	agentID := string(r.profile.ID)

	intent, method := r.classifyIntent(ctx, req.Message)
	content, err := r.renderResponse(agentID, intent, req.Message)
	if err != nil {
		r.logger.Error("response template lookup failed",
			"agent", agentID, "intent", intent, "error", err)
		return r.failureResponse(start, err), nil
	}

	confidence := r.scoreConfidence(ctx, req.Message, intent, content)
	nextActions := r.nextActions(intent)

	r.recordEpisode(ctx, req, intent, confidence)
	r.reflectAsync(reflection.Interaction{
		AgentID:     agentID,
		UserMessage: req.Message,
		Response:    content,
		Intent:      intent,
		Confidence:  confidence,
	})

	return &Response{
		Content:         content,
		SpecialistType:  r.profile.SpecialistType,
		ConfidenceScore: confidence,
		ToolsUsed:       nil,
		NextActions:     nextActions,
		Metadata: map[string]any{
			"intent":                intent,
			"classification_method": method,
			"tools_available":       actx.ToolsAvailable,
		},
		Success:          true,
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

func validate(req *Request) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: request is nil", ErrInvalidInput)
	case strings.TrimSpace(req.Message) == "":
		return fmt.Errorf("%w: message is empty", ErrInvalidInput)
	case req.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	case req.ConversationID == "":
		return fmt.Errorf("%w: conversation_id is required", ErrInvalidInput)
	}
	return nil
}

func (r *Runtime) buildContext(ctx context.Context, req *Request) *Context {
	var history []conversation.Message
	if r.memory != nil {
		for _, ep := range r.memory.Retrieve(ctx, req.Message, 5) {
			history = append(history, conversation.Message{
				ID:        ep.ID,
				Kind:      conversation.KindHuman,
				Content:   ep.Content,
				Timestamp: ep.Timestamp,
			})
		}
	}
	return &Context{
		UserID:              req.UserID,
		ConversationID:      req.ConversationID,
		SessionData:         req.SessionData,
		UserProfile:         req.UserProfile,
		ConversationHistory: history,
		ToolsAvailable:      r.profile.Tools,
		Metadata:            map[string]any{"agent": string(r.profile.ID)},
	}
}

// classifyIntent asks the LLM for a structured intent. Keyword matching is
// used only when the LLM path fails.
func (r *Runtime) classifyIntent(ctx context.Context, message string) (intent, method string) {
	if r.provider != nil {
		system := fmt.Sprintf(
			"Classify the user's message into exactly one of these intents: %s. Respond with the intent, a confidence from 0 to 1, and one sentence of reasoning.",
			strings.Join(r.profile.Intents, ", "))
		messages := []llms.Message{llms.System(system), llms.User(message)}

		var reply intentReply
		if usage, err := r.provider.GenerateStructured(ctx, messages, &reply); err == nil {
			r.recordUsage(usage)
			if r.profile.validIntent(reply.Intent) {
				return reply.Intent, string(conversation.MethodLLMReasoning)
			}
			r.logger.Warn("classifier returned unknown intent",
				"agent", r.profile.ID, "intent", reply.Intent)
		} else {
			r.logger.Warn("intent classification failed",
				"agent", r.profile.ID, "error", err)
		}
	}

	lower := strings.ToLower(message)
	for keyword, mapped := range r.profile.FallbackKeywords {
		if strings.Contains(lower, keyword) && r.profile.validIntent(mapped) {
			return mapped, string(conversation.MethodFallback)
		}
	}
	return r.profile.DefaultIntent, string(conversation.MethodFallback)
}

func (r *Runtime) renderResponse(agentID, intent, message string) (string, error) {
	tmpl, err := r.prompts.Template(agentID, intent)
	if err != nil {
		return "", err
	}
	rendered := strings.NewReplacer(
		"{message}", message,
		"{insight}", "",
	).Replace(tmpl)
	return strings.TrimSpace(rendered), nil
}

// scoreConfidence runs the second structured call and applies the profile's
// intent adjustment, clamped to [0,1].
func (r *Runtime) scoreConfidence(ctx context.Context, message, intent, response string) float64 {
	confidence := r.profile.BaseConfidence

	if r.provider != nil {
		messages := []llms.Message{
			llms.System("Rate from 0 to 1 how confident a career-guidance agent should be that this response serves the user's message well."),
			llms.User(fmt.Sprintf("User message:\n%s\n\nResponse:\n%s", message, response)),
		}
		var reply confidenceReply
		if usage, err := r.provider.GenerateStructured(ctx, messages, &reply); err == nil {
			r.recordUsage(usage)
			confidence = reply.Confidence
		} else {
			r.logger.Warn("confidence scoring failed, using base confidence",
				"agent", r.profile.ID, "error", err)
		}
	}

	confidence += r.profile.ConfidenceAdjustments[intent]
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}

func (r *Runtime) nextActions(intent string) []string {
	if actions, ok := r.profile.NextActions[intent]; ok && len(actions) > 0 {
		return append([]string(nil), actions...)
	}
	return []string{"Tell me more about your situation"}
}

func (r *Runtime) recordEpisode(ctx context.Context, req *Request, intent string, confidence float64) {
	if r.memory == nil {
		return
	}
	r.memory.StoreEpisode(ctx, req.Message, map[string]any{
		"intent":          intent,
		"confidence":      confidence,
		"user_id":         req.UserID,
		"conversation_id": req.ConversationID,
	})
}

func (r *Runtime) failureResponse(start time.Time, err error) *Response {
	return &Response{
		Content:          apologyContent,
		SpecialistType:   r.profile.SpecialistType,
		ConfidenceScore:  0,
		NextActions:      append([]string(nil), apologyNextActions...),
		Success:          false,
		ErrorMessage:     err.Error(),
		ProcessingTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}
}
