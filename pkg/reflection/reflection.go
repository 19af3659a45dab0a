// Package reflection scores each agent turn after the fact and tracks quality
// over time. Scoring is an LLM structured call with a deterministic fallback;
// the engine never returns an error to the caller.
package reflection

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/climatepath/pendo/pkg/llms"
)

const (
	// Scores applied when the LLM is unavailable or returns unusable output.
	fallbackQuality = 0.8

	MethodLLM      = "llm_scoring"
	MethodFallback = "fallback"
)

var (
	fallbackStrengths = []string{
		"provided a relevant, on-topic response",
		"kept the guidance actionable",
	}
	fallbackImprovements = []string{
		"personalize more from the user's stated background",
		"ask one clarifying question before advising",
	}
)

// Interaction is the material a reflection is computed over.
type Interaction struct {
	AgentID     string
	UserMessage string
	Response    string
	Intent      string
	Confidence  float64
}

// Scores holds the per-dimension quality scores, each in [0,1].
type Scores struct {
	Clarity         float64 `json:"clarity"`
	Actionability   float64 `json:"actionability"`
	Personalization float64 `json:"personalization"`
	Empathy         float64 `json:"empathy"`
	Overall         float64 `json:"overall"`
}

// Reflection is the outcome of scoring one interaction.
type Reflection struct {
	AgentID      string    `json:"agent_id"`
	Quality      float64   `json:"quality"`
	Scores       Scores    `json:"scores"`
	Strengths    []string  `json:"strengths"`
	Improvements []string  `json:"improvements"`
	Lessons      []string  `json:"lessons"`
	Method       string    `json:"method"`
	Timestamp    time.Time `json:"timestamp"`
}

// Metrics aggregates reflection history for one engine.
type Metrics struct {
	Count            int     `json:"count"`
	AverageQuality   float64 `json:"average_quality"`
	ImprovementTrend float64 `json:"improvement_trend"`
	Trend            string  `json:"trend"` // improving | stable | declining
}

type scoringReply struct {
	Clarity         float64  `json:"clarity"`
	Actionability   float64  `json:"actionability"`
	Personalization float64  `json:"personalization"`
	Empathy         float64  `json:"empathy"`
	Overall         float64  `json:"overall"`
	Strengths       []string `json:"strengths"`
	Improvements    []string `json:"improvements"`
}

// Engine scores interactions and keeps a bounded history per engine instance.
type Engine struct {
	provider llms.Provider
	logger   *slog.Logger

	mu      sync.Mutex
	history []Reflection
}

// NewEngine creates a reflection engine. provider may be nil, forcing the
// fallback path.
func NewEngine(provider llms.Provider, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{provider: provider, logger: logger}
}

// Reflect scores one interaction. It always returns a usable reflection.
func (e *Engine) Reflect(ctx context.Context, in Interaction) Reflection {
	r := e.score(ctx, in)
	r.AgentID = in.AgentID
	r.Timestamp = time.Now().UTC()
	r.Lessons = deriveLessons(r.Strengths, r.Improvements)

	e.mu.Lock()
	e.history = append(e.history, r)
	e.mu.Unlock()
	return r
}

func (e *Engine) score(ctx context.Context, in Interaction) Reflection {
	if e.provider == nil {
		return fallbackReflection()
	}

	messages := []llms.Message{
		llms.System("You evaluate career-guidance responses. Score each dimension from 0 to 1."),
		llms.User(fmt.Sprintf(
			"User message:\n%s\n\nAgent (%s) response:\n%s\n\nScore clarity, actionability, personalization, empathy, and overall quality. List 1-3 strengths and 1-3 improvements.",
			in.UserMessage, in.AgentID, in.Response)),
	}

	var reply scoringReply
	if _, err := e.provider.GenerateStructured(ctx, messages, &reply); err != nil {
		e.logger.Warn("reflection scoring failed, using defaults",
			"agent", in.AgentID, "error", err)
		return fallbackReflection()
	}

	scores := Scores{
		Clarity:         clamp01(reply.Clarity),
		Actionability:   clamp01(reply.Actionability),
		Personalization: clamp01(reply.Personalization),
		Empathy:         clamp01(reply.Empathy),
		Overall:         clamp01(reply.Overall),
	}
	strengths := capList(reply.Strengths, 3)
	improvements := capList(reply.Improvements, 3)
	if len(strengths) == 0 {
		strengths = fallbackStrengths
	}
	if len(improvements) == 0 {
		improvements = fallbackImprovements
	}

	return Reflection{
		Quality:      scores.Overall,
		Scores:       scores,
		Strengths:    strengths,
		Improvements: improvements,
		Method:       MethodLLM,
	}
}

func fallbackReflection() Reflection {
	return Reflection{
		Quality: fallbackQuality,
		Scores: Scores{
			Clarity:         fallbackQuality,
			Actionability:   fallbackQuality,
			Personalization: fallbackQuality,
			Empathy:         fallbackQuality,
			Overall:         fallbackQuality,
		},
		Strengths:    fallbackStrengths,
		Improvements: fallbackImprovements,
		Method:       MethodFallback,
	}
}

// deriveLessons turns strengths and improvements into lesson statements.
func deriveLessons(strengths, improvements []string) []string {
	lessons := make([]string, 0, len(strengths)+len(improvements))
	for _, s := range strengths {
		lessons = append(lessons, "keep doing: "+s)
	}
	for _, i := range improvements {
		lessons = append(lessons, "work on: "+i)
	}
	return lessons
}

// Metrics summarizes the history. The improvement trend compares the mean of
// the last five qualities against the mean of everything earlier.
func (e *Engine) Metrics() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(e.history)
	if n == 0 {
		return Metrics{Trend: "stable"}
	}

	var total float64
	for _, r := range e.history {
		total += r.Quality
	}

	m := Metrics{
		Count:          n,
		AverageQuality: total / float64(n),
		Trend:          "stable",
	}

	recentStart := n - 5
	if recentStart <= 0 {
		return m
	}
	var recent, earlier float64
	for _, r := range e.history[recentStart:] {
		recent += r.Quality
	}
	for _, r := range e.history[:recentStart] {
		earlier += r.Quality
	}
	m.ImprovementTrend = recent/5 - earlier/float64(recentStart)

	const threshold = 0.02
	switch {
	case m.ImprovementTrend > threshold:
		m.Trend = "improving"
	case m.ImprovementTrend < -threshold:
		m.Trend = "declining"
	}
	return m
}

// History returns a copy of the reflection history.
func (e *Engine) History() []Reflection {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Reflection(nil), e.history...)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func capList(items []string, max int) []string {
	out := make([]string, 0, max)
	for _, s := range items {
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == max {
			break
		}
	}
	return out
}
