package observability

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveTurnCountsByLabels(t *testing.T) {
	m := NewMetrics()

	m.ObserveTurn("mai", OutcomeCompleted, 120*time.Millisecond)
	m.ObserveTurn("mai", OutcomeCompleted, 80*time.Millisecond)
	m.ObserveTurn("pendo", OutcomeSuspended, 40*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(m.turnsTotal.WithLabelValues("mai", OutcomeCompleted)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(m.turnsTotal.WithLabelValues("pendo", OutcomeSuspended)), 1e-9)
}

func TestTokenCounterIgnoresNonPositive(t *testing.T) {
	m := NewMetrics()

	m.AddTokens("openai", "prompt", 150)
	m.AddTokens("openai", "prompt", 0)
	m.AddTokens("openai", "prompt", -3)

	assert.InDelta(t, 150, testutil.ToFloat64(m.llmTokensTotal.WithLabelValues("openai", "prompt")), 1e-9)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.IncInterrupts()
	m.ObserveTurn("lauren", OutcomeCompleted, 50*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	assert.Contains(t, body, "pendo_interrupts_total 1")
	assert.Contains(t, body, `pendo_turns_total{outcome="completed",specialist="lauren"} 1`)
	assert.Contains(t, body, "pendo_turn_duration_seconds_bucket")
}

func TestTracerDisabledIsNoop(t *testing.T) {
	tracer, shutdown, err := NewTracer(false, nil)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "turn")
	span.End()
	assert.False(t, span.SpanContext().IsValid(), "noop tracer emits no real spans")
	assert.NoError(t, shutdown(context.Background()))
}

func TestTracerWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tracer, shutdown, err := NewTracer(true, &buf)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "turn")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.True(t, strings.Contains(buf.String(), "turn"))
}
