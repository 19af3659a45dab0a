package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/climatepath/pendo/pkg/auth"
	"github.com/climatepath/pendo/pkg/conversation"
	"github.com/climatepath/pendo/pkg/session"
	"github.com/climatepath/pendo/pkg/workflow"
)

type messageRequest struct {
	Content        string `json:"content"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MessageType    string `json:"message_type,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}

type agentReply struct {
	Content         string  `json:"content"`
	SpecialistType  string  `json:"specialist_type"`
	ConfidenceScore float64 `json:"confidence_score"`
	Success         bool    `json:"success"`
}

type messageResponse struct {
	ConversationID   string                         `json:"conversation_id"`
	Response         agentReply                     `json:"response"`
	RoutingInfo      conversation.RoutingAssessment `json:"routing_info"`
	Suspended        bool                           `json:"suspended"`
	SteeringPayload  map[string]any                 `json:"steering_payload,omitempty"`
	NeedsHumanReview bool                           `json:"needs_human_review"`
}

func (s *Server) principal(r *http.Request) *auth.Principal {
	if p, ok := auth.FromContext(r.Context()); ok {
		return p
	}
	p := auth.Anonymous
	return &p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) decodeMessage(r *http.Request) (*messageRequest, error) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}
	return &req, nil
}

func (s *Server) recordTurn(p *auth.Principal, convID string, res *workflow.TurnResult, d time.Duration) {
	if s.sessions != nil {
		s.sessions.Touch(p.UserID, convID)
		s.sessions.RecordSpecialist(p.UserID, convID, res.Specialist)
	}
	if s.metrics != nil {
		outcome := "completed"
		switch {
		case res.Suspended:
			outcome = "suspended"
			s.metrics.IncInterrupts()
		case res.State != nil && res.State.NeedsHumanReview && !res.State.ConversationComplete:
			outcome = "failed"
		}
		s.metrics.ObserveTurn(res.Specialist, outcome, d)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeMessage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := s.principal(r)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TurnTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.runner.HandleTurn(ctx, p.UserID, req.ConversationID, req.Content)
	if err != nil {
		s.logger.Error("turn failed", "conversation", req.ConversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}
	s.recordTurn(p, req.ConversationID, res, time.Since(start))

	writeJSON(w, http.StatusOK, messageResponse{
		ConversationID: req.ConversationID,
		Response: agentReply{
			Content:         res.Content,
			SpecialistType:  res.SpecialistType,
			ConfidenceScore: res.Confidence,
			Success:         true,
		},
		RoutingInfo:      res.Routing,
		Suspended:        res.Suspended,
		SteeringPayload:  res.SteeringPayload,
		NeedsHumanReview: res.State != nil && res.State.NeedsHumanReview,
	})
}

// handleStream serves a turn as server-sent events: one "node" event per
// workflow node, a final "message" event with the turn result, and a "done"
// terminator.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeMessage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	p := s.principal(r)

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.TurnTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emit := func(event string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	start := time.Now()
	updates, wait := s.runner.StreamTurn(ctx, p.UserID, req.ConversationID, req.Content)
	for u := range updates {
		emit("node", map[string]string{"node": u.Node})
	}
	res, err := wait()
	if err != nil {
		emit("error", map[string]string{"error": "turn failed"})
		emit("done", map[string]any{})
		return
	}
	s.recordTurn(p, req.ConversationID, res, time.Since(start))

	emit("message", messageResponse{
		ConversationID: req.ConversationID,
		Response: agentReply{
			Content:         res.Content,
			SpecialistType:  res.SpecialistType,
			ConfidenceScore: res.Confidence,
			Success:         true,
		},
		RoutingInfo:     res.Routing,
		Suspended:       res.Suspended,
		SteeringPayload: res.SteeringPayload,
	})
	emit("done", map[string]any{})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	messages := s.runner.History(id)
	if messages == nil {
		messages = []conversation.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        messages,
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	state := s.runner.StateOf(id)
	if state == nil {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"findings":        state.IncrementalFindings,
		"confidence":      conversation.AggregateConfidence(state.IncrementalFindings),
		"complete":        state.ConversationComplete,
		"steps":           state.StepCount,
		"steering_rounds": state.HumanSteeringCount,
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	p := s.principal(r)
	type conversationInfo struct {
		ConversationID string `json:"conversation_id"`
		WorkflowType   string `json:"workflow_type"`
		Status         string `json:"status"`
		UpdatedAt      string `json:"updated_at"`
	}
	out := []conversationInfo{}
	if s.store != nil {
		rows, err := s.store.ListSessions(r.Context(), p.UserID)
		if err != nil {
			s.logger.Error("list sessions failed", "user", p.UserID, "error", err)
			writeError(w, http.StatusInternalServerError, "listing failed")
			return
		}
		for _, row := range rows {
			out = append(out, conversationInfo{
				ConversationID: row.SessionID,
				WorkflowType:   row.WorkflowType,
				Status:         string(row.Status),
				UpdatedAt:      row.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	p := s.principal(r)
	stats := session.UserStats{}
	if s.sessions != nil {
		stats = s.sessions.Stats(p.UserID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": p.UserID,
		"stats":   stats,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversation_id")
	if err := s.runner.EndConversation(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "unknown conversation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "conversation_id": id})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]bool{
		"workflow": s.runner != nil,
		"store":    s.store != nil,
		"cache":    s.cache != nil && s.cache.Ping(),
		"metrics":  s.metrics != nil,
	}
	status := "ok"
	if !components["workflow"] {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     status,
		"components": components,
	})
}
