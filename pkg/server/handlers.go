package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/harun/ccserver/internal/tracing"
	"github.com/harun/ccserver/pkg/agent"
	"github.com/harun/ccserver/pkg/msgbuffer"
	"github.com/harun/ccserver/pkg/session"
	"github.com/harun/ccserver/pkg/tasks"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// ChatRequest is the body of /chat, /chat/stream and /chat/async
type ChatRequest struct {
	Message        string            `json:"message"`
	UserID         string            `json:"user_id"`
	SessionID      string            `json:"session_id,omitempty"`
	Timeout        *float64          `json:"timeout,omitempty"`
	EnableDebounce *bool             `json:"enable_debounce,omitempty"`
	DebounceWindow *float64          `json:"debounce_window,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"version":   s.config.Version,
		"uptime":    time.Since(s.startTime).Seconds(),
		"buffers":   s.config.Buffer.Sessions(),
		"sessions":  s.config.Sessions.Count(),
		"tasks":     s.config.Tasks.Stats(),
		"timestamp": time.Now().UnixMilli(),
	}
	if s.config.Hub != nil {
		response["event_clients"] = s.config.Hub.Count()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if version, err := s.config.Runner.Agent().Version(ctx); err == nil {
		response["agent_version"] = version
	} else {
		s.logger.Debug().Err(err).Msg("Agent version unavailable")
	}

	respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.chatTimeout(req))
	defer cancel()

	result, err := s.config.Runner.Run(ctx, agent.RunParams{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleChatStream runs a turn and reports it as server-sent events: one
// message event with the reply, then done. Failures after the stream opened
// are sent as an error event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	setupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithTimeout(r.Context(), s.chatTimeout(req))
	defer cancel()

	result, err := s.config.Runner.Run(ctx, agent.RunParams{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Message:   req.Message,
		Metadata:  req.Metadata,
	})
	if err != nil {
		if sendErr := sendSSEEvent(w, flusher, "error", map[string]string{"error": err.Error()}); sendErr != nil {
			s.logger.Debug().Err(sendErr).Msg("Failed to send stream error")
		}
		return
	}

	if err := sendSSEEvent(w, flusher, "message", map[string]string{"content": result.Content}); err != nil {
		s.logger.Debug().Err(err).Msg("Stream client went away")
		return
	}
	if err := sendSSEEvent(w, flusher, "done", map[string]string{
		"session_id": result.SessionID,
		"resume_id":  result.ResumeID,
	}); err != nil {
		s.logger.Debug().Err(err).Msg("Stream client went away")
	}
}

// chatTimeout is the server timeout, shortened by the request timeout
func (s *Server) chatTimeout(req ChatRequest) time.Duration {
	timeout := s.config.ChatTimeout
	if req.Timeout != nil {
		if d := seconds(*req.Timeout); d < timeout {
			timeout = d
		}
	}
	return timeout
}

func (s *Server) handleChatAsync(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChatRequest(w, r)
	if !ok {
		return
	}

	sessionID := session.KeyFor(req.UserID, req.SessionID)
	if err := session.ValidateKey(sessionID); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	policy := s.DebouncePolicy()
	enabled := policy.Enabled
	if req.EnableDebounce != nil {
		enabled = *req.EnableDebounce
	}

	if !enabled {
		if req.Message == "" {
			respondError(w, http.StatusBadRequest, agent.ErrEmptyPrompt.Error())
			return
		}
		taskID, err := s.submitTurn(r.Context(), tasks.OriginDirect, req.UserID, sessionID, req.Message, req.Metadata)
		if err != nil {
			respondError(w, statusFor(err), err.Error())
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"task_id": taskID,
			"status":  string(tasks.StatusProcessing),
			"message": "Task submitted successfully",
		})
		return
	}

	window := policy.Window
	if req.DebounceWindow != nil {
		window = seconds(*req.DebounceWindow)
		if window <= 0 {
			respondError(w, http.StatusBadRequest, "debounce_window is too small")
			return
		}
	}
	if policy.MaxWindow > 0 && window > policy.MaxWindow {
		respondError(w, http.StatusBadRequest, "debounce_window exceeds max_debounce_window of "+policy.MaxWindow.String())
		return
	}

	userID, metadata := req.UserID, req.Metadata
	trace := tracing.FromContext(r.Context())
	callback := func(ctx context.Context, combined string) error {
		_, err := s.submitTurn(tracing.NewContext(ctx, trace), tasks.OriginDebounce, userID, sessionID, combined, metadata)
		return err
	}

	if err := s.config.Buffer.Add(sessionID, req.Message, callback, window); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":          "buffering",
		"session_id":      sessionID,
		"pending":         s.config.Buffer.PendingCount(sessionID),
		"debounce_window": window.Seconds(),
		"message":         "Message buffered",
	})
}

// submitTurn queues an agent turn as a background task. The request id in
// ctx is carried into the task.
func (s *Server) submitTurn(ctx context.Context, origin, userID, sessionID, message string, metadata map[string]string) (string, error) {
	spec := tasks.Spec{
		SessionID: sessionID,
		UserID:    userID,
		Origin:    origin,
		Message:   message,
	}
	trace := tracing.FromContext(ctx)
	return s.config.Tasks.Submit(spec, func(ctx context.Context) (interface{}, error) {
		return s.config.Runner.Run(tracing.NewContext(ctx, trace), agent.RunParams{
			UserID:    userID,
			SessionID: sessionID,
			Message:   message,
			Metadata:  metadata,
		})
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.config.Tasks.Get(chi.URLParam(r, "taskID"))
	if err != nil {
		respondError(w, statusFor(err), "Task not found")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	list := s.config.Tasks.List()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": list,
		"total": len(list),
		"stats": s.config.Tasks.Stats(),
	})
}

func (s *Server) handleFlushSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	pending := s.config.Buffer.PendingCount(sessionID)
	flushed := s.config.Buffer.Flush(sessionID)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"flushed":    flushed,
		"messages":   pending,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := s.config.Sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":     sess.ID,
		"user_id":        sess.UserID,
		"messages":       sess.History,
		"total_messages": len(sess.History),
	})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	pending := s.config.Buffer.PendingCount(sessionID)
	cancelled := s.config.Buffer.Cancel(sessionID)
	err := s.config.Sessions.Delete(sessionID)
	if err != nil && !cancelled {
		respondError(w, statusFor(err), err.Error())
		return
	}

	if !cancelled {
		pending = 0
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":        sessionID,
		"cancelled_pending": pending,
		"message":           "Session cleared successfully",
	})
}

// decodeChatRequest reads, validates and authorizes a chat body. It writes
// the error response itself and reports whether the handler should go on.
func (s *Server) decodeChatRequest(w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var req ChatRequest

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return req, false
	}
	if err := validateChatBody(body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return req, false
	}
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}

	if !s.userAllowed(req.UserID) {
		s.logger.Warn().Str("user_id", req.UserID).Msg("User not allowed")
		respondError(w, http.StatusForbidden, "User not allowed")
		return req, false
	}

	return req, true
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidKey),
		errors.Is(err, agent.ErrEmptyPrompt),
		errors.Is(err, agent.ErrEmptyUser),
		errors.Is(err, msgbuffer.ErrEmptySessionID),
		errors.Is(err, msgbuffer.ErrInvalidWindow):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrClosed), errors.Is(err, msgbuffer.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
