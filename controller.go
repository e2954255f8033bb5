package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"tutorhub/internal/auth"
	"tutorhub/internal/gateway"
	"tutorhub/internal/session"
)

type Controller struct {
	sessions *session.Service
	verifier *auth.Verifier
	gateway  *gateway.Gateway
}

func NewController(sessions *session.Service, verifier *auth.Verifier, gw *gateway.Gateway) *Controller {
	return &Controller{
		sessions: sessions,
		verifier: verifier,
		gateway:  gw,
	}
}

func (c *Controller) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", c.gateway.HandleWS)
	mux.HandleFunc("/health", c.HandleHealth)
	mux.HandleFunc("/api/session/new", c.HandleNewSession)
	mux.HandleFunc("/api/session/current", c.HandleCurrentSession)
	mux.HandleFunc("/api/session/end", c.HandleEndSession)
	mux.HandleFunc("/api/session/report", c.HandleReportSession)
}

func (c *Controller) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write json response", "error", err)
	}
}

func (c *Controller) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		slog.Error(message, "error", err)
	}
	c.writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps the lifecycle error taxonomy onto HTTP statuses.
func (c *Controller) writeServiceError(w http.ResponseWriter, err error) {
	var validation *session.ValidationError
	var conflict *session.JoinConflictError
	var ended *session.SessionEndedError
	var notParticipant *session.NotParticipantError

	switch {
	case errors.As(err, &validation):
		c.writeError(w, http.StatusUnprocessableEntity, validation.Reason, nil)
	case errors.As(err, &conflict):
		c.writeJSON(w, http.StatusConflict, map[string]any{
			"error":   conflict.Reason,
			"session": conflict.Session,
		})
	case errors.As(err, &ended):
		c.writeJSON(w, http.StatusConflict, map[string]any{
			"error":   ended.Error(),
			"session": ended.Session,
		})
	case errors.As(err, &notParticipant):
		c.writeError(w, http.StatusForbidden, notParticipant.Error(), nil)
	default:
		c.writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// authenticate resolves the caller from the bearer token, or writes a 401.
func (c *Controller) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := ""
	if h := r.Header.Get("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
		token = h[7:]
	}
	userID, err := c.verifier.Verify(token)
	if err != nil {
		c.writeError(w, http.StatusUnauthorized, "unauthorized", nil)
		return "", false
	}
	return userID, true
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	c.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type newSessionRequest struct {
	Type     string `json:"type"`
	SubTopic string `json:"subTopic"`
}

func (c *Controller) HandleNewSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		c.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	userID, ok := c.authenticate(w, r)
	if !ok {
		return
	}

	defer closeBody(r.Body)
	var req newSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	sess, err := c.sessions.Create(r.Context(), userID, req.Type, req.SubTopic)
	if err != nil {
		c.writeServiceError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, map[string]any{"sessionId": sess.ID})
}

func (c *Controller) HandleCurrentSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		c.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	userID, ok := c.authenticate(w, r)
	if !ok {
		return
	}

	sess, err := c.sessions.GetCurrentSession(r.Context(), userID)
	if err != nil {
		c.writeServiceError(w, err)
		return
	}
	if sess == nil {
		c.writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	c.writeJSON(w, http.StatusOK, sess)
}

type endSessionRequest struct {
	SessionID string `json:"sessionId"`
}

func (c *Controller) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		c.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	userID, ok := c.authenticate(w, r)
	if !ok {
		return
	}

	defer closeBody(r.Body)
	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	sess, err := c.sessions.End(r.Context(), req.SessionID, userID)
	if err != nil {
		c.writeServiceError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, sess)
}

type reportSessionRequest struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

func (c *Controller) HandleReportSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		c.writeError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}
	userID, ok := c.authenticate(w, r)
	if !ok {
		return
	}

	defer closeBody(r.Body)
	var req reportSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		c.writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}

	sess, err := c.sessions.Report(r.Context(), req.SessionID, userID, req.Reason)
	if err != nil {
		c.writeServiceError(w, err)
		return
	}
	c.writeJSON(w, http.StatusOK, sess)
}

func closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}
