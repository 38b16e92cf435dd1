package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avolkov/webvoyager/internal/session"
	"github.com/go-chi/chi/v5"
)

const defaultSessionTimeoutMinutes = 30

// createSessionRequest is the body of POST /api/sessions.
type createSessionRequest struct {
	TimeoutMinutes int `json:"timeout_minutes"`
}

// queryRequest is the body of POST /api/sessions/{id}/query.
type queryRequest struct {
	Question string `json:"question"`
	MaxSteps int    `json:"max_steps"`
}

// sessionResponse mirrors one session's observable state.
type sessionResponse struct {
	SessionID     string  `json:"session_id"`
	Status        string  `json:"status"`
	PageURL       string  `json:"page_url"`
	CurrentQuery  string  `json:"current_query,omitempty"`
	Result        *string `json:"result,omitempty"`
	Error         string  `json:"error,omitempty"`
	CurrentStep   int     `json:"current_step,omitempty"`
	CurrentAction string  `json:"current_action,omitempty"`
}

func toSessionResponse(v session.View) sessionResponse {
	return sessionResponse{
		SessionID:     v.ID,
		Status:        string(v.Status),
		PageURL:       v.PageURL,
		CurrentQuery:  v.CurrentQuery,
		Result:        v.Result,
		Error:         v.Error,
		CurrentStep:   v.CurrentStep,
		CurrentAction: v.CurrentAction,
	}
}

// RegisterRoutes registers session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)
		r.Delete("/sessions/{id}", h.CloseSession)
		r.Post("/sessions/{id}/query", h.SubmitQuery)
		r.Get("/history", h.History)
	})
}

// CreateSession creates a new browsing session.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	req := createSessionRequest{TimeoutMinutes: defaultSessionTimeoutMinutes}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			Error(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.TimeoutMinutes <= 0 {
		req.TimeoutMinutes = defaultSessionTimeoutMinutes
	}

	s, err := h.registry.Create(r.Context(), time.Duration(req.TimeoutMinutes)*time.Minute)
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		Error(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	JSON(w, http.StatusOK, toSessionResponse(s.Snapshot()))
}

// GetSession returns one session's state, touching its last-accessed time.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.sessionError(w, err)
		return
	}
	JSON(w, http.StatusOK, toSessionResponse(s.Snapshot()))
}

// CloseSession closes a browsing session.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	if !h.registry.Close(r.Context(), chi.URLParam(r, "id")) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	JSON(w, http.StatusOK, map[string]string{"message": "session closed"})
}

// SubmitQuery starts the query loop for a session. The loop runs in the
// background; progress and the terminal result are retrieved via GetSession.
func (h *Handler) SubmitQuery(w http.ResponseWriter, r *http.Request) {
	s, err := h.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		h.sessionError(w, err)
		return
	}

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" {
		Error(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = h.cfg.MaxSteps
	}

	if err := h.engine.Run(s, req.Question, req.MaxSteps); err != nil {
		h.sessionError(w, err)
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"session_id": s.ID,
		"status":     string(session.StatusProcessing),
	})
}

// ListSessions lists all current sessions (for monitoring).
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	views := h.registry.Snapshot()
	sessions := make(map[string]interface{}, len(views))
	for id, v := range views {
		sessions[id] = map[string]interface{}{
			"status":        string(v.Status),
			"created_at":    v.CreatedAt.Format(time.RFC3339),
			"last_accessed": v.LastAccessed.Format(time.RFC3339),
			"current_query": v.CurrentQuery,
			"page_url":      v.PageURL,
		}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"active_sessions": h.registry.Count(),
		"sessions":        sessions,
	})
}

// History returns recent terminal query outcomes.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Error(w, http.StatusNotFound, "query history is disabled")
		return
	}
	records, err := h.history.RecentQueries(r.Context(), 50)
	if err != nil {
		slog.Error("Failed to load query history", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load query history")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"queries": records})
}

// sessionError maps registry and engine errors to HTTP statuses.
func (h *Handler) sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrExpired):
		Error(w, http.StatusGone, "session expired")
	case errors.Is(err, session.ErrQueryInProgress):
		Error(w, http.StatusConflict, "query already in progress")
	case errors.Is(err, session.ErrResourceUnavailable):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}
