// Package api provides HTTP handlers for the browsing-session service.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/avolkov/webvoyager/internal/config"
	"github.com/avolkov/webvoyager/internal/engine"
	"github.com/avolkov/webvoyager/internal/session"
	"github.com/avolkov/webvoyager/internal/store"
)

// Handler provides common handler dependencies.
type Handler struct {
	registry *session.Registry
	engine   *engine.Engine
	history  store.Repository // nil when history is disabled
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(registry *session.Registry, eng *engine.Engine, history store.Repository, cfg *config.Config) *Handler {
	return &Handler{
		registry: registry,
		engine:   eng,
		history:  history,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
