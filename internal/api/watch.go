package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/avolkov/webvoyager/internal/session"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

// watchPollInterval is how often the watch loop samples session state.
const watchPollInterval = 500 * time.Millisecond

// progressUpdate is one message pushed over the watch socket.
type progressUpdate struct {
	SessionID     string  `json:"session_id"`
	Status        string  `json:"status"`
	CurrentStep   int     `json:"current_step,omitempty"`
	CurrentAction string  `json:"current_action,omitempty"`
	Result        *string `json:"result,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// Watch streams progress snapshots for one session over a WebSocket until the
// session reaches a terminal status or disappears. It is a push alternative
// to polling GetSession.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // same CORS posture as the HTTP API
	})
	if err != nil {
		slog.Warn("WebSocket accept failed", "session_id", id, "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	var last progressUpdate

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		s, err := h.registry.Get(id)
		if err != nil {
			reason := "session not found"
			if errors.Is(err, session.ErrExpired) {
				reason = "session expired"
			}
			_ = conn.Close(websocket.StatusNormalClosure, reason)
			return
		}

		v := s.Snapshot()
		update := progressUpdate{
			SessionID:     v.ID,
			Status:        string(v.Status),
			CurrentStep:   v.CurrentStep,
			CurrentAction: v.CurrentAction,
			Result:        v.Result,
			Error:         v.Error,
		}
		if update != last {
			if err := wsjson.Write(ctx, conn, update); err != nil {
				slog.Debug("WebSocket write failed", "session_id", id, "error", err)
				return
			}
			last = update
		}

		if v.Status == session.StatusCompleted || v.Status == session.StatusError {
			_ = conn.Close(websocket.StatusNormalClosure, "query finished")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RegisterWatch registers the progress WebSocket route.
func (h *Handler) RegisterWatch(r chi.Router) {
	r.Get("/ws/sessions/{id}/watch", h.Watch)
}
