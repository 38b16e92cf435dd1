// Package engine runs the step-bounded query loop for one session. A run is
// an independent goroutine that pulls action predictions from the session's
// decision stream, mirrors progress onto the session record, and resolves to
// a terminal status discoverable through the registry.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avolkov/webvoyager/internal/agent"
	"github.com/avolkov/webvoyager/internal/session"
	"github.com/avolkov/webvoyager/internal/store"
)

// recordTimeout bounds the history write after a query finishes.
const recordTimeout = 10 * time.Second

// Engine executes queries against sessions.
type Engine struct {
	history store.Repository // nil disables query history
}

// New creates an engine. history may be nil.
func New(history store.Repository) *Engine {
	return &Engine{history: history}
}

// Run starts the query loop for s as a background goroutine. It returns
// ErrQueryInProgress synchronously if a query is already running; loop
// failures are never propagated here, they land on the session record.
//
// The loop is canceled by closing the session (or the whole registry), not by
// the submitting request's context: the query outlives the request.
func (e *Engine) Run(s *session.Session, question string, maxSteps int) error {
	ctx, cancel := context.WithCancel(context.Background())
	done, err := s.BeginQuery(question, cancel)
	if err != nil {
		cancel()
		return err
	}

	s.Stream().Begin(question)
	go func() {
		defer cancel()
		e.process(ctx, s, done, question, maxSteps)
	}()
	return nil
}

// process is the step loop. It owns all terminal-state transitions for this
// query and closes done when it no longer touches the session or its page.
func (e *Engine) process(ctx context.Context, s *session.Session, done chan struct{}, question string, maxSteps int) {
	start := time.Now()
	steps := 0
	var result *string
	var failMsg string

	slog.Info("Query started", "session_id", s.ID, "max_steps", maxSteps)

loop:
	for {
		ev, err := s.Stream().Step(ctx)
		if err != nil {
			failMsg = err.Error()
			break
		}

		// Bookkeeping events (tool execution, scratchpad updates, retry
		// re-prompts) carry no prediction.
		if ev.Decision == nil {
			continue
		}

		steps++
		s.SetProgress(steps, renderAction(ev.Decision))

		switch {
		case ev.Decision.Kind == agent.KindAnswer:
			if len(ev.Decision.Args) > 0 {
				v := ev.Decision.Args[0]
				result = &v
			}
			break loop
		case steps > maxSteps:
			failMsg = fmt.Sprintf("max steps (%d) exceeded", maxSteps)
			break loop
		}
	}

	duration := time.Since(start)
	status := session.StatusCompleted
	if failMsg != "" {
		status = session.StatusError
		s.FailQuery(failMsg)
		slog.Error("Query failed", "session_id", s.ID, "error", failMsg, "steps", steps)
	} else {
		s.CompleteQuery(result)
		slog.Info("Query completed", "session_id", s.ID, "steps", steps, "duration", duration)
	}
	close(done)

	e.record(&store.QueryRecord{
		SessionID:  s.ID,
		Question:   question,
		Status:     string(status),
		Result:     result,
		Error:      failMsg,
		Steps:      steps,
		DurationMs: duration.Milliseconds(),
		FinishedAt: time.Now(),
	})
}

func (e *Engine) record(rec *store.QueryRecord) {
	if e.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := e.history.RecordQuery(ctx, rec); err != nil {
		slog.Warn("Failed to record query history", "session_id", rec.SessionID, "error", err)
	}
}

// renderAction produces the human-readable progress string for one decision.
func renderAction(d *agent.Decision) string {
	if len(d.Args) == 0 {
		return d.Name
	}
	return d.Name + ": " + strings.Join(d.Args, "; ")
}
