// Package session implements the in-memory registry of browsing sessions:
// creation, lookup-with-touch, TTL expiry, and cleanup. Each session pairs an
// exclusive browsing page with a decision stream produced by an external
// factory.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avolkov/webvoyager/internal/agent"
)

// Status is the session state machine. Within one query it moves
// active -> processing -> {completed | error}; a new query may start from any
// state except processing.
type Status string

const (
	StatusActive     Status = "active"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// StepEvent is one event pulled from a DecisionStream. Events with a nil
// Decision are graph bookkeeping (tool execution, scratchpad updates, retry
// re-prompts) and carry no agent prediction.
type StepEvent struct {
	Node     string
	Decision *Decision
}

// Decision aliases agent.Decision at the registry boundary; see the agent
// package for parsing semantics.
type Decision = agent.Decision

// Page is the capability handle for the browsing context owned by a session.
type Page interface {
	URL() string
	Release(ctx context.Context) error
}

// DecisionStream yields one action prediction per step for a single session.
// Begin resets per-query state; it is called once before each query loop.
type DecisionStream interface {
	Begin(question string)
	Step(ctx context.Context) (StepEvent, error)
	Release(ctx context.Context) error
}

// Factory acquires the opaque resources a new session owns.
type Factory interface {
	NewResources(ctx context.Context) (Page, DecisionStream, error)
}

// Session is the mutable state unit for one browsing session. All mutable
// fields are guarded by mu; readers take a Snapshot rather than live
// references so a concurrent reader never observes a torn update.
type Session struct {
	ID        string
	CreatedAt time.Time
	Timeout   time.Duration

	page   Page
	stream DecisionStream

	mu            sync.Mutex
	status        Status
	currentQuery  string
	result        *string
	errMsg        string
	currentStep   int
	currentAction string
	lastAccessed  time.Time

	// Active query loop, nil when no query is running.
	cancel context.CancelFunc
	done   chan struct{}
}

// View is an immutable copy of a session's observable state.
type View struct {
	ID            string        `json:"session_id"`
	Status        Status        `json:"status"`
	PageURL       string        `json:"page_url"`
	CurrentQuery  string        `json:"current_query,omitempty"`
	Result        *string       `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
	CurrentStep   int           `json:"current_step,omitempty"`
	CurrentAction string        `json:"current_action,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	LastAccessed  time.Time     `json:"last_accessed"`
	Timeout       time.Duration `json:"-"`
}

// Page returns the browsing context handle. Only the query loop may drive it
// while a query runs.
func (s *Session) Page() Page { return s.page }

// Stream returns the decision stream bound to this session.
func (s *Session) Stream() DecisionStream { return s.stream }

// Snapshot returns a consistent copy of the session's state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:            s.ID,
		Status:        s.status,
		PageURL:       s.page.URL(),
		CurrentQuery:  s.currentQuery,
		Result:        s.result,
		Error:         s.errMsg,
		CurrentStep:   s.currentStep,
		CurrentAction: s.currentAction,
		CreatedAt:     s.CreatedAt,
		LastAccessed:  s.lastAccessed,
		Timeout:       s.Timeout,
	}
}

// Touch updates the last-accessed timestamp. It never moves backwards.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now := time.Now(); now.After(s.lastAccessed) {
		s.lastAccessed = now
	}
}

// Expired reports whether the idle time since the last access exceeds the
// session timeout.
func (s *Session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastAccessed) > s.Timeout
}

// BeginQuery transitions the session to processing and registers the query
// loop's cancellation handle. It fails with ErrQueryInProgress if a query is
// already running; the running query's state is untouched.
//
// The returned channel must be closed by the loop when it has finished
// mutating the session and no longer holds the page.
func (s *Session) BeginQuery(question string, cancel context.CancelFunc) (chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusProcessing {
		return nil, ErrQueryInProgress
	}
	done := make(chan struct{})
	s.status = StatusProcessing
	s.currentQuery = question
	s.result = nil
	s.errMsg = ""
	s.currentStep = 0
	s.currentAction = ""
	s.cancel = cancel
	s.done = done
	return done, nil
}

// SetProgress records the current step and a rendering of its action as one
// atomic update.
func (s *Session) SetProgress(step int, action string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentStep = step
	s.currentAction = action
}

// CompleteQuery marks the query as successfully finished. A nil result is a
// completed query whose answer carried no value.
func (s *Session) CompleteQuery(result *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusCompleted
	s.result = result
	s.errMsg = ""
	s.cancel = nil
}

// FailQuery marks the query as terminally failed with a message.
func (s *Session) FailQuery(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.errMsg = msg
	s.result = nil
	s.cancel = nil
}

// close cancels any running query, waits for its loop to let go of the page,
// and releases the owned resources. The registry calls it after the record is
// already removed from the map, so it runs without the registry lock.
func (s *Session) close(ctx context.Context) {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("Timed out waiting for query loop to stop", "session_id", s.ID)
		}
	}

	if err := s.stream.Release(ctx); err != nil {
		slog.Warn("Error releasing decision stream", "session_id", s.ID, "error", err)
	}
	if err := s.page.Release(ctx); err != nil {
		slog.Warn("Error releasing page", "session_id", s.ID, "error", err)
	}
}
