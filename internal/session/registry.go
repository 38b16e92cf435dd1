package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// releaseTimeout bounds resource cleanup for a single session.
const releaseTimeout = 30 * time.Second

// Registry is the concurrent-safe store of sessions. The mutex guards only
// the map structure; per-record mutation goes through the record's own lock.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  Factory

	sweepInterval time.Duration
	stopSweep     context.CancelFunc
	sweepDone     chan struct{}
}

// NewRegistry creates a registry backed by the given resource factory.
func NewRegistry(factory Factory, sweepInterval time.Duration) *Registry {
	return &Registry{
		sessions:      make(map[string]*Session),
		factory:       factory,
		sweepInterval: sweepInterval,
	}
}

// Create allocates a fresh session with the given idle timeout. No partial
// record is left visible if resource acquisition fails.
func (r *Registry) Create(ctx context.Context, timeout time.Duration) (*Session, error) {
	page, stream, err := r.factory.NewResources(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceUnavailable, err)
	}

	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		Timeout:      timeout,
		page:         page,
		stream:       stream,
		status:       StatusActive,
		lastAccessed: now,
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	slog.Info("Session created", "session_id", s.ID, "timeout", timeout)
	return s, nil
}

// Get looks up a session by id and touches its last-accessed timestamp. An
// expired session is removed exactly once; its resources are released
// asynchronously and the caller gets ErrExpired.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.Expired() {
		delete(r.sessions, id)
		r.mu.Unlock()
		go r.release(s)
		slog.Info("Session expired on lookup", "session_id", id)
		return nil, ErrExpired
	}
	s.Touch()
	r.mu.Unlock()
	return s, nil
}

// Close removes a session and releases its resources. It returns false if the
// id is unknown; double-close is safe. The release runs without the registry
// lock so a slow page teardown never blocks concurrent lookups.
func (r *Registry) Close(ctx context.Context, id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, id)
	r.mu.Unlock()

	s.close(ctx)
	slog.Info("Session closed", "session_id", id)
	return true
}

// CloseAll closes every current session concurrently, tolerating individual
// failures, then stops the periodic sweep. Used at shutdown.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	g := new(errgroup.Group)
	for _, s := range all {
		g.Go(func() error {
			s.close(ctx)
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	stop, done := r.stopSweep, r.sweepDone
	r.stopSweep, r.sweepDone = nil, nil
	r.mu.Unlock()
	if stop != nil {
		stop()
		<-done
	}
	slog.Info("All sessions closed", "count", len(all))
}

// Count returns the current number of sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns immutable copies of every session's state, keyed by id.
func (r *Registry) Snapshot() map[string]View {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.Unlock()

	views := make(map[string]View, len(all))
	for _, s := range all {
		views[s.ID] = s.Snapshot()
	}
	return views
}

// StartSweep runs the background expiry sweep until ctx is canceled or
// CloseAll is called.
func (r *Registry) StartSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	sweepDone := make(chan struct{})

	r.mu.Lock()
	r.stopSweep = cancel
	r.sweepDone = sweepDone
	r.mu.Unlock()

	ticker := time.NewTicker(r.sweepInterval)
	go func() {
		defer close(sweepDone)
		defer ticker.Stop()
		slog.Info("Expiry sweep started", "interval", r.sweepInterval)

		for {
			select {
			case <-ticker.C:
				r.sweepExpired()
			case <-sweepCtx.Done():
				slog.Info("Expiry sweep stopped", "reason", sweepCtx.Err())
				return
			}
		}
	}()
}

// sweepExpired removes every currently expired session. Removal happens under
// the lock so it is exactly-once even when racing a Get; the actual resource
// release happens outside the lock.
func (r *Registry) sweepExpired() {
	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.Expired() {
			delete(r.sessions, id)
			expired = append(expired, s)
		}
	}
	r.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	slog.Info("Sweep found expired sessions", "count", len(expired))
	for _, s := range expired {
		slog.Info("Cleaning up expired session", "session_id", s.ID)
		r.release(s)
	}
}

// release closes a session that is already removed from the map.
func (r *Registry) release(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	s.close(ctx)
}
