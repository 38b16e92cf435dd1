package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/webvoyager/internal/agent"
	"github.com/avolkov/webvoyager/internal/session"
	"github.com/avolkov/webvoyager/internal/store"
)

type fakePage struct{}

func (fakePage) URL() string                   { return "https://example.com" }
func (fakePage) Release(context.Context) error { return nil }

// scriptedStream replays a fixed sequence of step events, then returns err.
// A non-nil gate blocks every Step until the gate is closed.
type scriptedStream struct {
	events []session.StepEvent
	err    error
	gate   chan struct{}

	mu  sync.Mutex
	idx int
}

func (s *scriptedStream) Begin(string) {}

func (s *scriptedStream) Step(ctx context.Context) (session.StepEvent, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return session.StepEvent{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idx < len(s.events) {
		ev := s.events[s.idx]
		s.idx++
		return ev, nil
	}
	if s.err != nil {
		return session.StepEvent{}, s.err
	}
	<-ctx.Done()
	return session.StepEvent{}, ctx.Err()
}

func (s *scriptedStream) Release(context.Context) error { return nil }

type scriptedFactory struct {
	stream *scriptedStream
}

func (f *scriptedFactory) NewResources(context.Context) (session.Page, session.DecisionStream, error) {
	return fakePage{}, f.stream, nil
}

type memoryRepo struct {
	mu      sync.Mutex
	records []*store.QueryRecord
}

func (r *memoryRepo) RecordQuery(_ context.Context, rec *store.QueryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *memoryRepo) RecentQueries(context.Context, int) ([]*store.QueryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*store.QueryRecord(nil), r.records...), nil
}

func (r *memoryRepo) Ping(context.Context) error { return nil }
func (r *memoryRepo) Close() error               { return nil }

func (r *memoryRepo) last() *store.QueryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	return r.records[len(r.records)-1]
}

func toolEvent(name string, args ...string) session.StepEvent {
	return session.StepEvent{Node: "agent", Decision: &agent.Decision{Kind: agent.KindTool, Name: name, Args: args}}
}

func answerEvent(args ...string) session.StepEvent {
	return session.StepEvent{Node: "agent", Decision: &agent.Decision{Kind: agent.KindAnswer, Name: agent.AnswerAction, Args: args}}
}

func bookkeepingEvent(node string) session.StepEvent {
	return session.StepEvent{Node: node}
}

func newSession(t *testing.T, stream *scriptedStream) *session.Session {
	t.Helper()
	r := session.NewRegistry(&scriptedFactory{stream: stream}, time.Minute)
	s, err := r.Create(context.Background(), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { r.CloseAll(context.Background()) })
	return s
}

func waitTerminal(t *testing.T, s *session.Session) session.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v := s.Snapshot()
		if v.Status == session.StatusCompleted || v.Status == session.StatusError {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("Query did not finish, status %s", s.Snapshot().Status)
	return session.View{}
}

func TestRunCompletesOnAnswer(t *testing.T) {
	repo := &memoryRepo{}
	stream := &scriptedStream{events: []session.StepEvent{
		bookkeepingEvent("update_scratchpad"),
		toolEvent("Click", "7"),
		bookkeepingEvent("Click"),
		answerEvent("The answer is 42."),
	}}
	s := newSession(t, stream)

	require.NoError(t, New(repo).Run(s, "what is the answer", 150))

	v := waitTerminal(t, s)
	assert.Equal(t, session.StatusCompleted, v.Status)
	require.NotNil(t, v.Result)
	assert.Equal(t, "The answer is 42.", *v.Result)
	// Bookkeeping events do not count as steps.
	assert.Equal(t, 2, v.CurrentStep)
	assert.Equal(t, "ANSWER: The answer is 42.", v.CurrentAction)

	require.Eventually(t, func() bool { return repo.last() != nil }, 2*time.Second, 5*time.Millisecond)
	rec := repo.last()
	assert.Equal(t, s.ID, rec.SessionID)
	assert.Equal(t, "what is the answer", rec.Question)
	assert.Equal(t, string(session.StatusCompleted), rec.Status)
	assert.Equal(t, 2, rec.Steps)
}

func TestRunAnswerWithoutContent(t *testing.T) {
	stream := &scriptedStream{events: []session.StepEvent{answerEvent()}}
	s := newSession(t, stream)

	require.NoError(t, New(nil).Run(s, "q", 150))

	v := waitTerminal(t, s)
	assert.Equal(t, session.StatusCompleted, v.Status)
	assert.Nil(t, v.Result)
}

func TestRunMaxStepsExceeded(t *testing.T) {
	repo := &memoryRepo{}
	events := make([]session.StepEvent, 0, 10)
	for i := 0; i < 10; i++ {
		events = append(events, toolEvent("Wait"))
	}
	stream := &scriptedStream{events: events}
	s := newSession(t, stream)

	require.NoError(t, New(repo).Run(s, "q", 3))

	v := waitTerminal(t, s)
	assert.Equal(t, session.StatusError, v.Status)
	assert.Contains(t, v.Error, "max steps (3) exceeded")
	assert.Nil(t, v.Result)

	require.Eventually(t, func() bool { return repo.last() != nil }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, string(session.StatusError), repo.last().Status)
}

func TestRunStreamFailure(t *testing.T) {
	stream := &scriptedStream{err: errors.New("browser crashed")}
	s := newSession(t, stream)

	require.NoError(t, New(nil).Run(s, "q", 150))

	v := waitTerminal(t, s)
	assert.Equal(t, session.StatusError, v.Status)
	assert.Contains(t, v.Error, "browser crashed")
}

func TestRunRejectsConcurrentQuery(t *testing.T) {
	gate := make(chan struct{})
	stream := &scriptedStream{gate: gate, events: []session.StepEvent{answerEvent("done")}}
	s := newSession(t, stream)
	e := New(nil)

	require.NoError(t, e.Run(s, "first", 150))
	assert.ErrorIs(t, e.Run(s, "second", 150), session.ErrQueryInProgress)

	close(gate)
	v := waitTerminal(t, s)
	assert.Equal(t, session.StatusCompleted, v.Status)
}

func TestRunNewQueryAfterCompletion(t *testing.T) {
	stream := &scriptedStream{events: []session.StepEvent{answerEvent("one")}}
	s := newSession(t, stream)
	e := New(nil)

	require.NoError(t, e.Run(s, "first", 150))
	waitTerminal(t, s)

	stream.mu.Lock()
	stream.events = append(stream.events, answerEvent("two"))
	stream.mu.Unlock()

	require.NoError(t, e.Run(s, "second", 150))
	v := waitTerminal(t, s)
	require.NotNil(t, v.Result)
	assert.Equal(t, "two", *v.Result)
}
