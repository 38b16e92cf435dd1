package session

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePage struct {
	url      string
	released atomic.Bool
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Release(context.Context) error {
	p.released.Store(true)
	return nil
}

type fakeStream struct {
	question string
	released atomic.Bool
}

func (s *fakeStream) Begin(question string) { s.question = question }

func (s *fakeStream) Step(ctx context.Context) (StepEvent, error) {
	select {
	case <-ctx.Done():
		return StepEvent{}, ctx.Err()
	case <-time.After(time.Millisecond):
		return StepEvent{Node: "agent"}, nil
	}
}

func (s *fakeStream) Release(context.Context) error {
	s.released.Store(true)
	return nil
}

type fakeFactory struct {
	err   error
	pages []*fakePage
}

func (f *fakeFactory) NewResources(context.Context) (Page, DecisionStream, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	p := &fakePage{url: "https://example.com"}
	f.pages = append(f.pages, p)
	return p, &fakeStream{}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("Condition not met within deadline")
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry(&fakeFactory{}, time.Minute)

	s, err := r.Create(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.ID == "" {
		t.Error("Expected a non-empty session id")
	}

	v := s.Snapshot()
	if v.Status != StatusActive {
		t.Errorf("Expected status active, got %s", v.Status)
	}
	if !v.LastAccessed.Equal(v.CreatedAt) {
		t.Errorf("Expected last_accessed == created_at on a fresh session, got %v and %v", v.LastAccessed, v.CreatedAt)
	}

	got, err := r.Get(s.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != s {
		t.Error("Expected Get to return the created session")
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", r.Count())
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(&fakeFactory{}, time.Minute)

	_, err := r.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestRegistryCreateFactoryFailure(t *testing.T) {
	r := NewRegistry(&fakeFactory{err: errors.New("browser down")}, time.Minute)

	_, err := r.Create(context.Background(), time.Hour)
	if !errors.Is(err, ErrResourceUnavailable) {
		t.Errorf("Expected ErrResourceUnavailable, got %v", err)
	}
	if r.Count() != 0 {
		t.Errorf("Expected no partial record, got %d sessions", r.Count())
	}
}

func TestRegistryGetTouches(t *testing.T) {
	r := NewRegistry(&fakeFactory{}, time.Minute)
	s, err := r.Create(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	before := s.Snapshot().LastAccessed
	time.Sleep(2 * time.Millisecond)

	if _, err := r.Get(s.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	after := s.Snapshot().LastAccessed
	if !after.After(before) {
		t.Errorf("Expected Get to advance last_accessed, got %v then %v", before, after)
	}
}

func TestRegistryGetExpired(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f, time.Minute)
	s, err := r.Create(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	s.mu.Lock()
	s.lastAccessed = time.Now().Add(-61 * time.Minute)
	s.mu.Unlock()

	_, err = r.Get(s.ID)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("Expected ErrExpired, got %v", err)
	}

	// The record is removed exactly once; a second lookup misses the map.
	_, err = r.Get(s.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after expiry, got %v", err)
	}

	waitFor(t, func() bool { return f.pages[0].released.Load() })
}

func TestRegistryClose(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f, time.Minute)
	s, err := r.Create(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !r.Close(context.Background(), s.ID) {
		t.Error("Expected Close to report the session was found")
	}
	if !f.pages[0].released.Load() {
		t.Error("Expected the page to be released on close")
	}
	if r.Close(context.Background(), s.ID) {
		t.Error("Expected double close to report not found")
	}
	if r.Count() != 0 {
		t.Errorf("Expected 0 sessions, got %d", r.Count())
	}
}

func TestRegistryCloseAll(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f, time.Minute)
	for i := 0; i < 5; i++ {
		if _, err := r.Create(context.Background(), time.Hour); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	r.CloseAll(context.Background())

	if r.Count() != 0 {
		t.Errorf("Expected 0 sessions after CloseAll, got %d", r.Count())
	}
	for i, p := range f.pages {
		if !p.released.Load() {
			t.Errorf("Expected page %d to be released", i)
		}
	}
}

func TestRegistrySweepRemovesExpired(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f, 10*time.Millisecond)

	fresh, err := r.Create(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	stale, err := r.Create(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	stale.mu.Lock()
	stale.lastAccessed = time.Now().Add(-2 * time.Hour)
	stale.mu.Unlock()

	r.StartSweep(context.Background())
	defer r.CloseAll(context.Background())

	waitFor(t, func() bool { return r.Count() == 1 })

	if _, err := r.Get(fresh.ID); err != nil {
		t.Errorf("Expected the fresh session to survive the sweep, got %v", err)
	}
	if _, err := r.Get(stale.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected the stale session to be gone, got %v", err)
	}
}

func TestRegistryCloseAllStopsSweepOnce(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f, 10*time.Millisecond)
	if _, err := r.Create(context.Background(), time.Hour); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	r.StartSweep(context.Background())

	r.CloseAll(context.Background())
	if r.Count() != 0 {
		t.Errorf("Expected 0 sessions after CloseAll, got %d", r.Count())
	}

	// A second CloseAll must not block on or re-stop the sweep.
	done := make(chan struct{})
	go func() {
		r.CloseAll(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Second CloseAll did not return")
	}
}

func TestSessionSnapshotIsConsistent(t *testing.T) {
	r := NewRegistry(&fakeFactory{}, time.Minute)
	s, err := r.Create(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	done, err := s.BeginQuery("what is the weather", func() {})
	if err != nil {
		t.Fatalf("BeginQuery failed: %v", err)
	}
	s.SetProgress(3, "Click: 7")

	v := s.Snapshot()
	if v.Status != StatusProcessing || v.CurrentStep != 3 || v.CurrentAction != "Click: 7" {
		t.Errorf("Unexpected snapshot: %+v", v)
	}
	if v.CurrentQuery != "what is the weather" {
		t.Errorf("Expected the query to be recorded, got %q", v.CurrentQuery)
	}

	result := "sunny"
	s.CompleteQuery(&result)
	close(done)

	v = s.Snapshot()
	if v.Status != StatusCompleted || v.Result == nil || *v.Result != "sunny" {
		t.Errorf("Unexpected terminal snapshot: %+v", v)
	}
}

func TestSessionBeginQueryWhileProcessing(t *testing.T) {
	r := NewRegistry(&fakeFactory{}, time.Minute)
	s, err := r.Create(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	done, err := s.BeginQuery("first", func() {})
	if err != nil {
		t.Fatalf("BeginQuery failed: %v", err)
	}

	if _, err := s.BeginQuery("second", func() {}); !errors.Is(err, ErrQueryInProgress) {
		t.Errorf("Expected ErrQueryInProgress, got %v", err)
	}

	s.FailQuery("canceled")
	close(done)

	// A terminal session accepts a new query.
	done2, err := s.BeginQuery("third", func() {})
	if err != nil {
		t.Fatalf("Expected a new query after the first finished, got %v", err)
	}
	v := s.Snapshot()
	if v.CurrentStep != 0 || v.Error != "" || v.Result != nil {
		t.Errorf("Expected progress fields reset, got %+v", v)
	}
	s.CompleteQuery(nil)
	close(done2)
}
