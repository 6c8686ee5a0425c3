package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type fakeStore struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
	byRoom   map[string][]FinalResult
}

func (s *fakeStore) PutResults(roomID string, results []FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("store unreachable")
	}
	if s.byRoom == nil {
		s.byRoom = make(map[string][]FinalResult)
	}
	s.byRoom[roomID] = results
	return nil
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *fakeStore) stored(roomID string) []FinalResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byRoom[roomID]
}

type fakeSink struct {
	mu    sync.Mutex
	rooms []string
}

func (s *fakeSink) PublishFinished(roomID string, results []FinalResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, roomID)
	return nil
}

func sampleResults() []FinalResult {
	return []FinalResult{
		{Rank: 1, PlayerID: "p1", DisplayName: "Ada", Score: 150},
		{Rank: 2, PlayerID: "p2", DisplayName: "Bob", Score: 50},
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFlushWritesStoreAndSink(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	f := NewFlusher(store, sink, clockwork.NewRealClock(), DefaultFlusherConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	f.Flush("room-1", sampleResults())

	waitUntil(t, func() bool { return store.stored("room-1") != nil }, "results never reached the store")
	waitUntil(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.rooms) == 1
	}, "finished room never announced on the sink")
}

func TestFlushRetriesUntilStoreRecovers(t *testing.T) {
	store := &fakeStore{failures: 2}
	f := NewFlusher(store, nil, clockwork.NewRealClock(), FlusherConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
		QueueSize:  4,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	f.Flush("room-1", sampleResults())

	waitUntil(t, func() bool { return store.stored("room-1") != nil }, "results never stored after store recovered")
	if got := store.callCount(); got != 3 {
		t.Fatalf("store called %d times, want 3 (two failures then success)", got)
	}
	if dead := f.DeadRoomIDs(); len(dead) != 0 {
		t.Fatalf("dead queue = %v, want empty", dead)
	}
}

func TestFlushExhaustsRetryBudget(t *testing.T) {
	store := &fakeStore{failures: 100}
	f := NewFlusher(store, nil, clockwork.NewRealClock(), FlusherConfig{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		QueueSize:  4,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)

	f.Flush("room-1", sampleResults())

	waitUntil(t, func() bool { return len(f.DeadRoomIDs()) == 1 }, "exhausted flush never parked in dead queue")
	if got := store.callCount(); got != 3 {
		t.Fatalf("store called %d times, want 3 (initial + 2 retries)", got)
	}
}

func TestStopDrainsQueuedFlushes(t *testing.T) {
	store := &fakeStore{}
	sink := &fakeSink{}
	f := NewFlusher(store, sink, clockwork.NewRealClock(), DefaultFlusherConfig())

	// Rooms finish and flush before the worker sees the stop signal; every
	// queued result must still reach the store during the drain.
	f.Flush("room-1", sampleResults())
	f.Flush("room-2", sampleResults())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Start(ctx)
	f.Wait()

	for _, roomID := range []string{"room-1", "room-2"} {
		if store.stored(roomID) == nil {
			t.Errorf("results for %s lost during drain", roomID)
		}
	}
	if dead := f.DeadRoomIDs(); len(dead) != 0 {
		t.Errorf("dead queue = %v, want empty", dead)
	}
}

func TestFlushNeverBlocksCaller(t *testing.T) {
	store := &fakeStore{failures: 100}
	f := NewFlusher(store, nil, clockwork.NewRealClock(), FlusherConfig{
		MaxRetries: 0,
		RetryDelay: time.Millisecond,
		QueueSize:  1,
	})
	// Worker intentionally not started: the queue fills and overflow must
	// go to the dead queue without blocking.

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.Flush("room-x", sampleResults())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Flush blocked the caller")
	}
}
