package room

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quizloop/quizloop/internal/game"
)

type fakeConfigSource struct {
	mu          sync.Mutex
	cfg         game.RoomConfig
	maintenance bool
}

func (s *fakeConfigSource) RoomConfig(roomID string) game.RoomConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

func (s *fakeConfigSource) MaintenanceMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintenance
}

func (s *fakeConfigSource) setMaintenance(on bool) {
	s.mu.Lock()
	s.maintenance = on
	s.mu.Unlock()
}

type fakeQuestionSource struct{}

func (fakeQuestionSource) QuestionsForRoom(roomID string) ([]game.Question, error) {
	return testQuestions(1), nil
}

type fakeBanList struct {
	mu     sync.Mutex
	banned map[string]bool
}

func (b *fakeBanList) IsBanned(accountID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.banned[accountID]
}

func (b *fakeBanList) ban(accountID string) {
	b.mu.Lock()
	if b.banned == nil {
		b.banned = make(map[string]bool)
	}
	b.banned[accountID] = true
	b.mu.Unlock()
}

func newTestRegistry(t *testing.T) (*Registry, *fakeConfigSource, *fakeBanList, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	configs := &fakeConfigSource{cfg: testRoomConfig()}
	bans := &fakeBanList{}
	g := NewRegistry(clock, configs, fakeQuestionSource{}, bans, newFakeBroadcaster(), newFakeFlusher(), RegistryConfig{
		EmptyRoomGrace:  time.Minute,
		ResultRetention: 5 * time.Minute,
		SweepInterval:   30 * time.Second,
	})
	t.Cleanup(g.Shutdown)
	return g, configs, bans, clock
}

func joinReq(playerID string) JoinRequest {
	return JoinRequest{PlayerID: playerID, AccountID: "acct-" + playerID, DisplayName: playerID, Epoch: 1}
}

func TestCreateOrJoinCreatesAndReuses(t *testing.T) {
	g, _, _, _ := newTestRegistry(t)
	ctx := context.Background()

	r1, err := g.CreateOrJoin(ctx, "room-a", joinReq("p1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	r2, err := g.CreateOrJoin(ctx, "room-a", joinReq("p2"))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if r1 != r2 {
		t.Fatal("second join created a new room instead of reusing")
	}
	if g.RoomCount() != 1 {
		t.Fatalf("room count = %d, want 1", g.RoomCount())
	}
}

func TestMaintenanceModeClosesJoins(t *testing.T) {
	g, configs, _, _ := newTestRegistry(t)
	configs.setMaintenance(true)

	_, err := g.CreateOrJoin(context.Background(), "room-a", joinReq("p1"))
	if !errors.Is(err, game.ErrMaintenanceMode) {
		t.Fatalf("join during maintenance = %v, want ErrMaintenanceMode", err)
	}

	configs.setMaintenance(false)
	if _, err := g.CreateOrJoin(context.Background(), "room-a", joinReq("p1")); err != nil {
		t.Fatalf("join after maintenance = %v", err)
	}
}

func TestBannedAccountRejected(t *testing.T) {
	g, _, bans, _ := newTestRegistry(t)
	ctx := context.Background()

	if _, err := g.CreateOrJoin(ctx, "room-a", joinReq("p1")); err != nil {
		t.Fatalf("join: %v", err)
	}

	// The ban lands asynchronously; p1 stays in the in-progress room but
	// any future join is rejected.
	bans.ban("acct-p1")
	_, err := g.CreateOrJoin(ctx, "room-b", joinReq("p1"))
	if !errors.Is(err, game.ErrBanned) {
		t.Fatalf("banned join = %v, want ErrBanned", err)
	}

	rm, err := g.Get("room-a")
	if err != nil {
		t.Fatalf("get room-a: %v", err)
	}
	snap, err := rm.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Players) != 1 {
		t.Errorf("room-a players = %d, want banned player still present", len(snap.Players))
	}
}

func TestGuestsSkipBanCheck(t *testing.T) {
	g, _, bans, _ := newTestRegistry(t)
	bans.ban("") // a ban entry for the empty account must never match guests

	req := JoinRequest{PlayerID: "guest-1", DisplayName: "guest", Epoch: 1}
	if _, err := g.CreateOrJoin(context.Background(), "room-a", req); err != nil {
		t.Fatalf("guest join = %v, want nil", err)
	}
}

func TestSweepEvictsEmptyRoom(t *testing.T) {
	g, _, _, clock := newTestRegistry(t)
	ctx := context.Background()

	rm, err := g.CreateOrJoin(ctx, "room-a", joinReq("p1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := rm.Leave(ctx, "p1"); err != nil {
		t.Fatalf("leave: %v", err)
	}

	clock.Advance(2 * time.Minute)
	g.sweep(ctx)

	if g.RoomCount() != 0 {
		t.Fatalf("room count after sweep = %d, want 0", g.RoomCount())
	}
	select {
	case <-rm.Done():
	case <-time.After(time.Second):
		t.Fatal("evicted room loop did not exit")
	}
}

func TestSweepKeepsActiveRoom(t *testing.T) {
	g, _, _, clock := newTestRegistry(t)
	ctx := context.Background()

	if _, err := g.CreateOrJoin(ctx, "room-a", joinReq("p1")); err != nil {
		t.Fatalf("create: %v", err)
	}

	clock.Advance(2 * time.Minute)
	g.sweep(ctx)

	if g.RoomCount() != 1 {
		t.Fatalf("room count = %d, want active room kept", g.RoomCount())
	}
}

func TestSweepEvictsFinishedRoomAfterRetention(t *testing.T) {
	g, _, _, clock := newTestRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rm, err := g.CreateOrJoin(ctx, "room-a", joinReq("p1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := rm.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Drive the single-question game to Finished.
	for i := 0; i < 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
	}
	if err := rm.SubmitAnswer(ctx, "p1", 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	clock.BlockUntil(1)
	clock.Advance(2 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := rm.Snapshot(ctx)
		if err != nil {
			t.Fatalf("snapshot: %v", err)
		}
		if snap.Phase == game.PhaseFinished {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("room never finished, phase = %s", snap.Phase)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Still within retention: the room survives for late result reads.
	g.sweep(ctx)
	if g.RoomCount() != 1 {
		t.Fatalf("room count inside retention = %d, want 1", g.RoomCount())
	}

	clock.Advance(6 * time.Minute)
	g.sweep(ctx)
	if g.RoomCount() != 0 {
		t.Fatalf("room count past retention = %d, want 0", g.RoomCount())
	}
}

func TestClosedRoomNotJoinableAndRecreated(t *testing.T) {
	g, _, _, _ := newTestRegistry(t)
	ctx := context.Background()

	rm, err := g.CreateOrJoin(ctx, "room-a", joinReq("p1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rm.Close()
	<-rm.Done()

	// The dead handle is never observed as joinable; the registry hands
	// out a fresh room instead.
	rm2, err := g.CreateOrJoin(ctx, "room-a", joinReq("p2"))
	if err != nil {
		t.Fatalf("rejoin after close: %v", err)
	}
	if rm2 == rm {
		t.Fatal("join returned the closed room handle")
	}
}

func TestConcurrentJoins(t *testing.T) {
	g, _, _, _ := newTestRegistry(t)
	ctx := context.Background()

	const n = 4 // matches the room capacity
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.CreateOrJoin(ctx, "room-a", joinReq(string(rune('a'+i))))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}
	if g.RoomCount() != 1 {
		t.Fatalf("room count = %d, want 1", g.RoomCount())
	}
}
