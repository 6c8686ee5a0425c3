package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/quizloop/quizloop/internal/game"
)

// ConfigSource supplies room configuration. The registry treats it as
// read-only; the maintenance flag closes createOrJoin while set.
type ConfigSource interface {
	RoomConfig(roomID string) game.RoomConfig
	MaintenanceMode() bool
}

// QuestionSource supplies the immutable question set for a new room.
type QuestionSource interface {
	QuestionsForRoom(roomID string) ([]game.Question, error)
}

// BanChecker answers whether an account is currently banned. Moderation
// feeds it asynchronously; only future joins are affected.
type BanChecker interface {
	IsBanned(accountID string) bool
}

// RegistryConfig bounds room eviction.
type RegistryConfig struct {
	EmptyRoomGrace  time.Duration // rooms with zero connections longer than this are evicted
	ResultRetention time.Duration // finished rooms are kept this long for late result reads
	SweepInterval   time.Duration
}

func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		EmptyRoomGrace:  5 * time.Minute,
		ResultRetention: 10 * time.Minute,
		SweepInterval:   30 * time.Second,
	}
}

// Registry owns the roomID -> Room mapping. It is the only structure
// touched by multiple rooms' callers at once; everything behind it is
// serialized per room.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	clock       clockwork.Clock
	configs     ConfigSource
	questions   QuestionSource
	bans        BanChecker
	broadcaster Broadcaster
	flusher     ResultFlusher
	config      RegistryConfig

	wg sync.WaitGroup
}

func NewRegistry(clock clockwork.Clock, configs ConfigSource, questions QuestionSource, bans BanChecker, b Broadcaster, f ResultFlusher, cfg RegistryConfig) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		clock:       clock,
		configs:     configs,
		questions:   questions,
		bans:        bans,
		broadcaster: b,
		flusher:     f,
		config:      cfg,
	}
}

// Start launches the eviction sweeper. It stops when ctx is cancelled.
func (g *Registry) Start(ctx context.Context) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := g.clock.NewTicker(g.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				g.sweep(ctx)
			}
		}
	}()
	log.Info().Dur("sweep_interval", g.config.SweepInterval).Msg("room registry started")
}

// CreateOrJoin allocates or retrieves the room and admits the player.
// A caller can never observe a room mid-eviction as joinable: a closed
// room rejects the join and the registry retries with a fresh room.
func (g *Registry) CreateOrJoin(ctx context.Context, roomID string, req JoinRequest) (*Room, error) {
	if g.configs.MaintenanceMode() {
		return nil, game.ErrMaintenanceMode
	}
	if req.AccountID != "" && g.bans.IsBanned(req.AccountID) {
		return nil, game.ErrBanned
	}

	for attempt := 0; attempt < 2; attempt++ {
		rm, err := g.getOrCreate(roomID)
		if err != nil {
			return nil, err
		}

		err = rm.Join(ctx, req)
		if errors.Is(err, game.ErrRoomClosed) {
			// Lost the race with eviction; drop the dead handle and retry
			// with a fresh room.
			g.mu.Lock()
			if g.rooms[roomID] == rm {
				delete(g.rooms, roomID)
			}
			g.mu.Unlock()
			continue
		}
		if err != nil {
			return nil, err
		}
		return rm, nil
	}
	return nil, game.ErrRoomNotFound
}

// Get returns an existing room without creating one.
func (g *Registry) Get(roomID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rm, ok := g.rooms[roomID]
	if !ok {
		return nil, game.ErrRoomNotFound
	}
	return rm, nil
}

// RoomCount returns the number of live rooms.
func (g *Registry) RoomCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

func (g *Registry) getOrCreate(roomID string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rm, ok := g.rooms[roomID]; ok {
		return rm, nil
	}

	cfg := g.configs.RoomConfig(roomID).Normalize()
	questions, err := g.questions.QuestionsForRoom(roomID)
	if err != nil {
		return nil, err
	}

	rm := newRoom(roomID, cfg, questions, g.clock, g.broadcaster, g.flusher)
	g.rooms[roomID] = rm
	rm.start()
	log.Info().Str("room_id", roomID).Int("max_players", cfg.MaxPlayers).Msg("room created")
	return rm, nil
}

func (g *Registry) sweep(ctx context.Context) {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		rooms = append(rooms, rm)
	}
	g.mu.Unlock()

	now := g.clock.Now()
	for _, rm := range rooms {
		snapCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		snap, err := rm.Snapshot(snapCtx)
		cancel()
		if err != nil {
			// Room already closing; make sure the handle is gone.
			g.remove(rm)
			continue
		}

		switch {
		case snap.Phase == game.PhaseFinished && now.Sub(snap.FinishedAt) > g.config.ResultRetention:
			log.Info().Str("room_id", rm.ID()).Msg("evicting finished room past retention")
			g.evict(rm)
		case snap.ConnectedCount == 0 && !snap.EmptySince.IsZero() && now.Sub(snap.EmptySince) > g.config.EmptyRoomGrace:
			log.Info().Str("room_id", rm.ID()).Msg("evicting empty room past grace period")
			g.evict(rm)
		}
	}
}

// evict removes the room from the map before closing it, so no joiner can
// pick up the handle after its timers are cancelled.
func (g *Registry) evict(rm *Room) {
	g.remove(rm)
	rm.Close()
	<-rm.Done()
}

func (g *Registry) remove(rm *Room) {
	g.mu.Lock()
	if g.rooms[rm.ID()] == rm {
		delete(g.rooms, rm.ID())
	}
	g.mu.Unlock()
}

// Shutdown closes every room and waits for their loops and the sweeper to
// exit.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, rm := range g.rooms {
		rooms = append(rooms, rm)
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	for _, rm := range rooms {
		rm.Close()
	}
	for _, rm := range rooms {
		<-rm.Done()
	}
	g.wg.Wait()
	log.Info().Int("rooms", len(rooms)).Msg("room registry drained")
}
