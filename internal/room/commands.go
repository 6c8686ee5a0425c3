package room

import (
	"context"
	"time"

	"github.com/quizloop/quizloop/internal/game"
)

// JoinRequest carries everything the room needs to admit or rebind a
// player. Epoch is the session fence epoch of the joining connection.
type JoinRequest struct {
	PlayerID    string
	AccountID   string
	DisplayName string
	Epoch       uint64
}

// PlayerSummary is a read-only view of one player's state, used by
// snapshots and tests.
type PlayerSummary struct {
	PlayerID        string
	DisplayName     string
	Score           int
	Connected       bool
	Absent          bool
	AnsweredCurrent bool
	LeftTab         bool
}

// Snapshot is a consistent view of the room taken inside its serialized
// loop.
type Snapshot struct {
	RoomID         string
	Phase          game.Phase
	QuestionIndex  int
	QuestionCount  int
	Deadline       time.Time
	ConnectedCount int
	EmptySince     time.Time
	FinishedAt     time.Time
	Players        []PlayerSummary
}

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdLeave
	cmdStart
	cmdSubmit
	cmdVisibilityLost
	cmdDisconnect
	cmdSnapshot
)

// command is a message delivered into the room's serialized loop. Reply
// channels are buffered so the loop never blocks on a departed caller.
type command struct {
	kind     cmdKind
	join     JoinRequest
	playerID string
	option   int
	epoch    uint64
	errc     chan error
	snapc    chan Snapshot
}

// Join admits a new player or rebinds a reconnecting one.
func (r *Room) Join(ctx context.Context, req JoinRequest) error {
	return r.send(ctx, command{kind: cmdJoin, join: req, errc: make(chan error, 1)})
}

// Leave removes the player from the room entirely.
func (r *Room) Leave(ctx context.Context, playerID string) error {
	return r.send(ctx, command{kind: cmdLeave, playerID: playerID, errc: make(chan error, 1)})
}

// Start fires the external start signal, moving the room out of Lobby.
func (r *Room) Start(ctx context.Context) error {
	return r.send(ctx, command{kind: cmdStart, errc: make(chan error, 1)})
}

// SubmitAnswer records a player's answer for the current question.
func (r *Room) SubmitAnswer(ctx context.Context, playerID string, option int) error {
	return r.send(ctx, command{kind: cmdSubmit, playerID: playerID, option: option, errc: make(chan error, 1)})
}

// VisibilityLost flags the player for the current question. Replays within
// the same question are idempotent.
func (r *Room) VisibilityLost(ctx context.Context, playerID string) error {
	return r.send(ctx, command{kind: cmdVisibilityLost, playerID: playerID, errc: make(chan error, 1)})
}

// Disconnect marks the player's connection as gone. The player stays in
// the room so a reconnect mid-question keeps score and answer state. The
// epoch guards against a stale transport reporting a disconnect after the
// player already reconnected.
func (r *Room) Disconnect(ctx context.Context, playerID string, epoch uint64) error {
	return r.send(ctx, command{kind: cmdDisconnect, playerID: playerID, epoch: epoch, errc: make(chan error, 1)})
}

// Snapshot returns a consistent view of the room state.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	c := command{kind: cmdSnapshot, snapc: make(chan Snapshot, 1)}
	select {
	case r.cmds <- c:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-r.ctx.Done():
		return Snapshot{}, game.ErrRoomClosed
	}
	select {
	case snap := <-c.snapc:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case <-r.ctx.Done():
		return Snapshot{}, game.ErrRoomClosed
	}
}

func (r *Room) send(ctx context.Context, c command) error {
	select {
	case r.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return game.ErrRoomClosed
	}
	select {
	case err := <-c.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return game.ErrRoomClosed
	}
}
