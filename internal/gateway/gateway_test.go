package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quizloop/quizloop/internal/events"
	"github.com/quizloop/quizloop/internal/game"
)

func TestErrorCodeMapping(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{game.ErrRoomFull, "room_full"},
		{game.ErrMaintenanceMode, "maintenance_mode"},
		{game.ErrBanned, "banned"},
		{game.ErrAlreadyAnswered, "already_answered"},
		{game.ErrStaleSession, "stale_session"},
		{game.ErrRoomNotFound, "room_not_found"},
		{game.ErrInvalidPhase, "invalid_phase"},
		{game.ErrRoomClosed, "room_closed"},
		{game.ErrPlayerNotFound, "player_not_found"},
		{game.ErrIdentityMismatch, "identity_mismatch"},
		{game.ErrInvalidOption, "invalid_option"},
		{errors.New("boom"), "internal"},
	}
	for _, tc := range cases {
		if got := errorCode(tc.err); got != tc.code {
			t.Errorf("errorCode(%v) = %q, want %q", tc.err, got, tc.code)
		}
	}

	// Wrapped errors still map through the taxonomy.
	wrapped := fmt.Errorf("join room: %w", game.ErrRoomFull)
	if got := errorCode(wrapped); got != "room_full" {
		t.Errorf("errorCode(wrapped) = %q, want room_full", got)
	}
}

func newTestConnection(id, roomID, playerID string) *Connection {
	return &Connection{
		ID:       id,
		RoomID:   roomID,
		PlayerID: playerID,
		send:     make(chan []byte, 8),
	}
}

func receiveEvent(t *testing.T, conn *Connection) events.Event {
	t.Helper()
	select {
	case data := <-conn.send:
		var ev events.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	default:
		t.Fatalf("connection %s received no event", conn.ID)
		return events.Event{}
	}
}

func TestBroadcastReachesEveryRoomConnection(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	a := newTestConnection("conn-a", "room-1", "player-a")
	b := newTestConnection("conn-b", "room-1", "player-b")
	other := newTestConnection("conn-c", "room-2", "player-c")
	cm.register(a)
	cm.register(b)
	cm.register(other)

	ev := events.New("room-1", events.TypePhaseChanged, time.Now().UTC(), events.PhaseChangedPayload{Phase: string(game.PhaseCountdown)})
	cm.handleBroadcast(broadcastMessage{roomID: "room-1", event: ev})

	for _, conn := range []*Connection{a, b} {
		got := receiveEvent(t, conn)
		if got.Type != events.TypePhaseChanged {
			t.Errorf("%s got event type %s, want %s", conn.ID, got.Type, events.TypePhaseChanged)
		}
	}
	select {
	case <-other.send:
		t.Error("connection in another room received the broadcast")
	default:
	}
}

func TestPrivateSendTargetsSinglePlayer(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	a := newTestConnection("conn-a", "room-1", "player-a")
	b := newTestConnection("conn-b", "room-1", "player-b")
	cm.register(a)
	cm.register(b)

	ev := events.New("room-1", events.TypeAnswerAck, time.Now().UTC(), events.AnswerAckPayload{QuestionID: "q1", Option: 2})
	cm.handleBroadcast(broadcastMessage{roomID: "room-1", playerID: "player-a", event: ev})

	got := receiveEvent(t, a)
	if got.Type != events.TypeAnswerAck {
		t.Errorf("event type = %s, want %s", got.Type, events.TypeAnswerAck)
	}
	select {
	case <-b.send:
		t.Error("private event leaked to another player")
	default:
	}
}

func TestUnregisterClosesSendAndPrunesRoom(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	conn := newTestConnection("conn-a", "room-1", "player-a")
	cm.register(conn)
	if got := cm.Stats()["room-1"]; got != 1 {
		t.Fatalf("room-1 connections = %d, want 1", got)
	}

	cm.unregister(conn)
	if _, ok := <-conn.send; ok {
		t.Error("send channel still open after unregister")
	}
	if _, ok := cm.Stats()["room-1"]; ok {
		t.Error("empty room still tracked after last unregister")
	}

	// Double unregister is a no-op, not a double close.
	cm.unregister(conn)
}

func TestSendAfterTeardownIsRejected(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())

	conn := newTestConnection("conn-a", "room-1", "player-a")
	cm.register(conn)

	if !conn.trySend([]byte(`{"type":"x"}`)) {
		t.Fatal("send on a live connection rejected")
	}

	// A broadcast may still hold the connection after it unregisters; the
	// send must be refused, never land on a closed channel.
	cm.unregister(conn)
	if conn.trySend([]byte(`{"type":"y"}`)) {
		t.Fatal("send accepted after teardown")
	}
	conn.closeSend() // repeated teardown stays a no-op
}
