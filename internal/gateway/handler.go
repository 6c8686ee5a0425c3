package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quizloop/quizloop/internal/events"
	"github.com/quizloop/quizloop/internal/fence"
	"github.com/quizloop/quizloop/internal/identity"
	"github.com/quizloop/quizloop/internal/room"
)

// Handler upgrades HTTP requests to websocket connections and wires them
// into the room registry and session fence.
type Handler struct {
	manager  *ConnectionManager
	registry *room.Registry
	fence    *fence.Fence
	provider identity.Provider
}

func NewHandler(manager *ConnectionManager, registry *room.Registry, f *fence.Fence, provider identity.Provider) *Handler {
	return &Handler{
		manager:  manager,
		registry: registry,
		fence:    f,
		provider: provider,
	}
}

// ServeWS handles GET /ws/{roomID}. The identity provider is trusted to
// have verified the caller already.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomID")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	who, err := h.provider.Resolve(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// Stable player identity: the account subject, or a guest UUID the
	// client may carry across reconnects. Guest IDs live in their own
	// namespace so a client-supplied ID can never collide with an account
	// subject.
	playerID := who.AccountID
	if playerID == "" {
		pid := r.URL.Query().Get("player_id")
		if pid == "" {
			pid = uuid.New().String()
		}
		playerID = "guest:" + pid
	}

	ws, err := h.manager.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	conn := &Connection{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		PlayerID:  playerID,
		AccountID: who.AccountID,
		ws:        ws,
		send:      make(chan []byte, 256),
		kicked:    make(chan []byte, 1),
		manager:   h.manager,
		fence:     h.fence,
	}

	// Authorizing fences out any previous connection for this account
	// before the join is visible.
	conn.Epoch = h.fence.Authorize(who.AccountID, conn.Kick)

	rm, err := h.registry.CreateOrJoin(r.Context(), roomID, room.JoinRequest{
		PlayerID:    playerID,
		AccountID:   who.AccountID,
		DisplayName: who.DisplayName,
		Epoch:       conn.Epoch,
	})
	if err != nil {
		h.rejectAndClose(conn, roomID, err)
		return
	}
	conn.room = rm

	h.manager.register(conn)
	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", playerID).
		Str("room_id", roomID).
		Uint64("epoch", conn.Epoch).
		Msg("websocket connection established")
}

// rejectAndClose reports the join error on the fresh socket, then drops
// it. Validation failures never mutate room state.
func (h *Handler) rejectAndClose(conn *Connection, roomID string, err error) {
	h.fence.Release(conn.AccountID, conn.Epoch)
	ev := events.New(roomID, events.TypeError, time.Now().UTC(), events.ErrorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	})
	if data, marshalErr := json.Marshal(ev); marshalErr == nil {
		conn.ws.SetWriteDeadline(time.Now().Add(h.manager.config.WriteTimeout))
		conn.ws.WriteMessage(websocket.TextMessage, data)
	}
	conn.ws.Close()
	log.Info().Err(err).Str("room_id", roomID).Str("player_id", conn.PlayerID).Msg("join rejected")
}
