package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quizloop/quizloop/internal/events"
	"github.com/quizloop/quizloop/internal/fence"
	"github.com/quizloop/quizloop/internal/game"
	"github.com/quizloop/quizloop/internal/room"
)

const commandTimeout = 5 * time.Second

// Connection binds one websocket to one player in one room.
type Connection struct {
	ID        string
	RoomID    string
	PlayerID  string
	AccountID string
	Epoch     uint64

	ws      *websocket.Conn
	send    chan []byte
	kicked  chan []byte
	manager *ConnectionManager
	room    *room.Room
	fence   *fence.Fence

	mu     sync.Mutex
	closed bool
}

// trySend queues data for the write pump unless the connection has been
// closed or its buffer is full. All sends on the channel go through here:
// a broadcast racing the connection's teardown must never hit a closed
// channel.
func (c *Connection) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel exactly once.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Kick delivers the explicit termination message to a superseded
// connection and closes it once the message is on the wire. It is safe to
// call from any goroutine; a connection is never dropped silently.
func (c *Connection) Kick(reason string) {
	ev := events.New(c.RoomID, events.TypeKicked, time.Now().UTC(), events.KickedPayload{Reason: reason})
	data, err := json.Marshal(ev)
	if err != nil {
		c.ws.Close()
		return
	}
	select {
	case c.kicked <- data:
	default:
		// A kick is already in flight.
	}
}

// writePump owns all writes on the websocket: broadcasts, pings, and the
// terminal kick message.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}

		case data := <-c.kicked:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.ws.WriteMessage(websocket.TextMessage, data)
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "stale session"))
			return

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client messages until the transport drops, then reports
// the disconnect into the room's loop.
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregister(c)
		c.ws.Close()

		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		if err := c.room.Disconnect(ctx, c.PlayerID, c.Epoch); err != nil && !errors.Is(err, game.ErrRoomClosed) {
			log.Warn().Err(err).Str("player_id", c.PlayerID).Msg("failed to report disconnect")
		}
		c.fence.Release(c.AccountID, c.Epoch)
	}()

	c.ws.SetReadLimit(c.manager.config.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			return
		}
		c.handleClientMessage(message)
		c.ws.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError(errors.New("malformed message"))
		return
	}

	// A kicked connection's messages are rejected until it re-authorizes.
	if err := c.fence.Validate(c.AccountID, c.Epoch); err != nil {
		c.sendError(err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case MsgStart:
		err = c.room.Start(ctx)
	case MsgSubmitAnswer:
		var d SubmitAnswerData
		if jsonErr := json.Unmarshal(msg.Data, &d); jsonErr != nil {
			c.sendError(errors.New("malformed submit_answer payload"))
			return
		}
		err = c.room.SubmitAnswer(ctx, c.PlayerID, d.Option)
	case MsgVisibilityLost:
		err = c.room.VisibilityLost(ctx, c.PlayerID)
	case MsgLeave:
		err = c.room.Leave(ctx, c.PlayerID)
		c.ws.Close()
	case MsgHeartbeat:
		// Liveness is tracked at the transport level (pong handler); the
		// application heartbeat only refreshes the read deadline, which
		// already happened.
	default:
		log.Warn().Str("connection_id", c.ID).Str("type", msg.Type).Msg("unknown client message type")
	}

	if err != nil {
		c.sendError(err)
	}
}

func (c *Connection) sendError(err error) {
	ev := events.New(c.RoomID, events.TypeError, time.Now().UTC(), events.ErrorPayload{
		Code:    errorCode(err),
		Message: err.Error(),
	})
	data, marshalErr := json.Marshal(ev)
	if marshalErr != nil {
		return
	}
	c.trySend(data)
}

// errorCode maps the domain error taxonomy onto wire codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrRoomFull):
		return "room_full"
	case errors.Is(err, game.ErrMaintenanceMode):
		return "maintenance_mode"
	case errors.Is(err, game.ErrBanned):
		return "banned"
	case errors.Is(err, game.ErrAlreadyAnswered):
		return "already_answered"
	case errors.Is(err, game.ErrStaleSession):
		return "stale_session"
	case errors.Is(err, game.ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, game.ErrInvalidPhase):
		return "invalid_phase"
	case errors.Is(err, game.ErrRoomClosed):
		return "room_closed"
	case errors.Is(err, game.ErrPlayerNotFound):
		return "player_not_found"
	case errors.Is(err, game.ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, game.ErrInvalidOption):
		return "invalid_option"
	default:
		return "internal"
	}
}
