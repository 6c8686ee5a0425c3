// Package gateway bridges websocket transports and room controllers: it
// fans out room events to connected clients and delivers client messages
// into the rooms' serialized loops.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quizloop/quizloop/internal/events"
)

// ConnectionManager tracks websocket connections per room and owns the
// broadcast fan-out. It implements room.Broadcaster.
type ConnectionManager struct {
	mu              sync.RWMutex
	roomConnections map[string]map[*Connection]bool

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan broadcastMessage
}

// ConnectionConfig holds transport tuning for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns defaults suitable for browser clients.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

type broadcastMessage struct {
	roomID   string
	playerID string // if set, only connections bound to this player
	event    events.Event
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan broadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// BroadcastRoom enqueues an event for every connection in the room. The
// room controller never blocks here: a full channel drops the message
// with a warning instead of stalling gameplay.
func (cm *ConnectionManager) BroadcastRoom(roomID string, ev events.Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{roomID: roomID, event: ev}:
	default:
		log.Warn().Str("room_id", roomID).Str("type", string(ev.Type)).Msg("broadcast channel full, dropping message")
	}
}

// SendPlayer enqueues a private event for one player's connection.
func (cm *ConnectionManager) SendPlayer(roomID, playerID string, ev events.Event) {
	select {
	case cm.broadcastCh <- broadcastMessage{roomID: roomID, playerID: playerID, event: ev}:
	default:
		log.Warn().Str("room_id", roomID).Str("player_id", playerID).Msg("broadcast channel full, dropping private message")
	}
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("room_id", conn.RoomID).
		Int("room_connections", len(cm.roomConnections[conn.RoomID])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.roomConnections[conn.RoomID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			conn.closeSend()
			if len(connections) == 0 {
				delete(cm.roomConnections, conn.RoomID)
			}
			log.Info().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID).
				Str("room_id", conn.RoomID).
				Msg("connection unregistered")
		}
	}
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.roomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		if message.playerID != "" && conn.PlayerID != message.playerID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if conn.trySend(data) {
			continue
		}
		// Slow, dead, or already-departed consumer: drop it rather than
		// stall the room.
		log.Warn().
			Str("connection_id", conn.ID).
			Str("player_id", conn.PlayerID).
			Msg("connection send buffer full, closing connection")
		cm.unregister(conn)
		conn.ws.Close()
	}
}

// Stats returns connection counts per room.
func (cm *ConnectionManager) Stats() map[string]int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	counts := make(map[string]int, len(cm.roomConnections))
	for roomID, connections := range cm.roomConnections {
		counts[roomID] = len(connections)
	}
	return counts
}
