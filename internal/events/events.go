// Package events defines the wire events exchanged between the room
// controllers and connected clients. It lives in its own package so the
// room and gateway packages can share payload types without a cyclic
// import.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Type identifies a server-to-client event.
type Type string

const (
	TypeRoomState       Type = "room_state"
	TypePhaseChanged    Type = "phase_changed"
	TypeCountdownTick   Type = "countdown_tick"
	TypeQuestionStarted Type = "question_started"
	TypeAnswerAck       Type = "answer_ack"
	TypeLeaderboard     Type = "leaderboard"
	TypePlayerJoined    Type = "player_joined"
	TypePlayerLeft      Type = "player_left"
	TypeKicked          Type = "kicked"
	TypeError           Type = "error"
	TypeRoomFinished    Type = "room_finished"
)

// Event is the envelope for every server-to-client message.
type Event struct {
	ID        string          `json:"id"`
	RoomID    string          `json:"room_id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an event envelope around payload. Marshal failures are a
// programming error on our own payload types; they are logged and yield an
// event with empty data rather than tearing down the caller.
func New(roomID string, t Type, ts time.Time, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("room_id", roomID).Str("type", string(t)).Msg("failed to marshal event payload")
		data = nil
	}
	return Event{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Type:      t,
		Timestamp: ts,
		Data:      data,
	}
}

// PhaseChangedPayload announces a phase transition. Deadline is the
// authoritative server-side timestamp at which the phase auto-advances;
// clients resynchronize their countdown displays from it and never drive
// scoring off local time.
type PhaseChangedPayload struct {
	Phase         string     `json:"phase"`
	QuestionIndex int        `json:"question_index"`
	Deadline      *time.Time `json:"deadline,omitempty"`
}

// CountdownTickPayload carries one tick of the 3-2-1-GO sequence.
// Remaining 0 is the GO tick.
type CountdownTickPayload struct {
	Remaining int `json:"remaining"`
}

// QuestionStartedPayload presents a question. The correct option index is
// never included.
type QuestionStartedPayload struct {
	Index      int        `json:"index"`
	QuestionID string     `json:"question_id"`
	Text       string     `json:"text"`
	Difficulty string     `json:"difficulty"`
	Options    []string   `json:"options"`
	Deadline   *time.Time `json:"deadline,omitempty"`
}

// AnswerAckPayload privately confirms a submission was accepted; the
// outcome is only revealed with the Results leaderboard.
type AnswerAckPayload struct {
	QuestionID string `json:"question_id"`
	Option     int    `json:"option"`
}

// LeaderboardEntry is one ranked row of the room standings.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
	Delta       int    `json:"delta"`
	Connected   bool   `json:"connected"`
}

// LeaderboardPayload is broadcast during Results and once more, with Final
// set, when the room finishes. CorrectOption reveals the answer of the
// question just played.
type LeaderboardPayload struct {
	Final         bool               `json:"final"`
	QuestionID    string             `json:"question_id,omitempty"`
	CorrectOption int                `json:"correct_option"`
	Entries       []LeaderboardEntry `json:"entries"`
}

type PlayerJoinedPayload struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Players     int    `json:"players"`
}

type PlayerLeftPayload struct {
	PlayerID string `json:"player_id"`
	Players  int    `json:"players"`
}

// KickedPayload is the explicit termination message a superseded
// connection receives before its handle is discarded.
type KickedPayload struct {
	Reason string `json:"reason"`
}

// ErrorPayload maps a domain error back to the client.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RoomStatePayload is the snapshot a (re)connecting client receives so it
// can resynchronize with the authoritative room state.
type RoomStatePayload struct {
	Phase         string             `json:"phase"`
	QuestionIndex int                `json:"question_index"`
	Questions     int                `json:"questions"`
	Deadline      *time.Time         `json:"deadline,omitempty"`
	Entries       []LeaderboardEntry `json:"entries"`
}
