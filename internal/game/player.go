package game

import "time"

// PlayerState is the per-player record inside a room. All fields are owned
// by the room's serialized loop; nothing here needs its own locking.
type PlayerState struct {
	ID          string
	AccountID   string // empty for guests
	DisplayName string

	Score           int
	AnsweredCurrent bool // reset at the start of each Question phase
	LeftTab         bool // anti-cheat flag, reset at the start of each Question phase

	Connected      bool
	Absent         bool // disconnected past the grace window, excluded from scoring
	DisconnectedAt time.Time
	ConnEpoch      uint64
}

// EligibleToAnswer reports whether this player counts toward the
// everyone-answered early exit of the Answering phase.
func (p *PlayerState) EligibleToAnswer() bool {
	return p.Connected && !p.LeftTab && !p.Absent
}

// ResetForQuestion clears the per-question flags at the start of a new
// Question phase.
func (p *PlayerState) ResetForQuestion() {
	p.AnsweredCurrent = false
	p.LeftTab = false
}
