package game

import "errors"

// Domain errors. Callers match these with errors.Is; the gateway maps them
// onto error events sent back to the client.
var (
	ErrRoomFull         = errors.New("room is full")
	ErrMaintenanceMode  = errors.New("service is in maintenance mode")
	ErrBanned           = errors.New("account is banned")
	ErrAlreadyAnswered  = errors.New("already answered this question")
	ErrStaleSession     = errors.New("session superseded by a newer connection")
	ErrRoomNotFound     = errors.New("room not found")
	ErrInvalidPhase     = errors.New("invalid action for current phase")
	ErrRoomClosed       = errors.New("room is shutting down")
	ErrPlayerNotFound   = errors.New("player not found")
	ErrIdentityMismatch = errors.New("player identity belongs to a different account")
	ErrInvalidOption    = errors.New("option index out of range")
)
