package gateway

import "encoding/json"

// ClientMessage is the envelope for every client-to-server message.
// Delivery is FIFO per connection; no ordering is assumed across
// connections.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client message types.
const (
	MsgStart          = "start"
	MsgSubmitAnswer   = "submit_answer"
	MsgLeave          = "leave"
	MsgHeartbeat      = "heartbeat"
	MsgVisibilityLost = "visibility_lost"
)

// SubmitAnswerData is the payload of a submit_answer message.
type SubmitAnswerData struct {
	Option int `json:"option"`
}
