package dispatch

import (
	"encoding/json"
	"time"
)

// Event names on the wire.
const (
	EventSendLocation = "sendLocation"
	EventNewLocation  = "newLocation"
	EventAck          = "ack"
)

// ClientMessage is the envelope every frame carries in both directions.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Ack is the synchronous reply to the sender of an inbound event. Exactly one
// of Success/Error is populated.
type Ack struct {
	Success    bool   `json:"success,omitempty"`
	Message    string `json:"message,omitempty"`
	Recipients int    `json:"recipients,omitempty"`
	Error      string `json:"error,omitempty"`
}

// LocationEvent is the payload pushed to each connected follower. Timestamp
// is server-assigned and marshals as an RFC 3339 instant.
type LocationEvent struct {
	UserID    int64     `json:"userId"`
	Name      string    `json:"name"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

func marshalEnvelope(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ClientMessage{Event: event, Payload: raw})
}
