// Package signaling pairs the two participants of a video session by room id
// and relays their WebRTC negotiation messages.
package signaling

import (
	"encoding/json"
	"errors"
	"time"
)

type EventType string

const (
	EventOffer        EventType = "offer"
	EventAnswer       EventType = "answer"
	EventICECandidate EventType = "ice-candidate"
	EventPeerJoined   EventType = "peer-joined"
	EventPeerLeft     EventType = "peer-left"
	EventError        EventType = "error"

	// EventLeave is sent by a client to leave the room; it is never relayed.
	EventLeave EventType = "leave"
)

// Relayable reports whether clients may send the event to their peer.
func (t EventType) Relayable() bool {
	switch t {
	case EventOffer, EventAnswer, EventICECandidate:
		return true
	default:
		return false
	}
}

// Event is one signaling message. Payload is opaque to the server (SDP or ICE candidate).
type Event struct {
	Type    EventType       `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	SentAt  time.Time       `json:"sent_at,omitempty"`
}

var (
	ErrRoomFull         = errors.New("signaling: room full")
	ErrNotJoined        = errors.New("signaling: participant not joined")
	ErrInvalidEvent     = errors.New("signaling: event type cannot be relayed")
	ErrInvalidArgument  = errors.New("signaling: invalid argument")
	ErrConnectionFailed = errors.New("signaling: connection failed")
	ErrRejected         = errors.New("signaling: join rejected")
	ErrRoomClosed       = errors.New("signaling: room closed")
)
