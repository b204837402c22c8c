package audit

import "time"

// Event is an immutable, append-only record of an appointment lifecycle change.
//
// Invariants:
// - Events are never updated or deleted.
// - Recording is best-effort; callers never fail a committed transition because audit failed.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	AppointmentID string `json:"appointment_id,omitempty" db:"appointment_id"`
	RoomID        string `json:"room_id,omitempty" db:"room_id"`

	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	// FromState and ToState are set for state transitions.
	FromState string `json:"from_state,omitempty" db:"from_state"`
	ToState   string `json:"to_state,omitempty" db:"to_state"`

	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON (JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeBooked       EventType = "appointment_booked"
	EventTypeRescheduled  EventType = "appointment_rescheduled"
	EventTypeNotesUpdated EventType = "appointment_notes_updated"
	EventTypeCancelled    EventType = "appointment_cancelled"
	EventTypePaymentPaid  EventType = "payment_captured"
	EventTypeSessionStart EventType = "session_started"
	EventTypeSessionEnd   EventType = "session_completed"
	EventTypeRoomClosed   EventType = "signaling_room_closed"
	EventTypeRefundIssued EventType = "payment_refunded"

	EventTypePrescriptionIssued    EventType = "prescription_issued"
	EventTypePrescriptionCancelled EventType = "prescription_cancelled"
)
