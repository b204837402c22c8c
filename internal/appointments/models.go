package appointments

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Appointment is a booked consultation between one patient and one doctor.
//
// Invariants:
// - ID, PatientID, DoctorID never change after creation.
// - RoomID is empty until the first transition to in_progress and never changes afterwards.
// - A doctor never holds two active appointments whose [ScheduledAt, EndsAt) windows overlap.
// - PaymentStatus moves independently of State, except that cancelling a paid appointment refunds it.
type Appointment struct {
	ID        string `json:"id" db:"id"`
	PatientID string `json:"patient_id" db:"patient_id"`
	DoctorID  string `json:"doctor_id" db:"doctor_id"`

	ScheduledAt     time.Time `json:"scheduled_at" db:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes" db:"duration_minutes"`

	Type  Type  `json:"type" db:"type"`
	State State `json:"state" db:"state"`

	RoomID string `json:"room_id,omitempty" db:"room_id"`

	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`
	FeeMinor      int64         `json:"fee_minor" db:"fee_minor"`
	Currency      string        `json:"currency" db:"currency"`

	Notes string `json:"notes,omitempty" db:"notes"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

type State string

const (
	StateScheduled  State = "scheduled"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
)

func (s State) Valid() bool {
	switch s {
	case StateScheduled, StateInProgress, StateCompleted, StateCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateCompleted || s == StateCancelled }

// Active states hold the doctor's calendar slot.
func (s State) Active() bool { return s == StateScheduled || s == StateInProgress }

type Type string

const (
	TypeVideoCall    Type = "video_call"
	TypeConsultation Type = "consultation"
	TypeFollowUp     Type = "follow_up"
)

func (t Type) Valid() bool {
	switch t {
	case TypeVideoCall, TypeConsultation, TypeFollowUp:
		return true
	default:
		return false
	}
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

// AllowedDurations are the bookable slot lengths in minutes.
var AllowedDurations = []int{15, 30, 45, 60}

func validDuration(m int) bool {
	for _, d := range AllowedDurations {
		if d == m {
			return true
		}
	}
	return false
}

// EndsAt is the exclusive end of the appointment window.
func (a Appointment) EndsAt() time.Time {
	return a.ScheduledAt.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Overlaps reports whether a's window intersects [start, start+duration).
func (a Appointment) Overlaps(start time.Time, durationMinutes int) bool {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	return a.ScheduledAt.Before(end) && start.Before(a.EndsAt())
}

func (a Appointment) IsParticipant(userID string) bool {
	return userID != "" && (userID == a.PatientID || userID == a.DoctorID)
}

// NewRoomID returns "room_" followed by 16 lowercase hex characters.
func NewRoomID() string {
	return "room_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
