package prescriptions

import "time"

// Prescription is issued by the doctor of an appointment to its patient.
// PatientID and DoctorID are copied from the appointment at issue time.
type Prescription struct {
	ID            string       `json:"id" db:"id"`
	AppointmentID string       `json:"appointment_id" db:"appointment_id"`
	PatientID     string       `json:"patient_id" db:"patient_id"`
	DoctorID      string       `json:"doctor_id" db:"doctor_id"`
	Medications   []Medication `json:"medications" db:"medications"`
	Diagnosis     string       `json:"diagnosis" db:"diagnosis"`
	Instructions  string       `json:"instructions,omitempty" db:"instructions"`
	ValidUntil    time.Time    `json:"valid_until" db:"valid_until"`
	Status        Status       `json:"status" db:"status"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

type Medication struct {
	Name      string `json:"name"`
	Dosage    string `json:"dosage"`
	Frequency string `json:"frequency,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// DefaultValidDays applies when a request leaves valid_days unset.
const DefaultValidDays = 30

// MaxValidDays bounds how far ahead a prescription may stay valid.
const MaxValidDays = 365

// withStatusAt reports an active prescription past its validity as expired.
// The stored row is not rewritten.
func (p Prescription) withStatusAt(now time.Time) Prescription {
	if p.Status == StatusActive && !now.Before(p.ValidUntil) {
		p.Status = StatusExpired
	}
	return p
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	PatientID string
	DoctorID  string
}
