package payments

import "time"

// LedgerEntry is an immutable append-only record of a money movement for one appointment.
//
// Money invariants:
// - Every payment status change has a corresponding ledger entry.
// - At most one entry per (appointment, entry type); retries reuse the idempotency key.
type LedgerEntry struct {
	ID            string `json:"id" db:"id"`
	AppointmentID string `json:"appointment_id" db:"appointment_id"`
	PatientID     string `json:"patient_id" db:"patient_id"`

	Type EntryType `json:"type" db:"type"`

	// AmountMinor is signed: charges and captures are positive, refunds negative.
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`
	Currency    string `json:"currency" db:"currency"`

	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	// Metadata is optional JSON (JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EntryType string

const (
	EntryTypeChargeOpened EntryType = "charge_opened"
	EntryTypeCaptured     EntryType = "captured"
	EntryTypeRefunded     EntryType = "refunded"
)

// Summary is the payment position of one appointment derived from its ledger.
type Summary struct {
	AppointmentID string `json:"appointment_id"`
	Currency      string `json:"currency"`
	ChargedMinor  int64  `json:"charged_minor"`
	CapturedMinor int64  `json:"captured_minor"`
	RefundedMinor int64  `json:"refunded_minor"`
}

func idempotencyKey(appointmentID string, t EntryType) string {
	return appointmentID + ":" + string(t)
}
