package pricing

import "time"

// Fees are expressed in minor units (cents) using int64.

// Fee is the price of one appointment of a given type during an effective window.
type Fee struct {
	ID string `json:"id" db:"id"`

	// AppointmentType is one of video_call, consultation, follow_up.
	AppointmentType string `json:"appointment_type" db:"appointment_type"`

	Currency    string `json:"currency" db:"currency"`
	AmountMinor int64  `json:"amount_minor" db:"amount_minor"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status Status `json:"status" db:"status"`
}

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Quote is the fee selected for a booking.
type Quote struct {
	AppointmentType string `json:"appointment_type"`
	Currency        string `json:"currency"`
	AmountMinor     int64  `json:"amount_minor"`
}

// DefaultFees is the portal's standard fee table.
func DefaultFees() []Fee {
	return []Fee{
		{ID: "fee-consultation", AppointmentType: "consultation", Currency: "USD", AmountMinor: 5000, Status: StatusActive},
		{ID: "fee-video-call", AppointmentType: "video_call", Currency: "USD", AmountMinor: 7500, Status: StatusActive},
		{ID: "fee-follow-up", AppointmentType: "follow_up", Currency: "USD", AmountMinor: 3000, Status: StatusActive},
	}
}
