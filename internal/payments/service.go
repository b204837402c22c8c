package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"telemed-platform/pkg/logger"

	"github.com/google/uuid"
)

// Service is the appointment payment processor: it opens a pending charge at booking,
// captures it when the patient pays, and refunds it when a paid appointment is cancelled.
// All operations are idempotent per appointment.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: logger.OrDefault(log), clock: time.Now}
}

var (
	ErrInvalidArgument = errors.New("payments: invalid argument")
	ErrNoCharge        = errors.New("payments: no open charge for appointment")
	ErrNotCaptured     = errors.New("payments: charge not captured")
	ErrAlreadyRefunded = errors.New("payments: charge already refunded")
)

// OpenCharge records the pending fee for a newly booked appointment.
func (s *Service) OpenCharge(ctx context.Context, appointmentID, patientID string, amountMinor int64, currency string) (LedgerEntry, error) {
	if appointmentID == "" || patientID == "" || currency == "" || amountMinor <= 0 {
		return LedgerEntry{}, ErrInvalidArgument
	}
	return s.append(ctx, LedgerEntry{
		AppointmentID: appointmentID,
		PatientID:     patientID,
		Type:          EntryTypeChargeOpened,
		AmountMinor:   amountMinor,
		Currency:      currency,
	})
}

// Capture marks the open charge as paid.
func (s *Service) Capture(ctx context.Context, appointmentID string) (LedgerEntry, error) {
	entries, err := s.entries(ctx, appointmentID)
	if err != nil {
		return LedgerEntry{}, err
	}
	charge, ok := entries[EntryTypeChargeOpened]
	if !ok {
		return LedgerEntry{}, ErrNoCharge
	}
	if _, refunded := entries[EntryTypeRefunded]; refunded {
		return LedgerEntry{}, ErrAlreadyRefunded
	}
	return s.append(ctx, LedgerEntry{
		AppointmentID: appointmentID,
		PatientID:     charge.PatientID,
		Type:          EntryTypeCaptured,
		AmountMinor:   charge.AmountMinor,
		Currency:      charge.Currency,
	})
}

// Refund returns a captured charge.
func (s *Service) Refund(ctx context.Context, appointmentID string) (LedgerEntry, error) {
	entries, err := s.entries(ctx, appointmentID)
	if err != nil {
		return LedgerEntry{}, err
	}
	captured, ok := entries[EntryTypeCaptured]
	if !ok {
		return LedgerEntry{}, ErrNotCaptured
	}
	return s.append(ctx, LedgerEntry{
		AppointmentID: appointmentID,
		PatientID:     captured.PatientID,
		Type:          EntryTypeRefunded,
		AmountMinor:   -captured.AmountMinor,
		Currency:      captured.Currency,
	})
}

// Summary derives the payment position of an appointment from its ledger.
func (s *Service) Summary(ctx context.Context, appointmentID string) (Summary, error) {
	if appointmentID == "" {
		return Summary{}, ErrInvalidArgument
	}
	list, err := s.repo.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return Summary{}, err
	}
	out := Summary{AppointmentID: appointmentID}
	for _, e := range list {
		out.Currency = e.Currency
		switch e.Type {
		case EntryTypeChargeOpened:
			out.ChargedMinor += e.AmountMinor
		case EntryTypeCaptured:
			out.CapturedMinor += e.AmountMinor
		case EntryTypeRefunded:
			out.RefundedMinor += -e.AmountMinor
		}
	}
	return out, nil
}

func (s *Service) entries(ctx context.Context, appointmentID string) (map[EntryType]LedgerEntry, error) {
	if appointmentID == "" {
		return nil, ErrInvalidArgument
	}
	list, err := s.repo.ListByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	out := make(map[EntryType]LedgerEntry, len(list))
	for _, e := range list {
		out[e.Type] = e
	}
	return out, nil
}

func (s *Service) append(ctx context.Context, e LedgerEntry) (LedgerEntry, error) {
	e.ID = uuid.NewString()
	e.IdempotencyKey = idempotencyKey(e.AppointmentID, e.Type)
	e.CreatedAt = s.clock().UTC()

	stored, inserted, err := s.repo.AppendIdempotent(ctx, e)
	if err != nil {
		return LedgerEntry{}, err
	}
	if inserted {
		s.log.Info("payment ledger entry",
			"appointment_id", stored.AppointmentID,
			"type", stored.Type,
			"amount_minor", stored.AmountMinor,
			"currency", stored.Currency,
		)
	}
	return stored, nil
}
