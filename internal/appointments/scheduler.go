package appointments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"telemed-platform/internal/audit"
	"telemed-platform/internal/payments"
	"telemed-platform/internal/pricing"
	"telemed-platform/internal/rbac"
	"telemed-platform/pkg/logger"

	"github.com/google/uuid"
)

const maxNotesLength = 2000

// FeeQuoter resolves the fee for an appointment type.
type FeeQuoter interface {
	Quote(ctx context.Context, appointmentType string, at time.Time) (pricing.Quote, error)
}

// PaymentProcessor is the external payment collaborator.
type PaymentProcessor interface {
	OpenCharge(ctx context.Context, appointmentID, patientID string, amountMinor int64, currency string) (payments.LedgerEntry, error)
	Capture(ctx context.Context, appointmentID string) (payments.LedgerEntry, error)
	Refund(ctx context.Context, appointmentID string) (payments.LedgerEntry, error)
}

// Auditor records lifecycle events; failures are logged by the implementation.
type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Scheduler books appointments and owns every change to a scheduled appointment
// other than starting and ending the session.
type Scheduler struct {
	repo     Repository
	locker   Locker
	fees     FeeQuoter
	payments PaymentProcessor
	audit    Auditor
	log      *slog.Logger

	clock func() time.Time
	newID func() string
}

// NewScheduler wires a scheduler. payments and auditor may be nil.
func NewScheduler(repo Repository, locker Locker, fees FeeQuoter, pay PaymentProcessor, auditor Auditor, log *slog.Logger) *Scheduler {
	return &Scheduler{
		repo:     repo,
		locker:   locker,
		fees:     fees,
		payments: pay,
		audit:    auditor,
		log:      logger.OrDefault(log),
		clock:    time.Now,
		newID:    uuid.NewString,
	}
}

type CreateRequest struct {
	PatientID       string    `json:"patient_id"`
	DoctorID        string    `json:"doctor_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Type            Type      `json:"type"`
	Notes           string    `json:"notes,omitempty"`
}

func (r CreateRequest) validate(now time.Time) error {
	if strings.TrimSpace(r.PatientID) == "" {
		return invalid("patient_id", "is required")
	}
	if strings.TrimSpace(r.DoctorID) == "" {
		return invalid("doctor_id", "is required")
	}
	if r.PatientID == r.DoctorID {
		return invalid("doctor_id", "must differ from patient_id")
	}
	if err := validateSlot(r.ScheduledAt, now); err != nil {
		return err
	}
	if !validDuration(r.DurationMinutes) {
		return invalid("duration_minutes", "must be one of 15, 30, 45, 60")
	}
	if !r.Type.Valid() {
		return invalid("type", "must be one of video_call, consultation, follow_up")
	}
	if len(r.Notes) > maxNotesLength {
		return invalid("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	return nil
}

func validateSlot(at, now time.Time) error {
	if at.IsZero() {
		return invalid("scheduled_at", "is required")
	}
	if !at.After(now) {
		return invalid("scheduled_at", "must be in the future")
	}
	return nil
}

// CreateAppointment books a new appointment in state scheduled with a pending payment.
// The overlap check and the insert run under the doctor's calendar lock.
func (s *Scheduler) CreateAppointment(ctx context.Context, req CreateRequest) (Appointment, error) {
	now := s.clock().UTC()
	if err := req.validate(now); err != nil {
		return Appointment{}, err
	}

	quote, err := s.fees.Quote(ctx, string(req.Type), now)
	if err != nil {
		return Appointment{}, fmt.Errorf("appointments: fee lookup: %w", err)
	}

	a := Appointment{
		ID:              s.newID(),
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		ScheduledAt:     req.ScheduledAt.UTC(),
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		State:           StateScheduled,
		PaymentStatus:   PaymentPending,
		FeeMinor:        quote.AmountMinor,
		Currency:        quote.Currency,
		Notes:           req.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.locker.WithLock(ctx, doctorLockKey(a.DoctorID), func(ctx context.Context) error {
		overlapping, err := s.repo.FindOverlapping(ctx, a.DoctorID, a.ScheduledAt, a.DurationMinutes, "")
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return ErrConflict
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return Appointment{}, err
	}

	if s.payments != nil {
		if _, err := s.payments.OpenCharge(ctx, a.ID, a.PatientID, a.FeeMinor, a.Currency); err != nil {
			logger.From(ctx).Warn("open charge failed", "appointment_id", a.ID, "err", err)
		}
	}
	s.record(ctx, audit.Event{
		Type:          audit.EventTypeBooked,
		AppointmentID: a.ID,
		ActorUserID:   a.PatientID,
		ActorRole:     rbac.RolePatient,
		ToState:       string(a.State),
	})
	return a, nil
}

type ListRequest struct {
	RequesterID string
	Role        string
	State       State
	// PatientID and DoctorID are honoured for admins only.
	PatientID string
	DoctorID  string
}

// ListAppointments returns the requester's appointments ordered by scheduled time.
func (s *Scheduler) ListAppointments(ctx context.Context, req ListRequest) ([]Appointment, error) {
	if req.State != "" && !req.State.Valid() {
		return nil, invalid("state", "must be one of scheduled, in_progress, completed, cancelled")
	}
	f := Filter{State: req.State}
	switch req.Role {
	case rbac.RolePatient:
		f.PatientID = req.RequesterID
	case rbac.RoleDoctor:
		f.DoctorID = req.RequesterID
	case rbac.RoleAdmin:
		f.PatientID, f.DoctorID = req.PatientID, req.DoctorID
	default:
		return nil, ErrForbidden
	}
	if req.Role != rbac.RoleAdmin && req.RequesterID == "" {
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, f)
}

// GetAppointment returns one appointment visible to the requester.
func (s *Scheduler) GetAppointment(ctx context.Context, id, requesterID, role string) (Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if !rbac.IsAdmin(role) && !a.IsParticipant(requesterID) {
		return Appointment{}, ErrForbidden
	}
	return a, nil
}

// CancelAppointment cancels a scheduled appointment on behalf of a participant.
// A paid appointment is refunded.
func (s *Scheduler) CancelAppointment(ctx context.Context, id, requesterID string) (Appointment, error) {
	now := s.clock().UTC()
	var (
		from     State
		refunded bool
	)
	a, err := s.repo.Update(ctx, id, func(a *Appointment) error {
		if !a.IsParticipant(requesterID) {
			return ErrForbidden
		}
		switch a.State {
		case StateInProgress:
			return fmt.Errorf("%w: end the session instead of cancelling it", ErrForbidden)
		case StateCompleted, StateCancelled:
			return &InvalidTransitionError{From: a.State, To: StateCancelled}
		}
		from = a.State
		a.State = StateCancelled
		a.CancelledAt = &now
		a.UpdatedAt = now
		if a.PaymentStatus == PaymentPaid {
			a.PaymentStatus = PaymentRefunded
			refunded = true
		}
		return nil
	})
	if err != nil {
		return Appointment{}, err
	}

	if refunded && s.payments != nil {
		if _, err := s.payments.Refund(ctx, a.ID); err != nil {
			logger.From(ctx).Error("refund failed", "appointment_id", a.ID, "err", err)
		} else {
			s.record(ctx, audit.Event{Type: audit.EventTypeRefundIssued, AppointmentID: a.ID, ActorUserID: requesterID})
		}
	}
	s.record(ctx, audit.Event{
		Type:          audit.EventTypeCancelled,
		AppointmentID: a.ID,
		ActorUserID:   requesterID,
		ActorRole:     participantRole(a, requesterID),
		FromState:     string(from),
		ToState:       string(a.State),
	})
	return a, nil
}

type UpdateRequest struct {
	Notes       *string    `json:"notes,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// UpdateDetails lets the patient edit notes or move a scheduled appointment.
// A new time is checked for overlap under the doctor's calendar lock.
func (s *Scheduler) UpdateDetails(ctx context.Context, id, requesterID string, req UpdateRequest) (Appointment, error) {
	now := s.clock().UTC()
	if req.Notes == nil && req.ScheduledAt == nil {
		return Appointment{}, invalid("body", "notes or scheduled_at is required")
	}
	if req.Notes != nil && len(*req.Notes) > maxNotesLength {
		return Appointment{}, invalid("notes", fmt.Sprintf("must be at most %d characters", maxNotesLength))
	}
	if req.ScheduledAt != nil {
		if err := validateSlot(*req.ScheduledAt, now); err != nil {
			return Appointment{}, err
		}
	}

	apply := func(a *Appointment) error {
		if a.PatientID != requesterID {
			return ErrForbidden
		}
		if a.State != StateScheduled {
			return ErrNotEditable
		}
		if req.Notes != nil {
			a.Notes = *req.Notes
		}
		if req.ScheduledAt != nil {
			a.ScheduledAt = req.ScheduledAt.UTC()
		}
		a.UpdatedAt = now
		return nil
	}

	if req.ScheduledAt == nil {
		a, err := s.repo.Update(ctx, id, apply)
		if err != nil {
			return Appointment{}, err
		}
		s.record(ctx, audit.Event{Type: audit.EventTypeNotesUpdated, AppointmentID: a.ID, ActorUserID: requesterID, ActorRole: rbac.RolePatient})
		return a, nil
	}

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if cur.PatientID != requesterID {
		return Appointment{}, ErrForbidden
	}

	var out Appointment
	err = s.locker.WithLock(ctx, doctorLockKey(cur.DoctorID), func(ctx context.Context) error {
		overlapping, err := s.repo.FindOverlapping(ctx, cur.DoctorID, req.ScheduledAt.UTC(), cur.DurationMinutes, cur.ID)
		if err != nil {
			return err
		}
		if len(overlapping) > 0 {
			return ErrConflict
		}
		out, err = s.repo.Update(ctx, id, apply)
		return err
	})
	if err != nil {
		return Appointment{}, err
	}
	s.record(ctx, audit.Event{
		Type:          audit.EventTypeRescheduled,
		AppointmentID: out.ID,
		ActorUserID:   requesterID,
		ActorRole:     rbac.RolePatient,
		Message:       fmt.Sprintf("moved from %s to %s", cur.ScheduledAt.Format(time.RFC3339), out.ScheduledAt.Format(time.RFC3339)),
	})
	return out, nil
}

// RecordPayment captures the pending charge and marks the appointment paid.
// Paying twice is a no-op.
func (s *Scheduler) RecordPayment(ctx context.Context, id, requesterID string) (Appointment, error) {
	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Appointment{}, err
	}
	if err := checkPayable(cur, requesterID); err != nil {
		return Appointment{}, err
	}
	if cur.PaymentStatus == PaymentPaid {
		return cur, nil
	}

	captured := false
	if s.payments != nil {
		if _, err := s.payments.Capture(ctx, id); err != nil {
			return Appointment{}, fmt.Errorf("appointments: capture payment: %w", err)
		}
		captured = true
	}

	now := s.clock().UTC()
	a, err := s.repo.Update(ctx, id, func(a *Appointment) error {
		if err := checkPayable(*a, requesterID); err != nil {
			return err
		}
		a.PaymentStatus = PaymentPaid
		a.UpdatedAt = now
		return nil
	})
	if err != nil {
		if captured {
			// The appointment changed (cancelled) while the charge was captured.
			s.reverseCapture(ctx, id, requesterID, err)
		}
		return Appointment{}, err
	}
	s.record(ctx, audit.Event{Type: audit.EventTypePaymentPaid, AppointmentID: a.ID, ActorUserID: requesterID, ActorRole: rbac.RolePatient})
	return a, nil
}

// reverseCapture refunds a capture whose appointment could not be marked paid.
func (s *Scheduler) reverseCapture(ctx context.Context, id, requesterID string, cause error) {
	log := logger.From(ctx)
	if _, err := s.payments.Refund(ctx, id); err != nil {
		log.Error("capture reversal failed", "appointment_id", id, "cause", cause, "err", err)
		return
	}
	log.Warn("capture reversed", "appointment_id", id, "cause", cause)
	s.record(ctx, audit.Event{
		Type:          audit.EventTypeRefundIssued,
		AppointmentID: id,
		ActorUserID:   requesterID,
		ActorRole:     rbac.RolePatient,
		Message:       "capture reversed: " + cause.Error(),
	})
}

func checkPayable(a Appointment, requesterID string) error {
	if a.PatientID != requesterID {
		return ErrForbidden
	}
	if a.PaymentStatus == PaymentRefunded {
		return fmt.Errorf("%w: payment was refunded", ErrForbidden)
	}
	if a.State == StateCancelled && a.PaymentStatus != PaymentPaid {
		return fmt.Errorf("%w: appointment is cancelled", ErrForbidden)
	}
	return nil
}

func (s *Scheduler) record(ctx context.Context, e audit.Event) {
	if s.audit != nil {
		s.audit.Record(ctx, e)
	}
}

func participantRole(a Appointment, userID string) string {
	switch userID {
	case a.PatientID:
		return rbac.RolePatient
	case a.DoctorID:
		return rbac.RoleDoctor
	default:
		return ""
	}
}
