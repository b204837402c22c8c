package prescriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"telemed-platform/internal/appointments"
	"telemed-platform/internal/audit"
	"telemed-platform/internal/rbac"
	"telemed-platform/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("prescriptions: not found")
	ErrForbidden       = errors.New("prescriptions: forbidden")
	ErrInvalidArgument = errors.New("prescriptions: invalid argument")
	// ErrNotPrescribable is returned for appointments that were cancelled.
	ErrNotPrescribable = errors.New("prescriptions: appointment was cancelled")
	ErrNotActive       = errors.New("prescriptions: prescription is not active")
)

// AppointmentReader resolves the appointment a prescription is issued for.
type AppointmentReader interface {
	Get(ctx context.Context, id string) (appointments.Appointment, error)
}

type Auditor interface {
	Record(ctx context.Context, e audit.Event)
}

// Service issues and lists prescriptions. Only the doctor of an appointment
// may prescribe for it, and the patient is always the appointment's patient.
type Service struct {
	repo    Repository
	appts   AppointmentReader
	auditor Auditor
	log     *slog.Logger
	clock   func() time.Time
}

func NewService(repo Repository, appts AppointmentReader, auditor Auditor, log *slog.Logger) *Service {
	return &Service{repo: repo, appts: appts, auditor: auditor, log: logger.OrDefault(log), clock: time.Now}
}

type IssueRequest struct {
	AppointmentID string       `json:"appointment_id"`
	Medications   []Medication `json:"medications"`
	Diagnosis     string       `json:"diagnosis"`
	Instructions  string       `json:"instructions,omitempty"`
	// ValidDays defaults to DefaultValidDays when zero.
	ValidDays int `json:"valid_days,omitempty"`
}

func (r IssueRequest) validate() error {
	if strings.TrimSpace(r.AppointmentID) == "" {
		return fmt.Errorf("%w: appointment_id is required", ErrInvalidArgument)
	}
	if strings.TrimSpace(r.Diagnosis) == "" {
		return fmt.Errorf("%w: diagnosis is required", ErrInvalidArgument)
	}
	if len(r.Medications) == 0 {
		return fmt.Errorf("%w: at least one medication is required", ErrInvalidArgument)
	}
	for i, m := range r.Medications {
		if strings.TrimSpace(m.Name) == "" || strings.TrimSpace(m.Dosage) == "" {
			return fmt.Errorf("%w: medication %d needs a name and a dosage", ErrInvalidArgument, i)
		}
	}
	if r.ValidDays < 0 || r.ValidDays > MaxValidDays {
		return fmt.Errorf("%w: valid_days must be between 1 and %d", ErrInvalidArgument, MaxValidDays)
	}
	return nil
}

// Issue creates an active prescription valid for ValidDays from now.
func (s *Service) Issue(ctx context.Context, doctorID string, req IssueRequest) (Prescription, error) {
	if err := req.validate(); err != nil {
		return Prescription{}, err
	}
	a, err := s.appts.Get(ctx, req.AppointmentID)
	if err != nil {
		return Prescription{}, err
	}
	if a.DoctorID != doctorID {
		return Prescription{}, fmt.Errorf("%w: only the appointment's doctor may prescribe", ErrForbidden)
	}
	if a.State == appointments.StateCancelled {
		return Prescription{}, ErrNotPrescribable
	}

	days := req.ValidDays
	if days == 0 {
		days = DefaultValidDays
	}
	now := s.clock().UTC()
	p := Prescription{
		ID:            uuid.NewString(),
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Medications:   append([]Medication(nil), req.Medications...),
		Diagnosis:     strings.TrimSpace(req.Diagnosis),
		Instructions:  strings.TrimSpace(req.Instructions),
		ValidUntil:    now.AddDate(0, 0, days),
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return Prescription{}, err
	}

	s.log.Info("prescription issued", "prescription_id", p.ID, "appointment_id", a.ID, "medications", len(p.Medications))
	s.record(ctx, audit.Event{
		Type:          audit.EventTypePrescriptionIssued,
		AppointmentID: a.ID,
		ActorUserID:   doctorID,
		ActorRole:     rbac.RoleDoctor,
		Metadata:      fmt.Sprintf(`{"prescription_id":%q,"valid_until":%q}`, p.ID, p.ValidUntil.Format(time.RFC3339)),
	})
	return p, nil
}

// List returns the requester's prescriptions, newest first: patients see what
// they were prescribed, doctors what they issued and admins everything.
func (s *Service) List(ctx context.Context, requesterID, role string) ([]Prescription, error) {
	var f Filter
	switch {
	case rbac.IsAdmin(role):
	case role == rbac.RoleDoctor:
		f.DoctorID = requesterID
	case role == rbac.RolePatient:
		f.PatientID = requesterID
	default:
		return []Prescription{}, nil
	}
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	out := make([]Prescription, 0, len(list))
	for _, p := range list {
		out = append(out, p.withStatusAt(now))
	}
	return out, nil
}

// Get returns one prescription to its patient, its doctor or an admin.
func (s *Service) Get(ctx context.Context, id, requesterID, role string) (Prescription, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Prescription{}, err
	}
	if !rbac.IsAdmin(role) && p.PatientID != requesterID && p.DoctorID != requesterID {
		// Hide existence from unrelated users.
		return Prescription{}, ErrNotFound
	}
	return p.withStatusAt(s.clock()), nil
}

// Cancel withdraws an active prescription. Only the issuing doctor may cancel it.
func (s *Service) Cancel(ctx context.Context, id, doctorID string) (Prescription, error) {
	now := s.clock().UTC()
	p, err := s.repo.Update(ctx, id, func(p *Prescription) error {
		if p.DoctorID != doctorID {
			return ErrForbidden
		}
		if p.withStatusAt(now).Status != StatusActive {
			return ErrNotActive
		}
		p.Status = StatusCancelled
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Prescription{}, err
	}
	s.log.Info("prescription cancelled", "prescription_id", p.ID, "appointment_id", p.AppointmentID)
	s.record(ctx, audit.Event{
		Type:          audit.EventTypePrescriptionCancelled,
		AppointmentID: p.AppointmentID,
		ActorUserID:   doctorID,
		ActorRole:     rbac.RoleDoctor,
		Metadata:      fmt.Sprintf(`{"prescription_id":%q}`, p.ID),
	})
	return p, nil
}

func (s *Service) record(ctx context.Context, e audit.Event) {
	if s.auditor != nil {
		s.auditor.Record(ctx, e)
	}
}
