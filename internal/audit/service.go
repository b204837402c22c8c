package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"telemed-platform/pkg/logger"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. It is append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByAppointment(ctx context.Context, appointmentID string) ([]Event, error)
}

// Service records appointment lifecycle events.
// Audit is internal-only; records are not exposed to patients.
type Service struct {
	repo  Repository
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{repo: repo, log: logger.OrDefault(log), clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.AppointmentID == "" && e.RoomID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// Record appends e and logs instead of returning on failure.
func (s *Service) Record(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.log.Warn("audit append failed", "type", e.Type, "appointment_id", e.AppointmentID, "err", err)
	}
}

// Trail returns the events recorded for an appointment in insertion order.
func (s *Service) Trail(ctx context.Context, appointmentID string) ([]Event, error) {
	if appointmentID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByAppointment(ctx, appointmentID)
}
