package pricing

import (
	"context"
	"errors"
	"time"
)

// FeeRepository abstracts fee table persistence.
type FeeRepository interface {
	FindFee(ctx context.Context, appointmentType string, at time.Time) (Fee, bool, error)
}

// Service resolves the fee charged for an appointment type.
type Service struct {
	repo  FeeRepository
	clock func() time.Time
}

func NewService(repo FeeRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrFeeNotFound    = errors.New("pricing: fee not found")
	ErrInvalidRequest = errors.New("pricing: invalid request")
)

// Quote returns the fee for appointmentType effective at the given time.
// A zero at uses the service clock.
func (s *Service) Quote(ctx context.Context, appointmentType string, at time.Time) (Quote, error) {
	if appointmentType == "" {
		return Quote{}, ErrInvalidRequest
	}
	if at.IsZero() {
		at = s.clock().UTC()
	}

	f, ok, err := s.repo.FindFee(ctx, appointmentType, at)
	if err != nil {
		return Quote{}, err
	}
	if !ok {
		return Quote{}, ErrFeeNotFound
	}
	return Quote{
		AppointmentType: f.AppointmentType,
		Currency:        f.Currency,
		AmountMinor:     f.AmountMinor,
	}, nil
}
