package pricing

import (
	"context"
	"time"
)

// MemoryRepo holds a fixed fee table.
type MemoryRepo struct {
	Fees []Fee
}

func NewMemoryRepo(fees ...Fee) *MemoryRepo {
	if len(fees) == 0 {
		fees = DefaultFees()
	}
	return &MemoryRepo{Fees: fees}
}

// FindFee returns the most recently effective active fee for appointmentType at the given time.
func (r *MemoryRepo) FindFee(_ context.Context, appointmentType string, at time.Time) (Fee, bool, error) {
	var best Fee
	found := false

	for _, f := range r.Fees {
		if f.AppointmentType != appointmentType {
			continue
		}
		if f.Status != StatusActive {
			continue
		}
		if at.Before(f.EffectiveFrom) {
			continue
		}
		if f.EffectiveTo != nil && !at.Before(*f.EffectiveTo) {
			continue
		}
		if !found || f.EffectiveFrom.After(best.EffectiveFrom) {
			best = f
			found = true
		}
	}

	return best, found, nil
}
