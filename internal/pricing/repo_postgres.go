package pricing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepo reads the appointment_fees table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindFee(ctx context.Context, appointmentType string, at time.Time) (Fee, bool, error) {
	const q = `
SELECT id, appointment_type, currency, amount_minor, effective_from, effective_to, status
FROM appointment_fees
WHERE appointment_type = $1
  AND status = 'active'
  AND effective_from <= $2
  AND (effective_to IS NULL OR effective_to > $2)
ORDER BY effective_from DESC
LIMIT 1
`
	var (
		f  Fee
		to sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, appointmentType, at).Scan(
		&f.ID, &f.AppointmentType, &f.Currency, &f.AmountMinor, &f.EffectiveFrom, &to, &f.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Fee{}, false, nil
	}
	if err != nil {
		return Fee{}, false, fmt.Errorf("pricing: find fee: %w", err)
	}
	if to.Valid {
		t := to.Time
		f.EffectiveTo = &t
	}
	return f, true, nil
}
