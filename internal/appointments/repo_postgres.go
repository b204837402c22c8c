package appointments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"telemed-platform/pkg/utils"
)

// PostgresRepo stores appointments in the appointments table.
// The table carries an exclusion constraint over (doctor_id, tstzrange(scheduled_at, ends_at))
// for active rows, so overlapping inserts fail with SQLSTATE 23P01 even if the calendar lock is bypassed.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const appointmentColumns = `
id, patient_id, doctor_id, scheduled_at, duration_minutes, type, state,
COALESCE(room_id, ''), payment_status, fee_minor, currency, COALESCE(notes, ''),
created_at, updated_at, started_at, ended_at, cancelled_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (Appointment, error) {
	var (
		a                         Appointment
		started, ended, cancelled sql.NullTime
	)
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Type,
		&a.State,
		&a.RoomID,
		&a.PaymentStatus,
		&a.FeeMinor,
		&a.Currency,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&started,
		&ended,
		&cancelled,
	)
	if err != nil {
		return Appointment{}, err
	}
	a.ScheduledAt = a.ScheduledAt.UTC()
	a.StartedAt = nullTimePtr(started)
	a.EndedAt = nullTimePtr(ended)
	a.CancelledAt = nullTimePtr(cancelled)
	return a, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func timePtrArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func (r *PostgresRepo) Create(ctx context.Context, a Appointment) error {
	const q = `
INSERT INTO appointments (
  id, patient_id, doctor_id, scheduled_at, ends_at, duration_minutes, type, state,
  room_id, payment_status, fee_minor, currency, notes, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11,$12,NULLIF($13,''),$14,$15
)
`
	_, err := r.db.ExecContext(ctx, q,
		a.ID,
		a.PatientID,
		a.DoctorID,
		a.ScheduledAt,
		a.EndsAt(),
		a.DurationMinutes,
		a.Type,
		a.State,
		a.RoomID,
		a.PaymentStatus,
		a.FeeMinor,
		a.Currency,
		a.Notes,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return mapWriteErr(err)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Appointment, error) {
	q := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`
	a, err := scanAppointment(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Appointment{}, ErrNotFound
	}
	return a, err
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Appointment, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != "" {
		add("patient_id = $%d", f.PatientID)
	}
	if f.DoctorID != "" {
		add("doctor_id = $%d", f.DoctorID)
	}
	if f.State != "" {
		add("state = $%d", f.State)
	}

	q := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY scheduled_at, id`
	return r.query(ctx, q, args...)
}

func (r *PostgresRepo) FindOverlapping(ctx context.Context, doctorID string, start time.Time, durationMinutes int, excludeID string) ([]Appointment, error) {
	q := `SELECT ` + appointmentColumns + `
FROM appointments
WHERE doctor_id = $1
  AND state IN ('scheduled', 'in_progress')
  AND scheduled_at < $3
  AND ends_at > $2
  AND id::text <> $4
ORDER BY scheduled_at, id`
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	return r.query(ctx, q, doctorID, start, end, excludeID)
}

func (r *PostgresRepo) FindByRoom(ctx context.Context, roomID string) (Appointment, error) {
	q := `SELECT ` + appointmentColumns + ` FROM appointments WHERE room_id = $1`
	a, err := scanAppointment(r.db.QueryRowContext(ctx, q, roomID))
	if errors.Is(err, sql.ErrNoRows) {
		return Appointment{}, ErrNotFound
	}
	return a, err
}

// Update locks the row with SELECT ... FOR UPDATE so concurrent transitions
// on one appointment run one after another.
func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(*Appointment) error) (Appointment, error) {
	var out Appointment
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1 FOR UPDATE`
		cur, err := scanAppointment(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		next := cur
		if err := fn(&next); err != nil {
			return err
		}
		if cur.RoomID != "" {
			next.RoomID = cur.RoomID
		}

		const upd = `
UPDATE appointments SET
  scheduled_at = $2, ends_at = $3, duration_minutes = $4, state = $5,
  room_id = NULLIF($6,''), payment_status = $7, notes = NULLIF($8,''),
  updated_at = $9, started_at = $10, ended_at = $11, cancelled_at = $12
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd,
			cur.ID,
			next.ScheduledAt,
			next.EndsAt(),
			next.DurationMinutes,
			next.State,
			next.RoomID,
			next.PaymentStatus,
			next.Notes,
			next.UpdatedAt,
			timePtrArg(next.StartedAt),
			timePtrArg(next.EndedAt),
			timePtrArg(next.CancelledAt),
		); err != nil {
			return mapWriteErr(err)
		}
		out = next
		return nil
	})
	if err != nil {
		return Appointment{}, err
	}
	return out, nil
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Appointment, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func mapWriteErr(err error) error {
	switch {
	case err == nil:
		return nil
	case utils.IsExclusionViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case utils.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
