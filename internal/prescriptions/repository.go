package prescriptions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"telemed-platform/pkg/utils"
)

// Repository persists prescriptions.
type Repository interface {
	Create(ctx context.Context, p Prescription) error
	Get(ctx context.Context, id string) (Prescription, error)
	// List returns matching prescriptions, newest first.
	List(ctx context.Context, f Filter) ([]Prescription, error)
	// Update applies fn to the stored row under a row lock and saves the result.
	Update(ctx context.Context, id string, fn func(*Prescription) error) (Prescription, error)
}

// MemoryRepo is an in-memory Repository for tests and single-node runs.
type MemoryRepo struct {
	mu   sync.Mutex
	byID map[string]Prescription
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byID: make(map[string]Prescription)}
}

func (r *MemoryRepo) Create(_ context.Context, p Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return fmt.Errorf("prescriptions: duplicate id %s", p.ID)
	}
	p.Medications = append([]Medication(nil), p.Medications...)
	r.byID[p.ID] = p
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return Prescription{}, ErrNotFound
	}
	return p, nil
}

func (r *MemoryRepo) List(_ context.Context, f Filter) ([]Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Prescription
	for _, p := range r.byID {
		if f.PatientID != "" && p.PatientID != f.PatientID {
			continue
		}
		if f.DoctorID != "" && p.DoctorID != f.DoctorID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) Update(_ context.Context, id string, fn func(*Prescription) error) (Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[id]
	if !ok {
		return Prescription{}, ErrNotFound
	}
	next := cur
	if err := fn(&next); err != nil {
		return Prescription{}, err
	}
	next.ID, next.AppointmentID, next.PatientID, next.DoctorID = cur.ID, cur.AppointmentID, cur.PatientID, cur.DoctorID
	r.byID[id] = next
	return next, nil
}

// PostgresRepo stores prescriptions in the prescriptions table; medications are JSONB.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const prescriptionColumns = `
id, appointment_id, patient_id, doctor_id, medications::text, diagnosis,
COALESCE(instructions, ''), valid_until, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrescription(row rowScanner) (Prescription, error) {
	var (
		p   Prescription
		raw string
	)
	err := row.Scan(
		&p.ID,
		&p.AppointmentID,
		&p.PatientID,
		&p.DoctorID,
		&raw,
		&p.Diagnosis,
		&p.Instructions,
		&p.ValidUntil,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Prescription{}, err
	}
	if err := json.Unmarshal([]byte(raw), &p.Medications); err != nil {
		return Prescription{}, fmt.Errorf("prescriptions: decode medications of %s: %w", p.ID, err)
	}
	return p, nil
}

func (r *PostgresRepo) Create(ctx context.Context, p Prescription) error {
	meds, err := json.Marshal(p.Medications)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO prescriptions (
  id, appointment_id, patient_id, doctor_id, medications, diagnosis, instructions,
  valid_until, status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5::jsonb,$6,NULLIF($7,''),$8,$9,$10,$11
)
`
	_, err = r.db.ExecContext(ctx, q,
		p.ID,
		p.AppointmentID,
		p.PatientID,
		p.DoctorID,
		string(meds),
		p.Diagnosis,
		p.Instructions,
		p.ValidUntil,
		p.Status,
		p.CreatedAt,
		p.UpdatedAt,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Prescription, error) {
	q := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1`
	p, err := scanPrescription(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Prescription{}, ErrNotFound
	}
	return p, err
}

func (r *PostgresRepo) List(ctx context.Context, f Filter) ([]Prescription, error) {
	var (
		where []string
		args  []any
	)
	if f.PatientID != "" {
		args = append(args, f.PatientID)
		where = append(where, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if f.DoctorID != "" {
		args = append(args, f.DoctorID)
		where = append(where, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	q := `SELECT ` + prescriptionColumns + ` FROM prescriptions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, id string, fn func(*Prescription) error) (Prescription, error) {
	var out Prescription
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + prescriptionColumns + ` FROM prescriptions WHERE id = $1 FOR UPDATE`
		cur, err := scanPrescription(tx.QueryRowContext(ctx, q, id))
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
		const upd = `
UPDATE prescriptions SET status = $2, instructions = NULLIF($3,''), updated_at = $4
WHERE id = $1
`
		if _, err := tx.ExecContext(ctx, upd, cur.ID, next.Status, next.Instructions, next.UpdatedAt); err != nil {
			return err
		}
		next.ID, next.AppointmentID, next.PatientID, next.DoctorID = cur.ID, cur.AppointmentID, cur.PatientID, cur.DoctorID
		out = next
		return nil
	})
	return out, err
}
