package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	"telemed-platform/pkg/utils"
)

// Repository persists ledger entries.
type Repository interface {
	// AppendIdempotent inserts e unless an entry with the same idempotency key exists,
	// in which case the existing entry is returned with inserted=false.
	AppendIdempotent(ctx context.Context, e LedgerEntry) (stored LedgerEntry, inserted bool, err error)
	ListByAppointment(ctx context.Context, appointmentID string) ([]LedgerEntry, error)
}

// MemoryRepo is an in-memory ledger for tests and single-node runs.
type MemoryRepo struct {
	mu      sync.Mutex
	entries []LedgerEntry
	byKey   map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{byKey: make(map[string]int)}
}

func (r *MemoryRepo) AppendIdempotent(_ context.Context, e LedgerEntry) (LedgerEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.byKey[e.IdempotencyKey]; ok {
		return r.entries[i], false, nil
	}
	r.byKey[e.IdempotencyKey] = len(r.entries)
	r.entries = append(r.entries, e)
	return e, true, nil
}

func (r *MemoryRepo) ListByAppointment(_ context.Context, appointmentID string) ([]LedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []LedgerEntry
	for _, e := range r.entries {
		if e.AppointmentID == appointmentID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PostgresRepo stores entries in payment_ledger, which carries
// UNIQUE (idempotency_key).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) AppendIdempotent(ctx context.Context, e LedgerEntry) (LedgerEntry, bool, error) {
	var out LedgerEntry
	var inserted bool

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if existing, ok, err := findByIdempotency(ctx, tx, e.IdempotencyKey); err != nil {
			return err
		} else if ok {
			out = existing
			return nil
		}

		if err := insertEntry(ctx, tx, e); err != nil {
			// A concurrent writer won the key between the lookup and the insert.
			if utils.IsUniqueViolation(err) {
				return errLostRace
			}
			return err
		}
		out = e
		inserted = true
		return nil
	})
	if errors.Is(err, errLostRace) {
		existing, ok, err := r.findCommitted(ctx, e.IdempotencyKey)
		if err != nil {
			return LedgerEntry{}, false, err
		}
		if !ok {
			return LedgerEntry{}, false, fmt.Errorf("payments: entry %s vanished after conflict", e.IdempotencyKey)
		}
		return existing, false, nil
	}
	if err != nil {
		return LedgerEntry{}, false, err
	}
	return out, inserted, nil
}

var errLostRace = errors.New("payments: idempotency race")

func (r *PostgresRepo) findCommitted(ctx context.Context, key string) (LedgerEntry, bool, error) {
	var (
		out LedgerEntry
		ok  bool
	)
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{ReadOnly: true}, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		out, ok, err = findByIdempotency(ctx, tx, key)
		return err
	})
	return out, ok, err
}

func (r *PostgresRepo) ListByAppointment(ctx context.Context, appointmentID string) ([]LedgerEntry, error) {
	const q = `
SELECT id, appointment_id, patient_id, type, amount_minor, currency, idempotency_key,
       COALESCE(metadata::text, ''), created_at
FROM payment_ledger
WHERE appointment_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(
		&e.ID,
		&e.AppointmentID,
		&e.PatientID,
		&e.Type,
		&e.AmountMinor,
		&e.Currency,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	return e, err
}

func findByIdempotency(ctx context.Context, tx *sql.Tx, key string) (LedgerEntry, bool, error) {
	const q = `
SELECT id, appointment_id, patient_id, type, amount_minor, currency, idempotency_key,
       COALESCE(metadata::text, ''), created_at
FROM payment_ledger
WHERE idempotency_key = $1
LIMIT 1
`
	e, err := scanEntry(tx.QueryRowContext(ctx, q, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LedgerEntry{}, false, nil
		}
		return LedgerEntry{}, false, err
	}
	return e, true, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e LedgerEntry) error {
	const q = `
INSERT INTO payment_ledger (
  id, appointment_id, patient_id, type, amount_minor, currency, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,NULLIF($8,'')::jsonb,$9
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.AppointmentID,
		e.PatientID,
		e.Type,
		e.AmountMinor,
		e.Currency,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
