package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends to the audit_events table. The table has no UPDATE/DELETE grants.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, type, appointment_id, room_id, actor_user_id, actor_role,
  from_state, to_state, message, metadata, created_at
) VALUES (
  $1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),
  NULLIF($7,''),NULLIF($8,''),$9,NULLIF($10,'')::jsonb,$11
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.AppointmentID,
		e.RoomID,
		e.ActorUserID,
		e.ActorRole,
		e.FromState,
		e.ToState,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListByAppointment(ctx context.Context, appointmentID string) ([]Event, error) {
	const q = `
SELECT id, type, COALESCE(appointment_id::text,''), COALESCE(room_id,''),
       COALESCE(actor_user_id,''), COALESCE(actor_role,''),
       COALESCE(from_state,''), COALESCE(to_state,''), message,
       COALESCE(metadata::text,''), created_at
FROM audit_events
WHERE appointment_id = $1
ORDER BY created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID,
			&e.Type,
			&e.AppointmentID,
			&e.RoomID,
			&e.ActorUserID,
			&e.ActorRole,
			&e.FromState,
			&e.ToState,
			&e.Message,
			&e.Metadata,
			&e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
