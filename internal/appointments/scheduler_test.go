package appointments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"telemed-platform/internal/audit"
	"telemed-platform/internal/payments"
	"telemed-platform/internal/rbac"
)

func TestCreateAppointment_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	base := CreateRequest{
		PatientID:       "patient-1",
		DoctorID:        "doctor-1",
		ScheduledAt:     at(10, 0),
		DurationMinutes: 30,
		Type:            TypeConsultation,
	}

	cases := []struct {
		name  string
		field string
		edit  func(r *CreateRequest)
	}{
		{"past", "scheduled_at", func(r *CreateRequest) { r.ScheduledAt = testNow.Add(-time.Minute) }},
		{"now", "scheduled_at", func(r *CreateRequest) { r.ScheduledAt = testNow }},
		{"missing time", "scheduled_at", func(r *CreateRequest) { r.ScheduledAt = time.Time{} }},
		{"duration", "duration_minutes", func(r *CreateRequest) { r.DurationMinutes = 20 }},
		{"type", "type", func(r *CreateRequest) { r.Type = "house_call" }},
		{"patient", "patient_id", func(r *CreateRequest) { r.PatientID = " " }},
		{"doctor", "doctor_id", func(r *CreateRequest) { r.DoctorID = "" }},
		{"self", "doctor_id", func(r *CreateRequest) { r.DoctorID = r.PatientID }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.edit(&req)
			_, err := f.sched.CreateAppointment(ctx, req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected field %q, got %v", tc.field, err)
			}
		})
	}

	list, _ := f.repo.List(ctx, Filter{})
	if len(list) != 0 {
		t.Fatalf("rejected requests must not persist, found %d", len(list))
	}
}

func TestCreateAppointment_InitialState(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "patient-1", "doctor-1", at(10, 0), 30)

	if a.State != StateScheduled || a.PaymentStatus != PaymentPending || a.RoomID != "" {
		t.Fatalf("unexpected initial appointment %+v", a)
	}
	if a.FeeMinor != 7500 || a.Currency != "USD" {
		t.Fatalf("expected video_call fee 7500 USD, got %d %s", a.FeeMinor, a.Currency)
	}

	entries, _ := f.ledger.ListByAppointment(context.Background(), a.ID)
	if len(entries) != 1 || entries[0].Type != payments.EntryTypeChargeOpened {
		t.Fatalf("expected an open charge, got %+v", entries)
	}
	evs := f.auditLog.Events()
	if len(evs) != 1 || evs[0].Type != audit.EventTypeBooked {
		t.Fatalf("expected booking audit event, got %+v", evs)
	}
}

func TestCreateAppointment_DoctorOverlap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.book(t, "patient-1", "doctor-d", at(10, 0), 30)

	_, err := f.sched.CreateAppointment(ctx, CreateRequest{
		PatientID: "patient-2", DoctorID: "doctor-d", ScheduledAt: at(10, 15), DurationMinutes: 15, Type: TypeFollowUp,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for 10:15, got %v", err)
	}

	// Back-to-back slots do not overlap.
	f.book(t, "patient-2", "doctor-d", at(10, 30), 15)

	// Another doctor at the same time is fine.
	f.book(t, "patient-3", "doctor-e", at(10, 0), 30)
}

func TestCreateAppointment_CancelledSlotCanBeRebooked(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, "patient-1", "doctor-d", at(11, 0), 60)
	if _, err := f.sched.CancelAppointment(context.Background(), a.ID, "patient-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	f.book(t, "patient-2", "doctor-d", at(11, 30), 30)
}

func TestCreateAppointment_ConcurrentBookingsForOneSlot(t *testing.T) {
	f := newFixture(t)

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.sched.CreateAppointment(context.Background(), CreateRequest{
				PatientID:       "patient-" + string(rune('a'+i)),
				DoctorID:        "doctor-busy",
				ScheduledAt:     at(14, 0),
				DurationMinutes: 45,
				Type:            TypeConsultation,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || conflicts != n-1 {
		t.Fatalf("expected exactly one booking, got %d ok and %d conflicts", succeeded, conflicts)
	}
}

func TestListAppointments_ScopedAndOrdered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := f.book(t, "patient-1", "doctor-1", at(15, 0), 30)
	early := f.book(t, "patient-1", "doctor-2", at(9, 0), 15)
	f.book(t, "patient-2", "doctor-1", at(12, 0), 30)

	mine, err := f.sched.ListAppointments(ctx, ListRequest{RequesterID: "patient-1", Role: rbac.RolePatient})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 2 || mine[0].ID != early.ID || mine[1].ID != late.ID {
		t.Fatalf("expected patient-1 appointments in time order, got %+v", mine)
	}

	docs, err := f.sched.ListAppointments(ctx, ListRequest{RequesterID: "doctor-1", Role: rbac.RoleDoctor})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || !docs[0].ScheduledAt.Before(docs[1].ScheduledAt) {
		t.Fatalf("expected doctor-1 appointments in time order, got %+v", docs)
	}

	if _, err := f.sched.CancelAppointment(ctx, late.ID, "patient-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	cancelled, err := f.sched.ListAppointments(ctx, ListRequest{RequesterID: "patient-1", Role: rbac.RolePatient, State: StateCancelled})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].ID != late.ID {
		t.Fatalf("expected only the cancelled appointment, got %+v", cancelled)
	}

	all, err := f.sched.ListAppointments(ctx, ListRequest{RequesterID: "admin-1", Role: rbac.RoleAdmin})
	if err != nil || len(all) != 3 {
		t.Fatalf("expected admin to see all 3, got %d (%v)", len(all), err)
	}

	if _, err := f.sched.ListAppointments(ctx, ListRequest{RequesterID: "x", Role: rbac.RolePatient, State: "paused"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown state, got %v", err)
	}
	if _, err := f.sched.ListAppointments(ctx, ListRequest{RequesterID: "x", Role: "nurse"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for unknown role, got %v", err)
	}
}

func TestGetAppointment_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "patient-1", "doctor-1", at(10, 0), 30)

	if _, err := f.sched.GetAppointment(ctx, a.ID, "doctor-1", rbac.RoleDoctor); err != nil {
		t.Fatalf("doctor should see appointment: %v", err)
	}
	if _, err := f.sched.GetAppointment(ctx, a.ID, "admin-1", rbac.RoleAdmin); err != nil {
		t.Fatalf("admin should see appointment: %v", err)
	}
	if _, err := f.sched.GetAppointment(ctx, a.ID, "patient-2", rbac.RolePatient); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.sched.GetAppointment(ctx, "missing", "patient-1", rbac.RolePatient); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelAppointment_Rules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, "patient-1", "doctor-1", at(8, 10), 30)

	if _, err := f.sched.CancelAppointment(ctx, a.ID, "stranger"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for non-participant, got %v", err)
	}
	if _, err := f.sched.CancelAppointment(ctx, "missing", "patient-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := f.sessions.StartSession(ctx, a.ID, "doctor-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.sched.CancelAppointment(ctx, a.ID, "patient-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for in_progress, got %v", err)
	}
	cur, _ := f.repo.Get(ctx, a.ID)
	if cur.State != StateInProgress {
		t.Fatalf("rejected cancel must not change state, got %s", cur.State)
	}

	if _, err := f.sessions.EndSession(ctx, a.ID, "doctor-1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	_, err := f.sched.CancelAppointment(ctx, a.ID, "patient-1")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) || ite.From != StateCompleted || !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition from completed, got %v", err)
	}
}

func TestCancelAppointment_TwiceIsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "patient-1", "doctor-1", at(10, 0), 30)

	got, err := f.sched.CancelAppointment(ctx, a.ID, "doctor-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.State != StateCancelled || got.CancelledAt == nil || got.PaymentStatus != PaymentPending {
		t.Fatalf("unexpected cancelled appointment %+v", got)
	}
	if _, err := f.sched.CancelAppointment(ctx, a.ID, "patient-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestCancelAppointment_RefundsPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "patient-1", "doctor-1", at(10, 0), 30)

	if _, err := f.sched.RecordPayment(ctx, a.ID, "patient-1"); err != nil {
		t.Fatalf("pay: %v", err)
	}
	got, err := f.sched.CancelAppointment(ctx, a.ID, "patient-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.PaymentStatus != PaymentRefunded {
		t.Fatalf("expected refunded, got %s", got.PaymentStatus)
	}

	entries, _ := f.ledger.ListByAppointment(ctx, a.ID)
	var refunds int
	for _, e := range entries {
		if e.Type == payments.EntryTypeRefunded {
			refunds++
		}
	}
	if refunds != 1 {
		t.Fatalf("expected one refund ledger entry, got %d", refunds)
	}

	if _, err := f.sched.RecordPayment(ctx, a.ID, "patient-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected paying a refunded appointment to be forbidden, got %v", err)
	}
}

func TestRecordPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "patient-1", "doctor-1", at(10, 0), 30)

	if _, err := f.sched.RecordPayment(ctx, a.ID, "doctor-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected only the patient to pay, got %v", err)
	}
	paid, err := f.sched.RecordPayment(ctx, a.ID, "patient-1")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if paid.PaymentStatus != PaymentPaid || paid.State != StateScheduled {
		t.Fatalf("payment must not touch state: %+v", paid)
	}
	again, err := f.sched.RecordPayment(ctx, a.ID, "patient-1")
	if err != nil || again.PaymentStatus != PaymentPaid {
		t.Fatalf("expected idempotent payment, got %+v %v", again, err)
	}
}

// captureHook runs a callback between the ledger capture and the appointment update.
type captureHook struct {
	*payments.Service
	onCapture func()
}

func (p captureHook) Capture(ctx context.Context, appointmentID string) (payments.LedgerEntry, error) {
	e, err := p.Service.Capture(ctx, appointmentID)
	if err == nil && p.onCapture != nil {
		p.onCapture()
	}
	return e, err
}

func TestRecordPayment_CancelDuringCaptureIsRefunded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "patient-1", "doctor-1", at(10, 0), 30)

	f.sched.payments = captureHook{
		Service: payments.NewService(f.ledger, nil),
		onCapture: func() {
			if _, err := f.sched.CancelAppointment(ctx, a.ID, "doctor-1"); err != nil {
				t.Errorf("cancel during capture: %v", err)
			}
		},
	}

	if _, err := f.sched.RecordPayment(ctx, a.ID, "patient-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected payment of a cancelled appointment to fail, got %v", err)
	}

	got, err := f.repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != StateCancelled || got.PaymentStatus == PaymentPaid {
		t.Fatalf("unexpected appointment %s/%s", got.State, got.PaymentStatus)
	}

	sum, err := payments.NewService(f.ledger, nil).Summary(ctx, a.ID)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.CapturedMinor == 0 || sum.RefundedMinor != sum.CapturedMinor {
		t.Fatalf("expected the capture to be reversed, got %+v", sum)
	}

	var reversals int
	for _, e := range f.auditLog.Events() {
		if e.AppointmentID == a.ID && e.Type == audit.EventTypeRefundIssued {
			reversals++
		}
	}
	if reversals != 1 {
		t.Fatalf("expected one refund audit event, got %d", reversals)
	}
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "patient-1", "doctor-1", at(10, 0), 30)
	f.book(t, "patient-2", "doctor-1", at(12, 0), 30)

	notes := "bring latest lab results"
	got, err := f.sched.UpdateDetails(ctx, a.ID, "patient-1", UpdateRequest{Notes: &notes})
	if err != nil || got.Notes != notes {
		t.Fatalf("expected notes updated, got %+v %v", got, err)
	}

	if _, err := f.sched.UpdateDetails(ctx, a.ID, "doctor-1", UpdateRequest{Notes: &notes}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected doctor edit to be forbidden, got %v", err)
	}

	clash := at(12, 15)
	if _, err := f.sched.UpdateDetails(ctx, a.ID, "patient-1", UpdateRequest{ScheduledAt: &clash}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict when moving onto a booked slot, got %v", err)
	}

	// Moving within its own window is not a conflict with itself.
	shifted := at(10, 15)
	got, err = f.sched.UpdateDetails(ctx, a.ID, "patient-1", UpdateRequest{ScheduledAt: &shifted})
	if err != nil || !got.ScheduledAt.Equal(shifted) {
		t.Fatalf("expected reschedule, got %+v %v", got, err)
	}

	past := testNow.Add(-time.Hour)
	if _, err := f.sched.UpdateDetails(ctx, a.ID, "patient-1", UpdateRequest{ScheduledAt: &past}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for past time, got %v", err)
	}
	if _, err := f.sched.UpdateDetails(ctx, a.ID, "patient-1", UpdateRequest{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty update, got %v", err)
	}

	if _, err := f.sched.CancelAppointment(ctx, a.ID, "patient-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.sched.UpdateDetails(ctx, a.ID, "patient-1", UpdateRequest{Notes: &notes}); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable after cancel, got %v", err)
	}
}
