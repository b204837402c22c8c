package appointments

import (
	"context"
	"sync"
	"testing"
	"time"

	"telemed-platform/internal/audit"
	"telemed-platform/internal/payments"
	"telemed-platform/internal/pricing"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingCloser struct {
	mu     sync.Mutex
	closed []string
}

func (r *recordingCloser) CloseRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, roomID)
}

func (r *recordingCloser) Closed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.closed...)
}

type fixture struct {
	clock    *fakeClock
	repo     *MemoryRepo
	auditLog *audit.MemoryRepo
	ledger   *payments.MemoryRepo
	sched    *Scheduler
	sessions *SessionMachine
	closer   *recordingCloser
}

// monday 2026-03-02 08:00 UTC
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    &fakeClock{now: testNow},
		repo:     NewMemoryRepo(),
		auditLog: audit.NewMemoryRepo(),
		ledger:   payments.NewMemoryRepo(),
		closer:   &recordingCloser{},
	}
	auditor := audit.NewService(f.auditLog, nil)
	pay := payments.NewService(f.ledger, nil)

	f.sched = NewScheduler(f.repo, NewMemoryLocker(), pricing.NewService(pricing.NewMemoryRepo()), pay, auditor, nil)
	f.sched.clock = f.clock.Now

	f.sessions = NewSessionMachine(f.repo, SessionConfig{EarlyJoin: 15 * time.Minute, LinkPadding: 15 * time.Minute}, auditor, nil)
	f.sessions.clock = f.clock.Now
	f.sessions.SetRoomCloser(f.closer)
	return f
}

func (f *fixture) book(t *testing.T, patient, doctor string, start time.Time, minutes int) Appointment {
	t.Helper()
	a, err := f.sched.CreateAppointment(context.Background(), CreateRequest{
		PatientID:       patient,
		DoctorID:        doctor,
		ScheduledAt:     start,
		DurationMinutes: minutes,
		Type:            TypeVideoCall,
	})
	if err != nil {
		t.Fatalf("book %s with %s at %s: %v", patient, doctor, start.Format(time.Kitchen), err)
	}
	return a
}
