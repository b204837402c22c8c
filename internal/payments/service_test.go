package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestService() (*Service, *MemoryRepo) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	base := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	svc.clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
	return svc, repo
}

func TestOpenCharge_RejectsInvalidArgs(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	cases := []struct {
		appt, patient, currency string
		amount                  int64
	}{
		{"", "p", "USD", 100},
		{"a", "", "USD", 100},
		{"a", "p", "", 100},
		{"a", "p", "USD", 0},
	}
	for _, c := range cases {
		if _, err := svc.OpenCharge(ctx, c.appt, c.patient, c.amount, c.currency); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("expected ErrInvalidArgument for %+v, got %v", c, err)
		}
	}
}

func TestChargeCaptureRefund_Lifecycle(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Capture(ctx, "appt-1"); !errors.Is(err, ErrNoCharge) {
		t.Fatalf("expected ErrNoCharge before opening, got %v", err)
	}
	if _, err := svc.OpenCharge(ctx, "appt-1", "patient-1", 7500, "USD"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.Refund(ctx, "appt-1"); !errors.Is(err, ErrNotCaptured) {
		t.Fatalf("expected ErrNotCaptured, got %v", err)
	}
	if _, err := svc.Capture(ctx, "appt-1"); err != nil {
		t.Fatalf("capture: %v", err)
	}
	refund, err := svc.Refund(ctx, "appt-1")
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.AmountMinor != -7500 {
		t.Fatalf("expected negative refund, got %d", refund.AmountMinor)
	}
	if _, err := svc.Capture(ctx, "appt-1"); !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("expected ErrAlreadyRefunded, got %v", err)
	}

	sum, err := svc.Summary(ctx, "appt-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.ChargedMinor != 7500 || sum.CapturedMinor != 7500 || sum.RefundedMinor != 7500 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestCapture_IsIdempotentUnderConcurrency(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	if _, err := svc.OpenCharge(ctx, "appt-2", "patient-2", 3000, "USD"); err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	ids := make(chan string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := svc.Capture(ctx, "appt-2")
			if err != nil {
				t.Errorf("capture: %v", err)
				return
			}
			ids <- e.ID
		}()
	}
	wg.Wait()
	close(ids)

	first := ""
	for id := range ids {
		if first == "" {
			first = id
		}
		if id != first {
			t.Fatalf("expected every capture to return the same entry")
		}
	}
	entries, _ := repo.ListByAppointment(ctx, "appt-2")
	if len(entries) != 2 {
		t.Fatalf("expected charge and one capture, got %d entries", len(entries))
	}
}

var _ Repository = (*PostgresRepo)(nil)
