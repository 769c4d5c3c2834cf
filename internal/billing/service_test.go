package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
)

func newBillingFixture(t *testing.T, credits int) (*Service, *MemoryLedger) {
	t.Helper()
	ledger := NewMemoryLedger()
	if credits > 0 {
		err := ledger.AddTopUp(context.Background(), TopUp{
			ID:        "topup-1",
			OrgID:     "org-1",
			Credits:   credits,
			CreatedAt: time.Unix(1700000000, 0).UTC(),
		})
		if err != nil {
			t.Fatalf("topup: %v", err)
		}
	}
	svc := NewService(ledger)
	svc.SetClock(func() time.Time { return time.Unix(1700000000, 0).UTC() })
	return svc, ledger
}

func TestRecordAction_DebitsOneCredit(t *testing.T) {
	svc, ledger := newBillingFixture(t, 10)
	call := ivr.Call{ID: "c1", OrgID: "org-1"}

	a, err := svc.RecordAction(context.Background(), call, "step-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if a.TopUpID != "topup-1" {
		t.Fatalf("action not linked to topup: %+v", a)
	}
	remaining, err := ledger.RemainingCredits(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	if remaining != 9 {
		t.Fatalf("expected 9 credits, got %d", remaining)
	}
}

func TestRecordAction_IdempotentOnReplay(t *testing.T) {
	svc, ledger := newBillingFixture(t, 10)
	call := ivr.Call{ID: "c1", OrgID: "org-1"}

	first, err := svc.RecordAction(context.Background(), call, "step-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	second, err := svc.RecordAction(context.Background(), call, "step-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay created a new action: %s vs %s", first.ID, second.ID)
	}
	if remaining, _ := ledger.RemainingCredits(context.Background(), "org-1"); remaining != 9 {
		t.Fatalf("replay double-charged: %d credits left", remaining)
	}
	if n := len(ledger.Actions()); n != 1 {
		t.Fatalf("expected 1 action, got %d", n)
	}
}

// Concurrent first-time writers with the same key must converge on one
// action and one debit, never surface the collision to the caller.
func TestRecordAction_IdempotentUnderConcurrency(t *testing.T) {
	svc, ledger := newBillingFixture(t, 10)
	call := ivr.Call{ID: "c1", OrgID: "org-1"}

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, err := svc.RecordAction(context.Background(), call, "step-1")
			errs <- err
		}()
	}
	for i := 0; i < writers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if n := len(ledger.Actions()); n != 1 {
		t.Fatalf("expected 1 action, got %d", n)
	}
	if remaining, _ := ledger.RemainingCredits(context.Background(), "org-1"); remaining != 9 {
		t.Fatalf("concurrent replay double-charged: %d credits left", remaining)
	}
}

func TestRecordAction_TestContactIsFree(t *testing.T) {
	svc, ledger := newBillingFixture(t, 10)
	call := ivr.Call{ID: "c1", OrgID: "org-1", ContactIsTest: true}

	a, err := svc.RecordAction(context.Background(), call, "step-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if a.TopUpID != "" {
		t.Fatalf("test action consumed a credit: %+v", a)
	}
	if remaining, _ := ledger.RemainingCredits(context.Background(), "org-1"); remaining != 10 {
		t.Fatalf("expected untouched credits, got %d", remaining)
	}
}

func TestRecordAction_InsufficientCredits(t *testing.T) {
	svc, _ := newBillingFixture(t, 0)
	call := ivr.Call{ID: "c1", OrgID: "org-1"}

	_, err := svc.RecordAction(context.Background(), call, "step-1")
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
}

func TestRecordAction_DebitsOldestTopUpFirst(t *testing.T) {
	svc, ledger := newBillingFixture(t, 0)
	base := time.Unix(1700000000, 0).UTC()
	for _, tu := range []TopUp{
		{ID: "newer", OrgID: "org-1", Credits: 5, CreatedAt: base.Add(time.Hour)},
		{ID: "older", OrgID: "org-1", Credits: 1, CreatedAt: base},
	} {
		if err := ledger.AddTopUp(context.Background(), tu); err != nil {
			t.Fatalf("topup: %v", err)
		}
	}

	a, err := svc.RecordAction(context.Background(), ivr.Call{ID: "c1", OrgID: "org-1"}, "step-1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if a.TopUpID != "older" {
		t.Fatalf("expected oldest topup, got %s", a.TopUpID)
	}
}

func TestAddTopUp_RejectsNonPositiveCredits(t *testing.T) {
	svc, _ := newBillingFixture(t, 0)
	if _, err := svc.AddTopUp(context.Background(), "org-1", 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
