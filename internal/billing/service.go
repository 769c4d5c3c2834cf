package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
	"github.com/google/uuid"
)

var (
	ErrInvalidArgument     = errors.New("billing: invalid argument")
	ErrInsufficientCredits = errors.New("billing: insufficient credits")
)

// Ledger is the persistence contract for actions and credits.
//
// RecordAction must be atomic: when bill is true it creates the action
// AND debits one credit from an org top-up in the same unit of work, or
// does neither. It must also be idempotent on the action's
// IdempotencyKey, returning the existing action unchanged on replay.
type Ledger interface {
	RecordAction(ctx context.Context, a CallAction, bill bool) (CallAction, error)

	// RemainingCredits sums unconsumed credits across the org's top-ups.
	RemainingCredits(ctx context.Context, orgID string) (int, error)

	// AddTopUp registers a purchased credit batch.
	AddTopUp(ctx context.Context, t TopUp) error

	// ListActions returns actions created in [from, to) for reporting.
	ListActions(ctx context.Context, orgID string, from, to time.Time) ([]CallAction, error)
}

// Service bills voice actions: one credit per action performed during a
// call, skipped entirely for test-contact calls.
type Service struct {
	ledger Ledger
	clock  func() time.Time
}

func NewService(ledger Ledger) *Service {
	return &Service{ledger: ledger, clock: time.Now}
}

// SetClock overrides the clock for deterministic tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// RecordAction records one action for the call and step. Non-test calls
// debit exactly one credit, linked to the action via its top-up; invoking
// it twice with the same (call, step) pair charges once.
func (s *Service) RecordAction(ctx context.Context, call ivr.Call, stepID string) (CallAction, error) {
	if call.ID == "" || call.OrgID == "" {
		return CallAction{}, ErrInvalidArgument
	}
	a := CallAction{
		ID:             uuid.NewString(),
		OrgID:          call.OrgID,
		CallID:         call.ID,
		StepID:         stepID,
		IdempotencyKey: ActionKey(call.ID, stepID),
		CreatedAt:      s.clock().UTC(),
	}
	return s.ledger.RecordAction(ctx, a, !call.ContactIsTest)
}

func (s *Service) RemainingCredits(ctx context.Context, orgID string) (int, error) {
	if orgID == "" {
		return 0, ErrInvalidArgument
	}
	return s.ledger.RemainingCredits(ctx, orgID)
}

// AddTopUp registers a purchased batch of credits for the org.
func (s *Service) AddTopUp(ctx context.Context, orgID string, credits int) (TopUp, error) {
	if orgID == "" || credits <= 0 {
		return TopUp{}, ErrInvalidArgument
	}
	t := TopUp{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Credits:   credits,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.ledger.AddTopUp(ctx, t); err != nil {
		return TopUp{}, err
	}
	return t, nil
}

// ActionKey is the idempotency key for one (call, step) pair.
func ActionKey(callID, stepID string) string {
	return fmt.Sprintf("action:%s:%s", callID, stepID)
}
