package reporting

import (
	"context"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/billing"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
)

// StoreRepo reads reporting data straight from the call store and the
// billing ledger. Reporting never writes.
type StoreRepo struct {
	calls  ivr.Store
	ledger billing.Ledger
}

func NewStoreRepo(calls ivr.Store, ledger billing.Ledger) *StoreRepo {
	return &StoreRepo{calls: calls, ledger: ledger}
}

func (r *StoreRepo) ListCalls(ctx context.Context, orgID string, from, to time.Time) ([]ivr.Call, error) {
	return r.calls.ListByOrg(ctx, orgID, from, to)
}

func (r *StoreRepo) ListActions(ctx context.Context, orgID string, from, to time.Time) ([]billing.CallAction, error) {
	return r.ledger.ListActions(ctx, orgID, from, to)
}

func (r *StoreRepo) RemainingCredits(ctx context.Context, orgID string) (int, error) {
	return r.ledger.RemainingCredits(ctx, orgID)
}
