package billing

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryLedger is an in-memory Ledger for tests and local development.
// The single mutex gives the same atomicity the Postgres implementation
// gets from its transaction.
type MemoryLedger struct {
	mu      sync.Mutex
	actions map[string]CallAction // by idempotency key
	topups  map[string]*TopUp
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		actions: make(map[string]CallAction),
		topups:  make(map[string]*TopUp),
	}
}

func (l *MemoryLedger) RecordAction(ctx context.Context, a CallAction, bill bool) (CallAction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.actions[a.IdempotencyKey]; ok {
		return existing, nil
	}

	if bill {
		t := l.pickTopUp(a.OrgID)
		if t == nil {
			return CallAction{}, ErrInsufficientCredits
		}
		t.Used++
		a.TopUpID = t.ID
	}

	l.actions[a.IdempotencyKey] = a
	return a, nil
}

// pickTopUp returns the oldest top-up with remaining credits, or nil.
func (l *MemoryLedger) pickTopUp(orgID string) *TopUp {
	var candidates []*TopUp
	for _, t := range l.topups {
		if t.OrgID == orgID && t.Remaining() > 0 {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	return candidates[0]
}

func (l *MemoryLedger) RemainingCredits(ctx context.Context, orgID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, t := range l.topups {
		if t.OrgID == orgID {
			total += t.Remaining()
		}
	}
	return total, nil
}

func (l *MemoryLedger) AddTopUp(ctx context.Context, t TopUp) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := t
	l.topups[t.ID] = &cp
	return nil
}

func (l *MemoryLedger) ListActions(ctx context.Context, orgID string, from, to time.Time) ([]CallAction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []CallAction
	for _, a := range l.actions {
		if a.OrgID != orgID {
			continue
		}
		if a.CreatedAt.Before(from) || !a.CreatedAt.Before(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Actions returns every recorded action, for test assertions.
func (l *MemoryLedger) Actions() []CallAction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]CallAction, 0, len(l.actions))
	for _, a := range l.actions {
		out = append(out, a)
	}
	return out
}
