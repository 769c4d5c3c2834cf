package flows

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one line of a flow run's debug trace, visible to operators
// validating a flow ("Placing test call to ...", "Call ended.").
//
// Entries are append-only and never updated or deleted.
type Entry struct {
	ID      string `json:"id" db:"id"`
	OrgID   string `json:"org_id" db:"org_id"`
	FlowID  string `json:"flow_id" db:"flow_id"`
	CallID  string `json:"call_id,omitempty" db:"call_id"`
	Message string `json:"message" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// RunLogRepository is the persistence contract for trace entries.
// Append-only: no Update/Delete methods by design.
type RunLogRepository interface {
	Append(ctx context.Context, e Entry) error
}

var ErrInvalidEntry = errors.New("flows: invalid run log entry")

// RunLog records trace entries. Callers treat it as best-effort; call
// handling never fails because a trace could not be written.
type RunLog struct {
	repo  RunLogRepository
	clock func() time.Time
}

func NewRunLog(repo RunLogRepository) *RunLog {
	return &RunLog{repo: repo, clock: time.Now}
}

func (l *RunLog) Trace(ctx context.Context, orgID, flowID, callID, message string) error {
	if l.repo == nil {
		return errors.New("flows: run log repository not configured")
	}
	if orgID == "" || message == "" {
		return ErrInvalidEntry
	}
	return l.repo.Append(ctx, Entry{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		FlowID:    flowID,
		CallID:    callID,
		Message:   message,
		CreatedAt: l.clock().UTC(),
	})
}

// MemoryRunLog is an in-memory append-only repository for tests.
type MemoryRunLog struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryRunLog() *MemoryRunLog { return &MemoryRunLog{} }

func (r *MemoryRunLog) Append(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRunLog) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}
