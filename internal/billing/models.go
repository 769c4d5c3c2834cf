package billing

import "time"

// CallAction is one billable interaction inside a call: a voice
// prompt/response round-trip rendered by a flow step. Created once,
// immutable afterwards.
//
// Money invariant: a non-test action and its credit debit are one atomic
// unit. Test-contact actions carry no top-up link and consume nothing.
type CallAction struct {
	ID     string `json:"id" db:"id"`
	OrgID  string `json:"org_id" db:"org_id"`
	CallID string `json:"call_id" db:"call_id"`

	// StepID is the flow step that produced this action.
	StepID string `json:"step_id,omitempty" db:"step_id"`

	// TopUpID is the credit batch the debit was taken from; empty for
	// test-contact actions.
	TopUpID string `json:"topup_id,omitempty" db:"topup_id"`

	// IdempotencyKey is derived from (call, step): at-least-once delivery
	// of the triggering event must not double-charge.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TopUp is a purchased batch of credits for an org. Used never exceeds
// Credits and only ever grows.
type TopUp struct {
	ID      string `json:"id" db:"id"`
	OrgID   string `json:"org_id" db:"org_id"`
	Credits int    `json:"credits" db:"credits"`
	Used    int    `json:"used" db:"used"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (t TopUp) Remaining() int { return t.Credits - t.Used }
