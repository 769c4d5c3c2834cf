package ivr

import "time"

// Call represents one telephone call tracked on behalf of a flow.
//
// Ownership: a call belongs to its org. Channel and contact are shared
// references resolved elsewhere; the contact fields the call lifecycle
// depends on are snapshotted here so the state machine never reaches
// back into identity resolution.
//
// Invariants:
// - ExternalID is set once, when the provider accepts the call, and is
//   immutable afterwards. Any call that has left pending carries one.
// - Duration is never negative.
// - A terminal status is never overwritten (see Service.ApplyStatus).
type Call struct {
	ID        string `json:"id" db:"id"`
	OrgID     string `json:"org_id" db:"org_id"`
	ChannelID string `json:"channel_id" db:"channel_id"`
	FlowID    string `json:"flow_id,omitempty" db:"flow_id"`

	// ExternalID is the provider-assigned call identifier (Twilio CallSid).
	ExternalID string `json:"external_id,omitempty" db:"external_id"`

	ContactID     string `json:"contact_id" db:"contact_id"`
	ContactPhone  string `json:"contact_phone" db:"contact_phone"`
	ContactIsTest bool   `json:"contact_is_test" db:"contact_is_test"`

	Direction Direction `json:"direction" db:"direction"`
	CallType  CallType  `json:"call_type" db:"call_type"`
	Status    Status    `json:"status" db:"status"`

	// StartedOn is stamped exactly once, the first time the call enters
	// in_progress. EndedOn is stamped when it enters a terminal status.
	StartedOn *time.Time `json:"started_on,omitempty" db:"started_on"`
	EndedOn   *time.Time `json:"ended_on,omitempty" db:"ended_on"`

	// Duration is the call length in seconds as reported by the provider.
	Duration int `json:"duration" db:"duration"`

	CreatedBy string    `json:"created_by,omitempty" db:"created_by"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
	StatusCanceled   Status = "canceled"
)

// IsDone reports whether s is terminal. Terminal calls accept no further
// status transitions; late duplicate callbacks are inert.
func (s Status) IsDone() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// CallType tags what the call is for. Flow is the only kind today.
type CallType string

const CallTypeFlow CallType = "flow"

func (c *Call) IsFlow() bool { return c.CallType == CallTypeFlow }

func (c *Call) IsDone() bool { return c.Status.IsDone() }

// EffectiveDuration returns the provider-reported duration when one has
// been set, or an estimate from the start time while the call is still in
// progress. It never persists anything and never returns a negative value.
func (c *Call) EffectiveDuration(now time.Time) int {
	if c.Duration != 0 {
		return c.Duration
	}
	if c.Status == StatusInProgress && c.StartedOn != nil {
		if d := int(now.Sub(*c.StartedOn).Seconds()); d > 0 {
			return d
		}
	}
	return 0
}

// Channel is the provider endpoint a call is placed or received through.
// Channels own the per-tenant provider credentials; webhook signature
// checks must use the channel's token, never a global one.
type Channel struct {
	ID    string `json:"id" db:"id"`
	OrgID string `json:"org_id" db:"org_id"`

	// Address is the caller-id number presented on outgoing calls (E.164).
	Address string `json:"address" db:"address"`

	// FlowID is the flow started when this channel receives a call.
	FlowID string `json:"flow_id,omitempty" db:"flow_id"`

	AccountSID string `json:"account_sid,omitempty" db:"account_sid"`
	AuthToken  string `json:"-" db:"auth_token"`
}

// Contact is the minimal identity surface the call lifecycle needs.
// Full contact resolution lives outside this subsystem.
type Contact struct {
	ID     string `json:"id"`
	OrgID  string `json:"org_id"`
	Phone  string `json:"phone"`
	IsTest bool   `json:"is_test"`
}

// Actor is the user on whose behalf an outgoing call is created. TestPhone
// is the actor's configured number for validating flows against a test
// contact without dialing a real one.
type Actor struct {
	ID        string `json:"id"`
	TestPhone string `json:"test_phone,omitempty"`
}
