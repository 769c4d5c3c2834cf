package ivr

import (
	"context"
	"time"
)

// Store is the persistence contract for calls. The state machine depends
// on this interface only; persistence technology stays out of it.
//
// Mutate is the serialization point: implementations must run fn with the
// record locked per call id, so concurrent callbacks for the same call
// cannot interleave their read-modify-write. Memory stores use a per-id
// mutex, the Postgres store a row lock inside a transaction.
type Store interface {
	Create(ctx context.Context, c *Call) error
	Get(ctx context.Context, id string) (Call, error)

	// Mutate loads the call, applies fn under the per-call lock and
	// persists the result atomically. Returns the updated call.
	Mutate(ctx context.Context, id string, fn func(c *Call) error) (Call, error)

	// FindActiveTestCall returns the non-terminal test-contact call for a
	// flow, or ErrNotFound. By construction there is at most one.
	FindActiveTestCall(ctx context.Context, flowID string) (Call, error)

	// Delete removes a record. Only test calls are ever deleted; the
	// provider's final callback for the dropped id will be rejected as
	// not found, which is accepted for test calls.
	Delete(ctx context.Context, id string) error

	// ListByOrg returns calls created in [from, to) for reporting.
	ListByOrg(ctx context.Context, orgID string, from, to time.Time) ([]Call, error)
}

// ChannelStore resolves channels for webhook authentication and outbound
// credential scoping.
type ChannelStore interface {
	Get(ctx context.Context, id string) (Channel, error)
}

// ContactResolver maps an inbound caller number to a contact. Real
// identity resolution is an external concern; implementations here may be
// as simple as minting an ephemeral contact per unknown number.
type ContactResolver interface {
	Resolve(ctx context.Context, orgID, phone string) (Contact, error)
}

// Provider is the consumer-side contract for the external telephony API.
// All three operations can fail with *ProviderError; callers decide what
// that means for the record (normally a transition to failed).
type Provider interface {
	// PlaceCall requests origination and returns the provider-assigned
	// external id. callbackURL is where status events will be posted.
	PlaceCall(ctx context.Context, ch Channel, to, callbackURL string) (string, error)

	// Hangup requests termination of an in-flight call.
	Hangup(ctx context.Context, ch Channel, externalID string) error

	// UpdateCallbackURL redirects subsequent status callbacks for an
	// in-flight call to a new URL.
	UpdateCallbackURL(ctx context.Context, ch Channel, externalID, url string) error
}

// Tracer appends entries to a flow run's debug trace. Best-effort: call
// handling never fails on a trace error.
type Tracer interface {
	Trace(ctx context.Context, orgID, flowID, callID, message string) error
}

// DialJob is one pending placement: the call to place and the actor whose
// settings govern test-call address redirection.
type DialJob struct {
	CallID string
	Actor  Actor
}

// Dispatcher hands placement jobs to the background dialer. StartCall must
// not block on provider latency, so placement is enqueued rather than
// inline.
type Dispatcher interface {
	Enqueue(job DialJob)
}
