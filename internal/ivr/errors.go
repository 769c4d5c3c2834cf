package ivr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown call ids. Handlers surface it
	// identically for unauthorized access, so call ids cannot be probed.
	ErrNotFound = errors.New("ivr: call not found")

	// ErrNoAddress means no destination could be resolved for an outgoing
	// call. Fatal: the provider is never contacted.
	ErrNoAddress = errors.New("ivr: no telephone address for contact")
)

// ProviderError wraps a failure from the external telephony API. It is an
// explicit result, not control flow: callers record it by transitioning
// the call to failed, and nothing in this subsystem retries it.
type ProviderError struct {
	Op         string // "place", "hangup", "update_callback"
	ExternalID string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("telephony provider: %s %s: %v", e.Op, e.ExternalID, e.Err)
	}
	return fmt.Sprintf("telephony provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
