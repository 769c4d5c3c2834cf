package ivr

// providerStatuses is the closed mapping from the provider's status
// vocabulary to ours. Unrecognized strings are deliberately a no-op for
// the caller: provider vocabularies grow over time and a hard failure on
// a novel string would break live calls.
var providerStatuses = map[string]Status{
	"queued":      StatusQueued,
	"ringing":     StatusRinging,
	"in-progress": StatusInProgress,
	"completed":   StatusCompleted,
	"busy":        StatusBusy,
	"failed":      StatusFailed,
	"no-answer":   StatusNoAnswer,
	"canceled":    StatusCanceled,
}

// MapProviderStatus maps a provider status string to an internal status.
// ok is false for unrecognized input; callers must leave the record's
// status unchanged in that case.
func MapProviderStatus(s string) (Status, bool) {
	st, ok := providerStatuses[s]
	return st, ok
}
