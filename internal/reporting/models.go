package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics.
// Org isolation: OrgID is required.

type CallsSummaryRequest struct {
	OrgID  string    `json:"org_id"`
	Range  TimeRange `json:"range"`
	FlowID string    `json:"flow_id,omitempty"`
}

type CallsSummary struct {
	OrgID  string `json:"org_id"`
	FlowID string `json:"flow_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	IncomingCalls   int `json:"incoming_calls"`
	OutgoingCalls   int `json:"outgoing_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	NoAnswerCalls   int `json:"no_answer_calls"`
	BusyCalls       int `json:"busy_calls"`
	CanceledCalls   int `json:"canceled_calls"`
	InProgressCalls int `json:"in_progress_calls"`
	TestCalls       int `json:"test_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`
}

// SpendSummaryRequest requests aggregated credit-usage metrics. Spend is
// derived from immutable call actions scoped to the org.

type SpendSummaryRequest struct {
	OrgID string    `json:"org_id"`
	Range TimeRange `json:"range"`
}

type SpendSummary struct {
	OrgID string `json:"org_id"`

	TotalActions  int `json:"total_actions"`
	BilledActions int `json:"billed_actions"`
	FreeActions   int `json:"free_actions"`

	CreditsUsed      int `json:"credits_used"`
	CreditsRemaining int `json:"credits_remaining"`
}
