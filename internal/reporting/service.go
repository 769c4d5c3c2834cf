package reporting

import (
	"context"
	"errors"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/billing"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce org filtering.
// - Implementations should query immutable sources when possible (call
//   records, the action ledger).

type Repository interface {
	ListCalls(ctx context.Context, orgID string, from, to time.Time) ([]ivr.Call, error)
	ListActions(ctx context.Context, orgID string, from, to time.Time) ([]billing.CallAction, error)
	RemainingCredits(ctx context.Context, orgID string) (int, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.OrgID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.OrgID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{OrgID: req.OrgID, FlowID: req.FlowID}
	for _, c := range rows {
		if req.FlowID != "" && c.FlowID != req.FlowID {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.Duration
		if c.Direction == ivr.DirectionIncoming {
			out.IncomingCalls++
		} else {
			out.OutgoingCalls++
		}
		if c.ContactIsTest {
			out.TestCalls++
		}
		switch c.Status {
		case ivr.StatusCompleted:
			out.CompletedCalls++
		case ivr.StatusFailed:
			out.FailedCalls++
		case ivr.StatusNoAnswer:
			out.NoAnswerCalls++
		case ivr.StatusBusy:
			out.BusyCalls++
		case ivr.StatusCanceled:
			out.CanceledCalls++
		case ivr.StatusInProgress:
			out.InProgressCalls++
		case ivr.StatusPending, ivr.StatusQueued, ivr.StatusRinging:
			// not counted separately
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.OrgID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	actions, err := s.repo.ListActions(ctx, req.OrgID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}
	remaining, err := s.repo.RemainingCredits(ctx, req.OrgID)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{OrgID: req.OrgID, CreditsRemaining: remaining}
	for _, a := range actions {
		out.TotalActions++
		// an action without a top-up link was a free (test contact) action
		if a.TopUpID != "" {
			out.BilledActions++
			out.CreditsUsed++
		} else {
			out.FreeActions++
		}
	}
	return out, nil
}
