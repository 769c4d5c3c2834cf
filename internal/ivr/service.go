package ivr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/logger"
	"github.com/google/uuid"
)

// Service owns the call lifecycle: it is the only code that mutates a
// call record once created. Status transitions arrive from provider
// callbacks via ApplyStatus; hangup and callback redirection go out to
// the provider through the injected Provider.
type Service struct {
	store    Store
	channels ChannelStore
	provider Provider
	tracer   Tracer

	// dispatcher receives call ids for background placement; StartCall
	// never talks to the provider inline.
	dispatcher Dispatcher

	// callbackURL builds the externally visible status-callback URL for a
	// call id. Signature verification reconstructs the same URL, so both
	// must agree on scheme and host.
	callbackURL func(callID string) string

	clock func() time.Time
}

func NewService(store Store, channels ChannelStore, provider Provider, tracer Tracer, callbackURL func(callID string) string) *Service {
	return &Service{
		store:       store,
		channels:    channels,
		provider:    provider,
		tracer:      tracer,
		callbackURL: callbackURL,
		clock:       time.Now,
	}
}

// SetDispatcher wires the background dialer. Must be called before
// StartCall; kept separate because the dialer itself needs the service.
func (s *Service) SetDispatcher(d Dispatcher) { s.dispatcher = d }

// SetClock overrides the clock for deterministic tests.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

func (s *Service) Store() Store { return s.store }

/* ===================== STATE MACHINE ===================== */

// ApplyStatus applies one provider status callback to a call. duration is
// the provider-reported value in seconds, or -1 when the callback carried
// none; when present it always wins over any local estimate.
//
// The whole read-modify-write runs under the store's per-call lock, so a
// terminal status committed by one callback is never overwritten by a
// concurrent non-terminal one. Terminal records stay inert sinks: the
// duration is still recorded for late duplicate callbacks, but no
// transition happens and callers must not dispatch the flow again.
func (s *Service) ApplyStatus(ctx context.Context, callID, providerStatus string, duration int) (Call, error) {
	return s.store.Mutate(ctx, callID, func(c *Call) error {
		if duration >= 0 {
			c.Duration = duration
		}
		if c.IsDone() {
			logger.From(ctx).Debug("status callback for finished call",
				"call_id", c.ID, "status", providerStatus)
			return nil
		}

		st, ok := MapProviderStatus(providerStatus)
		if !ok {
			// Unrecognized provider vocabulary: leave status untouched.
			logger.From(ctx).Debug("unrecognized call status ignored",
				"call_id", c.ID, "status", providerStatus)
			return nil
		}

		now := s.clock().UTC()
		if st == StatusInProgress && c.Status != StatusInProgress && c.StartedOn == nil {
			c.StartedOn = &now
		}
		if st == StatusCompleted && c.ContactIsTest {
			s.trace(ctx, c, "Call ended.")
		}
		if st.IsDone() && c.EndedOn == nil {
			c.EndedOn = &now
		}
		c.Status = st
		return nil
	})
}

/* ===================== OUTBOUND INITIATION ===================== */

// CreateOutgoing creates a pending outgoing call scoped to the channel's
// org. The provider is not contacted until StartCall.
func (s *Service) CreateOutgoing(ctx context.Context, ch Channel, contact Contact, flowID string, actor Actor) (Call, error) {
	return s.create(ctx, ch, contact, flowID, actor.ID, DirectionOutgoing)
}

// CreateIncoming creates a pending incoming call scoped to the channel's
// org. Used by the webhook entry point on the first inbound callback.
func (s *Service) CreateIncoming(ctx context.Context, ch Channel, contact Contact, flowID string) (Call, error) {
	return s.create(ctx, ch, contact, flowID, "", DirectionIncoming)
}

func (s *Service) create(ctx context.Context, ch Channel, contact Contact, flowID, createdBy string, dir Direction) (Call, error) {
	c := Call{
		ID:            uuid.NewString(),
		OrgID:         ch.OrgID,
		ChannelID:     ch.ID,
		FlowID:        flowID,
		ContactID:     contact.ID,
		ContactPhone:  contact.Phone,
		ContactIsTest: contact.IsTest,
		Direction:     dir,
		CallType:      CallTypeFlow,
		Status:        StatusPending,
		CreatedBy:     createdBy,
	}
	if err := s.store.Create(ctx, &c); err != nil {
		return Call{}, err
	}
	return c, nil
}

// StartCall schedules placement of a pending outgoing call. It returns as
// soon as the job is enqueued; provider latency never blocks the caller.
// A failed dispatch surfaces as status failed on the record, not as an
// error here.
func (s *Service) StartCall(ctx context.Context, callID string, actor Actor) error {
	if s.dispatcher == nil {
		return errors.New("ivr: dispatcher not configured")
	}
	s.dispatcher.Enqueue(DialJob{CallID: callID, Actor: actor})
	return nil
}

// PlaceQueued performs the actual provider placement for a call. It runs
// on the dialer's workers. Destination policy: a test contact dials the
// initiating actor's configured test phone; a real contact dials its own
// number; neither resolvable is fatal before any provider contact.
func (s *Service) PlaceQueued(ctx context.Context, callID string, actor Actor) error {
	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	ch, err := s.channels.Get(ctx, c.ChannelID)
	if err != nil {
		return err
	}

	to, err := s.resolveDestination(ctx, &c, actor)
	if err != nil {
		// An unreachable contact surfaces the same way a provider
		// rejection does, otherwise the record sits in pending forever.
		s.markFailed(ctx, c.ID)
		return err
	}

	externalID, err := s.provider.PlaceCall(ctx, ch, to, s.callbackURL(c.ID))
	if err != nil {
		logger.From(ctx).Error("call placement failed", "call_id", c.ID, "err", err)
		s.markFailed(ctx, c.ID)
		return err
	}

	_, err = s.store.Mutate(ctx, c.ID, func(c *Call) error {
		if c.ExternalID == "" {
			c.ExternalID = externalID
		}
		if c.Status == StatusPending {
			c.Status = StatusQueued
		}
		return nil
	})
	return err
}

func (s *Service) resolveDestination(ctx context.Context, c *Call, actor Actor) (string, error) {
	if c.ContactIsTest && actor.TestPhone != "" {
		s.trace(ctx, c, fmt.Sprintf("Placing test call to %s", actor.TestPhone))
		return actor.TestPhone, nil
	}
	if c.ContactPhone == "" {
		return "", ErrNoAddress
	}
	return c.ContactPhone, nil
}

// markFailed absorbs a provider failure into the record. The triggering
// caller is usually a background worker with no one to report to; the
// status field is the user-visible failure surface.
func (s *Service) markFailed(ctx context.Context, callID string) {
	if _, err := s.store.Mutate(ctx, callID, func(c *Call) error {
		if !c.IsDone() {
			now := s.clock().UTC()
			c.Status = StatusFailed
			c.EndedOn = &now
		}
		return nil
	}); err != nil {
		logger.From(ctx).Error("failed-status transition failed", "call_id", callID, "err", err)
	}
}

/* ===================== LIFECYCLE ===================== */

// Hangup requests termination from the provider. No-op if the call is
// already terminal or was never accepted by the provider.
func (s *Service) Hangup(ctx context.Context, callID string) error {
	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	if c.IsDone() || c.ExternalID == "" {
		return nil
	}
	ch, err := s.channels.Get(ctx, c.ChannelID)
	if err != nil {
		return err
	}
	return s.provider.Hangup(ctx, ch, c.ExternalID)
}

// HangupTestCall tears down the active test call for a flow, if any: it
// is hung up at the provider and then deleted. The provider's eventual
// terminal callback for the dropped id will be rejected as not found,
// which is acceptable for test calls only; they are never billed and
// never referenced after teardown.
func (s *Service) HangupTestCall(ctx context.Context, flowID string) error {
	c, err := s.store.FindActiveTestCall(ctx, flowID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.Hangup(ctx, c.ID); err != nil {
		logger.From(ctx).Warn("test call hangup failed", "call_id", c.ID, "err", err)
	}
	return s.store.Delete(ctx, c.ID)
}

// UpdateCallbackURL redirects the provider's subsequent callbacks for an
// in-flight call, used when flow progression changes the next endpoint.
// Provider failure force-transitions the record to failed.
func (s *Service) UpdateCallbackURL(ctx context.Context, callID, url string) error {
	c, err := s.store.Get(ctx, callID)
	if err != nil {
		return err
	}
	ch, err := s.channels.Get(ctx, c.ChannelID)
	if err != nil {
		return err
	}
	if err := s.provider.UpdateCallbackURL(ctx, ch, c.ExternalID, url); err != nil {
		logger.From(ctx).Error("callback redirect failed", "call_id", c.ID, "err", err)
		s.markFailed(ctx, c.ID)
		return err
	}
	return nil
}

func (s *Service) trace(ctx context.Context, c *Call, message string) {
	if s.tracer == nil {
		return
	}
	if err := s.tracer.Trace(ctx, c.OrgID, c.FlowID, c.ID, message); err != nil {
		logger.From(ctx).Warn("run log append failed", "call_id", c.ID, "err", err)
	}
}
