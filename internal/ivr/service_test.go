package ivr

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type placedCall struct {
	To          string
	CallbackURL string
}

type fakeProvider struct {
	mu          sync.Mutex
	placed      []placedCall
	hungUp      []string
	redirected  []string
	nextSID     string
	placeErr    error
	hangupErr   error
	redirectErr error
}

func (p *fakeProvider) PlaceCall(ctx context.Context, ch Channel, to, callbackURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.placeErr != nil {
		return "", p.placeErr
	}
	p.placed = append(p.placed, placedCall{To: to, CallbackURL: callbackURL})
	if p.nextSID == "" {
		return "CA0000", nil
	}
	return p.nextSID, nil
}

func (p *fakeProvider) Hangup(ctx context.Context, ch Channel, externalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.hangupErr != nil {
		return p.hangupErr
	}
	p.hungUp = append(p.hungUp, externalID)
	return nil
}

func (p *fakeProvider) UpdateCallbackURL(ctx context.Context, ch Channel, externalID, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.redirectErr != nil {
		return p.redirectErr
	}
	p.redirected = append(p.redirected, url)
	return nil
}

type fakeTracer struct {
	mu       sync.Mutex
	messages []string
}

func (t *fakeTracer) Trace(ctx context.Context, orgID, flowID, callID, message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, message)
	return nil
}

func (t *fakeTracer) has(substr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.messages {
		if strings.Contains(m, substr) {
			return true
		}
	}
	return false
}

type fixture struct {
	svc      *Service
	store    *MemoryStore
	channels *MemoryChannelStore
	provider *fakeProvider
	tracer   *fakeTracer
	now      time.Time
	channel  Channel
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    NewMemoryStore(),
		channels: NewMemoryChannelStore(),
		provider: &fakeProvider{},
		tracer:   &fakeTracer{},
		now:      time.Unix(1700000000, 0).UTC(),
		channel: Channel{
			ID:        "ch-1",
			OrgID:     "org-1",
			Address:   "+15550100",
			FlowID:    "flow-1",
			AuthToken: "token",
		},
	}
	f.channels.Put(f.channel)
	f.svc = NewService(f.store, f.channels, f.provider, f.tracer, func(id string) string {
		return "https://ivr.example.com/calls/" + id + "/events"
	})
	f.svc.SetClock(func() time.Time { return f.now })
	f.store.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) createCall(t *testing.T, contact Contact) Call {
	t.Helper()
	c, err := f.svc.CreateOutgoing(context.Background(), f.channel, contact, "flow-1", Actor{ID: "user-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func (f *fixture) get(t *testing.T, id string) Call {
	t.Helper()
	c, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return c
}

func TestApplyStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123"})

	for _, st := range []string{"queued", "ringing"} {
		if _, err := f.svc.ApplyStatus(context.Background(), c.ID, st, -1); err != nil {
			t.Fatalf("apply %s: %v", st, err)
		}
	}
	got := f.get(t, c.ID)
	if got.Status != StatusRinging || got.StartedOn != nil {
		t.Fatalf("unexpected pre-answer state: %+v", got)
	}

	if _, err := f.svc.ApplyStatus(context.Background(), c.ID, "in-progress", -1); err != nil {
		t.Fatalf("apply in-progress: %v", err)
	}
	got = f.get(t, c.ID)
	if got.Status != StatusInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
	if got.StartedOn == nil || !got.StartedOn.Equal(f.now) {
		t.Fatalf("expected startedOn stamped at %v, got %v", f.now, got.StartedOn)
	}

	// repeated in-progress must not restamp
	f.now = f.now.Add(time.Minute)
	if _, err := f.svc.ApplyStatus(context.Background(), c.ID, "in-progress", -1); err != nil {
		t.Fatalf("apply repeat in-progress: %v", err)
	}
	got = f.get(t, c.ID)
	if !got.StartedOn.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("startedOn restamped to %v", got.StartedOn)
	}

	if _, err := f.svc.ApplyStatus(context.Background(), c.ID, "completed", 20); err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	got = f.get(t, c.ID)
	if got.Status != StatusCompleted || got.Duration != 20 || got.EndedOn == nil {
		t.Fatalf("unexpected terminal state: %+v", got)
	}
}

func TestApplyStatus_TerminalRecordsAreInert(t *testing.T) {
	f := newFixture(t)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123"})

	if _, err := f.svc.ApplyStatus(context.Background(), c.ID, "completed", -1); err != nil {
		t.Fatalf("apply completed: %v", err)
	}
	for _, st := range []string{"failed", "busy", "in-progress", "queued"} {
		if _, err := f.svc.ApplyStatus(context.Background(), c.ID, st, -1); err != nil {
			t.Fatalf("apply %s: %v", st, err)
		}
		if got := f.get(t, c.ID); got.Status != StatusCompleted {
			t.Fatalf("terminal status overwritten by %s: %s", st, got.Status)
		}
	}

	// a late duplicate still records its duration
	if _, err := f.svc.ApplyStatus(context.Background(), c.ID, "completed", 33); err != nil {
		t.Fatalf("apply late duplicate: %v", err)
	}
	if got := f.get(t, c.ID); got.Duration != 33 {
		t.Fatalf("late duration not recorded: %d", got.Duration)
	}
}

func TestApplyStatus_UnrecognizedStatusIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123"})

	if _, err := f.svc.ApplyStatus(context.Background(), c.ID, "weird-status", -1); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := f.get(t, c.ID); got.Status != StatusPending {
		t.Fatalf("status changed on unrecognized input: %s", got.Status)
	}
}

func TestApplyStatus_TestContactCompletionTraced(t *testing.T) {
	f := newFixture(t)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123", IsTest: true})

	if _, err := f.svc.ApplyStatus(context.Background(), c.ID, "completed", 5); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !f.tracer.has("Call ended.") {
		t.Fatalf("expected completion trace, got %v", f.tracer.messages)
	}
}

func TestPlaceQueued_DialsContact(t *testing.T) {
	f := newFixture(t)
	f.provider.nextSID = "CA1234"
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123"})

	if err := f.svc.PlaceQueued(context.Background(), c.ID, Actor{ID: "user-1"}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(f.provider.placed) != 1 || f.provider.placed[0].To != "+15550123" {
		t.Fatalf("unexpected placements: %+v", f.provider.placed)
	}
	got := f.get(t, c.ID)
	if got.Status != StatusQueued || got.ExternalID != "CA1234" {
		t.Fatalf("unexpected record after placement: %+v", got)
	}
}

func TestPlaceQueued_TestContactDialsActorPhone(t *testing.T) {
	f := newFixture(t)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123", IsTest: true})

	actor := Actor{ID: "user-1", TestPhone: "+15550199"}
	if err := f.svc.PlaceQueued(context.Background(), c.ID, actor); err != nil {
		t.Fatalf("place: %v", err)
	}
	if len(f.provider.placed) != 1 || f.provider.placed[0].To != "+15550199" {
		t.Fatalf("expected dial to actor's test phone, got %+v", f.provider.placed)
	}
	if !f.tracer.has("Placing test call to +15550199") {
		t.Fatalf("expected placement trace, got %v", f.tracer.messages)
	}
}

func TestPlaceQueued_NoAddressIsFatal(t *testing.T) {
	f := newFixture(t)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1"})

	err := f.svc.PlaceQueued(context.Background(), c.ID, Actor{ID: "user-1"})
	if !errors.Is(err, ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
	if len(f.provider.placed) != 0 {
		t.Fatalf("provider contacted despite missing address")
	}
	got := f.get(t, c.ID)
	if got.Status != StatusFailed || got.EndedOn == nil {
		t.Fatalf("expected failed record, got %+v", got)
	}
}

func TestPlaceQueued_ProviderFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.provider.placeErr = &ProviderError{Op: "place", Err: errors.New("boom")}
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123"})

	if err := f.svc.PlaceQueued(context.Background(), c.ID, Actor{ID: "user-1"}); err == nil {
		t.Fatalf("expected error")
	}
	got := f.get(t, c.ID)
	if got.Status != StatusFailed || got.EndedOn == nil {
		t.Fatalf("expected failed record, got %+v", got)
	}
}

func TestHangup_NoopWhenUnplacedOrDone(t *testing.T) {
	f := newFixture(t)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123"})

	// no external id yet
	if err := f.svc.Hangup(context.Background(), c.ID); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if len(f.provider.hungUp) != 0 {
		t.Fatalf("provider contacted for unplaced call")
	}

	if err := f.svc.PlaceQueued(context.Background(), c.ID, Actor{ID: "user-1"}); err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := f.svc.ApplyStatus(context.Background(), c.ID, "completed", 5); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := f.svc.Hangup(context.Background(), c.ID); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if len(f.provider.hungUp) != 0 {
		t.Fatalf("provider contacted for finished call")
	}
}

func TestHangupTestCall_NoopWithoutActiveCall(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.HangupTestCall(context.Background(), "flow-1"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestHangupTestCall_RemovesExactlyOne(t *testing.T) {
	f := newFixture(t)
	test := f.createCall(t, Contact{ID: "ct-t", OrgID: "org-1", Phone: "+15550123", IsTest: true})
	live := f.createCall(t, Contact{ID: "ct-r", OrgID: "org-1", Phone: "+15550124"})

	if err := f.svc.PlaceQueued(context.Background(), test.ID, Actor{ID: "user-1", TestPhone: "+15550199"}); err != nil {
		t.Fatalf("place: %v", err)
	}

	if err := f.svc.HangupTestCall(context.Background(), "flow-1"); err != nil {
		t.Fatalf("hangup test call: %v", err)
	}
	if _, err := f.store.Get(context.Background(), test.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("test call not deleted: %v", err)
	}
	if len(f.provider.hungUp) != 1 {
		t.Fatalf("expected one provider hangup, got %d", len(f.provider.hungUp))
	}
	if _, err := f.store.Get(context.Background(), live.ID); err != nil {
		t.Fatalf("real call removed too: %v", err)
	}
}

func TestUpdateCallbackURL_ProviderFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123"})
	if err := f.svc.PlaceQueued(context.Background(), c.ID, Actor{ID: "user-1"}); err != nil {
		t.Fatalf("place: %v", err)
	}

	f.provider.redirectErr = &ProviderError{Op: "update_callback", Err: errors.New("boom")}
	if err := f.svc.UpdateCallbackURL(context.Background(), c.ID, "https://ivr.example.com/next"); err == nil {
		t.Fatalf("expected error")
	}
	if got := f.get(t, c.ID); got.Status != StatusFailed {
		t.Fatalf("expected failed record, got %s", got.Status)
	}
}

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []DialJob
}

func (d *recordingDispatcher) Enqueue(job DialJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
}

func TestStartCall_EnqueuesJob(t *testing.T) {
	f := newFixture(t)
	disp := &recordingDispatcher{}
	f.svc.SetDispatcher(disp)
	c := f.createCall(t, Contact{ID: "ct-1", OrgID: "org-1", Phone: "+15550123"})

	actor := Actor{ID: "user-1", TestPhone: "+15550199"}
	if err := f.svc.StartCall(context.Background(), c.ID, actor); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(disp.jobs) != 1 || disp.jobs[0].CallID != c.ID || disp.jobs[0].Actor != actor {
		t.Fatalf("unexpected jobs: %+v", disp.jobs)
	}
	if len(f.provider.placed) != 0 {
		t.Fatalf("provider contacted inline")
	}
}
