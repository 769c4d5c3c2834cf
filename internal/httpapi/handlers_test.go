package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/auth"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/billing"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/config"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/flows"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/rbac"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/reporting"
)

type apiProvider struct{}

func (apiProvider) PlaceCall(ctx context.Context, ch ivr.Channel, to, callbackURL string) (string, error) {
	return "CA0001", nil
}
func (apiProvider) Hangup(ctx context.Context, ch ivr.Channel, externalID string) error { return nil }
func (apiProvider) UpdateCallbackURL(ctx context.Context, ch ivr.Channel, externalID, url string) error {
	return nil
}

// syncDispatcher places calls inline so tests observe the post-placement
// state without polling.
type syncDispatcher struct {
	svc *ivr.Service
}

func (d syncDispatcher) Enqueue(job ivr.DialJob) {
	_ = d.svc.PlaceQueued(context.Background(), job.CallID, job.Actor)
}

type apiFixture struct {
	router *gin.Engine
	authm  *auth.Manager
	store  *ivr.MemoryStore
	svc    *ivr.Service
	ledger *billing.MemoryLedger
	now    time.Time
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &apiFixture{
		store:  ivr.NewMemoryStore(),
		ledger: billing.NewMemoryLedger(),
		now:    time.Unix(1700000000, 0).UTC(),
	}

	channels := ivr.NewMemoryChannelStore()
	channels.Put(ivr.Channel{ID: "ch-1", OrgID: "org-1", Address: "+15550100", FlowID: "flow-1", AuthToken: "tok"})
	channels.Put(ivr.Channel{ID: "ch-2", OrgID: "org-2", Address: "+15550101", AuthToken: "tok"})

	runLog := flows.NewRunLog(flows.NewMemoryRunLog())
	f.svc = ivr.NewService(f.store, channels, apiProvider{}, runLog, func(id string) string {
		return "https://ivr.example.com/calls/" + id + "/events"
	})
	f.svc.SetClock(func() time.Time { return f.now })
	f.store.SetClock(func() time.Time { return f.now })
	f.svc.SetDispatcher(syncDispatcher{svc: f.svc})

	var err error
	f.authm, err = auth.NewManager(config.AuthConfig{
		JWTSecret:       "secret",
		JWTIssuer:       "iss",
		JWTAudience:     "aud",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	bill := billing.NewService(f.ledger)
	bill.SetClock(func() time.Time { return f.now })
	reports := reporting.NewService(reporting.NewStoreRepo(f.store, f.ledger))

	h := New(f.authm, f.svc, channels, ivr.NewMemoryContactResolver(), bill, reports)
	h.clock = func() time.Time { return f.now }

	f.router = gin.New()
	v1 := f.router.Group("/v1")
	v1.Use(auth.RequireAccessTokenWithClock(f.authm, func() time.Time { return f.now }))
	calls := v1.Group("/calls")
	calls.Use(RequireOrgAndAnyRole(rbac.RoleAdministrator, rbac.RoleEditor, rbac.RoleSuperAdmin)...)
	calls.POST("", h.StartCall)
	calls.GET("/:call_id", h.GetCall)
	flowsGroup := v1.Group("/flows")
	flowsGroup.Use(RequireOrgAndAnyRole(rbac.RoleAdministrator, rbac.RoleEditor, rbac.RoleSuperAdmin)...)
	flowsGroup.POST("/:flow_id/hangup-test-call", h.HangupTestCall)
	credits := v1.Group("/credits")
	credits.Use(rbac.RequireOrg())
	credits.GET("", h.GetCredits)
	return f
}

func (f *apiFixture) token(t *testing.T, userID, orgID, role string) string {
	t.Helper()
	pair, err := f.authm.IssuePair(f.now, userID, orgID, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return pair.AccessToken
}

func (f *apiFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestStartCall_PlacesOutgoingCall(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1", "org-1", rbac.RoleEditor)

	w := f.do(http.MethodPost, "/v1/calls", tok,
		`{"channel_id":"ch-1","flow_id":"flow-1","phone":"+15550123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var created ivr.Call
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("body: %v", err)
	}
	got, err := f.store.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ivr.StatusQueued || got.ExternalID != "CA0001" {
		t.Fatalf("unexpected record after placement: %+v", got)
	}
	if got.Direction != ivr.DirectionOutgoing || got.CreatedBy != "user-1" {
		t.Fatalf("unexpected attribution: %+v", got)
	}
}

func TestStartCall_ForeignChannelLooksUnknown(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1", "org-1", rbac.RoleEditor)

	w := f.do(http.MethodPost, "/v1/calls", tok,
		`{"channel_id":"ch-2","flow_id":"flow-1","phone":"+15550123"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStartCall_ViewerForbidden(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1", "org-1", rbac.RoleViewer)

	w := f.do(http.MethodPost, "/v1/calls", tok,
		`{"channel_id":"ch-1","flow_id":"flow-1","phone":"+15550123"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestGetCall_OrgScoped(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1", "org-1", rbac.RoleEditor)

	w := f.do(http.MethodPost, "/v1/calls", tok,
		`{"channel_id":"ch-1","flow_id":"flow-1","phone":"+15550123"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: %d", w.Code)
	}
	var created ivr.Call
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("body: %v", err)
	}

	if w := f.do(http.MethodGet, "/v1/calls/"+created.ID, tok, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	other := f.token(t, "user-2", "org-2", rbac.RoleEditor)
	if w := f.do(http.MethodGet, "/v1/calls/"+created.ID, other, ""); w.Code != http.StatusNotFound {
		t.Fatalf("cross-org read must look like not found, got %d", w.Code)
	}
}

func TestHangupTestCall_Endpoint(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, "user-1", "org-1", rbac.RoleEditor)

	w := f.do(http.MethodPost, "/v1/calls", tok,
		`{"channel_id":"ch-1","flow_id":"flow-1","phone":"+15550123","test":true,"test_phone":"+15550199"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: %d: %s", w.Code, w.Body.String())
	}
	var created ivr.Call
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("body: %v", err)
	}

	if w := f.do(http.MethodPost, "/v1/flows/flow-1/hangup-test-call", tok, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := f.store.Get(context.Background(), created.ID); err == nil {
		t.Fatalf("test call still present after teardown")
	}

	// idempotent: nothing active left
	if w := f.do(http.MethodPost, "/v1/flows/flow-1/hangup-test-call", tok, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 on repeat, got %d", w.Code)
	}
}

func TestGetCredits(t *testing.T) {
	f := newAPIFixture(t)
	if err := f.ledger.AddTopUp(context.Background(), billing.TopUp{ID: "t1", OrgID: "org-1", Credits: 7}); err != nil {
		t.Fatalf("topup: %v", err)
	}
	tok := f.token(t, "user-1", "org-1", rbac.RoleViewer)

	w := f.do(http.MethodGet, "/v1/credits", tok, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		OrgID            string `json:"org_id"`
		CreditsRemaining int    `json:"credits_remaining"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.OrgID != "org-1" || body.CreditsRemaining != 7 {
		t.Fatalf("unexpected body: %+v", body)
	}
}
