package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/auth"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/billing"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/rbac"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth     *auth.Manager
	Calls    *ivr.Service
	Channels ivr.ChannelStore
	Contacts ivr.ContactResolver
	Billing  *billing.Service
	Reports  *reporting.Service

	clock func() time.Time
}

func New(authm *auth.Manager, calls *ivr.Service, channels ivr.ChannelStore, contacts ivr.ContactResolver, bill *billing.Service, reports *reporting.Service) Handlers {
	return Handlers{
		Auth:     authm,
		Calls:    calls,
		Channels: channels,
		Contacts: contacts,
		Billing:  bill,
		Reports:  reports,
		clock:    time.Now,
	}
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.OrgID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, org_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.OrgID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type startCallRequest struct {
	ChannelID string `json:"channel_id"`
	FlowID    string `json:"flow_id"`
	Phone     string `json:"phone"`

	// Test places a flow-validation call: the contact is marked as a test
	// contact, the dial goes to TestPhone, and no credits are consumed.
	Test      bool   `json:"test,omitempty"`
	TestPhone string `json:"test_phone,omitempty"`
}

// StartCall creates a pending outgoing call and schedules its placement.
// The response returns before the provider is contacted; poll GetCall for
// progress.
func (h Handlers) StartCall(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	userID, _ := auth.UserID(c.Request.Context())

	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.ChannelID == "" || req.FlowID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "channel_id, flow_id required"})
		return
	}
	if !req.Test && req.Phone == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone required"})
		return
	}

	ch, err := h.Channels.Get(c.Request.Context(), req.ChannelID)
	if err != nil || ch.OrgID != orgID {
		// Unknown and foreign channels answer identically.
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "Not found"})
		return
	}

	var contact ivr.Contact
	if req.Test {
		contact = ivr.Contact{OrgID: orgID, Phone: req.Phone, IsTest: true}
	} else {
		contact, err = h.Contacts.Resolve(c.Request.Context(), orgID, req.Phone)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "contact resolution failed"})
			return
		}
	}

	actor := ivr.Actor{ID: userID, TestPhone: req.TestPhone}
	call, err := h.Calls.CreateOutgoing(c.Request.Context(), ch, contact, req.FlowID, actor)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call creation failed"})
		return
	}
	if err := h.Calls.StartCall(c.Request.Context(), call.ID, actor); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call scheduling failed"})
		return
	}
	c.JSON(http.StatusCreated, call)
}

// GetCall returns one call with its current effective duration.
func (h Handlers) GetCall(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}

	call, err := h.Calls.Store().Get(c.Request.Context(), c.Param("call_id"))
	if err != nil || call.OrgID != orgID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "Not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"call":     call,
		"duration": call.EffectiveDuration(h.now()),
	})
}

// HangupTestCall tears down the active test call for a flow, if any.
func (h Handlers) HangupTestCall(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	if err := h.Calls.HangupTestCall(c.Request.Context(), c.Param("flow_id")); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "hangup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// --- Billing ---

func (h Handlers) GetCredits(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	remaining, err := h.Billing.RemainingCredits(c.Request.Context(), orgID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "credit lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"org_id": orgID, "credits_remaining": remaining})
}

type addTopUpRequest struct {
	Credits int `json:"credits"`
}

// AddTopUp registers purchased credits.
// RBAC: administrator or super_admin.
func (h Handlers) AddTopUp(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	var req addTopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	t, err := h.Billing.AddTopUp(c.Request.Context(), orgID, req.Credits)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "credits must be positive"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "topup failed"})
		return
	}
	c.JSON(http.StatusCreated, t)
}

// --- Reporting ---

func (h Handlers) CallsReport(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	rng, err := parseRange(c, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		OrgID:  orgID,
		Range:  rng,
		FlowID: c.Query("flow_id"),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) SpendReport(c *gin.Context) {
	orgID, err := auth.OrgID(c.Request.Context())
	if err != nil || orgID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "org_id required"})
		return
	}
	rng, err := parseRange(c, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Reports.SpendSummary(c.Request.Context(), reporting.SpendSummaryRequest{
		OrgID: orgID,
		Range: rng,
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

// parseRange reads from/to query params (RFC 3339); to defaults to now,
// from to 30 days before to.
func parseRange(c *gin.Context, now time.Time) (reporting.TimeRange, error) {
	rng := reporting.TimeRange{To: now}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return reporting.TimeRange{}, errors.New("invalid to")
		}
		rng.To = t
	}
	rng.From = rng.To.AddDate(0, 0, -30)
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return reporting.TimeRange{}, errors.New("invalid from")
		}
		rng.From = t
	}
	return rng, nil
}

func (h Handlers) now() time.Time {
	if h.clock != nil {
		return h.clock()
	}
	return time.Now()
}

// Convenience middleware bundles.

func RequireOrgAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireOrg(), rbac.RequireAnyRole(roles...)}
}
