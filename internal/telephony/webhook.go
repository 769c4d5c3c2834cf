package telephony

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/auth"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/billing"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/flows"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/ivr"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/monitoring"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/logger"
)

// Gateway terminates provider webhooks. Two entry points: per-call status
// callbacks on /calls/:call_id/events, and the first inbound callback for
// a ringing caller on /channels/:channel_id/incoming.
//
// Request traversal for status callbacks: resolve the call, handle the
// authenticated manual-hangup escape hatch, verify the provider signature
// against the owning channel's secret, apply the status, then either run
// the flow for an in-progress flow call or acknowledge.
type Gateway struct {
	Calls     *ivr.Service
	Store     ivr.Store
	Channels  ivr.ChannelStore
	Contacts  ivr.ContactResolver
	Engine    flows.Engine
	Billing   *billing.Service
	Auth      *auth.Manager
	Validator *Validator
	Metrics   *monitoring.Metrics

	clock func() time.Time
}

func NewGateway(calls *ivr.Service, channels ivr.ChannelStore, contacts ivr.ContactResolver, engine flows.Engine, bill *billing.Service, authm *auth.Manager, v *Validator, m *monitoring.Metrics) *Gateway {
	return &Gateway{
		Calls:     calls,
		Store:     calls.Store(),
		Channels:  channels,
		Contacts:  contacts,
		Engine:    engine,
		Billing:   bill,
		Auth:      authm,
		Validator: v,
		Metrics:   m,
		clock:     time.Now,
	}
}

// SetClock overrides the clock for deterministic tests.
func (g *Gateway) SetClock(clock func() time.Time) { g.clock = clock }

func (g *Gateway) Register(r gin.IRoutes) {
	r.POST("/calls/:call_id/events", g.HandleCallEvent)
	r.POST("/channels/:channel_id/incoming", g.HandleIncomingCall)
}

// HandleCallEvent processes one provider status callback.
func (g *Gateway) HandleCallEvent(c *gin.Context) {
	ctx := c.Request.Context()
	callID := c.Param("call_id")

	call, err := g.Store.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, ivr.ErrNotFound) {
			g.Metrics.CountWebhookEvent("not_found")
			c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
			return
		}
		g.Metrics.CountWebhookEvent("error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	// Manual termination by an operator session. The caller must belong
	// to the call's org; anyone else gets the same response as an unknown
	// call id so that ids cannot be probed for existence.
	if c.Query("hangup") == "1" {
		claims, ok := auth.IdentityFromRequest(g.Auth, c.Request, g.clock())
		if !ok || claims.OrgID != call.OrgID {
			g.Metrics.CountWebhookEvent("not_found")
			c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
			return
		}
		if err := g.Calls.Hangup(ctx, call.ID); err != nil {
			g.Metrics.CountWebhookEvent("error")
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "hangup failed"})
			return
		}
		g.Metrics.CountWebhookEvent("hangup")
		c.JSON(http.StatusOK, gin.H{"status": "Canceled"})
		return
	}

	ch, err := g.Channels.Get(ctx, call.ChannelID)
	if err != nil {
		g.Metrics.CountWebhookEvent("error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	if err := g.Validator.Validate(c.Request, ch); err != nil {
		g.Metrics.CountWebhookEvent("rejected")
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "invalid request signature"})
		return
	}

	status := c.PostForm("CallStatus")
	duration := formDuration(c)

	updated, err := g.Calls.ApplyStatus(ctx, call.ID, status, duration)
	if err != nil {
		g.Metrics.CountWebhookEvent("error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	if updated.Status == ivr.StatusInProgress && updated.CallType == ivr.CallTypeFlow {
		g.dispatchFlow(c, updated)
		return
	}

	g.Metrics.CountWebhookEvent("applied")
	c.JSON(http.StatusOK, gin.H{"message": "Updated call status"})
}

// HandleIncomingCall creates a CallRecord for a caller ringing one of our
// numbers and answers with the flow's first voice document. A channel
// with no flow bound answers with a bare hangup document.
func (g *Gateway) HandleIncomingCall(c *gin.Context) {
	ctx := c.Request.Context()

	ch, err := g.Channels.Get(ctx, c.Param("channel_id"))
	if err != nil {
		if errors.Is(err, ivr.ErrNotFound) {
			g.Metrics.CountWebhookEvent("not_found")
			c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
			return
		}
		g.Metrics.CountWebhookEvent("error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	if err := g.Validator.Validate(c.Request, ch); err != nil {
		g.Metrics.CountWebhookEvent("rejected")
		c.JSON(http.StatusForbidden, gin.H{"status": "error", "message": "invalid request signature"})
		return
	}

	// A record that leaves pending must carry the provider's id; a
	// creation callback without one is malformed.
	sid := c.PostForm("CallSid")
	if sid == "" {
		g.Metrics.CountWebhookEvent("rejected")
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "missing CallSid"})
		return
	}

	contact, err := g.Contacts.Resolve(ctx, ch.OrgID, c.PostForm("From"))
	if err != nil {
		g.Metrics.CountWebhookEvent("error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	call, err := g.Calls.CreateIncoming(ctx, ch, contact, ch.FlowID)
	if err != nil {
		g.Metrics.CountWebhookEvent("error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}
	if _, err := g.Store.Mutate(ctx, call.ID, func(rec *ivr.Call) error {
		if rec.ExternalID == "" {
			rec.ExternalID = sid
		}
		return nil
	}); err != nil {
		logger.From(ctx).Error("incoming external id not recorded", "call_id", call.ID, "err", err)
	}

	updated, err := g.Calls.ApplyStatus(ctx, call.ID, "in-progress", formDuration(c))
	if err != nil {
		g.Metrics.CountWebhookEvent("error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
		return
	}

	if ch.FlowID == "" {
		g.Metrics.CountWebhookEvent("unrouted")
		c.Data(http.StatusOK, MarkupContentType, []byte(HangupMarkup()))
		return
	}
	g.dispatchFlow(c, updated)
}

// dispatchFlow runs one flow round-trip and answers with its markup. The
// rendered step is billed before the response is written so a credit is
// never skipped for a document the caller heard.
func (g *Gateway) dispatchFlow(c *gin.Context, call ivr.Call) {
	ctx := c.Request.Context()

	input := make(flows.Params, len(c.Request.PostForm))
	for k := range c.Request.PostForm {
		input[k] = c.Request.PostForm.Get(k)
	}

	resp, err := g.Engine.HandleCall(ctx, call, input)
	if err != nil {
		logger.From(ctx).Error("flow dispatch failed", "call_id", call.ID, "err", err)
		g.Metrics.CountWebhookEvent("flow_error")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "flow dispatch failed"})
		return
	}

	if _, err := g.Billing.RecordAction(ctx, call, resp.StepID); err != nil {
		// The caller already consumed the action; an unbillable step is an
		// operator problem, not a reason to drop the call mid-sentence.
		logger.From(ctx).Error("action not billed", "call_id", call.ID, "step_id", resp.StepID, "err", err)
		g.Metrics.CountActionBilled(false)
	} else {
		g.Metrics.CountActionBilled(!call.ContactIsTest)
	}

	g.Metrics.CountWebhookEvent("dispatched")
	c.Data(http.StatusOK, MarkupContentType, []byte(resp.Markup))
}

// formDuration extracts the provider-reported call duration, or -1 when
// the callback carried none. Zero is a legitimate reported value and must
// stay distinguishable from absence.
func formDuration(c *gin.Context) int {
	raw := c.PostForm("CallDuration")
	if raw == "" {
		return -1
	}
	d, err := strconv.Atoi(raw)
	if err != nil || d < 0 {
		return -1
	}
	return d
}
