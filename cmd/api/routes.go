package main

import (
	"database/sql"
	"time"

	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/httpapi"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/monitoring"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/rbac"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/internal/telephony"
	"github.com/Stanford-Legal-Tech-Design/legaltech-rapidpro/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, db *sql.DB, gateway *telephony.Gateway, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", monitoring.Handler())

	// Provider webhooks (public, authenticated by request signature).
	gateway.Register(r)

	// AUTH routes (token issuance, public).
	// NOTE: This is a placeholder login route; real credential validation is not implemented.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// CALLS routes
		calls := v1.Group("/calls")
		calls.Use(httpapi.RequireOrgAndAnyRole(rbac.RoleAdministrator, rbac.RoleEditor, rbac.RoleSuperAdmin)...)
		{
			calls.POST("", h.StartCall)
			calls.GET("/:call_id", h.GetCall)
		}

		// FLOWS routes (test-call teardown only; flow authoring lives elsewhere)
		flowsGroup := v1.Group("/flows")
		flowsGroup.Use(httpapi.RequireOrgAndAnyRole(rbac.RoleAdministrator, rbac.RoleEditor, rbac.RoleSuperAdmin)...)
		{
			flowsGroup.POST("/:flow_id/hangup-test-call", h.HangupTestCall)
		}

		// REPORTING routes
		reports := v1.Group("/reports")
		reports.Use(httpapi.RequireOrgAndAnyRole(rbac.RoleAdministrator, rbac.RoleViewer, rbac.RoleSuperAdmin)...)
		{
			reports.GET("/calls", h.CallsReport)
			reports.GET("/spend", h.SpendReport)
		}

		// BILLING routes
		credits := v1.Group("/credits")
		credits.Use(rbac.RequireOrg())
		{
			credits.GET("", h.GetCredits)
		}

		// ADMIN routes
		// Only administrator/super_admin can access admin endpoints by default.
		// Hidden customer_support is intentionally NOT included unless explicitly desired.
		admin := v1.Group("/admin")
		admin.Use(httpapi.RequireOrgAndAnyRole(rbac.RoleAdministrator, rbac.RoleSuperAdmin)...)
		{
			admin.POST("/topups", h.AddTopUp)
		}
	}
}
