package main

import (
	"callbot-platform/internal/httpapi"
	"callbot-platform/internal/observability"
	"callbot-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
// webhookMW may be nil when webhook token verification is disabled.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, webhookMW, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/readyz", h.Ready)
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	// Calling platform webhook.
	notificationHandlers := []gin.HandlerFunc{h.HandleNotifications}
	if webhookMW != nil {
		notificationHandlers = append([]gin.HandlerFunc{webhookMW}, notificationHandlers...)
	}
	r.POST("/api/calls/notifications", notificationHandlers...)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		callsGroup := v1.Group("/calls")
		read := rbac.RequireAnyRole(rbac.ReadRoles...)
		write := rbac.RequireAnyRole(rbac.WriteRoles...)

		callsGroup.GET("", read, h.ListCalls)
		callsGroup.GET("/:call_id", read, h.GetCall)
		callsGroup.GET("/:call_id/history", read, h.GetHistory)

		callsGroup.POST("", write, h.StartCall)
		callsGroup.DELETE("/:call_id/history", write, h.DeleteHistory)
	}
}
