// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package action

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the engine endpoints with the router.
//
// Description:
//
//	Registers all /v1/actions, /v1/sessions and /v1/plans endpoints with
//	the given Gin router group. The group should already carry any shared
//	middleware (tracing, auth).
//
// Endpoints:
//
//	POST   /v1/actions/message        - Route one utterance
//	GET    /v1/actions                - List catalog entries
//	GET    /v1/actions/:id            - Get one catalog entry
//	PUT    /v1/actions/:id            - Save a catalog entry
//	DELETE /v1/actions/:id            - Delete a catalog entry
//	GET    /v1/actions/health         - Liveness
//	GET    /v1/actions/ready          - Readiness
//
//	GET    /v1/sessions/:id           - Collection session state
//	POST   /v1/sessions/:id/input     - Advance a session
//	POST   /v1/sessions/:id/confirm   - Confirm and execute
//	POST   /v1/sessions/:id/cancel    - Cancel a session
//
//	GET    /v1/plans/:id              - Plan state
//	POST   /v1/plans/:id/resume       - Resume a waiting plan
//	POST   /v1/plans/:id/cancel       - Cancel a plan
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	actions := rg.Group("/actions")
	{
		actions.POST("/message", handlers.HandleMessage)

		// Static paths before the :id wildcard.
		actions.GET("/health", handlers.HandleHealth)
		actions.GET("/ready", handlers.HandleReady)

		actions.GET("", handlers.HandleListActions)
		actions.GET("/:id", handlers.HandleGetAction)
		actions.PUT("/:id", handlers.HandleSaveAction)
		actions.DELETE("/:id", handlers.HandleDeleteAction)
	}

	sessions := rg.Group("/sessions")
	{
		sessions.GET("/:id", handlers.HandleGetSession)
		sessions.POST("/:id/input", handlers.HandleSessionInput)
		sessions.POST("/:id/confirm", handlers.HandleSessionConfirm)
		sessions.POST("/:id/cancel", handlers.HandleSessionCancel)
	}

	plans := rg.Group("/plans")
	{
		plans.GET("/:id", handlers.HandleGetPlan)
		plans.POST("/:id/resume", handlers.HandlePlanResume)
		plans.POST("/:id/cancel", handlers.HandlePlanCancel)
	}
}
