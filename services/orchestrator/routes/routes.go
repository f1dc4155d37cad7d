// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/wayfinder/services/orchestrator/handlers"
)

// SetupRoutes registers the conversation API on the router.
func SetupRoutes(router *gin.Engine, api *handlers.ChatAPI) {
	router.GET("/health", handlers.Health())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := router.Group("/api")
	{
		apiGroup.GET("/messages", api.GetMessages())
		apiGroup.POST("/send_message", api.SendMessage())
		apiGroup.POST("/go_back", api.GoBack())
		apiGroup.POST("/start_graph", api.StartGraph())
		apiGroup.GET("/sidebar/:name", api.GetSidebar())
	}
}
