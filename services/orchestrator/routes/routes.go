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
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AEyeAssistant/pkg/telemetry"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/handlers"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/healthlog"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/middleware"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/observability"
)

// Dependencies are the components the routes are served from.
//
// # Description
//
// Runner and Threads are required. Sessions is optional: without a sink
// the ingest route is not registered. MetricsHandler defaults to the
// Prometheus default registry. A non-empty APIToken guards /v1.
type Dependencies struct {
	Runner         handlers.TurnRunner
	Threads        handlers.ThreadStore
	Sessions       healthlog.SessionSink
	Readiness      map[string]handlers.Checker
	Metrics        *telemetry.Metrics
	MetricsHandler http.Handler
	AllowedOrigins []string
	APIToken       string
}

// SetupRoutes registers every orchestrator endpoint on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(deps.Readiness))

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.TokenAuth(deps.APIToken))
	{
		v1.POST("/chat", countRequests(observability.EndpointChat), handlers.HandleChat(deps.Runner))
		v1.GET("/chat/ws", countRequests(observability.EndpointChatWS), handlers.HandleChatWebSocket(deps.Runner, handlers.WebSocketOptions{
			AllowedOrigins: deps.AllowedOrigins,
			Metrics:        deps.Metrics,
		}))

		threads := v1.Group("/threads")
		{
			threads.GET("", handlers.ListThreads(deps.Threads))
			threads.GET("/:id", countRequests(observability.EndpointThreadHistory), handlers.GetThread(deps.Threads))
			threads.DELETE("/:id", handlers.DeleteThread(deps.Threads))
		}

		if deps.Sessions != nil {
			v1.POST("/health/sessions", countRequests(observability.EndpointSessionIngest),
				handlers.HandleIngestSessions(deps.Sessions, deps.Metrics))
		}
	}
}

// countRequests records the endpoint outcome once the handler returns.
// Any status below 500 counts as success.
func countRequests(endpoint observability.Endpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if observability.DefaultMetrics == nil {
			return
		}
		observability.DefaultMetrics.RecordRequest(endpoint, c.Writer.Status() < http.StatusInternalServerError)
	}
}
