// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AEyeAssistant/pkg/telemetry"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/healthlog"
)

// maxSessionsPerRequest bounds one ingest call.
const maxSessionsPerRequest = 1000

// IngestSessionsRequest is the body of POST /v1/health/sessions.
type IngestSessionsRequest struct {
	Sessions []healthlog.Session `json:"sessions" binding:"required,min=1"`
}

// HandleIngestSessions stores session summaries posted by the vision
// subsystem.
//
// # Description
//
// Every session is validated before anything is written; one bad session
// rejects the whole batch with 400 and its index. Sink failures return
// 503 when retryable and 500 otherwise.
//
// # Inputs
//
//   - sink: The health log store.
//   - metrics: Optional. Counts ingested sessions.
func HandleIngestSessions(sink healthlog.SessionSink, metrics *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestSessionsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if len(req.Sessions) > maxSessionsPerRequest {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("at most %d sessions per request", maxSessionsPerRequest),
			})
			return
		}
		for i, s := range req.Sessions {
			if err := s.Validate(); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error": fmt.Sprintf("session %d (%s) is invalid: %v", i, s.ID, err),
				})
				return
			}
		}

		ctx := c.Request.Context()
		if err := sink.WriteSessions(ctx, req.Sessions); err != nil {
			status := http.StatusInternalServerError
			var qe *healthlog.QueryError
			if errors.As(err, &qe) && qe.Retryable {
				status = http.StatusServiceUnavailable
			}
			slog.Error("failed to store health sessions", "count", len(req.Sessions), "error", err)
			c.JSON(status, gin.H{"error": "failed to store sessions"})
			return
		}
		if metrics != nil {
			metrics.SessionsIngestedTotal.Add(ctx, int64(len(req.Sessions)))
		}
		slog.Info("Stored health sessions", "count", len(req.Sessions))
		c.JSON(http.StatusAccepted, gin.H{"stored": len(req.Sessions)})
	}
}
