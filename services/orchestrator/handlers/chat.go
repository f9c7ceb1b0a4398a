// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the orchestrator's HTTP and websocket
// endpoints on gin.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AEyeAssistant/pkg/telemetry"
	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
)

var chatTracer = otel.Tracer("aeye.orchestrator.handlers")

// TechnicalIssuesAnswer is shown when the transport itself fails.
const TechnicalIssuesAnswer = "The system is experiencing technical issues. Please try again later."

// maxMessageLen bounds a single user message in bytes.
const maxMessageLen = 8000

// TurnRunner answers one user message on a thread. *engine.Engine
// implements it.
type TurnRunner interface {
	RunTurn(ctx context.Context, threadID, userMessage string) (*engine.TurnResult, error)
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	// ThreadID continues an existing conversation. Empty starts a new one.
	ThreadID string `json:"thread_id" binding:"omitempty,max=128"`
	Message  string `json:"message" binding:"required,max=8000"`
}

// ChatResponse is returned for every chat turn, including failed ones.
type ChatResponse struct {
	ThreadID   string `json:"thread_id"`
	Answer     string `json:"answer"`
	Route      string `json:"route,omitempty"`
	Intent     string `json:"intent,omitempty"`
	RetryCount int    `json:"retry_count"`
	Accepted   bool   `json:"accepted"`
	Degraded   bool   `json:"degraded"`
}

// newChatResponse maps a turn result onto the wire type. Route and intent
// are only reported for turns that completed.
func newChatResponse(result *engine.TurnResult, err error) ChatResponse {
	resp := ChatResponse{
		ThreadID:   result.ThreadID,
		Answer:     result.Answer,
		RetryCount: result.RetryCount,
		Accepted:   result.Accepted,
		Degraded:   len(result.Warnings) > 0,
	}
	if err == nil {
		resp.Route = result.Route.String()
		if result.Route == engine.RouteDomainQuestion {
			resp.Intent = result.Intent.String()
		}
	}
	return resp
}

// HandleChat answers one message.
//
// # Description
//
// A missing thread_id gets a fresh UUID, returned in the response so the
// client can continue the conversation. Engine failures still answer 200
// with the engine's apology: the failure is in answering, not in the
// request. Only malformed requests get a 4xx.
//
// # Inputs
//
//   - runner: The conversation engine.
//
// # Outputs
//
//   - gin.HandlerFunc: Handler for POST /v1/chat.
func HandleChat(runner TurnRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()
		logger := telemetry.LoggerWithTrace(ctx, slog.Default())

		var req ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Rejected chat request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message must not be blank"})
			return
		}
		threadID := strings.TrimSpace(req.ThreadID)
		if threadID == "" {
			threadID = uuid.NewString()
		}
		span.SetAttributes(attribute.String("thread.id", threadID))

		result, err := runner.RunTurn(ctx, threadID, req.Message)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Chat turn failed", "thread_id", threadID, "error", err)
		}
		if result == nil {
			c.JSON(http.StatusInternalServerError, ChatResponse{ThreadID: threadID, Answer: TechnicalIssuesAnswer})
			return
		}
		c.JSON(http.StatusOK, newChatResponse(result, err))
	}
}

// Recovery converts a panic anywhere in the handler chain into the
// technical-issues answer.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		slog.Error("Recovered from handler panic", "path", c.FullPath(), "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"answer": TechnicalIssuesAnswer,
			"error":  "internal error",
		})
	})
}
