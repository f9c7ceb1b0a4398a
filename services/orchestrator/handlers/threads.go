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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AEyeAssistant/services/orchestrator/engine"
)

// ThreadStore is the subset of conversation memory the thread endpoints
// need. conversation.Store implements it.
type ThreadStore interface {
	Load(ctx context.Context, threadID string) (*engine.ConversationState, error)
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context) ([]string, error)
}

// ThreadResponse is the body of GET /v1/threads/:id.
type ThreadResponse struct {
	ThreadID  string           `json:"thread_id"`
	Messages  []engine.Message `json:"messages"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// GetThread returns a thread's message history, or 404 for an unknown or
// expired thread.
func GetThread(store ThreadStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		threadID := c.Param("id")
		state, err := store.Load(c.Request.Context(), threadID)
		if err != nil {
			slog.Error("failed to load thread", "thread_id", threadID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load thread"})
			return
		}
		if state == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "thread not found"})
			return
		}
		messages := state.History
		if messages == nil {
			messages = []engine.Message{}
		}
		c.JSON(http.StatusOK, ThreadResponse{
			ThreadID:  state.ThreadID,
			Messages:  messages,
			UpdatedAt: state.UpdatedAt,
		})
	}
}

// ListThreads returns the ids of every live thread.
func ListThreads(store ThreadStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := store.List(c.Request.Context())
		if err != nil {
			slog.Error("failed to list threads", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list threads"})
			return
		}
		if ids == nil {
			ids = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"threads": ids})
	}
}

// DeleteThread forgets a thread. Deleting an unknown thread succeeds.
func DeleteThread(store ThreadStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		threadID := c.Param("id")
		if err := store.Delete(c.Request.Context(), threadID); err != nil {
			slog.Error("failed to delete thread", "thread_id", threadID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete thread"})
			return
		}
		slog.Info("Deleted thread", "thread_id", threadID)
		c.Status(http.StatusNoContent)
	}
}
