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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AEyeAssistant/pkg/telemetry"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsWriteWait  = 10 * time.Second
)

// Websocket message actions.
const (
	ActionSessionCreated = "session_created"
	ActionAnswer         = "answer"
	ActionError          = "error"
)

// WSRequest is one client frame.
type WSRequest struct {
	Message string `json:"message"`
}

// WSResponse is one server frame. Answer frames embed the ChatResponse
// fields.
type WSResponse struct {
	Action string `json:"action"`
	ChatResponse
	Error string `json:"error,omitempty"`
}

// WebSocketOptions configures HandleChatWebSocket.
type WebSocketOptions struct {
	// AllowedOrigins restricts the Origin header. Empty or "*" accepts any.
	AllowedOrigins []string

	// Metrics counts open sessions when set.
	Metrics *telemetry.Metrics
}

func newUpgrader(allowed []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, a := range allowed {
				if a == "*" || strings.EqualFold(a, origin) {
					return true
				}
			}
			return false
		},
	}
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket serves a conversation over a websocket.
//
// # Description
//
// The connection is bound to one thread: ?thread_id= resumes a thread,
// otherwise a new UUID is issued and announced in a session_created frame.
// Each {"message": ...} frame runs one turn; turns on a connection are
// sequential. The connection is kept alive with pings and closes when the
// client disconnects or stops answering pings.
//
// # Inputs
//
//   - runner: The conversation engine.
//   - opts: Origin policy and metrics.
//
// # Outputs
//
//   - gin.HandlerFunc: Handler for GET /v1/chat/ws.
func HandleChatWebSocket(runner TurnRunner, opts WebSocketOptions) gin.HandlerFunc {
	upgrader := newUpgrader(opts.AllowedOrigins)

	return func(c *gin.Context) {
		threadID := strings.TrimSpace(c.Query("thread_id"))
		if threadID == "" {
			threadID = uuid.NewString()
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		ctx := c.Request.Context()
		if opts.Metrics != nil {
			opts.Metrics.WebSocketSessions.Add(ctx, 1)
			defer opts.Metrics.WebSocketSessions.Add(ctx, -1)
		}
		slog.Info("Websocket session started", "thread_id", threadID)

		ws.SetReadLimit(2 * maxMessageLen)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		done := make(chan struct{})
		defer close(done)
		go keepAlive(ws, done)

		if err := sendJSON(ws, WSResponse{
			Action:       ActionSessionCreated,
			ChatResponse: ChatResponse{ThreadID: threadID},
		}); err != nil {
			return
		}

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Warn("Websocket closed unexpectedly", "thread_id", threadID, "error", err)
				} else {
					slog.Info("Websocket client disconnected", "thread_id", threadID)
				}
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))

			if strings.TrimSpace(req.Message) == "" {
				if sendJSON(ws, WSResponse{Action: ActionError, Error: "message must not be blank"}) != nil {
					return
				}
				continue
			}

			result, err := runner.RunTurn(ctx, threadID, req.Message)
			if err != nil {
				slog.Error("Websocket turn failed", "thread_id", threadID, "error", err)
			}
			resp := WSResponse{Action: ActionAnswer}
			if result == nil {
				resp.ChatResponse = ChatResponse{ThreadID: threadID, Answer: TechnicalIssuesAnswer}
			} else {
				resp.ChatResponse = newChatResponse(result, err)
			}
			if sendJSON(ws, resp) != nil {
				return
			}
		}
	}
}

// keepAlive pings the client until done closes or a ping fails.
func keepAlive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
