// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides Gin middleware for the orchestrator API.
//
// TokenAuth guards the /v1 routes with a shared bearer token:
//
//	Request
//	   │
//	   ▼
//	TokenAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │   (or ?access_token= on websocket upgrades)
//	   │
//	   ├─► Constant-time compare with server.api_token
//	   │
//	   └─► Store Caller in context
//	           │
//	           ▼
//	       Handler (retrieves via GetCaller)
//
// With no token configured every request is accepted as the local user,
// which is how the desktop app talks to a loopback orchestrator.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// callerKey is the Gin context key for the Caller.
const callerKey = "aeye_caller"

// LocalUser is the caller id used when no API token is configured.
const LocalUser = "local-user"

// Caller identifies who sent a request.
type Caller struct {
	ID            string
	Authenticated bool
}

// SetCaller stores the caller in the Gin context.
func SetCaller(c *gin.Context, caller *Caller) {
	c.Set(callerKey, caller)
}

// GetCaller returns the caller stored by TokenAuth, or nil.
func GetCaller(c *gin.Context) *Caller {
	if v, exists := c.Get(callerKey); exists {
		if caller, ok := v.(*Caller); ok {
			return caller
		}
	}
	return nil
}

// TokenAuth returns middleware that requires token on every request.
//
// # Description
//
// An empty token disables the check and marks requests as LocalUser.
// Otherwise the bearer token must match exactly; mismatches and missing
// tokens abort with 401. Browsers cannot set headers on a websocket
// upgrade, so the access_token query parameter is accepted there too.
//
// # Thread Safety
//
// The returned middleware is safe for concurrent use.
func TokenAuth(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			SetCaller(c, &Caller{ID: LocalUser})
			c.Next()
			return
		}

		got := extractBearerToken(c)
		if got == "" && isWebSocketUpgrade(c) {
			got = c.Query("access_token")
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		SetCaller(c, &Caller{ID: "api-token", Authenticated: true})
		c.Next()
	}
}

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or uses another scheme. The scheme is
// matched case-insensitively per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

func isWebSocketUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}
