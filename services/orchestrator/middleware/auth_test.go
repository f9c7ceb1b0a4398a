// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// newAuthRouter echoes the caller seen by the handler.
func newAuthRouter(token string) *gin.Engine {
	r := gin.New()
	r.Use(TokenAuth(token))
	r.GET("/v1/ping", func(c *gin.Context) {
		caller := GetCaller(c)
		if caller == nil {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": caller.ID, "authenticated": caller.Authenticated})
	})
	return r
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer ABC123", "ABC123"},
		{"trims whitespace", "Bearer   spaced  ", "spaced"},
		{"basic scheme", "Basic dXNlcjpwYXNz", ""},
		{"no token", "Bearer", ""},
		{"missing", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}

			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}

// =============================================================================
// TokenAuth Tests
// =============================================================================

func TestTokenAuth_NoTokenConfigured(t *testing.T) {
	r := newAuthRouter("")

	w := serve(r, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"local-user","authenticated":false}`, w.Body.String())
}

func TestTokenAuth_ValidToken(t *testing.T) {
	r := newAuthRouter("s3cret")
	req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
	req.Header.Set("Authorization", "Bearer s3cret")

	w := serve(r, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"api-token","authenticated":true}`, w.Body.String())
}

func TestTokenAuth_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong token", "Bearer nope"},
		{"prefix of token", "Bearer s3c"},
		{"wrong scheme", "Token s3cret"},
	}
	r := newAuthRouter("s3cret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			w := serve(r, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, `{"error":"unauthorized"}`, w.Body.String())
		})
	}
}

func TestTokenAuth_QueryTokenOnlyForWebSocket(t *testing.T) {
	r := newAuthRouter("s3cret")

	plain := serve(r, httptest.NewRequest(http.MethodGet, "/v1/ping?access_token=s3cret", nil))
	assert.Equal(t, http.StatusUnauthorized, plain.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/ping?access_token=s3cret", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	upgrade := serve(r, req)
	assert.Equal(t, http.StatusOK, upgrade.Code)
}

func TestGetCaller_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetCaller(c))

	c.Set(callerKey, "not a caller")
	assert.Nil(t, GetCaller(c))
}
