// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// -----------------------------------------------------------------------------
// Breaker State
// -----------------------------------------------------------------------------

// BreakerState is the circuit breaker position of a Client.
type BreakerState int32

const (
	// BreakerClosed lets every request through.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects requests until the cooldown expires.
	BreakerOpen
	// BreakerHalfOpen lets a single probe request through.
	BreakerHalfOpen
)

// String returns the string representation of BreakerState.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Client Configuration
// -----------------------------------------------------------------------------

// ClientConfig configures the Weaviate client.
type ClientConfig struct {
	// URL is the Weaviate server URL (e.g., "http://localhost:8080").
	URL string `yaml:"url" validate:"required,url"`

	// Class is the Weaviate class holding knowledge chunks.
	Class string `yaml:"class" validate:"required"`

	// RetryAttempts is the number of retries after the first attempt.
	// Default: 2
	RetryAttempts int `yaml:"retry_attempts" validate:"gte=0"`

	// RetryBackoff is the initial backoff between retries.
	// Default: 1s
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// MaxRetryBackoff caps the exponential backoff.
	// Default: 4s
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff"`

	// RetryJitter adds randomness to backoff (0.0-1.0).
	// Default: 0.25
	RetryJitter float64 `yaml:"retry_jitter" validate:"gte=0,lte=1"`

	// CircuitThreshold is the number of failed calls within CircuitWindow
	// that opens the breaker.
	// Default: 5
	CircuitThreshold int `yaml:"circuit_threshold"`

	// CircuitWindow is the sliding window for counting failures.
	// Default: 30s
	CircuitWindow time.Duration `yaml:"circuit_window"`

	// CircuitCooldown is how long the breaker stays open.
	// Default: 30s
	CircuitCooldown time.Duration `yaml:"circuit_cooldown"`

	// Logger for client operations.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultClientConfig returns production defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Class:            DefaultClass,
		RetryAttempts:    2,
		RetryBackoff:     time.Second,
		MaxRetryBackoff:  4 * time.Second,
		RetryJitter:      0.25,
		CircuitThreshold: 5,
		CircuitWindow:    30 * time.Second,
		CircuitCooldown:  30 * time.Second,
	}
}

func (c *ClientConfig) applyDefaults() {
	d := DefaultClientConfig()
	if c.Class == "" {
		c.Class = d.Class
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = d.MaxRetryBackoff
	}
	if c.CircuitThreshold == 0 {
		c.CircuitThreshold = d.CircuitThreshold
	}
	if c.CircuitWindow == 0 {
		c.CircuitWindow = d.CircuitWindow
	}
	if c.CircuitCooldown == 0 {
		c.CircuitCooldown = d.CircuitCooldown
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration.
func (c *ClientConfig) Validate() error {
	if c.URL == "" {
		return errors.New("url must not be empty")
	}
	if c.RetryAttempts < 0 {
		return errors.New("retry_attempts must be non-negative")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return errors.New("retry_jitter must be between 0 and 1")
	}
	if c.CircuitThreshold < 1 {
		return errors.New("circuit_threshold must be at least 1")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// Client wraps the Weaviate client with retries and a circuit breaker.
//
// Thread Safety: Safe for concurrent use from multiple goroutines.
type Client struct {
	wv     *weaviate.Client
	config ClientConfig
	logger *slog.Logger

	state    atomic.Int32
	openedAt atomic.Int64
	probing  atomic.Bool

	failures   []time.Time
	failureIdx int
	failureMu  sync.Mutex

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client without contacting the server.
//
// # Inputs
//
//   - config: Client configuration. URL is required.
//
// # Outputs
//
//   - *Client: Ready-to-use client.
//   - error: Non-nil if the configuration is invalid.
func NewClient(config ClientConfig) (*Client, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	parsed, err := url.Parse(config.URL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", config.URL)
	}
	wv, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	c := &Client{
		wv:       wv,
		config:   config,
		logger:   config.Logger.With(slog.String("component", "weaviate_client")),
		failures: make([]time.Time, config.CircuitThreshold),
		sleep:    sleepCtx,
	}
	return c, nil
}

// Weaviate returns the underlying client.
func (c *Client) Weaviate() *weaviate.Client {
	return c.wv
}

// Class returns the configured knowledge class.
func (c *Client) Class() string {
	return c.config.Class
}

// State returns the breaker state.
func (c *Client) State() BreakerState {
	return BreakerState(c.state.Load())
}

// Ready reports whether Weaviate answers its readiness probe.
func (c *Client) Ready(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "knowledge.Client.Ready")
	defer span.End()

	ok, err := c.wv.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "readiness check failed")
		return fmt.Errorf("weaviate readiness check: %w", err)
	}
	if !ok {
		span.SetStatus(codes.Error, "not ready")
		return ErrUnavailable
	}
	return nil
}

// Execute runs fn with retry and circuit breaker protection.
//
// # Description
//
// Transient failures (timeouts, connection errors) are retried with
// exponential backoff and jitter. Permanent failures return immediately.
// A call that fails after all attempts counts once toward the breaker.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - op: Operation name for tracing and errors.
//   - fn: The Weaviate call.
//
// # Outputs
//
//   - error: A *SearchError, or ErrCircuitOpen while the breaker is open.
func (c *Client) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "knowledge.Client.Execute",
		trace.WithAttributes(
			attribute.String("op", op),
			attribute.String("breaker", c.State().String()),
		),
	)
	defer span.End()

	switch c.State() {
	case BreakerOpen:
		if !c.cooldownExpired() {
			span.SetStatus(codes.Error, "circuit open")
			return ErrCircuitOpen
		}
		c.transition(BreakerHalfOpen)
		fallthrough
	case BreakerHalfOpen:
		if !c.probing.CompareAndSwap(false, true) {
			span.SetStatus(codes.Error, "circuit half-open, probe in flight")
			return ErrCircuitOpen
		}
		defer c.probing.Store(false)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.backoff(attempt)
			span.AddEvent("retry", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.Int64("backoff_ms", backoff.Milliseconds()),
			))
			if err := c.sleep(ctx, backoff); err != nil {
				return &SearchError{Op: op, Err: err}
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			c.recordSuccess()
			span.SetStatus(codes.Ok, "success")
			return nil
		}
		if !isRetryable(lastErr) {
			break
		}
		c.logger.Warn("Weaviate call failed, retrying",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()))
	}

	c.recordFailure()
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "weaviate call failed")
	return &SearchError{Op: op, Retryable: isRetryable(lastErr), Err: lastErr}
}

func (c *Client) transition(to BreakerState) {
	from := BreakerState(c.state.Swap(int32(to)))
	if from != to {
		c.logger.Info("Weaviate breaker transition",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}
}

func (c *Client) recordSuccess() {
	if c.State() != BreakerClosed {
		c.transition(BreakerClosed)
		c.resetFailures()
	}
}

func (c *Client) recordFailure() {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()

	now := time.Now()
	c.failures[c.failureIdx] = now
	c.failureIdx = (c.failureIdx + 1) % len(c.failures)

	windowStart := now.Add(-c.config.CircuitWindow)
	count := 0
	for _, t := range c.failures {
		if !t.IsZero() && t.After(windowStart) {
			count++
		}
	}

	if c.State() == BreakerHalfOpen || count >= c.config.CircuitThreshold {
		c.openedAt.Store(now.UnixNano())
		if c.State() != BreakerOpen {
			c.transition(BreakerOpen)
			c.logger.Warn("Weaviate circuit breaker opened",
				slog.Int("failures", count),
				slog.Duration("window", c.config.CircuitWindow))
		}
	}
}

func (c *Client) resetFailures() {
	c.failureMu.Lock()
	defer c.failureMu.Unlock()
	for i := range c.failures {
		c.failures[i] = time.Time{}
	}
	c.failureIdx = 0
}

func (c *Client) cooldownExpired() bool {
	return time.Since(time.Unix(0, c.openedAt.Load())) >= c.config.CircuitCooldown
}

// backoff returns base * 2^(attempt-1), capped, with jitter.
func (c *Client) backoff(attempt int) time.Duration {
	d := c.config.RetryBackoff * time.Duration(1<<(attempt-1))
	if d > c.config.MaxRetryBackoff {
		d = c.config.MaxRetryBackoff
	}
	jitter := (rand.Float64()*2 - 1) * float64(d) * c.config.RetryJitter
	d = time.Duration(float64(d) + jitter)
	if d < 0 {
		d = c.config.RetryBackoff
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// isRetryable reports whether err is a transient transport failure.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var se *SearchError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}
