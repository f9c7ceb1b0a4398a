// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package healthlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/query"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultMeasurement is the InfluxDB measurement holding session summaries.
const DefaultMeasurement = "session_summary"

// identifierPattern guards names interpolated into Flux.
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// InfluxConfig locates the session bucket.
type InfluxConfig struct {
	URL         string        `yaml:"url" validate:"required,url"`
	Token       string        `yaml:"token"`
	Org         string        `yaml:"org" validate:"required"`
	Bucket      string        `yaml:"bucket" validate:"required"`
	Measurement string        `yaml:"measurement"`
	Timeout     time.Duration `yaml:"timeout"`

	// MaxAttempts bounds query attempts on transport errors. Default: 3
	MaxAttempts int `yaml:"max_attempts"`
}

// InfluxStore reads and writes session summaries in InfluxDB.
//
// # Description
//
// Each session is one point in the measurement, tagged with session_id and
// timestamped at the session start. Reads pivot the fields back into rows.
//
// # Thread Safety
//
// Safe for concurrent use.
type InfluxStore struct {
	client      influxdb2.Client
	queryAPI    api.QueryAPI
	writeAPI    api.WriteAPIBlocking
	bucket      string
	measurement string
	maxAttempts int
	backoff     time.Duration
}

// NewInfluxStore connects to InfluxDB. No request is made until first use.
func NewInfluxStore(cfg InfluxConfig) (*InfluxStore, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influxdb url, org and bucket are required")
	}
	opts := influxdb2.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.SetHTTPRequestTimeout(uint(cfg.Timeout.Seconds()))
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	s, err := newInfluxStore(client.QueryAPI(cfg.Org), client.WriteAPIBlocking(cfg.Org, cfg.Bucket), cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	s.client = client
	return s, nil
}

func newInfluxStore(q api.QueryAPI, w api.WriteAPIBlocking, cfg InfluxConfig) (*InfluxStore, error) {
	measurement := cfg.Measurement
	if measurement == "" {
		measurement = DefaultMeasurement
	}
	if !identifierPattern.MatchString(cfg.Bucket) || !identifierPattern.MatchString(measurement) {
		return nil, fmt.Errorf("invalid bucket %q or measurement %q", cfg.Bucket, measurement)
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 3
	}
	return &InfluxStore{
		queryAPI:    q,
		writeAPI:    w,
		bucket:      cfg.Bucket,
		measurement: measurement,
		maxAttempts: attempts,
		backoff:     time.Second,
	}, nil
}

// Close releases the HTTP client.
func (s *InfluxStore) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Ping reports whether the server is reachable.
func (s *InfluxStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return &QueryError{Op: "ping", Retryable: true, Err: err}
	}
	if !ok {
		return &QueryError{Op: "ping", Retryable: true, Err: errors.New("influxdb not ready")}
	}
	return nil
}

// BuildSessionQuery returns the Flux query for sessions in [from, to).
func BuildSessionQuery(bucket, measurement string, from, to time.Time) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "%s")
		  |> pivot(rowKey:["_time", "session_id"], columnKey: ["_field"], valueColumn: "_value")
		  |> group()
		  |> sort(columns: ["_time"], desc: false)
	`, bucket, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), measurement)
}

// Sessions implements SessionSource.
func (s *InfluxStore) Sessions(ctx context.Context, from, to time.Time) ([]Session, error) {
	ctx, span := tracer.Start(ctx, "healthlog.InfluxStore.Sessions")
	defer span.End()

	if !from.Before(to) {
		return nil, nil
	}
	flux := BuildSessionQuery(s.bucket, s.measurement, from, to)

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := s.backoff * time.Duration(1<<(attempt-1))
			slog.Warn("InfluxDB query failed, retrying", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, &QueryError{Op: "query", Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		sessions, err := s.query(ctx, flux)
		if err == nil {
			span.SetAttributes(attribute.Int("sessions", len(sessions)))
			return sessions, nil
		}
		lastErr = err
		if !retryableInflux(err) {
			break
		}
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "influx query failed")
	return nil, &QueryError{Op: "query", Retryable: retryableInflux(lastErr), Err: lastErr}
}

func (s *InfluxStore) query(ctx context.Context, flux string) ([]Session, error) {
	result, err := s.queryAPI.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("InfluxDB query failed: %w", err)
	}
	defer result.Close()

	var sessions []Session
	for result.Next() {
		sessions = append(sessions, recordToSession(result.Record()))
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("error reading InfluxDB results: %w", result.Err())
	}
	return sessions, nil
}

func recordToSession(record *query.FluxRecord) Session {
	s := Session{Start: record.Time()}
	if id, ok := record.ValueByKey("session_id").(string); ok {
		s.ID = id
	}
	s.DurationMinutes = toFloat(record.ValueByKey("duration_minutes"))
	s.AvgEAR = toFloat(record.ValueByKey("avg_ear"))
	s.AvgDistanceCM = toFloat(record.ValueByKey("avg_distance_cm"))
	s.DrowsinessEvents = int(toFloat(record.ValueByKey("drowsiness_events")))
	s.AvgShoulderTilt = toFloat(record.ValueByKey("avg_shoulder_tilt"))
	s.AvgHeadPitch = toFloat(record.ValueByKey("avg_head_pitch"))
	s.AvgHeadYaw = toFloat(record.ValueByKey("avg_head_yaw"))
	s.End = s.Start.Add(time.Duration(s.DurationMinutes * float64(time.Minute)))
	return s
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// SessionPoint converts a session into an InfluxDB point.
func SessionPoint(measurement string, s Session) *write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"session_id": s.ID,
		},
		map[string]interface{}{
			"duration_minutes":  s.DurationMinutes,
			"avg_ear":           s.AvgEAR,
			"avg_distance_cm":   s.AvgDistanceCM,
			"drowsiness_events": int64(s.DrowsinessEvents),
			"avg_shoulder_tilt": s.AvgShoulderTilt,
			"avg_head_pitch":    s.AvgHeadPitch,
			"avg_head_yaw":      s.AvgHeadYaw,
		},
		s.Start,
	)
}

// WriteSessions implements SessionSink. Every session is validated before
// any point is written.
func (s *InfluxStore) WriteSessions(ctx context.Context, sessions []Session) error {
	if len(sessions) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "healthlog.InfluxStore.WriteSessions")
	defer span.End()
	span.SetAttributes(attribute.Int("sessions", len(sessions)))

	points := make([]*write.Point, 0, len(sessions))
	for _, sess := range sessions {
		if err := sess.Validate(); err != nil {
			return fmt.Errorf("session %q: %w", sess.ID, err)
		}
		points = append(points, SessionPoint(s.measurement, sess))
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "influx write failed")
		return &QueryError{Op: "write", Retryable: retryableInflux(err), Err: err}
	}
	slog.Info("Wrote session summaries to InfluxDB", "count", len(points), "measurement", s.measurement)
	return nil
}

func retryableInflux(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var (
	_ SessionSource = (*InfluxStore)(nil)
	_ SessionSink   = (*InfluxStore)(nil)
)
