// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package healthlog answers questions about the user's recorded screen
// sessions.
//
// # Description
//
// The vision subsystem writes one summary per monitoring session: how long
// it lasted, how open the eyes were, how far the face was from the screen,
// how often drowsiness was detected and the average posture angles. This
// package stores those summaries in InfluxDB, parses the legacy
// summary.csv export, and turns a natural-language question into a short
// statistical report the engine can use as tabular evidence.
package healthlog

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Session is the summary of one monitoring session.
type Session struct {
	ID               string    `json:"session_id" validate:"required"`
	Start            time.Time `json:"start_time" validate:"required"`
	End              time.Time `json:"end_time" validate:"required,gtefield=Start"`
	DurationMinutes  float64   `json:"duration_minutes" validate:"gte=0"`
	AvgEAR           float64   `json:"avg_ear" validate:"gte=0,lte=1"`
	AvgDistanceCM    float64   `json:"avg_distance_cm" validate:"gte=0"`
	DrowsinessEvents int       `json:"drowsiness_events" validate:"gte=0"`
	AvgShoulderTilt  float64   `json:"avg_shoulder_tilt"`
	AvgHeadPitch     float64   `json:"avg_head_pitch"`
	AvgHeadYaw       float64   `json:"avg_head_yaw"`
}

// Validate checks field ranges.
func (s Session) Validate() error {
	return validate.Struct(s)
}

// SessionSource returns the sessions that started within [from, to).
type SessionSource interface {
	Sessions(ctx context.Context, from, to time.Time) ([]Session, error)
}

// SessionSink persists session summaries.
type SessionSink interface {
	WriteSessions(ctx context.Context, sessions []Session) error
}
