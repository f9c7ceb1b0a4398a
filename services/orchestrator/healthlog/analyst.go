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
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AEyeAssistant/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aeye.healthlog")

// Stats aggregates one metric over a set of sessions.
type Stats struct {
	Count  int
	Mean   float64
	Min    float64
	Max    float64
	Latest float64
}

// Aggregate computes Stats for value over sessions. Sessions must be
// sorted by start time; Latest is taken from the last one.
func Aggregate(sessions []Session, value func(Session) float64) Stats {
	if len(sessions) == 0 {
		return Stats{}
	}
	st := Stats{Count: len(sessions), Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, s := range sessions {
		v := value(s)
		sum += v
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
	}
	st.Mean = sum / float64(len(sessions))
	st.Latest = value(sessions[len(sessions)-1])
	return st
}

// Analyst answers questions about recorded sessions.
//
// # Description
//
// Ask maps the question to metrics and a time window, loads the matching
// sessions and renders one line per metric with its mean, range, latest
// value and the threshold band of the mean. No language model is involved,
// so the numbers in the evidence are exact.
//
// # Thread Safety
//
// Safe for concurrent use if the source is.
type Analyst struct {
	source SessionSource
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalyst creates an Analyst over source. A nil logger uses slog.Default.
func NewAnalyst(source SessionSource, logger *slog.Logger) (*Analyst, error) {
	if source == nil {
		return nil, errors.New("session source is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyst{source: source, logger: logger, now: time.Now}, nil
}

// Ask returns a plain-text report answering question.
//
// # Inputs
//
//   - ctx: Context for cancellation.
//   - question: A single sub-question from the planner.
//
// # Outputs
//
//   - string: Non-empty report. When no sessions fall in the window the
//     report says so.
//   - error: ErrEmptyQuestion or a *QueryError from the source.
func (a *Analyst) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	ctx, span := tracer.Start(ctx, "healthlog.Analyst.Ask")
	defer span.End()

	metrics := DetectMetrics(question)
	window := ParseWindow(question, a.now())
	span.SetAttributes(
		attribute.String("window", window.Label),
		attribute.Int("metrics", len(metrics)),
	)

	sessions, err := a.source.Sessions(ctx, window.From, window.To)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session query failed")
		if !IsQueryError(err) {
			err = &QueryError{Op: "query", Err: err}
		}
		return "", err
	}
	sort.SliceStable(sessions, func(i, j int) bool { return sessions[i].Start.Before(sessions[j].Start) })

	report := Render(sessions, metrics, window)
	telemetry.LoggerWithTrace(ctx, a.logger).Debug("Health log question answered",
		"window", window.Label,
		"sessions", len(sessions),
		"metrics", len(metrics))
	return report, nil
}

// Render formats the report for metrics over sessions.
func Render(sessions []Session, metrics []Metric, window Window) string {
	if len(sessions) == 0 {
		return fmt.Sprintf("No monitoring sessions were recorded %s.", window.Label)
	}

	var b strings.Builder
	totalMinutes := Aggregate(sessions, metricTable[MetricDuration].value).Mean * float64(len(sessions))
	fmt.Fprintf(&b, "Recorded sessions %s: %d (total %.1f minutes, from %s to %s).",
		window.Label, len(sessions), totalMinutes,
		sessions[0].Start.Format("2006-01-02 15:04"),
		sessions[len(sessions)-1].Start.Format("2006-01-02 15:04"))

	for _, m := range metrics {
		info := metricTable[m]
		if info.value == nil {
			continue
		}
		st := Aggregate(sessions, info.value)
		fmt.Fprintf(&b, "\nAverage %s: %s", info.label, formatValue(st.Mean, info.unit))
		if info.assess != nil {
			fmt.Fprintf(&b, " (%s)", info.assess(st.Mean))
		}
		fmt.Fprintf(&b, "; min %s, max %s, latest session %s.",
			formatValue(st.Min, info.unit),
			formatValue(st.Max, info.unit),
			formatValue(st.Latest, info.unit))
	}
	return b.String()
}

func formatValue(v float64, unit string) string {
	switch unit {
	case "":
		if v == math.Trunc(v) {
			return fmt.Sprintf("%.0f", v)
		}
		if math.Abs(v) < 1 {
			return fmt.Sprintf("%.3f", v)
		}
		return fmt.Sprintf("%.1f", v)
	case "°":
		return fmt.Sprintf("%.1f°", v)
	default:
		return fmt.Sprintf("%.1f %s", v, unit)
	}
}
