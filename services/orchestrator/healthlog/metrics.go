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
	"math"
	"strings"
)

// Metric identifies one quantity the analyst can report on.
type Metric int

const (
	MetricSessions Metric = iota
	MetricDuration
	MetricEAR
	MetricDistance
	MetricDrowsiness
	MetricShoulderTilt
	MetricHeadPitch
	MetricHeadYaw
)

type metricInfo struct {
	label    string
	unit     string
	keywords []string
	value    func(Session) float64
	assess   func(float64) string
}

var metricTable = map[Metric]metricInfo{
	MetricSessions: {
		label:    "sessions",
		keywords: []string{"how many sessions", "number of sessions", "session count", "bao nhiêu phiên", "số phiên"},
	},
	MetricDuration: {
		label:    "session duration",
		unit:     "min",
		keywords: []string{"how long", "duration", "minutes", "screen time", "bao lâu", "thời gian", "thời lượng", "phút"},
		value:    func(s Session) float64 { return s.DurationMinutes },
	},
	MetricEAR: {
		label:    "eye aspect ratio",
		keywords: []string{"eye aspect", "ear", "eyes open", "blink", "eye strain", "tired eyes", "mỏi mắt", "nhắm mắt", "chớp mắt", "mở mắt"},
		value:    func(s Session) float64 { return s.AvgEAR },
		assess:   AssessEAR,
	},
	MetricDistance: {
		label:    "screen distance",
		unit:     "cm",
		keywords: []string{"distance", "how close", "how far", "too close", "khoảng cách", "cách màn hình", "gần", "xa"},
		value:    func(s Session) float64 { return s.AvgDistanceCM },
		assess:   AssessDistance,
	},
	MetricDrowsiness: {
		label:    "drowsiness events",
		keywords: []string{"drowsy", "drowsiness", "sleepy", "fatigue", "buồn ngủ", "ngủ gật", "mệt"},
		value:    func(s Session) float64 { return float64(s.DrowsinessEvents) },
		assess:   AssessDrowsiness,
	},
	MetricShoulderTilt: {
		label:    "shoulder tilt",
		unit:     "°",
		keywords: []string{"shoulder", "tilt", "vai", "nghiêng"},
		value:    func(s Session) float64 { return s.AvgShoulderTilt },
		assess:   AssessShoulderTilt,
	},
	MetricHeadPitch: {
		label:    "head pitch",
		unit:     "°",
		keywords: []string{"head pitch", "pitch", "looking down", "neck", "cúi", "ngửa", "cổ"},
		value:    func(s Session) float64 { return s.AvgHeadPitch },
		assess:   AssessHeadPitch,
	},
	MetricHeadYaw: {
		label:    "head yaw",
		unit:     "°",
		keywords: []string{"head yaw", "yaw", "turned", "looking away", "quay đầu", "nhìn sang"},
		value:    func(s Session) float64 { return s.AvgHeadYaw },
		assess:   AssessHeadYaw,
	},
}

// metricOrder fixes report ordering.
var metricOrder = []Metric{
	MetricSessions, MetricDuration, MetricEAR, MetricDistance,
	MetricDrowsiness, MetricShoulderTilt, MetricHeadPitch, MetricHeadYaw,
}

var (
	postureKeywords   = []string{"posture", "sitting", "tư thế", "ngồi"}
	eyeHealthKeywords = []string{"eye health", "my eyes", "sức khỏe mắt", "mắt"}
	overviewMetrics   = []Metric{MetricSessions, MetricDuration, MetricEAR, MetricDistance, MetricDrowsiness}
	postureMetrics    = []Metric{MetricShoulderTilt, MetricHeadPitch, MetricHeadYaw}
	eyeHealthMetrics  = []Metric{MetricEAR, MetricDistance, MetricDrowsiness}
)

// String returns the metric's label.
func (m Metric) String() string {
	if info, ok := metricTable[m]; ok {
		return info.label
	}
	return "unknown"
}

// DetectMetrics maps a question to the metrics it asks about.
//
// # Description
//
// Explicit keywords win. Otherwise posture questions get the three posture
// angles, eye-health questions get the eye metrics and anything else gets
// a general overview. The result is in report order and never empty.
func DetectMetrics(question string) []Metric {
	q := strings.ToLower(question)
	seen := map[Metric]bool{}
	for m, info := range metricTable {
		for _, kw := range info.keywords {
			if containsWord(q, kw) {
				seen[m] = true
				break
			}
		}
	}

	var out []Metric
	for _, m := range metricOrder {
		if seen[m] {
			out = append(out, m)
		}
	}
	if len(out) > 0 {
		return out
	}
	switch {
	case containsAny(q, postureKeywords):
		return append([]Metric(nil), postureMetrics...)
	case containsAny(q, eyeHealthKeywords):
		return append([]Metric(nil), eyeHealthMetrics...)
	default:
		return append([]Metric(nil), overviewMetrics...)
	}
}

func containsAny(q string, kws []string) bool {
	for _, kw := range kws {
		if containsWord(q, kw) {
			return true
		}
	}
	return false
}

// containsWord reports whether kw occurs in q on word boundaries.
func containsWord(q, kw string) bool {
	for start := 0; ; {
		i := strings.Index(q[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		if boundary(q, i-1) && boundary(q, end) {
			return true
		}
		start = i + 1
		if start >= len(q) {
			return false
		}
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	c := s[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c >= 0x80)
}

// =============================================================================
// Thresholds
// =============================================================================

// AssessEAR classifies an eye aspect ratio.
func AssessEAR(v float64) string {
	switch {
	case v < 0.25:
		return "eyes mostly closed or very tired"
	case v <= 0.35:
		return "normal"
	default:
		return "wide open, alert"
	}
}

// AssessDistance classifies a face-to-screen distance in centimetres.
func AssessDistance(cm float64) string {
	switch {
	case cm < 40:
		return "too close"
	case cm <= 70:
		return "safe"
	default:
		return "far from the screen"
	}
}

// AssessDrowsiness classifies a per-session drowsiness event count.
func AssessDrowsiness(events float64) string {
	switch {
	case events <= 0:
		return "no signs of drowsiness"
	case events <= 3:
		return "mild fatigue"
	default:
		return "severe fatigue"
	}
}

// AssessShoulderTilt classifies a shoulder tilt in degrees.
func AssessShoulderTilt(deg float64) string {
	deg = math.Abs(deg)
	switch {
	case deg <= 5:
		return "good posture"
	case deg <= 10:
		return "slightly uneven"
	default:
		return "poor posture"
	}
}

// AssessHeadPitch classifies a head pitch in degrees; positive is down.
func AssessHeadPitch(deg float64) string {
	switch {
	case deg < -10:
		return "tilted back"
	case deg <= 10:
		return "good posture"
	case deg <= 20:
		return "slightly looking down"
	default:
		return "strongly looking down"
	}
}

// AssessHeadYaw classifies a head yaw in degrees.
func AssessHeadYaw(deg float64) string {
	deg = math.Abs(deg)
	switch {
	case deg <= 5:
		return "facing the screen"
	case deg <= 15:
		return "slightly turned"
	default:
		return "turned away from the screen"
	}
}
