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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// columnAliases maps each field to the header names the vision app has
// used for it, preferred first.
var columnAliases = map[string][]string{
	"id":         {"session_id"},
	"start":      {"start_time", "start_datetime"},
	"end":        {"end_time", "end_datetime"},
	"duration_m": {"duration_minutes"},
	"duration_s": {"duration_seconds"},
	"ear":        {"avg_ear"},
	"distance":   {"avg_distance_cm"},
	"drowsiness": {"drowsiness_events", "total_drowsiness_events"},
	"shoulder":   {"avg_shoulder_tilt", "avg_shoulder_tilt_deg"},
	"head_pitch": {"avg_head_pitch", "avg_head_pitch_deg"},
	"head_yaw":   {"avg_head_yaw", "avg_head_yaw_deg"},
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseSummaryCSV reads a summary.csv export.
//
// # Description
//
// Columns are matched by header name, so both historical layouts of the
// file are accepted: ISO timestamps with duration in minutes, or Unix
// timestamps with duration in seconds. Times without a zone are read in
// loc. Rows that fail validation are reported with their line number.
//
// # Inputs
//
//   - r: The CSV content including its header row.
//   - loc: Location for zone-less timestamps. Nil means time.Local.
//
// # Outputs
//
//   - []Session: One session per data row.
//   - error: Non-nil on malformed CSV, a missing required column or an
//     invalid row.
func ParseSummaryCSV(r io.Reader, loc *time.Location) ([]Session, error) {
	if loc == nil {
		loc = time.Local
	}
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("summary csv is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read summary csv header: %w", err)
	}
	cols := indexColumns(header)
	for _, required := range []string{"id", "start"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("summary csv is missing column %s", columnAliases[required][0])
		}
	}

	var sessions []Session
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read summary csv line %d: %w", line, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		s, err := parseRow(row, cols, loc)
		if err != nil {
			return nil, fmt.Errorf("summary csv line %d: %w", line, err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func indexColumns(header []string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	cols := make(map[string]int)
	for field, aliases := range columnAliases {
		for _, alias := range aliases {
			if i, ok := pos[alias]; ok {
				cols[field] = i
				break
			}
		}
	}
	return cols
}

func parseRow(row []string, cols map[string]int, loc *time.Location) (Session, error) {
	get := func(field string) string {
		i, ok := cols[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	num := func(field string) (float64, error) {
		v := get(field)
		if v == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("column %s: %w", field, err)
		}
		return f, nil
	}

	var s Session
	var err error
	s.ID = get("id")
	if s.Start, err = parseTime(get("start"), loc); err != nil {
		return s, fmt.Errorf("start time: %w", err)
	}

	if s.DurationMinutes, err = num("duration_m"); err != nil {
		return s, err
	}
	if _, ok := cols["duration_m"]; !ok {
		secs, err := num("duration_s")
		if err != nil {
			return s, err
		}
		s.DurationMinutes = secs / 60
	}

	if raw := get("end"); raw != "" {
		if s.End, err = parseTime(raw, loc); err != nil {
			return s, fmt.Errorf("end time: %w", err)
		}
	} else {
		s.End = s.Start.Add(time.Duration(s.DurationMinutes * float64(time.Minute)))
	}
	if s.DurationMinutes == 0 && s.End.After(s.Start) {
		s.DurationMinutes = s.End.Sub(s.Start).Minutes()
	}

	if s.AvgEAR, err = num("ear"); err != nil {
		return s, err
	}
	if s.AvgDistanceCM, err = num("distance"); err != nil {
		return s, err
	}
	drowsy, err := num("drowsiness")
	if err != nil {
		return s, err
	}
	s.DrowsinessEvents = int(math.Round(drowsy))
	if s.AvgShoulderTilt, err = num("shoulder"); err != nil {
		return s, err
	}
	if s.AvgHeadPitch, err = num("head_pitch"); err != nil {
		return s, err
	}
	if s.AvgHeadYaw, err = num("head_yaw"); err != nil {
		return s, err
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// parseTime accepts ISO 8601 variants and Unix seconds.
func parseTime(v string, loc *time.Location) (time.Time, error) {
	if v == "" {
		return time.Time{}, errors.New("missing value")
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).In(loc), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}
