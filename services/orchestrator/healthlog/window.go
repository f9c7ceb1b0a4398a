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
	"strings"
	"time"
)

// DefaultLookback is the window used when a question names no period.
const DefaultLookback = 30 * 24 * time.Hour

// Window is a half-open time range [From, To) with a human label.
type Window struct {
	From  time.Time
	To    time.Time
	Label string
}

type windowRule struct {
	keywords []string
	build    func(now time.Time) Window
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// windowRules are checked in order; the first match wins.
var windowRules = []windowRule{
	{
		keywords: []string{"yesterday", "hôm qua"},
		build: func(now time.Time) Window {
			today := startOfDay(now)
			return Window{From: today.AddDate(0, 0, -1), To: today, Label: "yesterday"}
		},
	},
	{
		keywords: []string{"today", "hôm nay", "hom nay"},
		build: func(now time.Time) Window {
			return Window{From: startOfDay(now), To: now, Label: "today"}
		},
	},
	{
		keywords: []string{"last week", "past week", "last 7 days", "tuần trước", "7 ngày"},
		build: func(now time.Time) Window {
			return Window{From: now.AddDate(0, 0, -7), To: now, Label: "in the last 7 days"}
		},
	},
	{
		keywords: []string{"this week", "tuần này", "tuan nay"},
		build: func(now time.Time) Window {
			offset := (int(now.Weekday()) + 6) % 7
			return Window{From: startOfDay(now).AddDate(0, 0, -offset), To: now, Label: "this week"}
		},
	},
	{
		keywords: []string{"this month", "tháng này", "thang nay"},
		build: func(now time.Time) Window {
			y, m, _ := now.Date()
			return Window{From: time.Date(y, m, 1, 0, 0, 0, 0, now.Location()), To: now, Label: "this month"}
		},
	},
}

// ParseWindow picks the time range a question refers to.
func ParseWindow(question string, now time.Time) Window {
	q := strings.ToLower(question)
	for _, rule := range windowRules {
		if containsAny(q, rule.keywords) {
			return rule.build(now)
		}
	}
	return Window{From: now.Add(-DefaultLookback), To: now, Label: "in the last 30 days"}
}
