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
	"os"
	"time"
)

// CSVFileSource answers session queries straight from a summary.csv file.
//
// The file is re-read on every query so sessions appended by the vision
// app are visible immediately. A missing file means no sessions.
type CSVFileSource struct {
	Path     string
	Location *time.Location
}

// Sessions implements SessionSource.
func (c *CSVFileSource) Sessions(ctx context.Context, from, to time.Time) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, &QueryError{Op: "query", Err: err}
	}
	f, err := os.Open(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &QueryError{Op: "query", Err: fmt.Errorf("open %s: %w", c.Path, err)}
	}
	defer f.Close()

	all, err := ParseSummaryCSV(f, c.Location)
	if err != nil {
		return nil, &QueryError{Op: "query", Err: err}
	}
	var out []Session
	for _, s := range all {
		if !s.Start.Before(from) && s.Start.Before(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

var _ SessionSource = (*CSVFileSource)(nil)
