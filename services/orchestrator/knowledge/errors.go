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
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when Weaviate reports it is not ready.
	ErrUnavailable = errors.New("weaviate is not available")

	// ErrCircuitOpen is returned while the breaker rejects requests.
	ErrCircuitOpen = errors.New("circuit breaker is open, weaviate requests blocked")

	// ErrEmptyQuery is returned by Search for a blank query.
	ErrEmptyQuery = errors.New("query is empty")
)

// SearchError describes a failed Weaviate or embedding call.
type SearchError struct {
	// Op names the failed operation ("embed", "near_vector", "batch").
	Op string

	// Retryable is true for transport failures worth retrying later.
	Retryable bool

	// Err is the underlying cause.
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("knowledge %s failed: %v", e.Op, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// IsSearchError reports whether err wraps a *SearchError.
func IsSearchError(err error) bool {
	var se *SearchError
	return errors.As(err, &se)
}
