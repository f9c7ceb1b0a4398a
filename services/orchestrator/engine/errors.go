// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrEvidenceUnavailable is returned by an evidence step when every call to
// its collaborator failed. It is never fatal to a turn.
var ErrEvidenceUnavailable = errors.New("evidence unavailable")

// ErrEmptyCompletion is returned when the generation collaborator produced
// blank text.
var ErrEmptyCompletion = errors.New("generation collaborator returned empty text")

// ErrTurnPanicked is returned when a collaborator or step panicked. The
// turn is aborted like any other fatal failure.
var ErrTurnPanicked = errors.New("turn panicked")

// InvalidStateError indicates that a step's required input was empty or
// malformed.
//
// # Description
//
// InvalidStateError is fatal to the turn. The engine aborts, answers with the
// fixed apology and does not persist anything.
type InvalidStateError struct {
	Step   string
	Field  string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state in %s: %s %s", e.Step, e.Field, e.Reason)
}

// IsInvalidState checks if an error is an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

func invalidState(step, field, reason string) error {
	return &InvalidStateError{Step: step, Field: field, Reason: reason}
}

// Collaborator names used in CollaboratorError and metrics labels.
const (
	CollaboratorTabular    = "tabular"
	CollaboratorKnowledge  = "knowledge"
	CollaboratorGeneration = "generation"
	CollaboratorMemory     = "memory"
)

// CollaboratorError wraps a failure or timeout of an external service.
//
// # Description
//
// Every error returned by a collaborator is converted to a CollaboratorError
// before it leaves the step that called it. Timeout reports whether the
// per-call deadline expired.
type CollaboratorError struct {
	Collaborator string
	Op           string
	Timeout      bool
	Err          error
}

func (e *CollaboratorError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s collaborator %s timed out: %v", e.Collaborator, e.Op, e.Err)
	}
	return fmt.Sprintf("%s collaborator %s failed: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// IsCollaboratorError checks if an error is a CollaboratorError.
func IsCollaboratorError(err error) bool {
	var target *CollaboratorError
	return errors.As(err, &target)
}

// wrapCollaborator converts err into a CollaboratorError. It returns nil for
// a nil error and leaves an existing CollaboratorError untouched.
func wrapCollaborator(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *CollaboratorError
	if errors.As(err, &existing) {
		return err
	}
	return &CollaboratorError{
		Collaborator: collaborator,
		Op:           op,
		Timeout:      errors.Is(err, context.DeadlineExceeded),
		Err:          err,
	}
}

// errorKind returns a short label for metrics and logs.
func errorKind(err error) string {
	var ce *CollaboratorError
	switch {
	case err == nil:
		return "none"
	case IsInvalidState(err):
		return "invalid_state"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &ce) && ce.Timeout:
		return "timeout"
	case errors.Is(err, ErrEvidenceUnavailable):
		return "evidence_unavailable"
	case errors.As(err, &ce):
		return "collaborator"
	case errors.Is(err, ErrTurnPanicked):
		return "panic"
	}
	return "internal"
}
