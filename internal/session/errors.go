// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

// ErrTurnInFlight is returned by SendMessage while a previous turn is still
// running. The transcript is left untouched and no request is issued.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// ErrNoSession is returned by operations that need an active consultation.
var ErrNoSession = errors.New("no active consultation")

// ErrConsultationComplete is returned by SendMessage after the consultation
// reached its terminal section; the remaining operations are summary review
// and note download.
var ErrConsultationComplete = errors.New("consultation is complete")

// =============================================================================
// ERROR TYPES FOR STRUCTURED ERROR HANDLING
// =============================================================================

// PreconditionError reports a missing selection or session. The caller's
// state, not the network, is at fault; retrying without fixing it is
// pointless.
type PreconditionError struct {
	Missing string // What was required (e.g. "provider", "patient")
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: no %s selected", e.Missing)
}

// TransportError wraps a backend call failure. Optimistic local state is
// retained; the orchestrator never auto-retries a chat turn.
type TransportError struct {
	Op  string // Operation that failed (e.g. "create consultation")
	Err error  // Underlying error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError reports malformed stream frames dropped during a turn. The
// stream itself continued; this only surfaces in logs.
type DecodeError struct {
	Frames int // Number of dropped frames
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("dropped %d malformed stream frame(s)", e.Frames)
}

// ReconciliationError reports a failed post-turn session refresh. Local
// section and status may lag the server until the next successful
// reconciliation.
type ReconciliationError struct {
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("session refresh failed: %v", e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// ArtifactError reports a failed note download or save. Document state on
// the server is unaffected, so the operation is safely retryable.
type ArtifactError struct {
	Err error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("note artifact failed: %v", e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR CHECKING HELPERS
// =============================================================================

// IsPrecondition checks if an error is a precondition error.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsTransport checks if an error is a transport error.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsArtifact checks if an error is an artifact error.
func IsArtifact(err error) bool {
	var ae *ArtifactError
	return errors.As(err, &ae)
}
