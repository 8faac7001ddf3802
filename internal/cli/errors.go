// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Unified error handling for all healio CLI commands.
//
// STANDARDIZED PATTERN:
//   - ALWAYS return errors (never just print and return nil)
//   - Let the caller (main) decide how to display errors
//   - Use structured error types so exit codes can be derived
//
// Exit codes are derived from the error's type, walking the wrap chain with
// errors.As/Is, so a session.TransportError buried under two fmt.Errorf
// wraps still exits with the network code.

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/moneyrudh/healio/internal/api"
	"github.com/moneyrudh/healio/internal/session"
	"github.com/moneyrudh/healio/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates a configuration file or settings error
	ExitConfigError = 3
	// ExitBackendError indicates the backend rejected the request
	ExitBackendError = 4
	// ExitNetworkError indicates the backend could not be reached
	ExitNetworkError = 5
	// ExitArchiveError indicates a local archive failure
	ExitArchiveError = 6
	// ExitNotFoundError indicates a resource was not found
	ExitNotFoundError = 7
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError represents invalid command-line usage: a bad subcommand, a
// missing argument, an unparseable flag value.
type UsageError struct {
	Command string // Command being invoked (e.g., "archive")
	Reason  string // Why the invocation is invalid
	Usage   string // One-line usage hint (optional)
}

func (e *UsageError) Error() string {
	msg := e.Reason
	if e.Command != "" {
		msg = e.Command + ": " + msg
	}
	if e.Usage != "" {
		msg += "\nUsage: " + e.Usage
	}
	return msg
}

// NewUsageError creates a usage error with a usage hint.
func NewUsageError(command, reason, usage string) error {
	return &UsageError{Command: command, Reason: reason, Usage: usage}
}

// =============================================================================
// ERROR DISPLAY
// =============================================================================

// DisplayError displays an error in a consistent format.
//
// In JSON mode, outputs a structured JSON error object.
// In normal mode, displays a formatted error message on stderr.
func DisplayError(err error, jsonMode bool) {
	if err == nil {
		return
	}

	if jsonMode {
		DisplayErrorJSON(err)
		return
	}

	fmt.Fprintf(os.Stderr, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
}

// DisplayErrorJSON outputs an error as JSON on stdout.
func DisplayErrorJSON(err error) {
	output := map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	}

	// Attach the category so scripts can branch without parsing messages.
	switch code := GetExitCode(err); code {
	case ExitUsageError:
		output["error_type"] = "usage_error"
	case ExitConfigError:
		output["error_type"] = "config_error"
	case ExitBackendError:
		output["error_type"] = "backend_error"
	case ExitNetworkError:
		output["error_type"] = "network_error"
	case ExitArchiveError:
		output["error_type"] = "archive_error"
	case ExitNotFoundError:
		output["error_type"] = "not_found_error"
	case ExitTimeoutError:
		output["error_type"] = "timeout_error"
	default:
		output["error_type"] = "generic_error"
	}

	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		output["http_status"] = apiErr.Status
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	encoder.Encode(output)
}

// Exit displays the error and terminates with its exit code.
// Use this for fatal errors in main command dispatch.
func Exit(err error, jsonMode bool) {
	if err == nil {
		return
	}
	DisplayError(err, jsonMode)
	os.Exit(GetExitCode(err))
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode determines the appropriate exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	// Usage and precondition problems are the caller's fault.
	var usageErr *UsageError
	if errors.As(err, &usageErr) {
		return ExitUsageError
	}
	if session.IsPrecondition(err) {
		return ExitUsageError
	}
	var ttyErr *TTYRequiredError
	if errors.As(err, &ttyErr) {
		return ExitUsageError
	}

	// Not-found before the broader backend categories: a 404 APIError and
	// the archive's not-archived sentinel both land here.
	if errors.Is(err, api.ErrNotFound) {
		return ExitNotFoundError
	}
	if errors.Is(err, storage.ErrConsultationNotArchived) {
		return ExitNotFoundError
	}

	// Backend spoke and said no.
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		return ExitBackendError
	}

	// Backend never answered.
	if session.IsTransport(err) {
		return ExitNetworkError
	}

	// Local archive trouble.
	var archiveErr *storage.ArchiveError
	if errors.As(err, &archiveErr) || errors.Is(err, storage.ErrDatabase) {
		return ExitArchiveError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	// Fall back to message sniffing for errors that arrive untyped.
	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "config") ||
		strings.Contains(errMsg, "configuration") {
		return ExitConfigError
	}

	if strings.Contains(errMsg, "connection refused") ||
		strings.Contains(errMsg, "no such host") ||
		strings.Contains(errMsg, "unreachable") ||
		strings.Contains(errMsg, "dial") {
		return ExitNetworkError
	}

	if strings.Contains(errMsg, "timed out") ||
		strings.Contains(errMsg, "deadline exceeded") {
		return ExitTimeoutError
	}

	if strings.Contains(errMsg, "not found") {
		return ExitNotFoundError
	}

	return ExitGeneralError
}

// WrapError wraps an error with additional context.
// Use this to add context as errors bubble up the call stack.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// =============================================================================
// COMMON ERROR CONSTRUCTORS
// =============================================================================

// ErrMissingArgument creates an error for a missing required argument.
func ErrMissingArgument(command, argName, usage string) error {
	return NewUsageError(command, argName+" required", usage)
}

// ErrUnknownSubcommand creates an error for an unrecognized subcommand.
func ErrUnknownSubcommand(command, sub string, valid []string) error {
	return NewUsageError(command,
		fmt.Sprintf("unknown subcommand %q", sub),
		fmt.Sprintf("healio %s [%s]", command, strings.Join(valid, "|")))
}

// ErrUnsupportedFormat creates an error for an unsupported export format.
func ErrUnsupportedFormat(format string, supported []string) error {
	return NewUsageError("export",
		fmt.Sprintf("unsupported format %q (supported: %s)", format, strings.Join(supported, ", ")),
		"")
}
