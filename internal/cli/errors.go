// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/streamchat/internal/config"
	"github.com/jeranaias/streamchat/internal/modelconfig"
	"github.com/jeranaias/streamchat/internal/session"
	"github.com/jeranaias/streamchat/internal/transport"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError covers bad config files and an unconfigured model
	ExitConfigError = 3
	// ExitAuthError indicates a missing or rejected token
	ExitAuthError = 4
	// ExitNetworkError indicates the backend could not be reached
	ExitNetworkError = 5
	// ExitTimeoutError indicates an operation timed out
	ExitTimeoutError = 8
)

// ErrModelNotConfigured is returned by commands that need a configured model.
var ErrModelNotConfigured = errors.New("model not configured")

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a CLI command error with context.
type CommandError struct {
	Command string // e.g. "config"
	Action  string // e.g. "set"
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError represents bad user input.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NewCommandError creates a new command error.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// NewValidationError creates a new validation error.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NewValidationErrorWithExample creates a validation error with an example.
func NewValidationErrorWithExample(field, value, reason, example string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason, Example: example}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON when jsonMode is set.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		displayErrorJSON(w, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(w, "        %s\n", DimStyle.Render(hint))
	}
}

func displayErrorJSON(w io.Writer, err error) {
	output := map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"exit_code": GetExitCode(err),
	}

	var cmdErr *CommandError
	var valErr *ValidationError
	switch {
	case errors.As(err, &valErr):
		output["error_type"] = "validation_error"
		output["field"] = valErr.Field
		output["value"] = valErr.Value
	case errors.As(err, &cmdErr):
		output["error_type"] = "command_error"
		output["command"] = cmdErr.Command
		output["action"] = cmdErr.Action
	default:
		output["error_type"] = "generic_error"
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(output)
}

func errorHint(err error) string {
	switch GetExitCode(err) {
	case ExitAuthError:
		return "Set a token with --token, STREAMCHAT_TOKEN or 'streamchat config set auth.token <token>'."
	case ExitNetworkError:
		return "Is the backend running? Check server.url with 'streamchat config get server.url'."
	case ExitConfigError:
		if errors.Is(err, ErrModelNotConfigured) {
			return "Choose a provider and model in the web settings, then retry."
		}
		return "Run 'streamchat config show' to inspect the active configuration."
	}
	return ""
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error to a process exit code. Typed errors are
// checked first, then the message text.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ExitUsageError
	}

	var cfgErrs config.ValidateErrors
	if errors.As(err, &cfgErrs) || errors.Is(err, ErrModelNotConfigured) {
		return ExitConfigError
	}

	if errors.Is(err, transport.ErrUnauthenticated) ||
		errors.Is(err, modelconfig.ErrUnauthorized) ||
		transport.IsPolicyViolation(err) {
		return ExitAuthError
	}

	if errors.Is(err, modelconfig.ErrTimeout) ||
		errors.Is(err, session.ErrTurnTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ExitTimeoutError
	}

	var closed *transport.ClosedError
	if errors.Is(err, modelconfig.ErrConnection) ||
		errors.Is(err, transport.ErrGaveUp) ||
		errors.Is(err, transport.ErrNotConnected) ||
		errors.As(err, &closed) {
		return ExitNetworkError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "config"):
		return ExitConfigError
	case strings.Contains(msg, "unauthorized") || strings.Contains(msg, "token"):
		return ExitAuthError
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return ExitNetworkError
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out"):
		return ExitTimeoutError
	}
	return ExitGeneralError
}
