package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// Exit code constants for the CLI
const (
	// ExitSuccess indicates a delegation was simulated or confirmed, or the
	// validator was already at target
	ExitSuccess = 0
	// ExitError indicates any failure, including a negative pool stake delta
	ExitError = 1
)

// CLIError represents a CLI-specific error with an exit code. An empty
// Message means the reason was already reported.
type CLIError struct {
	Code    int
	Message string
	Cause   error
}

// Error implements the error interface
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// WrapError creates a new CLIError wrapping an existing error
func WrapError(code int, message string, err error) *CLIError {
	return &CLIError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// exitStatus carries a non-zero exit code for a run that already printed
// its own status lines
func exitStatus(code int) *CLIError {
	return &CLIError{Code: code}
}

// HandleError prints the error to the command's error output and returns
// the exit code
func HandleError(cmd *cobra.Command, err error) int {
	if err == nil {
		return ExitSuccess
	}

	if errors.Is(err, context.Canceled) {
		cmd.PrintErrln("Operation cancelled")
		return ExitError
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		switch {
		case cliErr.Message == "" && cliErr.Cause == nil:
		case cliErr.Cause != nil:
			cmd.PrintErrln("Error:", cliErr.Message+":", cliErr.Cause)
		default:
			cmd.PrintErrln("Error:", cliErr.Message)
		}
		return cliErr.Code
	}

	cmd.PrintErrln("Error:", err)
	return ExitError
}
