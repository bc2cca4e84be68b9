package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/songzhibin97/transition-engine/loader"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Transition rejected or graph invalid
	ExitCommandError = 2 // Command error (bad arguments, unreadable files, storage unavailable)
)

// Error codes of the JSON error envelope.
const (
	ErrCodeGeneric      = "E001" // Anything not raised as an ExitError
	ErrCodeCommand      = "E002" // Bad arguments, unreadable input, storage unavailable
	ErrCodeFailure      = "E003" // Graph invalid or import refused
	ErrCodeInvalidGraph = "E004" // Failure carrying graph problems as details
)

// ExitError represents an error with a specific exit code. Reported marks
// errors whose command already wrote its outcome to stdout.
type ExitError struct {
	Code     int
	Message  string
	Err      error
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// reportedExitError is an ExitError for an outcome the command already wrote.
func reportedExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err, Reported: true}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Success writes data. text is used in text mode.
func (f *OutputFormatter) Success(data interface{}, text string) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprint(f.Writer, text)
	return err
}

// Error writes an error response. Details are shown in text mode one per line.
func (f *OutputFormatter) Error(code, message string, details []string) error {
	if f.Format == "json" {
		var d interface{}
		if len(details) > 0 {
			d = details
		}
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: d},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	for _, d := range details {
		fmt.Fprintf(f.Writer, "  - %s\n", d)
	}
	return nil
}

// Report writes a command failure. In JSON mode stdout gets an error envelope
// unless the command already wrote its own response; otherwise the message
// goes to stderr.
func Report(format string, stdout, stderr io.Writer, err error) {
	if err == nil {
		return
	}
	var exitErr *ExitError
	if format != "json" || (errors.As(err, &exitErr) && exitErr.Reported) {
		fmt.Fprintln(stderr, err)
		return
	}
	out := &OutputFormatter{Format: format, Writer: stdout}
	if werr := out.Error(errorCode(err), err.Error(), errorDetails(err)); werr != nil {
		fmt.Fprintln(stderr, err)
	}
}

func errorCode(err error) string {
	var gerr *loader.GraphError
	if errors.As(err, &gerr) {
		return ErrCodeInvalidGraph
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return ErrCodeGeneric
	}
	if exitErr.Code == ExitCommandError {
		return ErrCodeCommand
	}
	return ErrCodeFailure
}

func errorDetails(err error) []string {
	var gerr *loader.GraphError
	if errors.As(err, &gerr) {
		return gerr.Problems
	}
	return nil
}
