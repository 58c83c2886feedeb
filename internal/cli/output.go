package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/datapipe/internal/rel"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failure (guard refusal, declined confirmation, failed keys)
	ExitCommandError = 2 // Command error (bad flags, missing database, unknown table)
)

// ExitError carries a specific exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// NewExitError creates an ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Usage and schema errors
// map to ExitCommandError; everything else defaults to ExitFailure.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if rel.IsUsageError(err) || rel.IsSchemaError(err) {
		return ExitCommandError
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`    // rel error code or "ERROR"
	Message string `json:"message"` // human-readable message
	Table   string `json:"table,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// JSON reports whether the formatter emits JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success outputs a structured payload in the configured format. In text
// mode, text is printed and data ignored.
func (f *OutputFormatter) Success(text string, data any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, text)
	return err
}

// Error outputs an error in the configured format, pulling the code, table,
// and hint out of structured errors.
func (f *OutputFormatter) Error(err error) error {
	cliErr := &CLIError{Code: "ERROR", Message: err.Error()}
	var relErr *rel.Error
	if errors.As(err, &relErr) {
		cliErr.Code = string(relErr.Code)
		cliErr.Message = relErr.Message
		cliErr.Table = relErr.Table
		cliErr.Hint = relErr.Hint
	}
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "error", Error: cliErr})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
	if cliErr.Hint != "" {
		fmt.Fprintf(f.Writer, "Hint: %s\n", cliErr.Hint)
	}
	return nil
}
