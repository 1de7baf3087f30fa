// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/pdiddy/audiobook-engine/internal/command"
	"github.com/pdiddy/audiobook-engine/pkg/types"
)

// Failure kinds. Every *Error carries one of these as its Kind so callers can
// test with errors.Is.
var (
	// ErrInvalidInput is reported before any external process is started.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExternalTool is a non-zero exit, a missing binary, or a cancelled
	// engine invocation.
	ErrExternalTool = errors.New("external tool failure")

	// ErrMissingArtifact means a stage finished but its output is absent or
	// empty.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrOutputBusy means another run holds the output directory lock.
	ErrOutputBusy = errors.New("output directory is in use")
)

// Error is a stage-aware pipeline failure with optional command context.
type Error struct {
	Stage   types.Stage `json:"stage" yaml:"stage"`
	Kind    error       `json:"-" yaml:"-"`
	Message string      `json:"message" yaml:"message"`

	// Path is the expected artifact or offending input, when one applies.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Log is the failing invocation, when the failure came from an engine.
	Log command.Log `json:"command,omitempty" yaml:"command,omitempty"`

	Err error `json:"-" yaml:"-"`
}

// Error formats pipeline failures for logs and the terminal.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Message)
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Log.Command != "" {
		msg += fmt.Sprintf(" (cmd=%s exit=%d)", e.Log.Command, e.Log.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// StageOf returns the stage a pipeline error names, or "" for other errors.
func StageOf(err error) types.Stage {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

func invalid(format string, args ...any) *Error {
	return &Error{Stage: types.StageValidation, Kind: ErrInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func toolFailure(stage types.Stage, log command.Log, err error) *Error {
	return &Error{
		Stage:   stage,
		Kind:    ErrExternalTool,
		Message: log.Command + " failed",
		Log:     log,
		Err:     err,
	}
}

func missing(stage types.Stage, message, path string, err error) *Error {
	return &Error{Stage: stage, Kind: ErrMissingArtifact, Message: message, Path: path, Err: err}
}
