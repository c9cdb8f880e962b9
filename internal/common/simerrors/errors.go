// Package simerrors contains typed errors shared by the simulator components.
// Gateway handlers look for the error types defined in this file and set the
// HTTP response status automatically, see StatusFromError.
//
// If multiple errors occur in some function (e.g., if a batch specification
// contains several invalid fields), that function should return an error of
// type multierror.Error from package github.com/hashicorp/go-multierror that
// encapsulates those individual errors.
package simerrors

import (
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// ErrCredential indicates that the login flow for a username failed or that
// the backend keeps rejecting the stored token.
// Message is optional and is omitted from the error message if not provided.
type ErrCredential struct {
	Username string
	Message  string
}

func (err *ErrCredential) Error() (s string) {
	s = fmt.Sprintf("could not obtain a session credential for user %q", err.Username)
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidState indicates that a command is not legal for the participant's
// current life-cycle stage, e.g., toggling media before the participant joined.
// Terminal is set when the participant has already reached Closed or Failed.
type ErrInvalidState struct {
	Id       string // Participant id the command was addressed to
	Stage    string // Life-cycle stage at the time the command was handled
	Command  string // The rejected command
	Terminal bool   // True if the stage is terminal
	Message  string // An optional message to include in the error message
}

func (err *ErrInvalidState) Error() (s string) {
	if err.Command == "" && err.Id == "" && err.Stage == "" {
		return err.Message
	}
	s = fmt.Sprintf("command %q is not valid", err.Command)
	if err.Id != "" {
		s += fmt.Sprintf(" for participant %q", err.Id)
	}
	if err.Stage != "" {
		s += fmt.Sprintf(" in stage %q", err.Stage)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrTimeout indicates that a suspension point exceeded its bound.
type ErrTimeout struct {
	Op      string // The operation that timed out, e.g., "join" or "waitFor [data-testid=...]"
	Timeout time.Duration
}

func (err *ErrTimeout) Error() string {
	if err.Timeout == 0 {
		return err.Op
	}
	return fmt.Sprintf("%s did not complete within %s", err.Op, err.Timeout)
}

// ErrUnreachable indicates a connection failure towards a worker or the
// session backend.
// Message is optional and is omitted from the error message if not provided.
type ErrUnreachable struct {
	Endpoint string
	Message  string
}

func (err *ErrUnreachable) Error() (s string) {
	s = fmt.Sprintf("endpoint %q is unreachable", err.Endpoint)
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "participant"
	Value   string // Resource name, e.g., a participant id
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type == "" && err.Value == "" {
		return err.Message
	}
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
//
// Batch specification validation returns a multierror.Error wrapping one
// ErrInvalidArgument per violation, so that every violation is surfaced, not
// just the first.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "joinDelaySeconds"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// ErrInternal represents an unexpected defect. Failures of this kind are
// always bugs, never expected operational conditions.
type ErrInternal struct {
	Message string
}

func (err *ErrInternal) Error() string {
	return fmt.Sprintf("internal error: %s", err.Message)
}

// StatusFromError maps error types to HTTP status codes.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func StatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	// Using {} scopes just to re-use the "e" variable name for each case.
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return http.StatusBadRequest
		}
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return http.StatusNotFound
		}
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return http.StatusConflict
		}
	}
	{
		var e *ErrInvalidState
		if errors.As(err, &e) {
			if e.Terminal {
				return http.StatusGone
			}
			return http.StatusConflict
		}
	}
	{
		var e *ErrCredential
		if errors.As(err, &e) {
			return http.StatusBadGateway
		}
	}
	{
		var e *ErrUnreachable
		if errors.As(err, &e) {
			return http.StatusBadGateway
		}
	}
	{
		var e *ErrTimeout
		if errors.As(err, &e) {
			return http.StatusGatewayTimeout
		}
	}

	return http.StatusInternalServerError
}
