package models

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the service-wide taxonomy. Handlers translate these
// to HTTP status codes at the API boundary; internal code wraps them with
// fmt.Errorf("%w").
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNotFound        = errors.New("not found")
	ErrPrecondition    = errors.New("precondition failed")
	ErrConflict        = errors.New("conflict")
	ErrBusy            = errors.New("already running")
	ErrUnavailable     = errors.New("unavailable")
)

// BlockedError reports a blacklist block, carrying the matched pattern and
// its reason for the caller.
type BlockedError struct {
	Pattern *BlacklistPattern
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("message blocked by blacklist pattern %q", e.Pattern.Pattern)
}

// Reason returns the human-readable block reason.
func (e *BlockedError) Reason() string {
	if e.Pattern.Reason != nil && *e.Pattern.Reason != "" {
		return *e.Pattern.Reason
	}
	return "Message matches blacklist pattern"
}

// TransitionError is a precondition failure on a lifecycle transition. It
// reports both the current and the requested state so callers can
// distinguish "wrong state" from "not found".
type TransitionError struct {
	Current   IssueState
	Requested IssueState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("log is not in a state that allows %s (current state: %s)", e.Requested, e.Current)
}

// Unwrap makes TransitionError match ErrPrecondition.
func (e *TransitionError) Unwrap() error { return ErrPrecondition }
