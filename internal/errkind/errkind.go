// Package errkind classifies errors that cross component or API boundaries.
package errkind

import (
	"errors"
	"fmt"
)

// Kind names one of the error categories the system distinguishes at its
// boundaries. Internal callers mostly care about a handful of these; the
// HTTP layer maps every Kind to a status code.
type Kind string

const (
	Read          Kind = "read"          // IO on an input file
	Parse         Kind = "parse"         // malformed JSON or query string
	Bookmark      Kind = "bookmark"      // corrupt or mismatched bookmark
	Sink          Kind = "sink"          // DB/network failure in a sink
	NotFound      Kind = "not_found"     // query by id found nothing
	BadRequest    Kind = "bad_request"   // malformed API input
	Unauthorised  Kind = "unauthorised"  // missing or expired session
	Internal      Kind = "internal"      // catch-all
)

// Error wraps an underlying cause with a Kind so callers at an API boundary
// can decide how to respond without string-matching messages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a Kind-tagged error carrying only a message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a Kind-tagged error with a formatted message.
func Newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error with a Kind, preserving it as the cause.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Wrapf tags an existing error with a Kind and an additional message.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from err, defaulting to Internal when err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
