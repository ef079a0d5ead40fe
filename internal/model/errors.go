package model

import (
	"errors"
	"fmt"
)

// ErrorClass is the failure classification every collaborator
// error is normalized into at its package boundary. The transfer engine's
// retry logic only ever looks at the class, never at collaborator-specific
// error shapes.
type ErrorClass int

const (
	// ClassTransient covers network blips, timeouts, and 5xx responses.
	// Retried with the standard backoff.
	ClassTransient ErrorClass = iota
	// ClassQuota covers rate-limit and quota responses. Retried like
	// transient errors but with a longer minimum wait.
	ClassQuota
	// ClassPermanentItem aborts the current item only: malformed source
	// item, destination rejected the content, and similar.
	ClassPermanentItem
	// ClassPermanentRun aborts the whole run: the source cannot be listed
	// at all, or no destination credential can be obtained.
	ClassPermanentRun
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassQuota:
		return "quota"
	case ClassPermanentItem:
		return "permanent-item"
	case ClassPermanentRun:
		return "permanent-run"
	default:
		return "unknown"
	}
}

// Retryable reports whether the class allows another attempt.
func (c ErrorClass) Retryable() bool {
	return c == ClassTransient || c == ClassQuota
}

// ClassifiedError attaches an ErrorClass to an underlying error.
type ClassifiedError struct {
	Class ErrorClass
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classified wraps err with the given class. Returns nil for a nil err.
func Classified(class ErrorClass, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: class, Err: err}
}

// ClassifiedF wraps a formatted error with the given class.
func ClassifiedF(class ErrorClass, format string, args ...any) error {
	return &ClassifiedError{Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf extracts the ErrorClass from err. Errors that were never
// classified default to ClassTransient: an unrecognized failure gets the
// benefit of a retry rather than silently killing the item.
func ClassOf(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassTransient
}

// Sentinel errors surfaced by the source client. The transfer engine
// reports them with distinct, actionable messages.
var (
	// ErrSourceForbidden indicates the share requires credentials the run
	// does not have (HTTP 403 from the listing API).
	ErrSourceForbidden = errors.New("source folder access forbidden")
	// ErrSourceNotFound indicates the public key resolves to nothing
	// (HTTP 404 from the listing API).
	ErrSourceNotFound = errors.New("source folder not found")
	// ErrSizeMismatch indicates a completed download did not match the
	// size the listing reported.
	ErrSizeMismatch = errors.New("downloaded size does not match listing")
)
