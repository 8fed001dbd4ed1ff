package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure by the layer that produced it
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindStorage
	KindTranscription
	KindDatabase
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindStorage:
		return "storage_error"
	case KindTranscription:
		return "transcription_error"
	case KindDatabase:
		return "database_error"
	case KindNotFound:
		return "not_found"
	default:
		return "app_error"
	}
}

// Error is the error type shared by the storage, transcription and
// persistence layers.
type Error struct {
	Kind   Kind
	Op     string
	Msg    string
	Field  string
	Status int    // upstream HTTP status, 0 if none
	Body   string // upstream response body, truncated
	Err    error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports bad or missing input. Never retried.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps an object store failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Op: op, Msg: "object storage operation failed", Err: err}
}

// Transcription reports a rejected, failed or malformed upstream response.
func Transcription(op, msg string) *Error {
	return &Error{Kind: KindTranscription, Op: op, Msg: msg}
}

// Database wraps a persistence failure.
func Database(op string, err error) *Error {
	return &Error{Kind: KindDatabase, Op: op, Msg: "database operation failed", Err: err}
}

// NotFound reports a missing record or object.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether an operation that failed with err may succeed
// when attempted again.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindNotFound:
		return false
	case KindTranscription:
		var e *Error
		errors.As(err, &e)
		return e.Status == 0 || e.Status == 429 || e.Status >= 500
	default:
		return true
	}
}
