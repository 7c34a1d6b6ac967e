package interfaces

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable identifier for a failure kind, suitable as a key for
// localized messages.
type ErrorCode string

const (
	CodeResourceNotFound ErrorCode = "resource.notfound"
	CodeStoreFailure     ErrorCode = "store.failure"
	CodeReadOnly         ErrorCode = "store.readonly"
	CodeInvalidArgument  ErrorCode = "store.invalidargument"
	CodeProviderFailure  ErrorCode = "provider.failure"
	CodeReleaseFailed    ErrorCode = "resource.release"
)

var (
	// ErrResourceNotFound is returned when the identified resource does not exist.
	// It is never retried.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrStoreFailure is returned for backend I/O, connection or serialization
	// errors. These are retried up to the configured bound.
	ErrStoreFailure = errors.New("store failure")

	// ErrReadOnly is returned when a mutating operation targets a read-only store.
	ErrReadOnly = errors.New("store is read-only")

	// ErrInvalidArgument is returned for scheme mismatches and malformed URIs.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProviderFailure is returned when no backend accepts a root URI or a
	// backend could not be constructed.
	ErrProviderFailure = errors.New("store provider failure")

	// ErrReleaseFailed is returned when a resource handle could not be closed.
	ErrReleaseFailed = errors.New("resource release failed")

	// ErrResourceReleased is returned when reading from a released handle.
	ErrResourceReleased = errors.New("resource already released")
)

var codeSentinels = map[ErrorCode]error{
	CodeResourceNotFound: ErrResourceNotFound,
	CodeStoreFailure:     ErrStoreFailure,
	CodeReadOnly:         ErrReadOnly,
	CodeInvalidArgument:  ErrInvalidArgument,
	CodeProviderFailure:  ErrProviderFailure,
	CodeReleaseFailed:    ErrReleaseFailed,
}

// StoreError describes a failed store operation.
type StoreError struct {
	// Code is the stable failure kind.
	Code ErrorCode
	// Op is the operation that failed (get, store, remove, move, provides, ...).
	Op string
	// URI is the resource or root URI involved.
	URI string
	// Backend names the backend involved, when known.
	Backend string
	// Attempts is the number of backend invocations made before giving up.
	Attempts int
	// Err is the underlying cause, if any.
	Err error
}

// Error formats the failure as "<code>: <op> <uri>: <cause>".
func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" || e.URI != "" {
		b.WriteString(":")
		if e.Op != "" {
			b.WriteString(" ")
			b.WriteString(e.Op)
		}
		if e.URI != "" {
			b.WriteString(" ")
			b.WriteString(e.URI)
		}
	}
	if e.Backend != "" {
		fmt.Fprintf(&b, " (backend %s)", e.Backend)
	}
	if e.Attempts > 1 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else if sentinel, ok := codeSentinels[e.Code]; ok {
		b.WriteString(": ")
		b.WriteString(sentinel.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error corresponding to the error code.
func (e *StoreError) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

// NewStoreError builds a StoreError with the given code.
func NewStoreError(code ErrorCode, op, uri string, err error) *StoreError {
	return &StoreError{Code: code, Op: op, URI: uri, Err: err}
}

// NotFound returns a ResourceNotFound error for uri.
func NotFound(op, uri string) error {
	return NewStoreError(CodeResourceNotFound, op, uri, nil)
}

// ReadOnly returns a ReadOnlyViolation error for uri.
func ReadOnly(op, uri string) error {
	return NewStoreError(CodeReadOnly, op, uri, nil)
}

// InvalidArgument returns an InvalidArgument error with a formatted reason.
func InvalidArgument(op, uri, format string, args ...any) error {
	return NewStoreError(CodeInvalidArgument, op, uri, fmt.Errorf(format, args...))
}

// CodeOf returns the error code carried by err, or the empty code.
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

// IsRetryable reports whether a failure may be retried: not-found, read-only
// and invalid argument failures never are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrResourceNotFound) &&
		!errors.Is(err, ErrReadOnly) &&
		!errors.Is(err, ErrInvalidArgument)
}
