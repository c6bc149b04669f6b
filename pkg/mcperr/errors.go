// Package mcperr defines the error taxonomy shared by every public operation
// of this module. Each failure surfaces as exactly one *Error carrying a
// machine-readable Kind and the original cause; callers branch with
// errors.Is against the exported sentinels or with KindOf.
package mcperr

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Kind classifies an error for machine handling.
type Kind string

const (
	KindDuplicateEndpoint   Kind = "duplicate_endpoint"
	KindEndpointNotFound    Kind = "endpoint_not_found"
	KindNoDefaultEndpoint   Kind = "no_default_endpoint"
	KindDuplicateCapability Kind = "duplicate_capability"
	KindClientNotConnected  Kind = "client_not_connected"
	KindConnectionFailed    Kind = "connection_failed"
	KindConnectionClosed    Kind = "connection_closed"
	KindTimeout             Kind = "timeout"
	KindProtocol            Kind = "protocol"
)

// Sentinels for errors.Is checks. Matching is by Kind, so a fully populated
// *Error compares equal to the bare sentinel of the same kind.
var (
	ErrDuplicateEndpoint   = &Error{Kind: KindDuplicateEndpoint}
	ErrEndpointNotFound    = &Error{Kind: KindEndpointNotFound}
	ErrNoDefaultEndpoint   = &Error{Kind: KindNoDefaultEndpoint}
	ErrDuplicateCapability = &Error{Kind: KindDuplicateCapability}
	ErrClientNotConnected  = &Error{Kind: KindClientNotConnected}
	ErrConnectionFailed    = &Error{Kind: KindConnectionFailed}
	ErrConnectionClosed    = &Error{Kind: KindConnectionClosed}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrProtocol            = &Error{Kind: KindProtocol}
)

// Error is the single error type surfaced by public operations.
type Error struct {
	Kind     Kind
	Endpoint string
	msg      string
	cause    error
}

// New builds an *Error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error preserving cause for errors.Is/As traversal.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// WithEndpoint returns a copy annotated with the endpoint name.
func (e *Error) WithEndpoint(name string) *Error {
	clone := *e
	clone.Endpoint = name
	return &clone
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Endpoint != "" {
		prefix = fmt.Sprintf("%s (endpoint %q)", prefix, e.Endpoint)
	}
	switch {
	case e.msg != "" && e.cause != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.msg, e.cause)
	case e.msg != "":
		return fmt.Sprintf("%s: %s", prefix, e.msg)
	case e.cause != nil:
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	default:
		return prefix
	}
}

// Unwrap exposes the original cause.
func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same Kind, enabling sentinel comparisons.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && e.Kind == other.Kind
}

// KindOf extracts the Kind anywhere in err's chain. It returns the empty Kind
// when err carries no *Error.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}
