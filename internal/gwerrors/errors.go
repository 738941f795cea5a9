// Package gwerrors defines the closed error taxonomy shared by the
// connection manager, registry, protocol handler, and upstream client.
// A Kind is attached to every error the core raises so each boundary
// (wire codes in internal/protocol, reconnect-vs-surface in
// internal/backend) can classify failures without string sniffing.
package gwerrors

import "fmt"

// Kind enumerates the error taxonomy from spec §7.
type Kind string

const (
	ConfigInvalid      Kind = "ConfigInvalid"
	TransportError     Kind = "TransportError"
	HandshakeError     Kind = "HandshakeError"
	Timeout            Kind = "Timeout"
	ToolNotFound       Kind = "ToolNotFound"
	InvalidArguments   Kind = "InvalidArguments"
	ToolExecutionError Kind = "ToolExecutionError"
	ServiceUnavailable Kind = "ServiceUnavailable"
	ParseError         Kind = "ParseError"
	InvalidRequest     Kind = "InvalidRequest"
	Internal           Kind = "Internal"

	// AlreadyConnecting and Cancelled round out BackendService's own
	// error surface (spec §4.B / §5) without being part of the wire
	// taxonomy above.
	AlreadyConnecting Kind = "AlreadyConnecting"
	NotConnected      Kind = "NotConnected"
	Cancelled         Kind = "Cancelled"
)

// Error wraps an underlying cause with a classification Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies an existing error, preserving it as the cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns Internal.
func KindOf(err error) Kind {
	var ge *Error
	if As(err, &ge) {
		return ge.Kind
	}
	return Internal
}

// As is a thin re-export of errors.As specialised for *Error so callers
// in this package don't need a second import line.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
