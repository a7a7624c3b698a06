package session

import (
	"errors"
)

// Fault classes. Backend errors are wrapped with one of these so callers can
// classify them with errors.Is.
var (
	// ErrLookupFault covers unknown functions, jobs and job handlers
	ErrLookupFault = errors.New("lookup fault")

	// ErrBackendFault covers errors raised by the execution or feed backends
	ErrBackendFault = errors.New("backend fault")

	// ErrProtocolFault covers malformed or unrecognized inbound messages
	ErrProtocolFault = errors.New("protocol fault")

	// ErrEncodingFault covers result values that cannot be made JSON safe
	ErrEncodingFault = errors.New("encoding fault")

	// ErrInternalInvariant covers backend contract breaches such as a finished job without a result
	ErrInternalInvariant = errors.New("internal error")

	// ErrDuplicateRequest is returned when a watch request id is already pending
	ErrDuplicateRequest = errors.New("duplicate request id")

	// ErrSessionNotActive is returned when a session is used before Initialize
	ErrSessionNotActive = errors.New("session is not active")

	// ErrSessionClosed is returned when a session is used after Cleanup
	ErrSessionClosed = errors.New("session is closed")
)

// faultLabel names the fault class of err for metrics
func faultLabel(err error) string {
	switch {
	case errors.Is(err, ErrLookupFault):
		return "lookup"
	case errors.Is(err, ErrProtocolFault):
		return "protocol"
	case errors.Is(err, ErrEncodingFault):
		return "encoding"
	case errors.Is(err, ErrInternalInvariant):
		return "internal"
	case errors.Is(err, ErrBackendFault):
		return "backend"
	default:
		return "job"
	}
}
