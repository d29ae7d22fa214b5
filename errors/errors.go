package errors

import stderrors "errors"

var (
	// Connection-fatal.
	ErrUnauthorized = stderrors.New("unauthorized")
	ErrSlowConsumer = stderrors.New("slow consumer")

	// Recoverable, reported back to the sender only.
	ErrMalformedCommand   = stderrors.New("malformed command")
	ErrInvalidMessage     = stderrors.New("invalid message")
	ErrBlocked            = stderrors.New("blocked")
	ErrRateLimited        = stderrors.New("rate limited")
	ErrPersistenceFailure = stderrors.New("persistence failure")

	ErrDuplicateConnection = stderrors.New("duplicate connection")
	ErrConnectionClosed    = stderrors.New("connection closed")
	ErrBadCursor           = stderrors.New("bad cursor")
	ErrWorkerPanic         = stderrors.New("worker panic")
)

// Kind maps an error to the wire-level kind reported in error frames.
// Unknown errors surface as a generic transient failure so that internal
// details never reach the peer.
func Kind(err error) string {
	switch {
	case stderrors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case stderrors.Is(err, ErrMalformedCommand):
		return "MalformedCommand"
	case stderrors.Is(err, ErrInvalidMessage):
		return "InvalidMessage"
	case stderrors.Is(err, ErrBlocked):
		return "Blocked"
	case stderrors.Is(err, ErrRateLimited):
		return "RateLimited"
	case stderrors.Is(err, ErrSlowConsumer):
		return "SlowConsumer"
	case stderrors.Is(err, ErrPersistenceFailure):
		return "PersistenceFailure"
	default:
		return "TransientFailure"
	}
}
