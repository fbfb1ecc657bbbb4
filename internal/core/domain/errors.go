package domain

import "errors"

// Precondition rejections. Surfaced to the initiating user only; no session
// is created when any of these fire.
var (
	ErrReceiverOffline     = errors.New("receiver is offline")
	ErrReceiverBusy        = errors.New("receiver is busy")
	ErrCallerAlreadyInCall = errors.New("caller is already in a call")
	ErrMediaAccessDenied   = errors.New("media access denied")
)

// ErrCallNotFound marks a stale reference: an operation against a call that
// already terminated or never existed. Callers treat it as a no-op, never as
// a fatal condition.
var ErrCallNotFound = errors.New("call not found")

// RejectionCode returns the wire error code for a precondition rejection,
// matching the codes the clients key on.
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrReceiverOffline):
		return "USER_OFFLINE"
	case errors.Is(err, ErrReceiverBusy):
		return "USER_BUSY"
	case errors.Is(err, ErrCallerAlreadyInCall):
		return "ALREADY_IN_CALL"
	case errors.Is(err, ErrCallNotFound):
		return "CALL_NOT_FOUND"
	case errors.Is(err, ErrMediaAccessDenied):
		return "MEDIA_ACCESS_DENIED"
	}
	return "INTERNAL_ERROR"
}
