package lifecycle

import (
	"errors"
	"fmt"

	"github.com/hubescolar/whatsapp/internal/status"
)

// ErrInvalidSessionID is returned for ids that fail session.Validate.
var ErrInvalidSessionID = errors.New("invalid session id")

// InitializationError reports that the transport of a session could not
// be constructed or connected. The session is left unregistered.
type InitializationError struct {
	SessionID string
	Err       error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialize session %s: %v", e.SessionID, e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// SessionNotReadyError is returned when an operation needs a ready session.
type SessionNotReadyError struct {
	SessionID string
	State     status.State
}

func (e *SessionNotReadyError) Error() string {
	return fmt.Sprintf("session %s is not ready (state %s)", e.SessionID, e.State)
}

// DisconnectError reports a failed logout during reset. The session is
// torn down regardless.
type DisconnectError struct {
	SessionID string
	Err       error
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf("disconnect session %s: %v", e.SessionID, e.Err)
}

func (e *DisconnectError) Unwrap() error { return e.Err }
