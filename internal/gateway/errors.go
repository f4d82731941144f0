package gateway

import (
	"fmt"
	"time"
)

// ValidationError rejects a request before any transport or storage work.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SendError reports a failed transport send. The record MessageID was
// persisted as failed.
type SendError struct {
	MessageID string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send message %s: %v", e.MessageID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SendTimeoutError is the cause of a SendError when the transport did not
// answer within Timeout.
type SendTimeoutError struct {
	Timeout time.Duration
}

func (e *SendTimeoutError) Error() string {
	return fmt.Sprintf("transport did not answer within %s", e.Timeout)
}
