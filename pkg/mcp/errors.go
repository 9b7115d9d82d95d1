package mcp

import (
	"fmt"
	"time"
)

// ProtocolError reports a violation of the wire protocol: malformed
// JSON, a bad envelope, or an out-of-order lifecycle method.
type ProtocolError struct {
	Code    int
	Message string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// CommunicationError reports a transport-level failure while a request
// was in flight.
type CommunicationError struct {
	Method    string
	RequestID interface{}
	Err       error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication failure during %s (id %v): %v", e.Method, e.RequestID, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// TimeoutError reports that a client request received no response
// within its deadline.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %s timed out after %s", e.Method, e.Timeout)
}
