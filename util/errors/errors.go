// Package errors defines the fatal error kinds a playback run can end with.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// TimeoutError reports that an operation did not complete before its deadline.
type TimeoutError struct {
	Operation string
	NetworkID int64
	Err       error
}

// Error returns a human-readable error message.
func (e *TimeoutError) Error() string {
	if e.NetworkID != 0 {
		return fmt.Sprintf("timeout: %s on network %d: %v", e.Operation, e.NetworkID, e.Err)
	}
	return fmt.Sprintf("timeout: %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, networkID int64, err error) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		NetworkID: networkID,
		Err:       err,
	}
}

// ConnectionError reports that the broker session could not be established.
// It is never retried.
type ConnectionError struct {
	Broker string
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection to %s failed: %s: %v", e.Broker, e.Reason, e.Err)
	}
	return fmt.Sprintf("connection to %s failed: %v", e.Broker, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(broker, reason string, err error) *ConnectionError {
	return &ConnectionError{Broker: broker, Reason: reason, Err: err}
}

// ProtocolError reports a response from the backend that invalidates the run:
// a failed status for this network or a configuration echo that does not
// match what was sent.
type ProtocolError struct {
	Phase     string
	NetworkID int64
	Code      string
	Message   string
}

func (e *ProtocolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("protocol error in %s for network %d: code %s: %s", e.Phase, e.NetworkID, e.Code, e.Message)
	}
	return fmt.Sprintf("protocol error in %s for network %d: %s", e.Phase, e.NetworkID, e.Message)
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(phase string, networkID int64, code, message string) *ProtocolError {
	return &ProtocolError{Phase: phase, NetworkID: networkID, Code: code, Message: message}
}

// PublishError reports a broker-level publish failure. It is only surfaced
// when strict publishing is enabled.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish on %s failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a timeout error. It checks for TimeoutError
// and context.DeadlineExceeded.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded)
}

// IsConnection reports whether err carries a ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// IsProtocol reports whether err carries a ProtocolError.
func IsProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsPublish reports whether err carries a PublishError.
func IsPublish(err error) bool {
	var pe *PublishError
	return errors.As(err, &pe)
}
