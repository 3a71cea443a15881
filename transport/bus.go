// Package transport carries WPE requests and responses over a message bus.
package transport

import (
	"context"
	"fmt"
)

// Message is a message received from the bus.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler processes a message. Handlers run on the bus network goroutine and
// must not block on it.
type Handler func(msg Message)

// ConnectionListener is notified of connection state changes, from the bus
// network goroutine.
type ConnectionListener interface {
	OnConnect()
	OnConnectionLost(err error)
}

// Bus is a single publish/subscribe session with a broker.
type Bus interface {
	// Connect establishes the session. A refused connection is reported as
	// a *ConnectError and is never retried.
	Connect(ctx context.Context) error
	// Subscribe registers handler for every topic matching pattern.
	Subscribe(ctx context.Context, pattern string, handler Handler) error
	// Publish sends payload on topic and returns once the broker accepted it.
	Publish(ctx context.Context, topic string, payload []byte) error
	IsConnected() bool
	// SetConnectionListener must be called before Connect.
	SetConnectionListener(l ConnectionListener)
	// Address identifies the broker in logs and errors.
	Address() string
	Close()
}

// ConnackCode is the result of an MQTT connection attempt.
type ConnackCode byte

const (
	ConnAccepted                 ConnackCode = 0x00
	ConnRefusedProtocolVersion   ConnackCode = 0x01
	ConnRefusedIdentifier        ConnackCode = 0x02
	ConnRefusedServerUnavailable ConnackCode = 0x03
	ConnRefusedBadCredentials    ConnackCode = 0x04
	ConnRefusedNotAuthorised     ConnackCode = 0x05
	ConnNetworkError             ConnackCode = 0xFE
	ConnProtocolViolation        ConnackCode = 0xFF
)

func (c ConnackCode) String() string {
	switch c {
	case ConnAccepted:
		return "accepted"
	case ConnRefusedProtocolVersion:
		return "incorrect protocol version"
	case ConnRefusedIdentifier:
		return "invalid client identifier"
	case ConnRefusedServerUnavailable:
		return "server unavailable"
	case ConnRefusedBadCredentials:
		return "bad username or password"
	case ConnRefusedNotAuthorised:
		return "not authorised"
	case ConnNetworkError:
		return "network error"
	case ConnProtocolViolation:
		return "protocol violation"
	default:
		return fmt.Sprintf("unknown error %d", byte(c))
	}
}

// ConnectError reports a refused or failed connection attempt.
type ConnectError struct {
	Code ConnackCode
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code.String()
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
