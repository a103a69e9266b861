package gamenet

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of the transport layer.
type ErrorKind int

const (
	// KindTransport covers socket, websocket and proxy I/O failures. Always
	// fatal to the connection.
	KindTransport ErrorKind = iota + 1
	// KindProtocol covers malformed frames, unknown messages, hash
	// mismatches and buffer overruns. Always fatal to the connection.
	KindProtocol
	// KindHandshake covers proxy negotiation failures. A compatibility
	// version mismatch is not an error, it is reported as ConnectOutdated.
	KindHandshake
	// KindConfiguration is raised at startup before any connection attempt.
	KindConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindHandshake:
		return "handshake"
	case KindConfiguration:
		return "configuration"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is the error type returned by every gamenet package.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("gamenet %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("gamenet %s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// TransportError wraps err as a KindTransport error. Returns nil for a nil err.
func TransportError(op string, err error) error {
	return newError(KindTransport, op, err)
}

// ProtocolError wraps err as a KindProtocol error. Returns nil for a nil err.
func ProtocolError(op string, err error) error {
	return newError(KindProtocol, op, err)
}

// HandshakeError wraps err as a KindHandshake error. Returns nil for a nil err.
func HandshakeError(op string, err error) error {
	return newError(KindHandshake, op, err)
}

// ConfigurationError wraps err as a KindConfiguration error. Returns nil for a nil err.
func ConfigurationError(op string, err error) error {
	return newError(KindConfiguration, op, err)
}

// KindOf returns the kind of the outermost *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
