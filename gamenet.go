package gamenet

import (
	"context"
	"time"
)

// Writer appends typed fields to the message currently being built.
//
// All multi-byte values are little-endian. Strings and byte slices are
// prefixed with a uint32 length; WriteRaw appends bytes with no prefix.
type Writer interface {
	WriteBool(v bool)
	WriteUint8(v uint8)
	WriteUint16(v uint16)
	WriteUint32(v uint32)
	WriteUint64(v uint64)
	WriteInt8(v int8)
	WriteInt16(v int16)
	WriteInt32(v int32)
	WriteInt64(v int64)
	WriteFloat32(v float32)
	WriteFloat64(v float64)
	WriteString(s string)
	WriteBytes(p []byte)
	WriteRaw(p []byte)
}

// Reader consumes typed fields from the payload of a received message.
//
// Every read fails once fewer bytes remain than the field needs. Such a
// failure means the stream is corrupt and the connection will be dropped.
type Reader interface {
	ReadBool() (bool, error)
	ReadUint8() (uint8, error)
	ReadUint16() (uint16, error)
	ReadUint32() (uint32, error)
	ReadUint64() (uint64, error)
	ReadInt8() (int8, error)
	ReadInt16() (int16, error)
	ReadInt32() (int32, error)
	ReadInt64() (int64, error)
	ReadFloat32() (float32, error)
	ReadFloat64() (float64, error)
	ReadString() (string, error)
	ReadBytes() ([]byte, error)
	ReadRaw(n int) ([]byte, error)
	Remaining() int
}

// Handler processes one received message.
//
// The handler must consume the whole payload. Returning an error, or leaving
// unread bytes behind, is treated as a protocol violation and the connection
// is hard-disconnected.
//
// Handlers run on the goroutine that drives the connection. They may call
// Send, GracefulDisconnect or HardDisconnect on the same connection.
type Handler func(conn Conn, r Reader) error

// Conn is the narrow view of a connection that application code consumes:
// send a typed message, dispatch received ones to handlers, and observe the
// connection state and round-trip time.
//
// Example usage:
//
//	const msgChat gamenet.NetMessage = 0x0100
//
//	conn.RegisterHandler(msgChat, func(c gamenet.Conn, r gamenet.Reader) error {
//	    text, err := r.ReadString()
//	    if err != nil {
//	        return err
//	    }
//	    log.Printf("%s says %q", c.ID(), text)
//	    return nil
//	})
//
//	conn.Send(msgChat, func(w gamenet.Writer) {
//	    w.WriteString("hello")
//	})
type Conn interface {
	// ID returns a unique identifier for the connection.
	//
	// The ID is generated when the connection is created and remains
	// constant for its lifetime.
	ID() string

	// RemoteAddr returns the peer address. Interthread connections report
	// "interthread:<port>".
	RemoteAddr() string

	// Context returns the connection's lifecycle context.
	//
	// This context is cancelled when the connection is disconnected.
	Context() context.Context

	// State returns the current protocol state.
	State() State

	// IsConnected reports whether the handshake has completed and the
	// connection has not been torn down.
	IsConnected() bool

	// RTT returns the last measured ping round-trip time, or zero if no
	// ping has completed yet.
	RTT() time.Duration

	// RegisterHandler installs the handler for an application message type.
	//
	// Reserved message types cannot be overridden.
	RegisterHandler(msg NetMessage, handler Handler) error

	// Send frames one message and queues it for delivery.
	//
	// The build function writes the payload. It runs under the out-buffer
	// lock and must not call back into the connection.
	//
	// Returns an error if the connection is closed or the message is too
	// large.
	Send(msg NetMessage, build func(w Writer)) error

	// GracefulDisconnect notifies the peer with a Disconnect message and
	// tears the transport down once the message has been flushed.
	GracefulDisconnect()

	// HardDisconnect tears the transport down immediately. Bytes still in
	// flight may be lost.
	HardDisconnect()
}

// Server accepts connections over every configured transport.
//
// Example usage:
//
//	import "github.com/luciancaetano/gamenet/wire"
//
//	settings := wire.DefaultSettings()
//	settings.ServerPort = 4000
//
//	registry := wire.NewRegistry()
//	server, err := wire.NewServer(settings, registry, wire.WithOnConnect(func(c gamenet.Conn) {
//	    log.Printf("client connected: %s", c.ID())
//	}))
//
//	server.RegisterHandler(msgChat, chatHandler)
//	server.Start(ctx)
type Server interface {
	// Start opens every configured listener.
	//
	// Returns a configuration error if TLS material is missing or the
	// interthread port is already taken.
	Start(ctx context.Context) error

	// Shutdown stops the listeners, disconnects every connection and waits
	// for their goroutines to exit.
	Shutdown(ctx context.Context) error

	// RegisterHandler registers a handler that is installed on every
	// connection accepted afterwards.
	RegisterHandler(msg NetMessage, handler Handler) error

	// Broadcast sends a message to every handshaken connection.
	Broadcast(msg NetMessage, build func(w Writer)) error
}
