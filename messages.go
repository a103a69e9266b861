package gamenet

import "fmt"

// NetMessage identifies the purpose of a framed message. Values at or above
// ReservedMessageBase belong to the transport; everything below is free for
// application use.
type NetMessage uint32

// Reserved message types used by the connection protocol itself.
const (
	ReservedMessageBase NetMessage = 0xFFFF0000

	// MsgDisconnect announces a graceful disconnect. It has no payload.
	MsgDisconnect NetMessage = 0xFFFF0001
	// MsgHandshake is sent by the client: {compatibilityVersion u32, encryptKey u32}.
	MsgHandshake NetMessage = 0xFFFF0002
	// MsgHandshakeAnswer is the server reply: {outdated bool, encryptKey u32}.
	MsgHandshakeAnswer NetMessage = 0xFFFF0003
	// MsgPing carries {answer bool}.
	MsgPing NetMessage = 0xFFFF0004
)

// IsReserved reports whether m is owned by the connection protocol.
func (m NetMessage) IsReserved() bool {
	return m >= ReservedMessageBase
}

func (m NetMessage) String() string {
	switch m {
	case MsgDisconnect:
		return "Disconnect"
	case MsgHandshake:
		return "Handshake"
	case MsgHandshakeAnswer:
		return "HandshakeAnswer"
	case MsgPing:
		return "Ping"
	}
	return fmt.Sprintf("NetMessage(0x%08X)", uint32(m))
}

// ConnectResult is reported to the application exactly once per client
// connect attempt.
type ConnectResult int

const (
	ConnectSuccess ConnectResult = iota
	ConnectOutdated
	ConnectFailed
)

func (r ConnectResult) String() string {
	switch r {
	case ConnectSuccess:
		return "Success"
	case ConnectOutdated:
		return "Outdated"
	case ConnectFailed:
		return "Failed"
	}
	return fmt.Sprintf("ConnectResult(%d)", int(r))
}

// State is the lifecycle state of a backend or a connection.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateHandshaking:
		return "Handshaking"
	case StateConnected:
		return "Connected"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Standard error messages
const (
	// Protocol errors
	ErrMsgNestedMessage     = "message started before the previous one ended"
	ErrMsgNoActiveMessage   = "no active message"
	ErrMsgUnconsumedPayload = "previous message payload not fully consumed"
	ErrMsgUnknownMessage    = "unknown message type"
	ErrMsgHashMismatch      = "debug hash mismatch"
	ErrMsgMessageTooLarge   = "message exceeds maximum size"
	ErrMsgNotHandshaken     = "application message before handshake"
	ErrMsgFlood             = "receive flood limit exceeded"
	ErrMsgRateLimited       = "message rate limit exceeded"

	// Connection errors
	ErrMsgConnectionClosed  = "connection is closed"
	ErrMsgNoListener        = "no interthread listener on port"
	ErrMsgListenerExists    = "interthread listener already registered on port"
	ErrMsgServerRunning     = "server already running"
	ErrMsgReservedMessage   = "message type is reserved"
	ErrMsgUnsupportedProxy  = "unsupported proxy type"
	ErrMsgProxyReply        = "unexpected proxy reply"
	ErrMsgBadSubprotocol    = "websocket subprotocol is not binary"
	ErrMsgTextFrame         = "websocket text frame rejected"
	ErrMsgMissingTLSFile    = "tls certificate or key file missing"
	ErrMsgUnknownTransport  = "unknown transport"
	ErrMsgAlreadyConnecting = "client already connecting or connected"
)
