package gamenet_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/gamenet"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	tests := []struct {
		name string
		err  error
		kind gamenet.ErrorKind
		text string
	}{
		{name: "transport", err: gamenet.TransportError("sockets.read", cause), kind: gamenet.KindTransport, text: "gamenet transport error: sockets.read: boom"},
		{name: "protocol", err: gamenet.ProtocolError("dispatch", cause), kind: gamenet.KindProtocol, text: "gamenet protocol error: dispatch: boom"},
		{name: "handshake", err: gamenet.HandshakeError("", cause), kind: gamenet.KindHandshake, text: "gamenet handshake error: boom"},
		{name: "configuration", err: gamenet.ConfigurationError("config.Validate", cause), kind: gamenet.KindConfiguration, text: "gamenet configuration error: config.Validate: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Error(t, tt.err)
			assert.Equal(t, tt.text, tt.err.Error())
			assert.ErrorIs(t, tt.err, cause)
			assert.True(t, gamenet.IsKind(tt.err, tt.kind))

			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.Equal(t, tt.kind, gamenet.KindOf(wrapped))
		})
	}
}

func TestErrorConstructorsKeepNil(t *testing.T) {
	t.Parallel()

	assert.NoError(t, gamenet.TransportError("op", nil))
	assert.NoError(t, gamenet.ProtocolError("op", nil))
	assert.NoError(t, gamenet.HandshakeError("op", nil))
	assert.NoError(t, gamenet.ConfigurationError("op", nil))
	assert.Zero(t, gamenet.KindOf(errors.New("plain")))
}

func TestReservedMessages(t *testing.T) {
	t.Parallel()

	reserved := map[gamenet.NetMessage]string{
		gamenet.MsgDisconnect:      "Disconnect",
		gamenet.MsgHandshake:       "Handshake",
		gamenet.MsgHandshakeAnswer: "HandshakeAnswer",
		gamenet.MsgPing:            "Ping",
	}
	for msg, name := range reserved {
		assert.True(t, msg.IsReserved(), name)
		assert.Equal(t, name, msg.String())
	}

	app := gamenet.NetMessage(0x0100)
	assert.False(t, app.IsReserved())
	assert.Equal(t, "NetMessage(0x00000100)", app.String())
}

func TestEnumStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Outdated", gamenet.ConnectOutdated.String())
	assert.Equal(t, "Handshaking", gamenet.StateHandshaking.String())
	assert.Equal(t, "State(9)", gamenet.State(9).String())
	assert.Equal(t, "kind(7)", gamenet.ErrorKind(7).String())
}
