package transport

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
)

func listenTCP(t *testing.T) (*TCPListener, *collector) {
	t.Helper()
	c := &collector{}
	l, err := ListenTCP("127.0.0.1:0", config.Default(), c.accept)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l, c
}

func TestSocketsRoundTrip(t *testing.T) {
	t.Parallel()

	l, c := listenTCP(t)
	s := settingsFor(t, l.Addr())
	s.BufferSize = 16 // forces the read buffer to grow

	client, err := DialSockets(context.Background(), s)
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)

	waitState(t, client, gamenet.StateConnected)
	server := c.waitOne(t)
	assert.Equal(t, gamenet.StateConnected, server.State())

	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	sendAll(t, client, payload)
	assert.Equal(t, payload, receiveN(t, server, len(payload)))

	sendAll(t, server, []byte("ack"))
	assert.Equal(t, "ack", string(receiveN(t, client, 3)))

	assert.Eventually(t, func() bool { return client.CheckStatus(true) }, waitTimeout, waitPoll)
}

func TestSocketsPeerDisconnect(t *testing.T) {
	t.Parallel()

	l, c := listenTCP(t)
	client, err := DialSockets(context.Background(), settingsFor(t, l.Addr()))
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)

	waitState(t, client, gamenet.StateConnected)
	server := c.waitOne(t)

	sendAll(t, server, []byte("bye"))
	assert.Equal(t, "bye", string(receiveN(t, client, 3)))
	server.Disconnect()
	assert.Equal(t, gamenet.StateDisconnected, server.State())

	waitState(t, client, gamenet.StateDisconnected)
	_, err = client.ReceiveData()
	require.Error(t, err)
	assert.True(t, gamenet.IsKind(err, gamenet.KindTransport))

	n, err := client.SendData([]byte("x"))
	assert.Zero(t, n)
	assert.Error(t, err)
	assert.False(t, client.CheckStatus(true))
}

func TestDialSocketsRefused(t *testing.T) {
	t.Parallel()

	l, _ := listenTCP(t)
	s := settingsFor(t, l.Addr())
	require.NoError(t, l.Close())

	b, err := DialSockets(context.Background(), s)
	require.NoError(t, err, "dial errors are reported through the state")
	t.Cleanup(b.Disconnect)

	waitState(t, b, gamenet.StateDisconnected)
	_, err = b.ReceiveData()
	assert.True(t, gamenet.IsKind(err, gamenet.KindTransport))
}

func TestDisconnectWhileConnecting(t *testing.T) {
	t.Parallel()

	l, _ := listenTCP(t)
	b, err := DialSockets(context.Background(), settingsFor(t, l.Addr()))
	require.NoError(t, err)

	b.Disconnect()
	assert.Equal(t, gamenet.StateDisconnected, b.State())
	n, err := b.SendData([]byte("x"))
	assert.Zero(t, n)
	assert.Error(t, err)
}
