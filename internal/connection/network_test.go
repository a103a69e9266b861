package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
	"github.com/luciancaetano/gamenet/internal/transport"
)

func TestNetworkTransports(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		transport config.Transport
		configure func(s *config.Settings, port uint16)
	}{
		{
			name:      "sockets",
			transport: config.TransportSockets,
			configure: func(s *config.Settings, port uint16) {
				s.ServerPort = port
			},
		},
		{
			name:      "websockets",
			transport: config.TransportWebSockets,
			configure: func(s *config.Settings, port uint16) {
				s.WebSocketsPort = port
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := testSettings()
			s.ServerHost = "127.0.0.1"
			s.Transport = tt.transport
			s.DebugHashes = true
			s.PingPeriod = 0
			tt.configure(s, freePort(t))

			ev := &events{}
			srv := startServer(t, s, nil, WithOnConnect(ev.onConnect), WithOnDisconnect(ev.onDisconnect))
			require.NoError(t, srv.RegisterHandler(msgChat, echoHandler))

			replies := &chatLog{}
			cl, results := runClient(t, s, nil)
			require.NoError(t, cl.RegisterHandler(msgEcho, replies.handler))
			require.Equal(t, gamenet.ConnectSuccess, results.wait(t))

			sendChat(t, cl, "over the wire")
			assert.Equal(t, []string{"echo: over the wire"}, replies.waitFor(t, 1))
			assert.Contains(t, cl.RemoteAddr(), "127.0.0.1")

			require.NoError(t, cl.Ping())
			require.Eventually(t, func() bool { return cl.RTT() > 0 }, waitTimeout, waitPoll)

			cl.GracefulDisconnect()
			waitState(t, cl, gamenet.StateDisconnected)
			require.Eventually(t, func() bool {
				_, gone := ev.counts()
				return gone == 1
			}, waitTimeout, waitPoll)
		})
	}
}

func TestSocketsConnectRefused(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.ServerHost = "127.0.0.1"
	s.ServerPort = freePort(t)
	s.Transport = config.TransportSockets

	cl, results := runClient(t, s, nil)
	assert.Equal(t, gamenet.ConnectFailed, results.wait(t))
	waitState(t, cl, gamenet.StateDisconnected)
}

func TestAutoTransportPrefersInterthread(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Transport = config.TransportAuto
	s.ServerHost = "127.0.0.1"
	s.ServerPort = freePort(t)

	registry := transport.NewRegistry()
	srv := startServer(t, s, registry)
	require.NotNil(t, srv.TCPAddr(), "auto also listens on sockets")

	cl, results := runClient(t, s, registry)
	require.Equal(t, gamenet.ConnectSuccess, results.wait(t))
	assert.Contains(t, cl.RemoteAddr(), "interthread:")
}
