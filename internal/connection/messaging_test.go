package connection

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/metrics"
	"github.com/luciancaetano/gamenet/internal/transport"
)

// chatLog collects chat strings received by a handler.
type chatLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *chatLog) handler(conn gamenet.Conn, r gamenet.Reader) error {
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.lines = append(l.lines, text)
	l.mu.Unlock()
	return nil
}

func (l *chatLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

func (l *chatLog) waitFor(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(l.snapshot()) >= n
	}, waitTimeout, waitPoll, "expected %d messages", n)
	return l.snapshot()
}

func sendChat(t *testing.T, c gamenet.Conn, text string) {
	t.Helper()
	require.NoError(t, c.Send(msgChat, func(w gamenet.Writer) {
		w.WriteString(text)
	}))
}

// echoHandler answers every chat with the same text behind a prefix.
func echoHandler(conn gamenet.Conn, r gamenet.Reader) error {
	text, err := r.ReadString()
	if err != nil {
		return err
	}
	return conn.Send(msgEcho, func(w gamenet.Writer) {
		w.WriteString("echo: " + text)
	})
}

func disconnects(t *testing.T, reg *prometheus.Registry, kind string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "gamenet_disconnects_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() == kind {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestEchoRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		compression bool
		debugHashes bool
	}{
		{name: "plain"},
		{name: "compressed", compression: true},
		{name: "compressed with hashes", compression: true, debugHashes: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			registry := transport.NewRegistry()
			s := testSettings()
			s.DisableCompression = !tt.compression
			s.DebugHashes = tt.debugHashes

			srv := startServer(t, s, registry)
			require.NoError(t, srv.RegisterHandler(msgChat, echoHandler))

			replies := &chatLog{}
			cl, results := runClient(t, s, registry)
			require.NoError(t, cl.RegisterHandler(msgEcho, replies.handler))
			require.Equal(t, gamenet.ConnectSuccess, results.wait(t))

			for _, text := range []string{"hello", "", "a longer line of chat"} {
				sendChat(t, cl, text)
			}
			assert.Equal(t, []string{"echo: hello", "echo: ", "echo: a longer line of chat"}, replies.waitFor(t, 3))

			stats := cl.Stats()
			assert.GreaterOrEqual(t, stats.MessagesSent, uint64(4), "handshake and three chats")
			assert.GreaterOrEqual(t, stats.MessagesReceived, uint64(4))
			assert.Positive(t, stats.WireBytesSent)
			assert.Positive(t, stats.PayloadBytesReceived)
		})
	}
}

func TestLargeMessage(t *testing.T) {
	t.Parallel()

	registry := transport.NewRegistry()
	s := testSettings()
	s.BufferSize = 64

	var got []byte
	var mu sync.Mutex
	srv := startServer(t, s, registry)
	require.NoError(t, srv.RegisterHandler(msgChat, func(conn gamenet.Conn, r gamenet.Reader) error {
		p, err := r.ReadBytes()
		mu.Lock()
		got = p
		mu.Unlock()
		return err
	}))

	cl, results := runClient(t, s, registry)
	require.Equal(t, gamenet.ConnectSuccess, results.wait(t))

	payload := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
	require.NoError(t, cl.Send(msgChat, func(w gamenet.Writer) { w.WriteBytes(payload) }))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == len(payload)
	}, waitTimeout, waitPoll)
	mu.Lock()
	assert.Equal(t, payload, got)
	mu.Unlock()
}

func TestPing(t *testing.T) {
	t.Parallel()

	registry := transport.NewRegistry()
	startServer(t, testSettings(), registry)

	s := testSettings()
	s.PingPeriod = 5 * time.Millisecond
	reg := prometheus.NewRegistry()
	cl, results := runClient(t, s, registry, WithClientMetrics(metrics.New(metrics.WithRegistry(reg))))

	require.Equal(t, gamenet.ConnectSuccess, results.wait(t))

	require.Eventually(t, func() bool {
		return cl.RTT() > 0
	}, waitTimeout, waitPoll, "periodic ping never answered")
	assert.Less(t, cl.RTT(), time.Second)
	assert.NoError(t, cl.Ping())
	require.Eventually(t, func() bool {
		return !cl.PingInFlight()
	}, waitTimeout, waitPoll, "forced ping never answered")
}

func TestDisconnect(t *testing.T) {
	t.Parallel()

	t.Run("graceful flushes pending messages", func(t *testing.T) {
		t.Parallel()

		registry := transport.NewRegistry()
		serverReg := prometheus.NewRegistry()
		clientReg := prometheus.NewRegistry()
		ev := &events{}
		chat := &chatLog{}

		srv := startServer(t, testSettings(), registry,
			WithOnConnect(ev.onConnect),
			WithOnDisconnect(ev.onDisconnect),
			WithServerMetrics(metrics.New(metrics.WithRegistry(serverReg))))
		require.NoError(t, srv.RegisterHandler(msgChat, chat.handler))

		clientGone := make(chan struct{})
		cl, results := runClient(t, testSettings(), registry,
			WithClientMetrics(metrics.New(metrics.WithRegistry(clientReg))),
			WithClientOnDisconnect(func(gamenet.Conn) { close(clientGone) }))
		require.Equal(t, gamenet.ConnectSuccess, results.wait(t))

		sendChat(t, cl, "goodbye")
		cl.GracefulDisconnect()
		cl.GracefulDisconnect()

		err := cl.Send(msgChat, func(w gamenet.Writer) { w.WriteString("late") })
		assert.True(t, gamenet.IsKind(err, gamenet.KindTransport))

		select {
		case <-clientGone:
		case <-time.After(waitTimeout):
			t.Fatal("client never finished disconnecting")
		}
		assert.Equal(t, []string{"goodbye"}, chat.waitFor(t, 1))
		require.Eventually(t, func() bool {
			_, gone := ev.counts()
			return gone == 1
		}, waitTimeout, waitPoll)

		assert.Equal(t, 1.0, disconnects(t, clientReg, disconnectGraceful))
		assert.Equal(t, 1.0, disconnects(t, serverReg, disconnectPeer))
		assert.Empty(t, srv.Connections())

		res, _ := cl.Result()
		assert.Equal(t, gamenet.ConnectSuccess, res, "a later disconnect does not change the result")
	})

	t.Run("hard is seen as a transport loss", func(t *testing.T) {
		t.Parallel()

		registry := transport.NewRegistry()
		serverReg := prometheus.NewRegistry()
		ev := &events{}

		startServer(t, testSettings(), registry,
			WithOnDisconnect(ev.onDisconnect),
			WithServerMetrics(metrics.New(metrics.WithRegistry(serverReg))))

		cl, results := runClient(t, testSettings(), registry)
		require.Equal(t, gamenet.ConnectSuccess, results.wait(t))

		cl.HardDisconnect()
		assert.Equal(t, gamenet.StateDisconnected, cl.State())
		assert.Error(t, cl.Context().Err())

		require.Eventually(t, func() bool {
			_, gone := ev.counts()
			return gone == 1
		}, waitTimeout, waitPoll)
		assert.Equal(t, 1.0, disconnects(t, serverReg, disconnectHard))
	})

	t.Run("server shutdown drops clients", func(t *testing.T) {
		t.Parallel()

		registry := transport.NewRegistry()
		srv := NewServer(testSettings(), registry)
		require.NoError(t, srv.Start(t.Context()))

		cl, results := runClient(t, testSettings(), registry)
		require.Equal(t, gamenet.ConnectSuccess, results.wait(t))
		require.Eventually(t, func() bool { return len(srv.Connections()) == 1 }, waitTimeout, waitPoll)

		require.NoError(t, srv.Shutdown(t.Context()))
		waitState(t, cl, gamenet.StateDisconnected)
		assert.False(t, registry.Has(testSettings().ServerPort))
	})
}

func TestProtocolViolations(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		setup func(t *testing.T, srv *Server)
		flood int
		rate  bool
		send  func(t *testing.T, cl *Client)
	}{
		{
			name: "unknown message",
			send: func(t *testing.T, cl *Client) {
				require.NoError(t, cl.Send(0x0999, func(w gamenet.Writer) { w.WriteUint8(1) }))
			},
		},
		{
			name: "unconsumed payload",
			setup: func(t *testing.T, srv *Server) {
				require.NoError(t, srv.RegisterHandler(msgChat, func(gamenet.Conn, gamenet.Reader) error { return nil }))
			},
			send: func(t *testing.T, cl *Client) { sendChat(t, cl, "ignored") },
		},
		{
			name: "handler error",
			setup: func(t *testing.T, srv *Server) {
				require.NoError(t, srv.RegisterHandler(msgChat, func(conn gamenet.Conn, r gamenet.Reader) error {
					_, err := r.ReadUint64()
					return err
				}))
			},
			send: func(t *testing.T, cl *Client) {
				require.NoError(t, cl.Send(msgChat, func(w gamenet.Writer) { w.WriteUint8(7) }))
			},
		},
		{
			name:  "flood",
			flood: 256,
			setup: func(t *testing.T, srv *Server) {
				require.NoError(t, srv.RegisterHandler(msgChat, (&chatLog{}).handler))
			},
			send: func(t *testing.T, cl *Client) {
				sendChat(t, cl, string(bytes.Repeat([]byte("x"), 4096)))
			},
		},
		{
			name: "rate limit",
			rate: true,
			setup: func(t *testing.T, srv *Server) {
				require.NoError(t, srv.RegisterHandler(msgChat, (&chatLog{}).handler))
			},
			send: func(t *testing.T, cl *Client) {
				for range 10 {
					if err := cl.Send(msgChat, func(w gamenet.Writer) { w.WriteString("spam") }); err != nil {
						return
					}
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			registry := transport.NewRegistry()
			ss := testSettings()
			ss.FloodSize = tc.flood
			if tc.rate {
				ss.RateLimit.Enabled = true
				ss.RateLimit.MessagesPerSecond = 1
				ss.RateLimit.Burst = 3
			}

			ev := &events{}
			srv := startServer(t, ss, registry, WithOnDisconnect(ev.onDisconnect))
			if tc.setup != nil {
				tc.setup(t, srv)
			}

			cl, results := runClient(t, testSettings(), registry)
			require.Equal(t, gamenet.ConnectSuccess, results.wait(t))

			tc.send(t, cl)

			waitState(t, cl, gamenet.StateDisconnected)
			require.Eventually(t, func() bool {
				_, gone := ev.counts()
				return gone == 1
			}, waitTimeout, waitPoll)
		})
	}
}

func TestBroadcast(t *testing.T) {
	t.Parallel()

	registry := transport.NewRegistry()
	srv := startServer(t, testSettings(), registry)

	const clients = 3
	logs := make([]*chatLog, clients)
	for i := range clients {
		logs[i] = &chatLog{}
		cl, results := runClient(t, testSettings(), registry)
		require.NoError(t, cl.RegisterHandler(msgChat, logs[i].handler))
		require.Equal(t, gamenet.ConnectSuccess, results.wait(t))
	}
	require.Eventually(t, func() bool {
		connected := 0
		for _, c := range srv.Connections() {
			if c.IsConnected() {
				connected++
			}
		}
		return connected == clients
	}, waitTimeout, waitPoll)

	require.NoError(t, srv.Broadcast(msgChat, func(w gamenet.Writer) { w.WriteString("round starts") }))
	for _, l := range logs {
		assert.Equal(t, []string{"round starts"}, l.waitFor(t, 1))
	}

	for _, c := range srv.Connections() {
		got, ok := srv.Connection(c.ID())
		require.True(t, ok)
		assert.Equal(t, c.ID(), got.ID())
		assert.Contains(t, got.RemoteAddr(), "interthread:")
	}

	err := srv.RegisterHandler(gamenet.MsgDisconnect, echoHandler)
	assert.True(t, gamenet.IsKind(err, gamenet.KindConfiguration))
}

func TestArtificialLag(t *testing.T) {
	t.Parallel()

	registry := transport.NewRegistry()
	startServer(t, testSettings(), registry)

	s := testSettings()
	s.ArtificialLagMin = 20 * time.Millisecond
	s.ArtificialLagMax = 40 * time.Millisecond

	start := time.Now()
	_, results := runClient(t, s, registry)
	require.Equal(t, gamenet.ConnectSuccess, results.wait(t))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
