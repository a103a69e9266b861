package connection

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
	"github.com/luciancaetano/gamenet/internal/transport"
)

const (
	waitTimeout = 5 * time.Second
	waitPoll    = 2 * time.Millisecond

	msgChat gamenet.NetMessage = 0x0100
	msgEcho gamenet.NetMessage = 0x0101
)

func testSettings() *config.Settings {
	s := config.Default()
	s.Transport = config.TransportInterthread
	s.ServerPort = 4000
	s.PingPeriod = 0
	s.TickInterval = time.Millisecond
	return s
}

// events records server callbacks.
type events struct {
	mu           sync.Mutex
	connected    []gamenet.Conn
	disconnected []gamenet.Conn
}

func (e *events) onConnect(c gamenet.Conn) {
	e.mu.Lock()
	e.connected = append(e.connected, c)
	e.mu.Unlock()
}

func (e *events) onDisconnect(c gamenet.Conn) {
	e.mu.Lock()
	e.disconnected = append(e.disconnected, c)
	e.mu.Unlock()
}

func (e *events) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.connected), len(e.disconnected)
}

func startServer(t *testing.T, s *config.Settings, registry *transport.Registry, opts ...ServerOption) *Server {
	t.Helper()
	srv := NewServer(s, registry, opts...)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		require.NoError(t, srv.Shutdown(ctx))
	})
	return srv
}

// resultCh collects connect results.
type resultCh chan gamenet.ConnectResult

func (r resultCh) wait(t *testing.T) gamenet.ConnectResult {
	t.Helper()
	select {
	case res := <-r:
		return res
	case <-time.After(waitTimeout):
		t.Fatal("no connect result")
		return 0
	}
}

// runClient connects a client and drives it on a goroutine.
func runClient(t *testing.T, s *config.Settings, registry *transport.Registry, opts ...ClientOption) (*Client, resultCh) {
	t.Helper()
	results := make(resultCh, 1)
	opts = append(opts, WithOnConnectResult(func(r gamenet.ConnectResult) { results <- r }))

	cl, err := NewClient(s, registry, opts...)
	require.NoError(t, err)
	require.NoError(t, cl.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		cl.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cl, results
}

func waitState(t *testing.T, c gamenet.Conn, want gamenet.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State() == want
	}, waitTimeout, waitPoll, "connection never reached %s", want)
}

func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return uint16(port)
}
