package transport

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
)

const (
	waitTimeout = 5 * time.Second
	waitPoll    = 5 * time.Millisecond
)

// collector records the backends a listener accepts.
type collector struct {
	mu       sync.Mutex
	backends []Backend
}

func (c *collector) accept(b Backend) {
	c.mu.Lock()
	c.backends = append(c.backends, b)
	c.mu.Unlock()
}

func (c *collector) waitOne(t *testing.T) Backend {
	t.Helper()
	var b Backend
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if len(c.backends) == 0 {
			return false
		}
		b = c.backends[0]
		return true
	}, waitTimeout, waitPoll)
	t.Cleanup(b.Disconnect)
	return b
}

func waitState(t *testing.T, b Backend, want gamenet.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return b.State() == want
	}, waitTimeout, waitPoll, "backend never reached %s", want)
}

// receiveN polls b until n bytes have arrived.
func receiveN(t *testing.T, b Backend, n int) []byte {
	t.Helper()
	var (
		got []byte
		err error
	)
	require.Eventually(t, func() bool {
		var data []byte
		data, err = b.ReceiveData()
		got = append(got, data...)
		return err != nil || len(got) >= n
	}, waitTimeout, waitPoll)
	require.NoError(t, err)
	return got
}

// sendAll retries while the send queue is full.
func sendAll(t *testing.T, b Backend, p []byte) {
	t.Helper()
	var err error
	require.Eventually(t, func() bool {
		var n int
		n, err = b.SendData(p)
		return err != nil || n == len(p)
	}, waitTimeout, time.Millisecond)
	require.NoError(t, err)
}

func settingsFor(t *testing.T, addr net.Addr) *config.Settings {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	s := config.Default()
	s.ServerHost = host
	s.ServerPort = uint16(port)
	s.ConnectTimeout = waitTimeout
	return s
}
