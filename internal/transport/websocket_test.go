package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
)

func newWSServer(t *testing.T) (*httptest.Server, *collector) {
	t.Helper()
	c := &collector{}
	l := NewWebSocketListener(config.Default(), nil, c.accept)
	srv := httptest.NewServer(l)
	t.Cleanup(srv.Close)
	return srv, c
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func TestWebSocketsRoundTrip(t *testing.T) {
	t.Parallel()

	srv, c := newWSServer(t)
	s := config.Default()
	s.ServerHost = wsURL(srv)
	require.True(t, s.WantsWebSockets())

	client, err := DialWebSockets(context.Background(), s)
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)

	waitState(t, client, gamenet.StateConnected)
	server := c.waitOne(t)

	sendAll(t, client, []byte("hello"))
	sendAll(t, client, []byte(" world"))
	assert.Equal(t, "hello world", string(receiveN(t, server, 11)))

	sendAll(t, server, []byte{0, 1, 2, 255})
	assert.Equal(t, []byte{0, 1, 2, 255}, receiveN(t, client, 4))

	client.Disconnect()
	waitState(t, server, gamenet.StateDisconnected)
}

func TestWebSocketsRejectsPlainHTTP(t *testing.T) {
	t.Parallel()

	srv, c := newWSServer(t)

	resp, err := http.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
	}
	assert.Error(t, err, "connection should be dropped without a response")

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.backends)
}

func TestWebSocketsRejectsTextFrames(t *testing.T) {
	t.Parallel()

	srv, c := newWSServer(t)

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}}
	conn, _, err := dialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	server := c.waitOne(t)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not binary")))

	waitState(t, server, gamenet.StateDisconnected)
	_, err = server.ReceiveData()
	require.Error(t, err)
	assert.True(t, gamenet.IsKind(err, gamenet.KindTransport))
	assert.Contains(t, err.Error(), gamenet.ErrMsgTextFrame)
}

func TestWebSocketsRequiresBinarySubprotocol(t *testing.T) {
	t.Parallel()

	srv, c := newWSServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(waitTimeout))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseProtocolError), "got %v", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.backends)
}

func TestWebSocketListenerLifecycle(t *testing.T) {
	t.Parallel()

	c := &collector{}
	l := NewWebSocketListener(config.Default(), nil, c.accept)
	assert.Nil(t, l.Addr())
	require.NoError(t, l.Listen("127.0.0.1:0"))

	s := settingsFor(t, l.Addr())
	s.Transport = config.TransportWebSockets
	s.ServerHost = "ws://" + l.Addr().String() + "/"

	client, err := DialWebSockets(context.Background(), s)
	require.NoError(t, err)
	t.Cleanup(client.Disconnect)
	waitState(t, client, gamenet.StateConnected)
	c.waitOne(t)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, l.Close(ctx))
	assert.NoError(t, l.Close(ctx))
}

func TestWebSocketListenerMissingTLS(t *testing.T) {
	t.Parallel()

	s := config.Default()
	s.SecuredWebSockets = true
	l := NewWebSocketListener(s, nil, func(Backend) {})

	err := l.Listen("127.0.0.1:0")
	require.Error(t, err)
	assert.True(t, gamenet.IsKind(err, gamenet.KindConfiguration))
}
