package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/config"
)

// proxyTimeout caps the whole proxy negotiation.
const proxyTimeout = 10 * time.Second

type contextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// newProxyDialer returns the dialer for the configured proxy, or a direct
// dialer when no proxy is set.
func newProxyDialer(s *config.Settings) (contextDialer, error) {
	proxyAddr := s.ProxyAddr()

	switch s.ProxyType {
	case config.ProxyNone:
		return &net.Dialer{}, nil

	case config.ProxySOCKS4:
		return &socks4Dialer{proxyAddr: proxyAddr, user: s.ProxyUser}, nil

	case config.ProxySOCKS5:
		var auth *proxy.Auth
		if s.ProxyUser != "" || s.ProxyPass != "" {
			auth = &proxy.Auth{
				User:     s.ProxyUser,
				Password: s.ProxyPass,
			}
		}
		d, err := proxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{Timeout: proxyTimeout})
		if err != nil {
			return nil, gamenet.ConfigurationError("proxy.SOCKS5", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, gamenet.ConfigurationError("proxy.SOCKS5", errors.New("dialer does not support contexts"))
		}
		return &socks5Dialer{inner: cd}, nil

	case config.ProxyHTTP:
		u := &url.URL{Scheme: "http", Host: proxyAddr}
		if s.ProxyUser != "" {
			if s.ProxyPass != "" {
				u.User = url.UserPassword(s.ProxyUser, s.ProxyPass)
			} else {
				u.User = url.User(s.ProxyUser)
			}
		}
		return &httpProxyDialer{proxyURL: u}, nil
	}

	return nil, gamenet.ConfigurationError("proxy", fmt.Errorf("%s: %q", gamenet.ErrMsgUnsupportedProxy, s.ProxyType))
}

func proxyReplyError(op, format string, args ...any) error {
	return gamenet.HandshakeError(op, fmt.Errorf("%s: %s", gamenet.ErrMsgProxyReply, fmt.Sprintf(format, args...)))
}

// socks5Dialer bounds the x/net/proxy negotiation.
type socks5Dialer struct {
	inner proxy.ContextDialer
}

func (d *socks5Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, proxyTimeout)
	defer cancel()

	conn, err := d.inner.DialContext(ctx, network, addr)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "socks connect" && !proxyUnreachable(opErr.Err) {
			return nil, gamenet.HandshakeError("proxy.socks5", err)
		}
		return nil, err
	}
	return conn, nil
}

// proxyUnreachable reports whether err comes from dialing the proxy itself
// rather than from the SOCKS negotiation.
func proxyUnreachable(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var errno syscall.Errno
	return errors.As(err, &errno)
}

// socks4Dialer implements the SOCKS4 CONNECT request.
type socks4Dialer struct {
	proxyAddr string
	user      string
}

func (d *socks4Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, proxyTimeout)
	defer cancel()

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, d.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	req := make([]byte, 0, 9+len(d.user))
	req = append(req, 4, 1)
	req = binary.BigEndian.AppendUint16(req, uint16(port))
	req = append(req, ips[0].To4()...)
	req = append(req, d.user...)
	req = append(req, 0)

	if _, err := conn.Write(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to write SOCKS4 request: %w", err)
	}

	var reply [8]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		conn.Close()
		return nil, proxyReplyError("proxy.socks4", "short reply: %v", err)
	}
	if reply[0] != 0 || reply[1] != 0x5A {
		conn.Close()
		return nil, proxyReplyError("proxy.socks4", "version %d status 0x%02X", reply[0], reply[1])
	}

	conn.SetDeadline(time.Time{})
	return conn, nil
}

// httpProxyDialer implements an HTTP CONNECT proxy dialer
type httpProxyDialer struct {
	proxyURL *url.URL
}

func (d *httpProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("HTTP CONNECT proxy only supports TCP, got: %s", network)
	}
	ctx, cancel := context.WithTimeout(ctx, proxyTimeout)
	defer cancel()

	var dialer net.Dialer
	proxyConn, err := dialer.DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		proxyConn.SetDeadline(deadline)
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.proxyURL.User != nil {
		username := d.proxyURL.User.Username()
		password, _ := d.proxyURL.User.Password()
		probe := &http.Request{Header: make(http.Header)}
		probe.SetBasicAuth(username, password)
		connectReq.Header.Set("Proxy-Authorization", probe.Header.Get("Authorization"))
	}

	if err := connectReq.Write(proxyConn); err != nil {
		proxyConn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	br := bufio.NewReader(proxyConn)
	resp, err := http.ReadResponse(br, connectReq)
	if err != nil {
		proxyConn.Close()
		return nil, proxyReplyError("proxy.http", "failed to read CONNECT response: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		proxyConn.Close()
		logrus.WithFields(logrus.Fields{
			"function":   "httpProxyDialer.DialContext",
			"proxy_addr": d.proxyURL.Host,
			"status":     resp.Status,
		}).Warn("Proxy refused CONNECT")
		return nil, proxyReplyError("proxy.http", "status %s", resp.Status)
	}

	proxyConn.SetDeadline(time.Time{})
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: proxyConn, r: br}, nil
	}
	return proxyConn, nil
}

// bufferedConn keeps bytes the proxy sent right after its reply.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// SetNoDelay forwards to the underlying TCP connection.
func (c *bufferedConn) SetNoDelay(noDelay bool) error {
	if tc, ok := c.Conn.(*net.TCPConn); ok {
		return tc.SetNoDelay(noDelay)
	}
	return nil
}
