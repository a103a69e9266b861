// Package gamenet provides the transport and message-framing layer between a
// game client and a game server.
//
// A connection runs over one of three backends: raw TCP sockets (optionally
// through a SOCKS4, SOCKS5 or HTTP CONNECT proxy), WebSockets with the
// "binary" subprotocol, or an in-process interthread channel for a client
// and server living in the same process. On top of any backend the library
// frames typed messages, optionally ciphers and compresses them, and runs a
// small connection protocol: version handshake, ping, graceful and hard
// disconnect.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/gamenet"
//	    "github.com/luciancaetano/gamenet/wire"
//	)
//
//	const msgChat gamenet.NetMessage = 0x0100
//
//	settings := wire.DefaultSettings()
//	registry := wire.NewRegistry()
//
//	server, err := wire.NewServer(settings, registry)
//	server.RegisterHandler(msgChat, func(c gamenet.Conn, r gamenet.Reader) error {
//	    text, err := r.ReadString()
//	    if err != nil {
//	        return err
//	    }
//	    return c.Send(msgChat, func(w gamenet.Writer) { w.WriteString(text) })
//	})
//	server.Start(ctx)
//
//	client, err := wire.NewClient(settings, registry, wire.WithOnConnectResult(func(r gamenet.ConnectResult) {
//	    log.Printf("connect: %s", r)
//	}))
//	client.Connect(ctx)
//	go client.Run(ctx)
//
// # Wire Format
//
// Every message is framed as:
//
//	[4 bytes: type (uint32, little-endian)][4 bytes: body length][body][4 bytes: xxHash, debug only]
//
// The body is limited to 10MB. Message types 0xFFFF0001 to 0xFFFF0004 are
// reserved for Disconnect, Handshake, HandshakeAnswer and Ping.
//
// After the handshake each side ciphers its outgoing frames with its own
// key, then the byte stream is deflate-compressed with a sync flush per
// tick. Compression and debug hashes must match on both peers.
//
// # Rate Limiting
//
// Server-side connections can apply a token bucket to incoming messages:
//
//	settings.RateLimit = wire.DefaultRateLimitConfig() // 100 msgs/s, burst 200
//
// A connection that exceeds the limit is hard-disconnected.
//
// # Important
//
//   - Handlers run on the goroutine that drives the connection, in arrival order
//   - A handler must consume its whole payload or the connection is dropped
//   - Configure CheckOrigin in production (never use wire.AllOrigins() in production)
package gamenet
