package connection

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/luciancaetano/gamenet"
	"github.com/luciancaetano/gamenet/internal/netbuf"
)

var errDuplicateHandshake = errors.New("duplicate handshake")

// sendHandshake is the client's first message. Everything framed after it
// is ciphered with the client key.
func (c *Connection) sendHandshake() {
	key := netbuf.GenerateEncryptKey()
	version := c.settings.CompatibilityVersion

	err := c.frame(gamenet.MsgHandshake, func(w gamenet.Writer) {
		w.WriteUint32(version)
		w.WriteUint32(key)
	}, key)
	if err != nil {
		c.fail(err)
		return
	}

	c.logger().WithFields(logrus.Fields{
		"function": "sendHandshake",
		"version":  version,
	}).Debug("Handshake sent")
}

// serverHandshake reads the client's version and key and answers with the
// server key. onAccepted runs once the connection is usable.
func (c *Connection) serverHandshake(r gamenet.Reader, onAccepted func()) error {
	version, err := r.ReadUint32()
	if err != nil {
		return err
	}
	clientKey, err := r.ReadUint32()
	if err != nil {
		return err
	}
	if c.handshaken.Load() {
		return gamenet.ProtocolError("connection.handshake", errDuplicateHandshake)
	}

	c.setInKey(clientKey)

	outdated := !c.settings.BypassCompatibilityCheck && version != c.settings.CompatibilityVersion
	serverKey := netbuf.GenerateEncryptKey()
	err = c.frame(gamenet.MsgHandshakeAnswer, func(w gamenet.Writer) {
		w.WriteBool(outdated)
		w.WriteUint32(serverKey)
	}, serverKey)
	if err != nil {
		return err
	}

	if outdated {
		c.logger().WithFields(logrus.Fields{
			"function":       "serverHandshake",
			"client_version": version,
			"server_version": c.settings.CompatibilityVersion,
		}).Info("Rejecting outdated client")
		c.GracefulDisconnect()
		return nil
	}

	c.markHandshaken()
	if onAccepted != nil {
		onAccepted()
	}
	return nil
}

// clientHandshakeAnswer completes the client side. It returns the result to
// report; an outdated client hard-disconnects.
func (c *Connection) clientHandshakeAnswer(r gamenet.Reader) (gamenet.ConnectResult, error) {
	outdated, err := r.ReadBool()
	if err != nil {
		return gamenet.ConnectFailed, err
	}
	serverKey, err := r.ReadUint32()
	if err != nil {
		return gamenet.ConnectFailed, err
	}
	if c.handshaken.Load() {
		return gamenet.ConnectFailed, gamenet.ProtocolError("connection.handshake", errDuplicateHandshake)
	}

	c.setInKey(serverKey)

	if outdated {
		c.logger().WithFields(logrus.Fields{
			"function": "clientHandshakeAnswer",
			"version":  c.settings.CompatibilityVersion,
		}).Warn("Server reports this client as outdated")
		return gamenet.ConnectOutdated, nil
	}

	c.markHandshaken()
	return gamenet.ConnectSuccess, nil
}
