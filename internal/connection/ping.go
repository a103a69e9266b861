package connection

import (
	"time"

	"github.com/luciancaetano/gamenet"
)

// Ping sends a ping now unless one is already in flight.
func (c *Connection) Ping() error {
	if !c.handshaken.Load() {
		return gamenet.ProtocolError("connection.Ping", errNotHandshaken)
	}
	return c.sendPing(time.Now())
}

// PingInFlight reports whether a ping is waiting for its answer.
func (c *Connection) PingInFlight() bool {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.pingInFlight
}

// maybePing starts a ping when the period has elapsed and nothing else is
// waiting to be sent.
func (c *Connection) maybePing(now time.Time) {
	period := c.settings.PingPeriod
	if period <= 0 || !c.handshaken.Load() || c.graceful.Load() || !c.drained() {
		return
	}

	c.pingMu.Lock()
	due := !c.pingInFlight && now.Sub(c.pingSentAt) >= period
	c.pingMu.Unlock()

	if due {
		if err := c.sendPing(now); err != nil {
			c.logger().WithField("error", err.Error()).Debug("Ping not sent")
		}
	}
}

func (c *Connection) sendPing(now time.Time) error {
	c.pingMu.Lock()
	if c.pingInFlight {
		c.pingMu.Unlock()
		return nil
	}
	c.pingInFlight = true
	c.pingSentAt = now
	c.pingMu.Unlock()

	err := c.frame(gamenet.MsgPing, func(w gamenet.Writer) {
		w.WriteBool(false)
	}, 0)
	if err != nil {
		c.pingMu.Lock()
		c.pingInFlight = false
		c.pingMu.Unlock()
	}
	return err
}

// handlePing answers requests and measures round trips on answers.
func (c *Connection) handlePing(conn gamenet.Conn, r gamenet.Reader) error {
	answer, err := r.ReadBool()
	if err != nil {
		return err
	}

	if !answer {
		return c.frame(gamenet.MsgPing, func(w gamenet.Writer) {
			w.WriteBool(true)
		}, 0)
	}

	c.pingMu.Lock()
	if !c.pingInFlight {
		// Unsolicited answer.
		c.pingMu.Unlock()
		return nil
	}
	c.pingInFlight = false
	rtt := max(time.Since(c.pingSentAt), 0)
	c.pingMu.Unlock()

	c.rtt.Store(int64(rtt))
	c.metrics.ObserveRTT(rtt)
	return nil
}
