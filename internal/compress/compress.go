// Package compress implements the whole-stream codec applied to the bytes
// crossing the wire. Each direction keeps one deflate state for the life of
// the connection, so compression works across message boundaries.
package compress

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/flate"
)

// Compressor deflates outgoing bytes with a persistent encoder.
type Compressor struct {
	enabled bool
	out     bytes.Buffer
	w       *flate.Writer
}

// NewCompressor returns a Compressor. A disabled Compressor passes bytes
// through unchanged.
func NewCompressor(enabled bool) (*Compressor, error) {
	c := &Compressor{enabled: enabled}
	if !enabled {
		return c, nil
	}
	w, err := flate.NewWriter(&c.out, flate.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("create deflate writer: %w", err)
	}
	c.w = w
	return c, nil
}

// Enabled reports whether the Compressor transforms data.
func (c *Compressor) Enabled() bool {
	return c.enabled
}

// Compress deflates p and sync-flushes, so the peer can decode everything
// compressed so far. The returned slice is reused by the next call.
func (c *Compressor) Compress(p []byte) ([]byte, error) {
	if !c.enabled || len(p) == 0 {
		return p, nil
	}
	c.out.Reset()
	if _, err := c.w.Write(p); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, fmt.Errorf("deflate flush: %w", err)
	}
	return c.out.Bytes(), nil
}

// Reset discards the encoder history.
func (c *Compressor) Reset() {
	if !c.enabled {
		return
	}
	c.out.Reset()
	c.w.Reset(&c.out)
}
