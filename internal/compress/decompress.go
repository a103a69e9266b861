package compress

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

var (
	// ErrClosed is returned by Decompress after Close.
	ErrClosed = errors.New("decompressor closed")
	// ErrOutputLimit is returned when a chunk inflates past the limit given
	// to Decompress. The decompressor is closed afterwards.
	ErrOutputLimit = errors.New("inflated output exceeds limit")
)

// Decompressor inflates incoming bytes with a persistent decoder.
//
// The inflater runs on its own goroutine, started by the first Decompress,
// and pulls input from a feed queue. Decompress hands it a chunk and returns
// once the inflater has consumed the chunk and blocked waiting for more, at
// which point every byte the peer flushed has been decoded.
type Decompressor struct {
	enabled bool

	mu      sync.Mutex
	cond    *sync.Cond
	input   []byte
	waiting bool
	closed  bool
	output  []byte
	limit   int
	err     error
	exited  chan struct{}
}

// NewDecompressor returns a Decompressor. A disabled Decompressor passes
// bytes through unchanged.
func NewDecompressor(enabled bool) *Decompressor {
	d := &Decompressor{enabled: enabled}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// clearState drops all stream state. Callers hold d.mu.
func (d *Decompressor) clearState() {
	d.input = nil
	d.output = nil
	d.waiting = false
	d.closed = false
	d.limit = 0
	d.err = nil
	d.exited = nil
}

// start spawns the inflater. Callers hold d.mu.
func (d *Decompressor) start() {
	d.exited = make(chan struct{})
	go d.run(flate.NewReader(feed{d}), d.exited)
}

func (d *Decompressor) run(r io.ReadCloser, exited chan struct{}) {
	defer close(exited)
	defer r.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)

		d.mu.Lock()
		d.output = append(d.output, buf[:n]...)
		if err == nil && d.limit > 0 && len(d.output) > d.limit {
			err = ErrOutputLimit
		}
		if err != nil {
			if !d.closed {
				if err == io.EOF {
					err = io.ErrUnexpectedEOF
				}
				d.err = err
			}
			d.closed = true
			d.cond.Broadcast()
			d.mu.Unlock()
			return
		}
		d.mu.Unlock()
	}
}

// Decompress inflates p and appends the result to out. A positive limit
// caps the bytes this call may produce; once the inflater passes it,
// Decompress stops and returns ErrOutputLimit.
func (d *Decompressor) Decompress(p []byte, out []byte, limit int) ([]byte, error) {
	if !d.enabled {
		if limit > 0 && len(p) > limit {
			return out, ErrOutputLimit
		}
		return append(out, p...), nil
	}
	if len(p) == 0 {
		return out, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.err != nil {
		return out, fmt.Errorf("inflate: %w", d.err)
	}
	if d.closed {
		return out, ErrClosed
	}
	if d.exited == nil {
		d.start()
	}

	d.limit = limit
	d.input = append(d.input, p...)
	d.cond.Broadcast()
	for !(len(d.input) == 0 && d.waiting) && !d.closed {
		d.cond.Wait()
	}

	out = append(out, d.output...)
	d.output = d.output[:0]
	d.limit = 0
	if errors.Is(d.err, ErrOutputLimit) {
		return out, ErrOutputLimit
	}
	if d.err != nil {
		return out, fmt.Errorf("inflate: %w", d.err)
	}
	return out, nil
}

// Reset discards the decoder history. The next Decompress starts a fresh
// inflater.
func (d *Decompressor) Reset() {
	if !d.enabled {
		return
	}
	d.Close()
	d.mu.Lock()
	d.clearState()
	d.mu.Unlock()
}

// Close stops the inflater goroutine, if one was started, and waits for it
// to exit.
func (d *Decompressor) Close() {
	if !d.enabled {
		return
	}
	d.mu.Lock()
	d.closed = true
	exited := d.exited
	d.cond.Broadcast()
	d.mu.Unlock()
	if exited != nil {
		<-exited
	}
}

// feed is the inflater's view of the input queue.
type feed struct {
	d *Decompressor
}

// wait blocks until input is available or the decompressor is closed.
// Callers hold d.mu.
func (f feed) wait() bool {
	d := f.d
	for len(d.input) == 0 && !d.closed {
		d.waiting = true
		d.cond.Broadcast()
		d.cond.Wait()
	}
	d.waiting = false
	return len(d.input) > 0
}

func (f feed) Read(p []byte) (int, error) {
	d := f.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !f.wait() {
		return 0, io.EOF
	}
	n := copy(p, d.input)
	d.input = d.input[n:]
	return n, nil
}

func (f feed) ReadByte() (byte, error) {
	d := f.d
	d.mu.Lock()
	defer d.mu.Unlock()
	if !f.wait() {
		return 0, io.EOF
	}
	c := d.input[0]
	d.input = d.input[1:]
	return c, nil
}
