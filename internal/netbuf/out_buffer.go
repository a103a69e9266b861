package netbuf

import (
	"encoding/binary"
	"math"

	"github.com/luciancaetano/gamenet"
)

var _ gamenet.Writer = (*OutBuffer)(nil)

// OutBuffer frames outgoing messages into a contiguous send region.
//
// A message is built in two phases: StartMsg opens a scratch body, the
// Write methods append to it, and EndMsg appends the finished frame to the
// send region and ciphers it with the key active at that moment.
//
// OutBuffer is not safe for concurrent use.
type OutBuffer struct {
	buf     []byte
	readPos int

	body   []byte
	msg    gamenet.NetMessage
	active bool
	err    error

	cipher cipher
	hasher Hasher
}

// NewOutBuffer returns an OutBuffer with the given initial capacity. A nil
// hasher disables debug hashes.
func NewOutBuffer(size int, hasher Hasher) *OutBuffer {
	return &OutBuffer{
		buf:    make([]byte, 0, size),
		body:   make([]byte, 0, 256),
		hasher: hasher,
	}
}

// StartMsg begins a new message of the given type.
func (b *OutBuffer) StartMsg(msg gamenet.NetMessage) error {
	if b.active {
		return gamenet.ProtocolError("netbuf.StartMsg", ErrNestedMessage)
	}
	if err := b.err; err != nil {
		// A write happened outside any message.
		b.err = nil
		return gamenet.ProtocolError("netbuf.StartMsg", err)
	}
	b.msg = msg
	b.active = true
	b.body = b.body[:0]
	return nil
}

// EndMsg finishes the active message and appends it to the send region.
func (b *OutBuffer) EndMsg() error {
	if !b.active {
		return gamenet.ProtocolError("netbuf.EndMsg", ErrNoActiveMessage)
	}
	b.active = false
	if err := b.err; err != nil {
		b.err = nil
		return gamenet.ProtocolError("netbuf.EndMsg", err)
	}

	start := len(b.buf)
	buf, err := Encode(b.buf, b.msg, b.body, b.hasher)
	if err != nil {
		return gamenet.ProtocolError("netbuf.EndMsg", err)
	}
	b.buf = buf
	b.cipher.apply(b.buf[start:])
	b.body = b.body[:0]
	return nil
}

// CancelMsg drops the active message without touching the send region.
func (b *OutBuffer) CancelMsg() {
	b.active = false
	b.err = nil
	b.body = b.body[:0]
}

// SetEncryptKey sets the cipher key for messages ended after this call.
// A zero key disables the cipher.
func (b *OutBuffer) SetEncryptKey(key uint32) {
	b.cipher.setKey(key)
}

// Encrypted reports whether a cipher key is set.
func (b *OutBuffer) Encrypted() bool {
	return b.cipher.enabled()
}

// GetData returns the bytes waiting to be handed to the transport. The
// slice is only valid until the next mutation of the buffer.
func (b *OutBuffer) GetData() []byte {
	return b.buf[b.readPos:]
}

// DiscardWriteBuf marks n pending bytes as sent.
func (b *OutBuffer) DiscardWriteBuf(n int) {
	if n <= 0 {
		return
	}
	b.readPos += n
	if b.readPos > len(b.buf) {
		b.readPos = len(b.buf)
	}
	b.ResetBuf()
}

// Len returns the number of pending bytes.
func (b *OutBuffer) Len() int {
	return len(b.buf) - b.readPos
}

// IsEmpty reports whether nothing is waiting to be sent.
func (b *OutBuffer) IsEmpty() bool {
	return b.Len() == 0
}

// ResetBuf collapses both cursors to zero once everything has been sent.
func (b *OutBuffer) ResetBuf() {
	if b.readPos == len(b.buf) {
		b.buf = b.buf[:0]
		b.readPos = 0
	}
}

// Reset drops all pending data, any half-built message and the key.
func (b *OutBuffer) Reset() {
	b.buf = b.buf[:0]
	b.readPos = 0
	b.CancelMsg()
	b.cipher.setKey(0)
}

func (b *OutBuffer) writable() bool {
	if !b.active {
		if b.err == nil {
			b.err = ErrNoActiveMessage
		}
		return false
	}
	return true
}

func (b *OutBuffer) WriteBool(v bool) {
	if v {
		b.WriteUint8(1)
	} else {
		b.WriteUint8(0)
	}
}

func (b *OutBuffer) WriteUint8(v uint8) {
	if b.writable() {
		b.body = append(b.body, v)
	}
}

func (b *OutBuffer) WriteUint16(v uint16) {
	if b.writable() {
		b.body = binary.LittleEndian.AppendUint16(b.body, v)
	}
}

func (b *OutBuffer) WriteUint32(v uint32) {
	if b.writable() {
		b.body = binary.LittleEndian.AppendUint32(b.body, v)
	}
}

func (b *OutBuffer) WriteUint64(v uint64) {
	if b.writable() {
		b.body = binary.LittleEndian.AppendUint64(b.body, v)
	}
}

func (b *OutBuffer) WriteInt8(v int8)   { b.WriteUint8(uint8(v)) }
func (b *OutBuffer) WriteInt16(v int16) { b.WriteUint16(uint16(v)) }
func (b *OutBuffer) WriteInt32(v int32) { b.WriteUint32(uint32(v)) }
func (b *OutBuffer) WriteInt64(v int64) { b.WriteUint64(uint64(v)) }

func (b *OutBuffer) WriteFloat32(v float32) {
	b.WriteUint32(math.Float32bits(v))
}

func (b *OutBuffer) WriteFloat64(v float64) {
	b.WriteUint64(math.Float64bits(v))
}

// WriteString appends a length-prefixed string (uint32 length + bytes).
func (b *OutBuffer) WriteString(s string) {
	if b.writable() {
		b.body = binary.LittleEndian.AppendUint32(b.body, uint32(len(s)))
		b.body = append(b.body, s...)
	}
}

// WriteBytes appends a length-prefixed byte slice (uint32 length + bytes).
func (b *OutBuffer) WriteBytes(p []byte) {
	if b.writable() {
		b.body = binary.LittleEndian.AppendUint32(b.body, uint32(len(p)))
		b.body = append(b.body, p...)
	}
}

// WriteRaw appends p with no length prefix.
func (b *OutBuffer) WriteRaw(p []byte) {
	if b.writable() {
		b.body = append(b.body, p...)
	}
}
