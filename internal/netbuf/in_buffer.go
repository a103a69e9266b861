package netbuf

import (
	"github.com/luciancaetano/gamenet"
)

// InBuffer accumulates received bytes and splits them back into messages.
//
// Bytes are stored as they arrive (still ciphered). ReadMsg deciphers one
// whole frame at a time with the key active at that moment, so a key change
// only affects messages read after it.
//
// InBuffer is not safe for concurrent use.
type InBuffer struct {
	buf     []byte
	readPos int

	msg *Reader

	cipher cipher
	hasher Hasher
}

// NewInBuffer returns an InBuffer with the given initial capacity. A nil
// hasher disables debug hash verification.
func NewInBuffer(size int, hasher Hasher) *InBuffer {
	return &InBuffer{
		buf:    make([]byte, 0, size),
		hasher: hasher,
	}
}

// AddData appends received bytes.
func (b *InBuffer) AddData(p []byte) {
	if len(p) == 0 {
		return
	}
	b.compact()
	b.buf = append(b.buf, p...)
}

// Len returns the number of buffered bytes not yet parsed.
func (b *InBuffer) Len() int {
	return len(b.buf) - b.readPos
}

// SetEncryptKey sets the key used to decipher messages read after this call.
func (b *InBuffer) SetEncryptKey(key uint32) {
	b.cipher.setKey(key)
}

// NeedProcess reports whether a complete message is buffered. It also
// reports true for a header declaring an oversized body so that ReadMsg can
// fail the connection instead of waiting forever.
func (b *InBuffer) NeedProcess() bool {
	_, bodyLen, ok := b.peekHeader()
	if !ok {
		return false
	}
	if bodyLen > MaxMessageSize {
		return true
	}
	return b.Len() >= frameSize(bodyLen, b.hasher)
}

func (b *InBuffer) peekHeader() (gamenet.NetMessage, int, bool) {
	if b.Len() < headerSize {
		return 0, 0, false
	}
	var hdr [headerSize]byte
	b.cipher.peek(hdr[:], b.buf[b.readPos:b.readPos+headerSize])
	msg, bodyLen, err := decodeHeader(hdr[:])
	if err != nil {
		return 0, 0, false
	}
	return msg, bodyLen, true
}

// ReadMsg parses the next message and makes its payload active for the Read
// methods. The previous payload must have been consumed completely.
func (b *InBuffer) ReadMsg() (gamenet.NetMessage, error) {
	if b.msg != nil && b.msg.Remaining() > 0 {
		return 0, gamenet.ProtocolError("netbuf.ReadMsg", ErrUnconsumedPayload)
	}
	b.msg = nil

	_, bodyLen, ok := b.peekHeader()
	if !ok {
		return 0, gamenet.ProtocolError("netbuf.ReadMsg", ErrIncompleteMessage)
	}
	if bodyLen > MaxMessageSize {
		return 0, gamenet.ProtocolError("netbuf.ReadMsg", ErrMessageTooLarge)
	}
	size := frameSize(bodyLen, b.hasher)
	if b.Len() < size {
		return 0, gamenet.ProtocolError("netbuf.ReadMsg", ErrIncompleteMessage)
	}

	frame := make([]byte, size)
	copy(frame, b.buf[b.readPos:b.readPos+size])
	b.cipher.apply(frame)
	b.readPos += size
	b.ResetBuf()

	msg, body, err := Decode(frame, b.hasher)
	if err != nil {
		return 0, gamenet.ProtocolError("netbuf.ReadMsg", err)
	}
	b.msg = NewReader(body)
	return msg, nil
}

// EndMsg verifies that the active payload was consumed completely and
// deactivates it.
func (b *InBuffer) EndMsg() error {
	if b.msg == nil {
		return gamenet.ProtocolError("netbuf.EndMsg", ErrNoActiveMessage)
	}
	rest := b.msg.Remaining()
	b.msg = nil
	if rest > 0 {
		return gamenet.ProtocolError("netbuf.EndMsg", ErrUnconsumedPayload)
	}
	return nil
}

// Detach hands the active payload to the caller, who becomes responsible
// for consuming it.
func (b *InBuffer) Detach() *Reader {
	r := b.msg
	b.msg = nil
	if r == nil {
		return NewReader(nil)
	}
	return r
}

// ResetBuf collapses both cursors to zero once everything has been parsed.
func (b *InBuffer) ResetBuf() {
	if b.readPos == len(b.buf) {
		b.buf = b.buf[:0]
		b.readPos = 0
	}
}

// Reset drops every buffered byte, the active payload and the key.
func (b *InBuffer) Reset() {
	b.buf = b.buf[:0]
	b.readPos = 0
	b.msg = nil
	b.cipher.setKey(0)
}

// compact moves unread bytes to the front when more than half of the
// buffer has already been consumed.
func (b *InBuffer) compact() {
	b.ResetBuf()
	if b.readPos > 0 && b.readPos >= cap(b.buf)/2 {
		n := copy(b.buf, b.buf[b.readPos:])
		b.buf = b.buf[:n]
		b.readPos = 0
	}
}

func (b *InBuffer) active() (*Reader, error) {
	if b.msg == nil {
		return nil, gamenet.ProtocolError("netbuf.Read", ErrNoActiveMessage)
	}
	return b.msg, nil
}

func wrapRead(err error) error {
	return gamenet.ProtocolError("netbuf.Read", err)
}

func (b *InBuffer) ReadBool() (bool, error) {
	r, err := b.active()
	if err != nil {
		return false, err
	}
	v, err := r.ReadBool()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadUint8() (uint8, error) {
	r, err := b.active()
	if err != nil {
		return 0, err
	}
	v, err := r.ReadUint8()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadUint16() (uint16, error) {
	r, err := b.active()
	if err != nil {
		return 0, err
	}
	v, err := r.ReadUint16()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadUint32() (uint32, error) {
	r, err := b.active()
	if err != nil {
		return 0, err
	}
	v, err := r.ReadUint32()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadUint64() (uint64, error) {
	r, err := b.active()
	if err != nil {
		return 0, err
	}
	v, err := r.ReadUint64()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadInt8() (int8, error) {
	v, err := b.ReadUint8()
	return int8(v), err
}

func (b *InBuffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

func (b *InBuffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *InBuffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *InBuffer) ReadFloat32() (float32, error) {
	r, err := b.active()
	if err != nil {
		return 0, err
	}
	v, err := r.ReadFloat32()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadFloat64() (float64, error) {
	r, err := b.active()
	if err != nil {
		return 0, err
	}
	v, err := r.ReadFloat64()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadString() (string, error) {
	r, err := b.active()
	if err != nil {
		return "", err
	}
	v, err := r.ReadString()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadBytes() ([]byte, error) {
	r, err := b.active()
	if err != nil {
		return nil, err
	}
	v, err := r.ReadBytes()
	return v, wrapRead(err)
}

func (b *InBuffer) ReadRaw(n int) ([]byte, error) {
	r, err := b.active()
	if err != nil {
		return nil, err
	}
	v, err := r.ReadRaw(n)
	return v, wrapRead(err)
}

// Remaining returns the unread bytes of the active payload.
func (b *InBuffer) Remaining() int {
	if b.msg == nil {
		return 0
	}
	return b.msg.Remaining()
}
