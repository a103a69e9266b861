package netbuf

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/luciancaetano/gamenet"
)

const (
	headerSize     = 8 // type u32 + body length u32
	hashSize       = 4
	MaxMessageSize = 10 * 1024 * 1024 // 10MB max body size
)

var (
	ErrShortBuffer       = errors.New("netbuf: insufficient data in buffer")
	ErrNestedMessage     = errors.New(gamenet.ErrMsgNestedMessage)
	ErrNoActiveMessage   = errors.New(gamenet.ErrMsgNoActiveMessage)
	ErrUnconsumedPayload = errors.New(gamenet.ErrMsgUnconsumedPayload)
	ErrHashMismatch      = errors.New(gamenet.ErrMsgHashMismatch)
	ErrMessageTooLarge   = errors.New(gamenet.ErrMsgMessageTooLarge)
	ErrIncompleteMessage = errors.New("netbuf: no complete message buffered")
)

// Encode appends one plaintext frame to dst:
//
//	[type u32][body length u32][body][xx32 hash u32, only with a hasher]
func Encode(dst []byte, msg gamenet.NetMessage, body []byte, hasher Hasher) ([]byte, error) {
	if len(body) > MaxMessageSize {
		return dst, fmt.Errorf("body size %d exceeds maximum %d bytes: %w", len(body), MaxMessageSize, ErrMessageTooLarge)
	}

	start := len(dst)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(msg))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	dst = append(dst, body...)
	if hasher != nil {
		dst = binary.LittleEndian.AppendUint32(dst, hasher.Sum32(dst[start:]))
	}
	return dst, nil
}

// Decode splits one complete plaintext frame and verifies its hash.
// The body references frame - do not modify it.
func Decode(frame []byte, hasher Hasher) (gamenet.NetMessage, []byte, error) {
	msg, bodyLen, err := decodeHeader(frame)
	if err != nil {
		return 0, nil, err
	}
	if bodyLen > MaxMessageSize {
		return 0, nil, fmt.Errorf("body size %d exceeds maximum %d bytes: %w", bodyLen, MaxMessageSize, ErrMessageTooLarge)
	}
	if len(frame) != frameSize(bodyLen, hasher) {
		return 0, nil, ErrShortBuffer
	}

	body := frame[headerSize : headerSize+bodyLen]
	if hasher != nil {
		want := binary.LittleEndian.Uint32(frame[headerSize+bodyLen:])
		if got := hasher.Sum32(frame[:headerSize+bodyLen]); got != want {
			return 0, nil, fmt.Errorf("%s message: got %08x, want %08x: %w", msg, got, want, ErrHashMismatch)
		}
	}
	return msg, body, nil
}

func decodeHeader(hdr []byte) (gamenet.NetMessage, int, error) {
	if len(hdr) < headerSize {
		return 0, 0, ErrShortBuffer
	}
	msg := gamenet.NetMessage(binary.LittleEndian.Uint32(hdr[0:4]))
	bodyLen := int(binary.LittleEndian.Uint32(hdr[4:8]))
	return msg, bodyLen, nil
}

func frameSize(bodyLen int, hasher Hasher) int {
	if hasher != nil {
		return headerSize + bodyLen + hashSize
	}
	return headerSize + bodyLen
}
