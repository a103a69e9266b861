package netbuf

import "math/rand/v2"

const cipherTableSize = 64

// cipher is a positional XOR stream. The key expands into a fixed table and
// every ciphered byte advances the table position by one. Setting a key
// restarts the position, so both peers must switch keys at the same message
// boundary.
type cipher struct {
	key   uint32
	table [cipherTableSize]byte
	pos   int
}

func (c *cipher) setKey(key uint32) {
	c.key = key
	c.pos = 0
	if key == 0 {
		return
	}
	// xorshift32 never reaches zero from a non-zero seed.
	x := key
	for i := range c.table {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		c.table[i] = byte(x >> 24)
	}
}

func (c *cipher) enabled() bool {
	return c.key != 0
}

// apply transforms p in place and advances the stream position.
func (c *cipher) apply(p []byte) {
	if c.key == 0 {
		return
	}
	c.pos = c.xor(p, p, c.pos)
}

// peek writes the transform of src into dst without advancing.
func (c *cipher) peek(dst, src []byte) {
	copy(dst, src)
	if c.key == 0 {
		return
	}
	c.xor(dst, dst, c.pos)
}

func (c *cipher) xor(dst, src []byte, pos int) int {
	for i := range src {
		dst[i] = src[i] ^ c.table[pos]
		pos++
		if pos == cipherTableSize {
			pos = 0
		}
	}
	return pos
}

// GenerateEncryptKey returns a fresh non-zero key for a handshake.
func GenerateEncryptKey() uint32 {
	for {
		if key := rand.Uint32(); key != 0 {
			return key
		}
	}
}
