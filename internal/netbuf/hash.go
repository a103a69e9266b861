package netbuf

import "github.com/cespare/xxhash/v2"

// Hasher computes the debug checksum stamped after every message when debug
// hashes are enabled. Both peers must use the same implementation.
type Hasher interface {
	Sum32(p []byte) uint32
}

// HasherFunc adapts a function to Hasher.
type HasherFunc func(p []byte) uint32

func (f HasherFunc) Sum32(p []byte) uint32 {
	return f(p)
}

// HashXX32 is the pinned default: the low 32 bits of xxHash64.
var HashXX32 Hasher = HasherFunc(func(p []byte) uint32 {
	return uint32(xxhash.Sum64(p))
})

// DebugHasher returns HashXX32 when enabled and nil otherwise.
func DebugHasher(enabled bool) Hasher {
	if enabled {
		return HashXX32
	}
	return nil
}
