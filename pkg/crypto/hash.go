// Package crypto provides hashing and signing primitives for Quasar.
package crypto

import (
	"encoding/binary"
	"hash"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"

	"github.com/quasar-dag/quasar-wallet/pkg/types"
)

// Hash computes a BLAKE3-256 hash of the input data.
func Hash(data []byte) types.Hash {
	return blake3.Sum256(data)
}

// signingHashDomain keys the BLAKE2b hash used for transaction signing.
// Keying separates signing hashes from every other hash domain.
const signingHashDomain = "TransactionSigningHash"

// HashWriter accumulates little-endian encoded fields into a keyed hash.
type HashWriter struct {
	h hash.Hash
}

// NewSigningHashWriter returns a writer for the transaction signing domain.
func NewSigningHashWriter() *HashWriter {
	h, err := blake2b.New256([]byte(signingHashDomain))
	if err != nil {
		// The domain key is a compile-time constant under 64 bytes.
		panic(err)
	}
	return &HashWriter{h: h}
}

// WriteBytes appends raw bytes.
func (w *HashWriter) WriteBytes(b []byte) {
	w.h.Write(b)
}

// WriteUint8 appends a single byte.
func (w *HashWriter) WriteUint8(b byte) {
	w.h.Write([]byte{b})
}

// WriteUint16 appends a little-endian uint16.
func (w *HashWriter) WriteUint16(v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	w.h.Write(buf[:])
}

// WriteUint32 appends a little-endian uint32.
func (w *HashWriter) WriteUint32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.h.Write(buf[:])
}

// WriteUint64 appends a little-endian uint64.
func (w *HashWriter) WriteUint64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.h.Write(buf[:])
}

// WriteLengthPrefixed appends a uint64 length followed by the bytes.
func (w *HashWriter) WriteLengthPrefixed(b []byte) {
	w.WriteUint64(uint64(len(b)))
	w.h.Write(b)
}

// Finalize returns the accumulated hash.
func (w *HashWriter) Finalize() types.Hash {
	var out types.Hash
	copy(out[:], w.h.Sum(nil))
	return out
}
