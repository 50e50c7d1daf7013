package claims

import (
	"fmt"
	"math/bits"
)

const (
	// SmallBitmapSize is the compact bitmap size in bytes (4096 nonces).
	SmallBitmapSize = 512
	// DefaultBitmapSize is the default bitmap size in bytes (8192 nonces).
	DefaultBitmapSize = 1024
)

// Bitmap records which nonces of a registry have been claimed. Nonce n maps
// to bit n%8 of byte n/8.
type Bitmap struct {
	bits []byte
}

// NewBitmap returns a zeroed bitmap of size bytes.
func NewBitmap(size int) (*Bitmap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid bitmap size %d", size)
	}
	return &Bitmap{bits: make([]byte, size)}, nil
}

// BitmapFromBytes wraps a copy of b.
func BitmapFromBytes(b []byte) *Bitmap {
	return &Bitmap{bits: append([]byte(nil), b...)}
}

// Capacity returns the number of addressable nonces.
func (b *Bitmap) Capacity() uint64 {
	return uint64(len(b.bits)) * 8
}

// IsClaimed reports whether nonce has been claimed.
func (b *Bitmap) IsClaimed(nonce uint64) (bool, error) {
	if nonce >= b.Capacity() {
		return false, fmt.Errorf("%w: nonce %d, capacity %d", ErrNonceOutOfRange, nonce, b.Capacity())
	}
	return b.bits[nonce/8]&(1<<(nonce%8)) != 0, nil
}

// MarkClaimed sets the bit for nonce. Setting an already set bit is a no-op.
func (b *Bitmap) MarkClaimed(nonce uint64) error {
	if nonce >= b.Capacity() {
		return fmt.Errorf("%w: nonce %d, capacity %d", ErrNonceOutOfRange, nonce, b.Capacity())
	}
	b.bits[nonce/8] |= 1 << (nonce % 8)
	return nil
}

// ClaimedCount returns the number of claimed nonces.
func (b *Bitmap) ClaimedCount() uint64 {
	var n uint64
	for _, v := range b.bits {
		n += uint64(bits.OnesCount8(v))
	}
	return n
}

// Bytes returns a copy of the raw bitmap.
func (b *Bitmap) Bytes() []byte {
	return append([]byte(nil), b.bits...)
}
