package claims

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmap_MarkAndQuery(t *testing.T) {
	b, err := NewBitmap(SmallBitmapSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), b.Capacity())

	require.NoError(t, b.MarkClaimed(42))

	claimed, err := b.IsClaimed(42)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Byte 5, bit 2.
	assert.Equal(t, byte(0x04), b.Bytes()[5])

	for _, n := range []uint64{0, 41, 43, 4095} {
		claimed, err := b.IsClaimed(n)
		require.NoError(t, err)
		assert.False(t, claimed, "nonce %d", n)
	}
}

func TestBitmap_MarkIsIdempotent(t *testing.T) {
	b, err := NewBitmap(SmallBitmapSize)
	require.NoError(t, err)

	require.NoError(t, b.MarkClaimed(7))
	require.NoError(t, b.MarkClaimed(7))
	assert.Equal(t, uint64(1), b.ClaimedCount())
}

func TestBitmap_OutOfRange(t *testing.T) {
	b, err := NewBitmap(SmallBitmapSize)
	require.NoError(t, err)

	for _, n := range []uint64{b.Capacity(), b.Capacity() + 1, math.MaxUint64} {
		_, err := b.IsClaimed(n)
		assert.ErrorIs(t, err, ErrNonceOutOfRange)
		assert.ErrorIs(t, b.MarkClaimed(n), ErrNonceOutOfRange)
	}
	assert.Equal(t, uint64(0), b.ClaimedCount())
}

func TestBitmap_BytesIsCopy(t *testing.T) {
	src := make([]byte, 4)
	b := BitmapFromBytes(src)
	require.NoError(t, b.MarkClaimed(0))
	assert.Equal(t, byte(0), src[0], "source must not be aliased")

	out := b.Bytes()
	out[0] = 0
	claimed, err := b.IsClaimed(0)
	require.NoError(t, err)
	assert.True(t, claimed, "returned bytes must not be aliased")
}

func TestNewBitmap_InvalidSize(t *testing.T) {
	_, err := NewBitmap(0)
	assert.Error(t, err)
}

func TestTransferError_Matches(t *testing.T) {
	cause := ErrNonceAlreadyClaimed
	err := error(&TransferError{Cause: cause})
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transfer failed")
}
