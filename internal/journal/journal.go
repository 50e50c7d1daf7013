// Package journal keeps an append-only RFC 6962 Merkle log of registry
// events. Only the compact range is persisted, which is enough to append and
// to compute the root.
package journal

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/transparency-dev/merkle/compact"
	"github.com/transparency-dev/merkle/rfc6962"
)

const hashSize = 32

var rangeFactory = &compact.RangeFactory{Hash: rfc6962.DefaultHasher.HashChildren}

// Journal is the in-memory compact range of a log.
type Journal struct {
	rng *compact.Range
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{rng: rangeFactory.NewEmptyRange(0)}
}

// Restore rebuilds a journal of the given size from its compact range hashes.
func Restore(size uint64, hashes [][]byte) (*Journal, error) {
	rng, err := rangeFactory.NewRange(0, size, hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to restore journal of size %d: %w", size, err)
	}
	return &Journal{rng: rng}, nil
}

// Append adds data as the next leaf and returns its index and leaf hash.
func (j *Journal) Append(data []byte) (uint64, []byte, error) {
	index := j.rng.End()
	leaf := rfc6962.DefaultHasher.HashLeaf(data)
	if err := j.rng.Append(leaf, nil); err != nil {
		return 0, nil, fmt.Errorf("failed to append leaf %d: %w", index, err)
	}
	return index, leaf, nil
}

// Size returns the number of leaves.
func (j *Journal) Size() uint64 {
	return j.rng.End()
}

// Root returns the Merkle root over all leaves.
func (j *Journal) Root() ([]byte, error) {
	if j.rng.End() == 0 {
		return rfc6962.DefaultHasher.EmptyRoot(), nil
	}
	return j.rng.GetRootHash(nil)
}

// Hashes returns a copy of the compact range hashes.
func (j *Journal) Hashes() [][]byte {
	src := j.rng.Hashes()
	out := make([][]byte, len(src))
	for i, h := range src {
		out[i] = append([]byte(nil), h...)
	}
	return out
}

// EncodeHashes concatenates compact range hashes for storage.
func EncodeHashes(hashes [][]byte) []byte {
	out := make([]byte, 0, len(hashes)*hashSize)
	for _, h := range hashes {
		out = append(out, h...)
	}
	return out
}

// DecodeHashes splits stored compact range hashes.
func DecodeHashes(data []byte) ([][]byte, error) {
	if len(data)%hashSize != 0 {
		return nil, fmt.Errorf("invalid hashes length %d", len(data))
	}
	out := make([][]byte, 0, len(data)/hashSize)
	for i := 0; i < len(data); i += hashSize {
		out = append(out, append([]byte(nil), data[i:i+hashSize]...))
	}
	return out, nil
}

// ComputeCID returns the CIDv1 (raw codec, SHA2-256) of an event payload.
func ComputeCID(data []byte) (cid.Cid, error) {
	hash, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(uint64(multicodec.Raw), hash), nil
}
