// Package derive computes program-scoped addresses that have no private key.
//
// A derived address is the SHA-256 of its seeds, the owning program ID and a
// fixed marker. Only hashes that do not decode to an ed25519 curve point are
// accepted, so no signing key can exist for the result and only the program
// that knows the seeds can act for it.
package derive

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"github.com/relves/tokenclaim/pkg/types"
)

const (
	// MaxSeeds is the maximum number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLen is the maximum length of a single seed.
	MaxSeedLen = 32

	marker = "ProgramDerivedAddress"
)

var (
	ErrMaxSeedLengthExceeded = errors.New("derive: seed length exceeded")
	ErrTooManySeeds          = errors.New("derive: too many seeds")
	ErrInvalidSeeds          = errors.New("derive: seeds produce an on-curve address")
	ErrNoViableBump          = errors.New("derive: unable to find a viable bump")
)

// ProgramID returns the program identity for a deployment seed.
func ProgramID(seed string) types.Address {
	return types.Address(sha256.Sum256([]byte(seed)))
}

// CreateAddress hashes seeds with programID and returns the address if it
// lies off the ed25519 curve.
func CreateAddress(seeds [][]byte, programID types.Address) (types.Address, error) {
	if len(seeds) > MaxSeeds {
		return types.Address{}, ErrTooManySeeds
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Address{}, fmt.Errorf("%w: %d bytes", ErrMaxSeedLengthExceeded, len(seed))
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(marker))

	var addr types.Address
	copy(addr[:], h.Sum(nil))
	if IsOnCurve(addr[:]) {
		return types.Address{}, ErrInvalidSeeds
	}
	return addr, nil
}

// FindAddress searches bumps from 255 down to 0 and returns the first
// off-curve address together with the bump that produced it.
func FindAddress(seeds [][]byte, programID types.Address) (types.Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return types.Address{}, 0, err
		}
	}
	return types.Address{}, 0, ErrNoViableBump
}

// IsOnCurve reports whether b is the encoding of a valid ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
