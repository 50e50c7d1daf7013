// pkg/types/address.go
package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressSize is the byte length of an Address.
const AddressSize = 32

// Address identifies a registry record, a ledger account, a mint or a
// program. Its text form is base58.
type Address [AddressSize]byte

// AddressFromBytes copies b into an Address.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressSize {
		return a, fmt.Errorf("invalid address length: got %d, want %d", len(b), AddressSize)
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("failed to decode address %q: %w", s, err)
	}
	return AddressFromBytes(b)
}

func (a Address) String() string {
	return base58.Encode(a[:])
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	return bytes.Clone(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Identity is the DID of a principal, e.g. a campaign authority.
type Identity string

// Seed returns the fixed-width seed form of the identity used in address
// derivation.
func (i Identity) Seed() []byte {
	h := sha256.Sum256([]byte(i))
	return h[:]
}

func (i Identity) String() string {
	return string(i)
}

// CampaignID distinguishes concurrent campaigns under one authority.
type CampaignID uint64

// LEBytes returns the little-endian encoding used as a derivation seed.
func (c CampaignID) LEBytes() []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(c))
	return b[:]
}
