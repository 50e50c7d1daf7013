package ledger

import (
	"crypto/ed25519"
	"fmt"

	"github.com/relves/tokenclaim/pkg/derive"
	"github.com/relves/tokenclaim/pkg/types"
)

// Signer authorizes transfers on behalf of an account owner.
type Signer interface {
	Authorize(msg []byte) (Authorization, error)
}

// Authorization proves the right to act for Owner. Key owners provide a
// Signature. Derived owners provide the ProgramID and Seeds (bump last) that
// re-derive Owner.
type Authorization struct {
	Owner     types.Address
	Signature []byte
	ProgramID types.Address
	Seeds     [][]byte
}

// Derived reports whether the authorization is seed based.
func (a Authorization) Derived() bool {
	return len(a.Seeds) > 0
}

// VerifyAuthorization checks auth against msg. Derived authorizations are
// accepted only for programs in trusted.
func VerifyAuthorization(auth Authorization, msg []byte, trusted map[types.Address]bool) error {
	if auth.Derived() {
		if !trusted[auth.ProgramID] {
			return fmt.Errorf("%w: untrusted program %s", ErrUnauthorizedSigner, auth.ProgramID)
		}
		addr, err := derive.CreateAddress(auth.Seeds, auth.ProgramID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnauthorizedSigner, err)
		}
		if addr != auth.Owner {
			return fmt.Errorf("%w: seeds derive %s, not %s", ErrUnauthorizedSigner, addr, auth.Owner)
		}
		return nil
	}
	if len(auth.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: missing signature", ErrUnauthorizedSigner)
	}
	if !ed25519.Verify(ed25519.PublicKey(auth.Owner[:]), msg, auth.Signature) {
		return fmt.Errorf("%w: bad signature", ErrUnauthorizedSigner)
	}
	return nil
}

// KeySigner signs transfers with an Ed25519 key. Its address is the public
// key.
type KeySigner struct {
	privateKey ed25519.PrivateKey
	address    types.Address
}

// NewKeySigner creates a signer from an Ed25519 private key.
func NewKeySigner(privateKey ed25519.PrivateKey) (*KeySigner, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: got %d, want %d", len(privateKey), ed25519.PrivateKeySize)
	}

	publicKey := privateKey.Public().(ed25519.PublicKey)
	addr, err := types.AddressFromBytes(publicKey)
	if err != nil {
		return nil, err
	}

	return &KeySigner{
		privateKey: privateKey,
		address:    addr,
	}, nil
}

// GenerateKeySigner creates a signer with a fresh key.
func GenerateKeySigner() (*KeySigner, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewKeySigner(priv)
}

// Address returns the owner address controlled by this signer.
func (s *KeySigner) Address() types.Address {
	return s.address
}

// Authorize signs msg.
func (s *KeySigner) Authorize(msg []byte) (Authorization, error) {
	return Authorization{
		Owner:     s.address,
		Signature: ed25519.Sign(s.privateKey, msg),
	}, nil
}
