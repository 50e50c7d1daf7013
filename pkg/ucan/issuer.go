// pkg/ucan/issuer.go
package ucan

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/did"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/go-ucanto/ucan"
)

// Issuer creates and signs UCAN delegations.
type Issuer struct {
	signer principal.Signer
}

// NewIssuer creates an issuer from an Ed25519 private key.
func NewIssuer(privateKey ed25519.PrivateKey) (*Issuer, error) {
	edSigner, err := signer.FromRaw(privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create ed25519 signer: %w", err)
	}
	return &Issuer{signer: edSigner}, nil
}

// GenerateIssuer creates an issuer with a fresh key.
func GenerateIssuer() (*Issuer, error) {
	s, err := signer.Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate signer: %w", err)
	}
	return &Issuer{signer: s}, nil
}

// Signer returns the underlying principal.
func (i *Issuer) Signer() principal.Signer {
	return i.signer
}

// DID returns the issuer's DID.
func (i *Issuer) DID() string {
	return i.signer.DID().String()
}

// Delegate issues a delegation of capabilities to audienceDID, optionally
// backed by parent proofs. A zero ttl issues a delegation without
// expiration.
func (i *Issuer) Delegate(
	audienceDID string,
	capabilities []CapabilityInfo,
	parentProofs []delegation.Delegation,
	ttl time.Duration,
) (delegation.Delegation, error) {
	audience, err := did.Parse(audienceDID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse audience DID: %w", err)
	}

	goCapabilities := make([]ucan.Capability[ucan.NoCaveats], len(capabilities))
	for j, cap := range capabilities {
		goCapabilities[j] = ucan.NewCapability(
			ucan.Ability(cap.Can),
			ucan.Resource(cap.With),
			ucan.NoCaveats{},
		)
	}

	proofs := make([]delegation.Proof, len(parentProofs))
	for j, proof := range parentProofs {
		proofs[j] = delegation.FromDelegation(proof)
	}

	var dlg delegation.Delegation
	if ttl > 0 {
		exp := ucan.UTCUnixTimestamp(time.Now().Add(ttl).Unix())
		dlg, err = delegation.Delegate(
			i.signer,
			audience,
			goCapabilities,
			delegation.WithExpiration(int(exp)),
			delegation.WithProof(proofs...),
		)
	} else {
		dlg, err = delegation.Delegate(
			i.signer,
			audience,
			goCapabilities,
			delegation.WithNoExpiration(),
			delegation.WithProof(proofs...),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create delegation: %w", err)
	}
	return dlg, nil
}
