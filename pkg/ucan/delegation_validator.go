// Package ucan provides UCAN delegation validation utilities.
package ucan

import (
	"fmt"
	"time"

	"github.com/storacha/go-ucanto/core/dag/blockstore"
	"github.com/storacha/go-ucanto/core/delegation"

	"github.com/relves/tokenclaim/pkg/types"
)

// DelegationError represents an error with delegation validation.
type DelegationError struct {
	Code    string
	Message string
}

func (e *DelegationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewDelegationError creates a new delegation error.
func NewDelegationError(code, message string) *DelegationError {
	return &DelegationError{Code: code, Message: message}
}

// Error codes for delegation validation
const (
	ErrCodeDelegationExpired           = "DELEGATION_EXPIRED"
	ErrCodeDelegationWrongAudience     = "DELEGATION_WRONG_AUDIENCE"
	ErrCodeDelegationMissingCapability = "DELEGATION_MISSING_CAPABILITY"
	ErrCodeDelegationParseError        = "DELEGATION_PARSE_ERROR"
	ErrCodeInvocationNotAuthorized     = "INVOCATION_NOT_AUTHORIZED"
	ErrCodeDelegationNoAuthority       = "DELEGATION_NO_AUTHORITY"
	ErrCodeDelegationRevoked           = "DELEGATION_REVOKED"
)

// ParseDelegation parses a base64-encoded UCAN delegation.
func ParseDelegation(encoded string) (delegation.Delegation, error) {
	dlg, err := delegation.Parse(encoded)
	if err != nil {
		return nil, NewDelegationError(ErrCodeDelegationParseError,
			fmt.Sprintf("failed to parse delegation: %v", err))
	}
	return dlg, nil
}

// FormatDelegation encodes a delegation to base64 string.
func FormatDelegation(dlg delegation.Delegation) (string, error) {
	return delegation.Format(dlg)
}

// ValidateClaimDelegation checks that dlg lets invokerDID claim against the
// registries of authorityDID: it must be addressed to the invoker, unexpired,
// grant claims/claim (or a parent ability) on the authority DID, and trace
// back to the authority.
func ValidateClaimDelegation(dlg delegation.Delegation, invokerDID, authorityDID string) error {
	audience := dlg.Audience().DID().String()
	if audience != invokerDID {
		return NewDelegationError(ErrCodeDelegationWrongAudience,
			fmt.Sprintf("delegation audience is %s, expected invoker %s", audience, invokerDID))
	}

	if exp := dlg.Expiration(); exp != nil {
		expTime := time.Unix(int64(*exp), 0)
		if time.Now().After(expTime) {
			return NewDelegationError(ErrCodeDelegationExpired,
				fmt.Sprintf("delegation expired at %s", expTime))
		}
	}

	granted := false
	for _, cap := range dlg.Capabilities() {
		if cap.With() == authorityDID && CapabilityAllows(cap.Can(), types.CapabilityClaim) {
			granted = true
			break
		}
	}
	if !granted {
		return NewDelegationError(ErrCodeDelegationMissingCapability,
			fmt.Sprintf("delegation does not grant %s on %s", types.CapabilityClaim, authorityDID))
	}

	return ValidateProofChain(dlg, authorityDID)
}

// ValidateInvocationAuthority checks that the invocation was issued by the
// audience of the delegation it carries, so a leaked delegation cannot be
// replayed by someone else.
func ValidateInvocationAuthority(invocationIssuerDID string, dlg delegation.Delegation) error {
	audienceDID := dlg.Audience().DID().String()
	if invocationIssuerDID == audienceDID {
		return nil
	}

	return NewDelegationError(ErrCodeInvocationNotAuthorized,
		fmt.Sprintf("invocation issuer %s is not the delegation audience %s",
			invocationIssuerDID, audienceDID))
}

// ValidateProofChain validates that the delegation issuer has authority over
// the registries of authorityDID.
//
// Valid scenarios:
// 1. Direct: the authority delegates to an operator (issuer == authorityDID)
// 2. Chain: authority → agent → operator (proof chain traces to authorityDID)
func ValidateProofChain(dlg delegation.Delegation, authorityDID string) error {
	issuerDID := dlg.Issuer().DID().String()

	if issuerDID == authorityDID {
		return nil
	}

	if hasAuthorityFrom(dlg, authorityDID) {
		return nil
	}

	return NewDelegationError(ErrCodeDelegationNoAuthority,
		fmt.Sprintf("delegation issuer %s has no authority from %s (no valid proof chain)",
			issuerDID, authorityDID))
}

// hasAuthorityFrom checks if the delegation has a proof chain back to authorityDID.
func hasAuthorityFrom(dlg delegation.Delegation, authorityDID string) bool {
	proofLinks := dlg.Proofs()
	if len(proofLinks) == 0 {
		return false
	}

	bs, err := blockstore.NewBlockReader(blockstore.WithBlocksIterator(dlg.Blocks()))
	if err != nil {
		return false
	}

	proofs := delegation.NewProofsView(proofLinks, bs)
	for _, proof := range proofs {
		proofDlg, ok := proof.Delegation()
		if !ok {
			continue
		}

		// The proof must grant authority to the current delegation's issuer
		if proofDlg.Audience().DID().String() != dlg.Issuer().DID().String() {
			continue
		}

		if proofDlg.Issuer().DID().String() == authorityDID {
			return true
		}

		if hasAuthorityFrom(proofDlg, authorityDID) {
			return true
		}
	}

	return false
}

// ChainCIDs returns the CIDs of dlg and every delegation in its proof chain.
func ChainCIDs(dlg delegation.Delegation) ([]string, error) {
	bs, err := blockstore.NewBlockReader(blockstore.WithBlocksIterator(dlg.Blocks()))
	if err != nil {
		return nil, fmt.Errorf("failed to create block reader: %w", err)
	}
	var cids []string
	collectChain(dlg, bs, &cids)
	return cids, nil
}

func collectChain(dlg delegation.Delegation, bs blockstore.BlockReader, cids *[]string) {
	*cids = append(*cids, dlg.Link().String())
	for _, proof := range delegation.NewProofsView(dlg.Proofs(), bs) {
		if proofDlg, ok := proof.Delegation(); ok {
			collectChain(proofDlg, bs, cids)
		}
	}
}

// DelegationInfo contains information about a delegation for logging/debugging.
type DelegationInfo struct {
	Issuer       string           `json:"issuer"`
	Audience     string           `json:"audience"`
	Capabilities []CapabilityInfo `json:"capabilities"`
	Expiration   *time.Time       `json:"expiration,omitempty"`
}

// GetDelegationInfo extracts information from a delegation for logging.
func GetDelegationInfo(dlg delegation.Delegation) DelegationInfo {
	caps := dlg.Capabilities()
	info := DelegationInfo{
		Issuer:       dlg.Issuer().DID().String(),
		Audience:     dlg.Audience().DID().String(),
		Capabilities: make([]CapabilityInfo, len(caps)),
	}
	for i, cap := range caps {
		info.Capabilities[i] = CapabilityInfo{Can: cap.Can(), With: cap.With()}
	}

	if exp := dlg.Expiration(); exp != nil {
		t := time.Unix(int64(*exp), 0)
		info.Expiration = &t
	}

	return info
}
