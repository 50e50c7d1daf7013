// Package capabilities defines the public types for claims UCAN capabilities.
package capabilities

import "github.com/relves/tokenclaim/pkg/types"

// Capability ability constants
const (
	AbilityCreate = types.CapabilityCreate
	AbilityClaim  = types.CapabilityClaim
	AbilityStatus = types.CapabilityStatus
	AbilityRevoke = types.CapabilityRevoke
)

// Failure names returned in capability error results.
const (
	FailureUnauthorized        = "Unauthorized"
	FailureNonceAlreadyClaimed = "NonceAlreadyClaimed"
	FailureNonceOutOfRange     = "NonceOutOfRange"
	FailureCollisionOnCreate   = "CollisionOnCreate"
	FailureTransferFailed      = "TransferFailed"
	FailureRegistryNotFound    = "RegistryNotFound"
	FailureInvalidDestination  = "InvalidDestination"
	FailureInvalidCaveats      = "InvalidCaveats"
	FailureDelegationInvalid   = "DelegationInvalid"
	FailureInternal            = "InternalError"
)

// CreateCaveats represents the caveats for claims/create. The invocation
// resource (with) is the authority DID.
type CreateCaveats struct {
	// CampaignID is a decimal uint64
	CampaignID string `json:"campaignId"`
}

// CreateSuccess is the success result for claims/create
type CreateSuccess struct {
	Registry string `json:"registry"`
	Bump     uint8  `json:"bump"`
	Capacity uint64 `json:"capacity"`
}

// ClaimCaveats represents the caveats for claims/claim. Unsigned 64-bit
// values are decimal strings.
type ClaimCaveats struct {
	CampaignID string `json:"campaignId"`
	Nonce      string `json:"nonce"`
	Amount     string `json:"amount"`
	// Mint is the base58 mint address
	Mint     string `json:"mint"`
	Decimals int64  `json:"decimals"`
	// Escrow is the source account; defaults to the registry's associated
	// account for Mint (optional)
	Escrow *string `json:"escrow,omitempty"`
	// Destination is the base58 recipient token account
	Destination string `json:"destination"`
	// Delegation is a base64 UCAN delegation of claims/claim from the
	// authority to the invoker (optional)
	Delegation *string `json:"delegation,omitempty"`
	// Receiver is the base58 recipient wallet; when present Destination
	// must be its associated account for Mint (optional)
	Receiver *string `json:"receiver,omitempty"`
}

// ClaimSuccess is the success result for claims/claim
type ClaimSuccess struct {
	Registry     string `json:"registry"`
	Nonce        string `json:"nonce"`
	Amount       string `json:"amount"`
	Escrow       string `json:"escrow"`
	JournalIndex uint64 `json:"journal_index"`
	EventCID     string `json:"event_cid"`
	JournalRoot  string `json:"journal_root"`
}

// StatusCaveats represents the caveats for claims/status
type StatusCaveats struct {
	CampaignID string `json:"campaignId"`
	Nonce      string `json:"nonce"`
}

// StatusSuccess is the success result for claims/status
type StatusSuccess struct {
	Status string `json:"status"`
}

// RevokeCaveats represents the caveats for claims/revoke
type RevokeCaveats struct {
	// Cid is the CID of the delegation to revoke.
	Cid string `json:"cid"`
}

// RevokeSuccess is the success result for claims/revoke
type RevokeSuccess struct {
	Revoked bool `json:"revoked"`
}

// Failure is the error result shared by all claims capabilities
type Failure struct {
	name    string
	message string
}

func (f Failure) Name() string {
	return f.name
}

func (f Failure) Error() string {
	return f.message
}

// NewFailure creates a new Failure
func NewFailure(name, message string) Failure {
	return Failure{name: name, message: message}
}
