package claims

import (
	"time"

	"github.com/relves/tokenclaim/internal/storage"
	"github.com/relves/tokenclaim/pkg/ledger"
	"github.com/relves/tokenclaim/pkg/types"
)

// SeedPrefix is the first derivation seed of every registry address.
const SeedPrefix = "token_claims"

// Record is a claims registry: one per (authority, campaign).
type Record struct {
	Address    types.Address
	Authority  types.Identity
	CampaignID types.CampaignID
	Bump       uint8
	Bitmap     *Bitmap
	CreatedAt  time.Time
}

func recordFromRegistry(reg *storage.Registry) *Record {
	return &Record{
		Address:    reg.Address,
		Authority:  reg.Authority,
		CampaignID: reg.CampaignID,
		Bump:       reg.Bump,
		Bitmap:     BitmapFromBytes(reg.Bitmap),
		CreatedAt:  reg.CreatedAt,
	}
}

// RegistrySeeds returns the derivation seeds of a registry, without the bump.
func RegistrySeeds(authority types.Identity, campaignID types.CampaignID) [][]byte {
	return [][]byte{[]byte(SeedPrefix), campaignID.LEBytes(), authority.Seed()}
}

// EscrowAuthority lets the engine sign for its registry address. It carries
// the seeds and bump that re-derive the address and no key material.
type EscrowAuthority struct {
	ProgramID  types.Address
	Authority  types.Identity
	CampaignID types.CampaignID
	Bump       uint8
	Address    types.Address
}

// Ensure EscrowAuthority implements ledger.Signer at compile time.
var _ ledger.Signer = (*EscrowAuthority)(nil)

// Seeds returns the full seed list, bump last.
func (e *EscrowAuthority) Seeds() [][]byte {
	return append(RegistrySeeds(e.Authority, e.CampaignID), []byte{e.Bump})
}

// Authorize implements ledger.Signer.
func (e *EscrowAuthority) Authorize([]byte) (ledger.Authorization, error) {
	return ledger.Authorization{
		Owner:     e.Address,
		ProgramID: e.ProgramID,
		Seeds:     e.Seeds(),
	}, nil
}
