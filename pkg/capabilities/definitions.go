// Package capabilities defines the public definitions for claims UCAN capabilities.
package capabilities

import (
	ipldprime "github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	ipldschema "github.com/ipld/go-ipld-prime/schema"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/schema"
	"github.com/storacha/go-ucanto/validator"
)

func loadType(src, name string) ipldschema.Type {
	ts, err := ipldprime.LoadSchemaBytes([]byte(src))
	if err != nil {
		panic(err)
	}
	return ts.TypeByName(name)
}

// ToIPLD converts CreateCaveats to an IPLD node
func (c CreateCaveats) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(1)
	ma.AssembleKey().AssignString("campaignId")
	ma.AssembleValue().AssignString(c.CampaignID)
	ma.Finish()
	return nb.Build(), nil
}

func createCaveatsType() ipldschema.Type {
	return loadType(`
		type CreateCaveats struct {
			campaignId String
		}
	`, "CreateCaveats")
}

// ToIPLD converts CreateSuccess to an IPLD node
func (s CreateSuccess) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(3)
	ma.AssembleKey().AssignString("registry")
	ma.AssembleValue().AssignString(s.Registry)
	ma.AssembleKey().AssignString("bump")
	ma.AssembleValue().AssignInt(int64(s.Bump))
	ma.AssembleKey().AssignString("capacity")
	ma.AssembleValue().AssignInt(int64(s.Capacity))
	ma.Finish()
	return nb.Build(), nil
}

// ToIPLD converts ClaimCaveats to an IPLD node
func (c ClaimCaveats) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	fieldCount := 6
	if c.Escrow != nil && *c.Escrow != "" {
		fieldCount++
	}
	if c.Delegation != nil && *c.Delegation != "" {
		fieldCount++
	}
	if c.Receiver != nil && *c.Receiver != "" {
		fieldCount++
	}
	ma, _ := nb.BeginMap(int64(fieldCount))
	ma.AssembleKey().AssignString("campaignId")
	ma.AssembleValue().AssignString(c.CampaignID)
	ma.AssembleKey().AssignString("nonce")
	ma.AssembleValue().AssignString(c.Nonce)
	ma.AssembleKey().AssignString("amount")
	ma.AssembleValue().AssignString(c.Amount)
	ma.AssembleKey().AssignString("mint")
	ma.AssembleValue().AssignString(c.Mint)
	ma.AssembleKey().AssignString("decimals")
	ma.AssembleValue().AssignInt(c.Decimals)
	if c.Escrow != nil && *c.Escrow != "" {
		ma.AssembleKey().AssignString("escrow")
		ma.AssembleValue().AssignString(*c.Escrow)
	}
	ma.AssembleKey().AssignString("destination")
	ma.AssembleValue().AssignString(c.Destination)
	if c.Delegation != nil && *c.Delegation != "" {
		ma.AssembleKey().AssignString("delegation")
		ma.AssembleValue().AssignString(*c.Delegation)
	}
	if c.Receiver != nil && *c.Receiver != "" {
		ma.AssembleKey().AssignString("receiver")
		ma.AssembleValue().AssignString(*c.Receiver)
	}
	ma.Finish()
	return nb.Build(), nil
}

func claimCaveatsType() ipldschema.Type {
	return loadType(`
		type ClaimCaveats struct {
			campaignId String
			nonce String
			amount String
			mint String
			decimals Int
			escrow optional String
			destination String
			delegation optional String
			receiver optional String
		}
	`, "ClaimCaveats")
}

// ToIPLD converts ClaimSuccess to an IPLD node
func (s ClaimSuccess) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(7)
	ma.AssembleKey().AssignString("registry")
	ma.AssembleValue().AssignString(s.Registry)
	ma.AssembleKey().AssignString("nonce")
	ma.AssembleValue().AssignString(s.Nonce)
	ma.AssembleKey().AssignString("amount")
	ma.AssembleValue().AssignString(s.Amount)
	ma.AssembleKey().AssignString("escrow")
	ma.AssembleValue().AssignString(s.Escrow)
	ma.AssembleKey().AssignString("journal_index")
	ma.AssembleValue().AssignInt(int64(s.JournalIndex))
	ma.AssembleKey().AssignString("event_cid")
	ma.AssembleValue().AssignString(s.EventCID)
	ma.AssembleKey().AssignString("journal_root")
	ma.AssembleValue().AssignString(s.JournalRoot)
	ma.Finish()
	return nb.Build(), nil
}

// ToIPLD converts StatusCaveats to an IPLD node
func (c StatusCaveats) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(2)
	ma.AssembleKey().AssignString("campaignId")
	ma.AssembleValue().AssignString(c.CampaignID)
	ma.AssembleKey().AssignString("nonce")
	ma.AssembleValue().AssignString(c.Nonce)
	ma.Finish()
	return nb.Build(), nil
}

func statusCaveatsType() ipldschema.Type {
	return loadType(`
		type StatusCaveats struct {
			campaignId String
			nonce String
		}
	`, "StatusCaveats")
}

// ToIPLD converts StatusSuccess to an IPLD node
func (s StatusSuccess) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(1)
	ma.AssembleKey().AssignString("status")
	ma.AssembleValue().AssignString(s.Status)
	ma.Finish()
	return nb.Build(), nil
}

// ToIPLD converts RevokeCaveats to an IPLD node
func (c RevokeCaveats) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(1)
	ma.AssembleKey().AssignString("cid")
	ma.AssembleValue().AssignString(c.Cid)
	ma.Finish()
	return nb.Build(), nil
}

func revokeCaveatsType() ipldschema.Type {
	return loadType(`
		type RevokeCaveats struct {
			cid String
		}
	`, "RevokeCaveats")
}

// ToIPLD converts RevokeSuccess to an IPLD node
func (s RevokeSuccess) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(1)
	ma.AssembleKey().AssignString("revoked")
	ma.AssembleValue().AssignBool(s.Revoked)
	ma.Finish()
	return nb.Build(), nil
}

func (f Failure) ToIPLD() (ipld.Node, error) {
	np := basicnode.Prototype.Any
	nb := np.NewBuilder()
	ma, _ := nb.BeginMap(2)
	ma.AssembleKey().AssignString("name")
	ma.AssembleValue().AssignString(f.name)
	ma.AssembleKey().AssignString("message")
	ma.AssembleValue().AssignString(f.message)
	ma.Finish()
	return nb.Build(), nil
}

// Capability parsers
var (
	// ClaimsCreate is the capability parser for claims/create
	ClaimsCreate = validator.NewCapability(
		AbilityCreate,
		schema.DIDString(),
		schema.Struct[CreateCaveats](createCaveatsType(), nil),
		nil,
	)

	// ClaimsClaim is the capability parser for claims/claim
	ClaimsClaim = validator.NewCapability(
		AbilityClaim,
		schema.DIDString(),
		schema.Struct[ClaimCaveats](claimCaveatsType(), nil),
		nil,
	)

	// ClaimsStatus is the capability parser for claims/status
	ClaimsStatus = validator.NewCapability(
		AbilityStatus,
		schema.DIDString(),
		schema.Struct[StatusCaveats](statusCaveatsType(), nil),
		nil,
	)

	// ClaimsRevoke is the capability parser for claims/revoke
	ClaimsRevoke = validator.NewCapability(
		AbilityRevoke,
		schema.DIDString(),
		schema.Struct[RevokeCaveats](revokeCaveatsType(), nil),
		nil,
	)
)
