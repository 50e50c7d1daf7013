// Package ledger defines the token transfer contract the claims engine
// consumes, the signer authorizations it accepts, and associated account
// addressing.
package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/relves/tokenclaim/pkg/derive"
	"github.com/relves/tokenclaim/pkg/types"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDecimalsMismatch   = errors.New("decimals mismatch")
	ErrMintMismatch       = errors.New("account mint mismatch")
	ErrOwnerMismatch      = errors.New("signer does not own source account")
	ErrAccountFrozen      = errors.New("account is frozen")
	ErrAccountNotFound    = errors.New("account not found")
	ErrMintNotFound       = errors.New("mint not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrDuplicateReference = errors.New("transfer reference already used")
	ErrUnauthorizedSigner = errors.New("signer authorization rejected")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrTransferNotFound   = errors.New("transfer not found")
)

// AssociatedProgramID scopes associated token account addresses.
var AssociatedProgramID = derive.ProgramID("associated-token-account")

// Ledger moves tokens between accounts.
type Ledger interface {
	// TransferChecked moves Amount of Mint from From to To. It fails when the
	// source balance is short, Decimals differs from the mint's decimals,
	// either account holds a different mint, the signer does not own the
	// source account, or either account is frozen.
	TransferChecked(ctx context.Context, params TransferParams) error
	// GetTransfer returns the committed transfer recorded under reference,
	// or ErrTransferNotFound.
	GetTransfer(ctx context.Context, reference string) (*Transfer, error)
}

// Transfer is a committed transfer.
type Transfer struct {
	Reference string
	From      types.Address
	To        types.Address
	Mint      types.Address
	Amount    uint64
	CreatedAt time.Time
}

// Mint describes a token type.
type Mint struct {
	Address   types.Address
	Authority types.Address
	Decimals  uint8
	Supply    uint64
}

// Account is a token balance held by Owner for a single Mint.
type Account struct {
	Address types.Address
	Mint    types.Address
	Owner   types.Address
	Amount  uint64
	Frozen  bool
}

// TransferParams describes one transfer.
type TransferParams struct {
	From     types.Address
	To       types.Address
	Mint     types.Address
	Amount   uint64
	Decimals uint8
	Signer   Signer
	// Reference makes the transfer idempotent. A non-empty reference can be
	// used by at most one committed transfer.
	Reference string
}

// Message returns the canonical bytes a signer authorizes for this transfer.
func (p TransferParams) Message() []byte {
	msg := make([]byte, 0, 20+3*types.AddressSize+9+len(p.Reference))
	msg = append(msg, "tokenclaim/transfer\n"...)
	msg = append(msg, p.From[:]...)
	msg = append(msg, p.To[:]...)
	msg = append(msg, p.Mint[:]...)
	msg = binary.BigEndian.AppendUint64(msg, p.Amount)
	msg = append(msg, p.Decimals)
	msg = append(msg, p.Reference...)
	return msg
}

// Matches reports whether t moved the same tokens between the same accounts
// as p.
func (p TransferParams) Matches(t *Transfer) bool {
	return t != nil &&
		t.From == p.From &&
		t.To == p.To &&
		t.Mint == p.Mint &&
		t.Amount == p.Amount
}

// AssociatedAccount returns the canonical account address for owner's
// holdings of mint.
func AssociatedAccount(owner, mint types.Address) (types.Address, error) {
	addr, _, err := derive.FindAddress([][]byte{owner[:], mint[:]}, AssociatedProgramID)
	return addr, err
}
