package claims

import "errors"

var (
	ErrUnauthorized        = errors.New("invoker is not the registry authority")
	ErrNonceAlreadyClaimed = errors.New("nonce already claimed")
	ErrNonceOutOfRange     = errors.New("nonce out of range")
	ErrCollisionOnCreate   = errors.New("registry already exists")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrRegistryNotFound    = errors.New("registry not found")
	ErrInvalidDestination  = errors.New("destination is not the receiver's associated account")
)

// TransferError reports a ledger failure during a claim. It matches both
// ErrTransferFailed and the ledger cause.
type TransferError struct {
	Cause error
}

func (e *TransferError) Error() string {
	return "transfer failed: " + e.Cause.Error()
}

func (e *TransferError) Unwrap() []error {
	return []error{ErrTransferFailed, e.Cause}
}
