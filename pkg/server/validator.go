package server

import (
	"context"
	"fmt"

	"github.com/storacha/go-ucanto/core/invocation"
)

// ErrCodeOperatorSuspended is returned for invocations issued by a
// suspended operator.
const ErrCodeOperatorSuspended = "OPERATOR_SUSPENDED"

// RequestValidator gates claims invocations before any registry is touched.
type RequestValidator interface {
	// ValidateRequest returns nil to admit the invocation. A *ValidationError
	// is surfaced to the client under its Code.
	ValidateRequest(ctx context.Context, inv invocation.Invocation) error
}

// ValidatorFunc adapts a function to RequestValidator.
type ValidatorFunc func(ctx context.Context, inv invocation.Invocation) error

func (f ValidatorFunc) ValidateRequest(ctx context.Context, inv invocation.Invocation) error {
	return f(ctx, inv)
}

// ValidationError is a rejection with a machine-readable code.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a new validation error.
func NewValidationError(code, message string) *ValidationError {
	return &ValidationError{Code: code, Message: message}
}

// SuspendedOperators rejects invocations whose issuer DID is listed.
type SuspendedOperators map[string]struct{}

// NewSuspendedOperators builds a SuspendedOperators set from DIDs.
func NewSuspendedOperators(dids ...string) SuspendedOperators {
	s := make(SuspendedOperators, len(dids))
	for _, d := range dids {
		if d != "" {
			s[d] = struct{}{}
		}
	}
	return s
}

func (s SuspendedOperators) ValidateRequest(ctx context.Context, inv invocation.Invocation) error {
	issuer := inv.Issuer().DID().String()
	if _, ok := s[issuer]; ok {
		return NewValidationError(ErrCodeOperatorSuspended,
			fmt.Sprintf("operator %s is suspended", issuer))
	}
	return nil
}
