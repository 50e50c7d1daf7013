package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/storacha/go-ucanto/core/dag/blockstore"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/core/receipt/fx"
	"github.com/storacha/go-ucanto/core/result"
	"github.com/storacha/go-ucanto/server"
	"github.com/storacha/go-ucanto/ucan"

	"github.com/relves/tokenclaim/pkg/capabilities"
	"github.com/relves/tokenclaim/pkg/claims"
	"github.com/relves/tokenclaim/pkg/types"
	ucanPkg "github.com/relves/tokenclaim/pkg/ucan"
)

type handlers struct {
	svc       *claims.Service
	validator RequestValidator
}

// validate runs the configured RequestValidator, if any.
func (h *handlers) validate(ctx context.Context, inv invocation.Invocation) *capabilities.Failure {
	if h.validator == nil {
		return nil
	}
	err := h.validator.ValidateRequest(ctx, inv)
	if err == nil {
		return nil
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		f := capabilities.NewFailure(vErr.Code, vErr.Message)
		return &f
	}
	f := capabilities.NewFailure("VALIDATION_ERROR", err.Error())
	return &f
}

// createHandler returns a handler function for claims/create capability
func (h *handlers) createHandler() server.HandlerFunc[capabilities.CreateCaveats, capabilities.CreateSuccess, capabilities.Failure] {
	return func(
		ctx context.Context,
		cap ucan.Capability[capabilities.CreateCaveats],
		inv invocation.Invocation,
		ictx server.InvocationContext,
	) (result.Result[capabilities.CreateSuccess, capabilities.Failure], fx.Effects, error) {
		if f := h.validate(ctx, inv); f != nil {
			return result.Error[capabilities.CreateSuccess](*f), nil, nil
		}

		ok, err := h.create(ctx, cap.With(), inv.Issuer().DID().String(), cap.Nb())
		if err != nil {
			return result.Error[capabilities.CreateSuccess](failureFor(err)), nil, nil
		}
		return result.Ok[capabilities.CreateSuccess, capabilities.Failure](ok), nil, nil
	}
}

// create provisions a registry. Only the authority itself may create its
// registries.
func (h *handlers) create(ctx context.Context, authorityDID, invokerDID string, nb capabilities.CreateCaveats) (capabilities.CreateSuccess, error) {
	if invokerDID != authorityDID {
		return capabilities.CreateSuccess{}, fmt.Errorf("%w: %s may not create registries for %s",
			claims.ErrUnauthorized, invokerDID, authorityDID)
	}
	campaignID, err := parseU64("campaignId", nb.CampaignID)
	if err != nil {
		return capabilities.CreateSuccess{}, err
	}

	rec, err := h.svc.CreateRegistry(ctx, types.Identity(authorityDID), types.CampaignID(campaignID))
	if err != nil {
		return capabilities.CreateSuccess{}, err
	}
	return capabilities.CreateSuccess{
		Registry: rec.Address.String(),
		Bump:     rec.Bump,
		Capacity: rec.Bitmap.Capacity(),
	}, nil
}

// claimHandler returns a handler function for claims/claim capability
func (h *handlers) claimHandler() server.HandlerFunc[capabilities.ClaimCaveats, capabilities.ClaimSuccess, capabilities.Failure] {
	return func(
		ctx context.Context,
		cap ucan.Capability[capabilities.ClaimCaveats],
		inv invocation.Invocation,
		ictx server.InvocationContext,
	) (result.Result[capabilities.ClaimSuccess, capabilities.Failure], fx.Effects, error) {
		if f := h.validate(ctx, inv); f != nil {
			return result.Error[capabilities.ClaimSuccess](*f), nil, nil
		}

		authority := types.Identity(cap.With())
		revokedCID, err := h.checkRevocations(ctx, inv, authority)
		if err != nil {
			return result.Error[capabilities.ClaimSuccess](failureFor(err)), nil, nil
		}
		if revokedCID != "" {
			return result.Error[capabilities.ClaimSuccess](capabilities.NewFailure(
				capabilities.FailureDelegationInvalid,
				fmt.Sprintf("delegation %s has been revoked", revokedCID),
			)), nil, nil
		}

		ok, err := h.claim(ctx, cap.With(), inv.Issuer().DID().String(), cap.Nb())
		if err != nil {
			return result.Error[capabilities.ClaimSuccess](failureFor(err)), nil, nil
		}
		return result.Ok[capabilities.ClaimSuccess, capabilities.Failure](ok), nil, nil
	}
}

// claim redeems one nonce on behalf of invokerDID.
func (h *handlers) claim(ctx context.Context, authorityDID, invokerDID string, nb capabilities.ClaimCaveats) (capabilities.ClaimSuccess, error) {
	invoker, err := h.resolveInvoker(ctx, authorityDID, invokerDID, nb.Delegation)
	if err != nil {
		return capabilities.ClaimSuccess{}, err
	}
	req, err := claimRequest(authorityDID, invoker, nb)
	if err != nil {
		return capabilities.ClaimSuccess{}, err
	}

	receipt, err := h.svc.Claim(ctx, req)
	if err != nil {
		return capabilities.ClaimSuccess{}, err
	}
	return capabilities.ClaimSuccess{
		Registry:     receipt.Registry.String(),
		Nonce:        strconv.FormatUint(receipt.Nonce, 10),
		Amount:       strconv.FormatUint(receipt.Amount, 10),
		Escrow:       receipt.EscrowAccount.String(),
		JournalIndex: receipt.JournalIndex,
		EventCID:     receipt.EventCID,
		JournalRoot:  hex.EncodeToString(receipt.JournalRoot),
	}, nil
}

// resolveInvoker returns the identity a claim is made as. Without a
// delegation that is the invocation issuer. With one, the delegation must
// grant claims/claim from the authority to the issuer and nothing in its
// chain may be revoked, in which case the claim is made as the authority.
func (h *handlers) resolveInvoker(ctx context.Context, authorityDID, invokerDID string, encoded *string) (types.Identity, error) {
	if encoded == nil || *encoded == "" {
		return types.Identity(invokerDID), nil
	}

	dlg, err := ucanPkg.ParseDelegation(*encoded)
	if err != nil {
		return "", err
	}
	if err := h.checkClaimDelegation(ctx, dlg, authorityDID, invokerDID); err != nil {
		slog.Debug("operator delegation rejected",
			"authority", authorityDID,
			"invoker", invokerDID,
			"delegation", ucanPkg.GetDelegationInfo(dlg),
			"error", err)
		return "", err
	}
	return types.Identity(authorityDID), nil
}

func (h *handlers) checkClaimDelegation(ctx context.Context, dlg delegation.Delegation, authorityDID, invokerDID string) error {
	if err := ucanPkg.ValidateInvocationAuthority(invokerDID, dlg); err != nil {
		return err
	}
	if err := ucanPkg.ValidateClaimDelegation(dlg, invokerDID, authorityDID); err != nil {
		return err
	}

	chain, err := ucanPkg.ChainCIDs(dlg)
	if err != nil {
		return ucanPkg.NewDelegationError(ucanPkg.ErrCodeDelegationParseError, err.Error())
	}
	for _, c := range chain {
		revoked, err := h.svc.IsRevoked(ctx, types.Identity(authorityDID), c)
		if err != nil {
			return fmt.Errorf("failed to check if delegation is revoked: %w", err)
		}
		if revoked {
			return ucanPkg.NewDelegationError(ucanPkg.ErrCodeDelegationRevoked,
				fmt.Sprintf("delegation %s has been revoked", c))
		}
	}
	return nil
}

func claimRequest(authorityDID string, invoker types.Identity, nb capabilities.ClaimCaveats) (claims.ClaimRequest, error) {
	campaignID, err := parseU64("campaignId", nb.CampaignID)
	if err != nil {
		return claims.ClaimRequest{}, err
	}
	nonce, err := parseU64("nonce", nb.Nonce)
	if err != nil {
		return claims.ClaimRequest{}, err
	}
	amount, err := parseU64("amount", nb.Amount)
	if err != nil {
		return claims.ClaimRequest{}, err
	}
	if nb.Decimals < 0 || nb.Decimals > math.MaxUint8 {
		return claims.ClaimRequest{}, &caveatError{field: "decimals", msg: fmt.Sprintf("%d out of range", nb.Decimals)}
	}
	mint, err := parseAddress("mint", nb.Mint)
	if err != nil {
		return claims.ClaimRequest{}, err
	}
	destination, err := parseAddress("destination", nb.Destination)
	if err != nil {
		return claims.ClaimRequest{}, err
	}
	var escrow types.Address
	if nb.Escrow != nil && *nb.Escrow != "" {
		if escrow, err = parseAddress("escrow", *nb.Escrow); err != nil {
			return claims.ClaimRequest{}, err
		}
	}
	var receiver types.Address
	if nb.Receiver != nil && *nb.Receiver != "" {
		if receiver, err = parseAddress("receiver", *nb.Receiver); err != nil {
			return claims.ClaimRequest{}, err
		}
	}

	return claims.ClaimRequest{
		Invoker:            invoker,
		Authority:          types.Identity(authorityDID),
		CampaignID:         types.CampaignID(campaignID),
		Nonce:              nonce,
		Amount:             amount,
		Mint:               mint,
		Decimals:           uint8(nb.Decimals),
		EscrowAccount:      escrow,
		DestinationAccount: destination,
		Receiver:           receiver,
	}, nil
}

// statusHandler returns a handler function for claims/status capability
func (h *handlers) statusHandler() server.HandlerFunc[capabilities.StatusCaveats, capabilities.StatusSuccess, capabilities.Failure] {
	return func(
		ctx context.Context,
		cap ucan.Capability[capabilities.StatusCaveats],
		inv invocation.Invocation,
		ictx server.InvocationContext,
	) (result.Result[capabilities.StatusSuccess, capabilities.Failure], fx.Effects, error) {
		if f := h.validate(ctx, inv); f != nil {
			return result.Error[capabilities.StatusSuccess](*f), nil, nil
		}

		ok, err := h.status(ctx, cap.With(), cap.Nb())
		if err != nil {
			return result.Error[capabilities.StatusSuccess](failureFor(err)), nil, nil
		}
		return result.Ok[capabilities.StatusSuccess, capabilities.Failure](ok), nil, nil
	}
}

func (h *handlers) status(ctx context.Context, authorityDID string, nb capabilities.StatusCaveats) (capabilities.StatusSuccess, error) {
	campaignID, err := parseU64("campaignId", nb.CampaignID)
	if err != nil {
		return capabilities.StatusSuccess{}, err
	}
	nonce, err := parseU64("nonce", nb.Nonce)
	if err != nil {
		return capabilities.StatusSuccess{}, err
	}
	st, err := h.svc.Status(ctx, types.Identity(authorityDID), types.CampaignID(campaignID), nonce)
	if err != nil {
		return capabilities.StatusSuccess{}, err
	}
	return capabilities.StatusSuccess{Status: st.String()}, nil
}

// revokeHandler returns a handler function for claims/revoke capability
func (h *handlers) revokeHandler() server.HandlerFunc[capabilities.RevokeCaveats, capabilities.RevokeSuccess, capabilities.Failure] {
	return func(
		ctx context.Context,
		cap ucan.Capability[capabilities.RevokeCaveats],
		inv invocation.Invocation,
		ictx server.InvocationContext,
	) (result.Result[capabilities.RevokeSuccess, capabilities.Failure], fx.Effects, error) {
		if f := h.validate(ctx, inv); f != nil {
			return result.Error[capabilities.RevokeSuccess](*f), nil, nil
		}

		ok, err := h.revoke(ctx, cap.With(), inv.Issuer().DID().String(), cap.Nb())
		if err != nil {
			return result.Error[capabilities.RevokeSuccess](failureFor(err)), nil, nil
		}
		return result.Ok[capabilities.RevokeSuccess, capabilities.Failure](ok), nil, nil
	}
}

// revoke records a revoked delegation CID. Only the authority may revoke
// delegations made against its registries.
func (h *handlers) revoke(ctx context.Context, authorityDID, invokerDID string, nb capabilities.RevokeCaveats) (capabilities.RevokeSuccess, error) {
	if nb.Cid == "" {
		return capabilities.RevokeSuccess{}, &caveatError{field: "cid", msg: "required"}
	}
	if invokerDID != authorityDID {
		return capabilities.RevokeSuccess{}, fmt.Errorf("%w: %s may not revoke delegations of %s",
			claims.ErrUnauthorized, invokerDID, authorityDID)
	}
	if err := h.svc.Revoke(ctx, types.Identity(authorityDID), nb.Cid); err != nil {
		return capabilities.RevokeSuccess{}, err
	}
	return capabilities.RevokeSuccess{Revoked: true}, nil
}

// checkDelegationRevoked recursively checks if a delegation or any in its
// proof chain is revoked by authority.
func (h *handlers) checkDelegationRevoked(
	ctx context.Context,
	authority types.Identity,
	dlg delegation.Delegation,
	bs blockstore.BlockReader,
) (string, error) {
	delegationCID := dlg.Link().String()
	isRevoked, err := h.svc.IsRevoked(ctx, authority, delegationCID)
	if err != nil {
		return "", fmt.Errorf("failed to check if delegation is revoked: %w", err)
	}
	if isRevoked {
		return delegationCID, nil
	}

	proofs := delegation.NewProofsView(dlg.Proofs(), bs)
	for _, proof := range proofs {
		if proofDlg, ok := proof.Delegation(); ok {
			if revokedCID, err := h.checkDelegationRevoked(ctx, authority, proofDlg, bs); err != nil {
				return "", err
			} else if revokedCID != "" {
				return revokedCID, nil
			}
		}
	}

	return "", nil
}

// checkRevocations checks if any delegation in the invocation's own proof
// chain is revoked. Returns the CID of the revoked delegation if found.
func (h *handlers) checkRevocations(
	ctx context.Context,
	inv invocation.Invocation,
	authority types.Identity,
) (string, error) {
	proofLinks := inv.Proofs()
	if len(proofLinks) == 0 {
		return "", nil
	}

	bs, err := blockstore.NewBlockReader(blockstore.WithBlocksIterator(inv.Blocks()))
	if err != nil {
		return "", fmt.Errorf("failed to create block reader: %w", err)
	}

	proofs := delegation.NewProofsView(proofLinks, bs)
	for _, proof := range proofs {
		if proofDlg, ok := proof.Delegation(); ok {
			if revokedCID, err := h.checkDelegationRevoked(ctx, authority, proofDlg, bs); err != nil {
				return "", err
			} else if revokedCID != "" {
				return revokedCID, nil
			}
		}
	}

	return "", nil
}

// caveatError reports a malformed caveat field.
type caveatError struct {
	field string
	msg   string
}

func (e *caveatError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.field, e.msg)
}

func parseU64(field, s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, &caveatError{field: field, msg: fmt.Sprintf("%q is not an unsigned 64-bit integer", s)}
	}
	return v, nil
}

func parseAddress(field, s string) (types.Address, error) {
	a, err := types.ParseAddress(s)
	if err != nil {
		return types.Address{}, &caveatError{field: field, msg: err.Error()}
	}
	return a, nil
}

// failureFor maps a handler error to the failure returned to the client.
func failureFor(err error) capabilities.Failure {
	var (
		cErr   *caveatError
		dlgErr *ucanPkg.DelegationError
	)
	switch {
	case errors.As(err, &cErr):
		return capabilities.NewFailure(capabilities.FailureInvalidCaveats, err.Error())
	case errors.As(err, &dlgErr):
		return capabilities.NewFailure(capabilities.FailureDelegationInvalid, err.Error())
	case errors.Is(err, claims.ErrUnauthorized):
		return capabilities.NewFailure(capabilities.FailureUnauthorized, err.Error())
	case errors.Is(err, claims.ErrNonceAlreadyClaimed):
		return capabilities.NewFailure(capabilities.FailureNonceAlreadyClaimed, err.Error())
	case errors.Is(err, claims.ErrNonceOutOfRange):
		return capabilities.NewFailure(capabilities.FailureNonceOutOfRange, err.Error())
	case errors.Is(err, claims.ErrCollisionOnCreate):
		return capabilities.NewFailure(capabilities.FailureCollisionOnCreate, err.Error())
	case errors.Is(err, claims.ErrTransferFailed):
		return capabilities.NewFailure(capabilities.FailureTransferFailed, err.Error())
	case errors.Is(err, claims.ErrInvalidDestination):
		return capabilities.NewFailure(capabilities.FailureInvalidDestination, err.Error())
	case errors.Is(err, claims.ErrRegistryNotFound):
		return capabilities.NewFailure(capabilities.FailureRegistryNotFound, err.Error())
	default:
		return capabilities.NewFailure(capabilities.FailureInternal, err.Error())
	}
}
