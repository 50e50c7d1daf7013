package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/invocation"
	"github.com/storacha/go-ucanto/principal"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
	"github.com/storacha/go-ucanto/ucan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relves/tokenclaim/internal/storage/sqlite"
	"github.com/relves/tokenclaim/pkg/capabilities"
	"github.com/relves/tokenclaim/pkg/claims"
	"github.com/relves/tokenclaim/pkg/derive"
	"github.com/relves/tokenclaim/pkg/ledger"
	"github.com/relves/tokenclaim/pkg/types"
	ucanPkg "github.com/relves/tokenclaim/pkg/ucan"
)

type handlerFixture struct {
	h         *handlers
	ledger    *sqlite.LedgerStore
	authority principal.Signer
	operator  principal.Signer
	mint      types.Address
	recipient types.Address
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	program := derive.ProgramID("tokenclaim-test")

	stores := sqlite.NewStoreManager(dir)
	t.Cleanup(func() { stores.CloseAll() })

	ledgerStore, err := sqlite.OpenLedgerStore(dir, program)
	require.NoError(t, err)
	t.Cleanup(func() { ledgerStore.Close() })

	svc, err := claims.NewService(claims.Config{
		Stores:     stores,
		Ledger:     ledgerStore,
		ProgramID:  program,
		BitmapSize: claims.SmallBitmapSize,
	})
	require.NoError(t, err)

	authority, err := signer.Generate()
	require.NoError(t, err)
	operator, err := signer.Generate()
	require.NoError(t, err)

	mintAuth, err := ledger.GenerateKeySigner()
	require.NoError(t, err)
	mint := types.Address{0x4D}
	require.NoError(t, ledgerStore.CreateMint(ctx, mint, mintAuth.Address(), 6))

	holder, err := ledger.GenerateKeySigner()
	require.NoError(t, err)
	recipient, err := ledgerStore.OpenAccount(ctx, holder.Address(), mint)
	require.NoError(t, err)

	f := &handlerFixture{
		h:         &handlers{svc: svc},
		ledger:    ledgerStore,
		authority: authority,
		operator:  operator,
		mint:      mint,
		recipient: recipient,
	}

	// Campaign 1 is created and funded with 1000 base units
	_, err = f.h.create(ctx, f.authorityDID(), f.authorityDID(), capabilities.CreateCaveats{CampaignID: "1"})
	require.NoError(t, err)
	registry, _, err := svc.RegistryAddress(types.Identity(f.authorityDID()), 1)
	require.NoError(t, err)
	escrow, err := ledgerStore.OpenAccount(ctx, registry, mint)
	require.NoError(t, err)
	require.NoError(t, ledgerStore.MintTo(ctx, mint, escrow, 1000, mintAuth))

	return f
}

func (f *handlerFixture) authorityDID() string { return f.authority.DID().String() }
func (f *handlerFixture) operatorDID() string  { return f.operator.DID().String() }

func (f *handlerFixture) caveats(nonce, amount uint64) capabilities.ClaimCaveats {
	return capabilities.ClaimCaveats{
		CampaignID:  "1",
		Nonce:       strconv.FormatUint(nonce, 10),
		Amount:      strconv.FormatUint(amount, 10),
		Mint:        f.mint.String(),
		Decimals:    6,
		Destination: f.recipient.String(),
	}
}

// delegate issues a claims/claim delegation on the fixture authority. A
// non-zero exp sets the expiration.
func (f *handlerFixture) delegate(t *testing.T, issuer principal.Signer, audience principal.Signer, exp int64) string {
	t.Helper()
	caps := []ucan.Capability[ucan.NoCaveats]{
		ucan.NewCapability(types.CapabilityClaim, f.authorityDID(), ucan.NoCaveats{}),
	}
	var (
		dlg delegation.Delegation
		err error
	)
	if exp != 0 {
		dlg, err = delegation.Delegate(issuer, audience.DID(), caps, delegation.WithExpiration(int(exp)))
	} else {
		dlg, err = delegation.Delegate(issuer, audience.DID(), caps, delegation.WithNoExpiration())
	}
	require.NoError(t, err)
	encoded, err := ucanPkg.FormatDelegation(dlg)
	require.NoError(t, err)
	return encoded
}

func failureName(err error) string {
	return failureFor(err).Name()
}

func TestCreate(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	t.Run("authority creates a registry", func(t *testing.T) {
		ok, err := f.h.create(ctx, f.authorityDID(), f.authorityDID(), capabilities.CreateCaveats{CampaignID: "2"})
		require.NoError(t, err)
		assert.NotEmpty(t, ok.Registry)
		assert.Equal(t, uint64(claims.SmallBitmapSize*8), ok.Capacity)
	})

	t.Run("second create collides", func(t *testing.T) {
		_, err := f.h.create(ctx, f.authorityDID(), f.authorityDID(), capabilities.CreateCaveats{CampaignID: "2"})
		assert.Equal(t, capabilities.FailureCollisionOnCreate, failureName(err))
	})

	t.Run("only the authority may create", func(t *testing.T) {
		_, err := f.h.create(ctx, f.authorityDID(), f.operatorDID(), capabilities.CreateCaveats{CampaignID: "3"})
		assert.Equal(t, capabilities.FailureUnauthorized, failureName(err))
	})

	t.Run("malformed campaign id", func(t *testing.T) {
		_, err := f.h.create(ctx, f.authorityDID(), f.authorityDID(), capabilities.CreateCaveats{CampaignID: "-1"})
		assert.Equal(t, capabilities.FailureInvalidCaveats, failureName(err))
	})
}

func TestClaim(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	t.Run("authority claims directly", func(t *testing.T) {
		ok, err := f.h.claim(ctx, f.authorityDID(), f.authorityDID(), f.caveats(5, 100))
		require.NoError(t, err)
		assert.Equal(t, "5", ok.Nonce)
		assert.Equal(t, "100", ok.Amount)
		assert.Equal(t, uint64(1), ok.JournalIndex)
		assert.NotEmpty(t, ok.EventCID)
		assert.Len(t, ok.JournalRoot, 64)

		st, err := f.h.status(ctx, f.authorityDID(), capabilities.StatusCaveats{CampaignID: "1", Nonce: "5"})
		require.NoError(t, err)
		assert.Equal(t, types.Claimed.String(), st.Status)
	})

	t.Run("replay is rejected", func(t *testing.T) {
		_, err := f.h.claim(ctx, f.authorityDID(), f.authorityDID(), f.caveats(5, 100))
		assert.Equal(t, capabilities.FailureNonceAlreadyClaimed, failureName(err))
	})

	t.Run("operator without delegation is unauthorized", func(t *testing.T) {
		_, err := f.h.claim(ctx, f.authorityDID(), f.operatorDID(), f.caveats(6, 100))
		assert.Equal(t, capabilities.FailureUnauthorized, failureName(err))
	})

	t.Run("operator with delegation claims as authority", func(t *testing.T) {
		nb := f.caveats(6, 100)
		encoded := f.delegate(t, f.authority, f.operator, 0)
		nb.Delegation = &encoded

		_, err := f.h.claim(ctx, f.authorityDID(), f.operatorDID(), nb)
		require.NoError(t, err)
	})

	t.Run("expired delegation is rejected", func(t *testing.T) {
		nb := f.caveats(7, 100)
		encoded := f.delegate(t, f.authority, f.operator, time.Now().Add(-time.Hour).Unix())
		nb.Delegation = &encoded

		var logs bytes.Buffer
		prev := slog.Default()
		slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
		defer slog.SetDefault(prev)

		_, err := f.h.claim(ctx, f.authorityDID(), f.operatorDID(), nb)
		assert.Equal(t, capabilities.FailureDelegationInvalid, failureName(err))
		assert.Contains(t, logs.String(), "operator delegation rejected")
		assert.Contains(t, logs.String(), ucanPkg.ErrCodeDelegationExpired)
		assert.Contains(t, logs.String(), f.operatorDID())
	})

	t.Run("delegation from a stranger is rejected", func(t *testing.T) {
		eve, err := signer.Generate()
		require.NoError(t, err)

		nb := f.caveats(7, 100)
		encoded := f.delegate(t, eve, f.operator, 0)
		nb.Delegation = &encoded

		_, err = f.h.claim(ctx, f.authorityDID(), f.operatorDID(), nb)
		assert.Equal(t, capabilities.FailureDelegationInvalid, failureName(err))
	})

	t.Run("revoked delegation is rejected", func(t *testing.T) {
		encoded := f.delegate(t, f.authority, f.operator, 0)
		dlg, err := ucanPkg.ParseDelegation(encoded)
		require.NoError(t, err)

		_, err = f.h.revoke(ctx, f.authorityDID(), f.authorityDID(), capabilities.RevokeCaveats{Cid: dlg.Link().String()})
		require.NoError(t, err)

		nb := f.caveats(8, 100)
		nb.Delegation = &encoded
		_, err = f.h.claim(ctx, f.authorityDID(), f.operatorDID(), nb)
		var dlgErr *ucanPkg.DelegationError
		require.True(t, errors.As(err, &dlgErr))
		assert.Equal(t, ucanPkg.ErrCodeDelegationRevoked, dlgErr.Code)

		st, err := f.h.status(ctx, f.authorityDID(), capabilities.StatusCaveats{CampaignID: "1", Nonce: "8"})
		require.NoError(t, err)
		assert.Equal(t, types.Unclaimed.String(), st.Status)
	})

	t.Run("nonce out of range", func(t *testing.T) {
		_, err := f.h.claim(ctx, f.authorityDID(), f.authorityDID(), f.caveats(claims.SmallBitmapSize*8, 1))
		assert.Equal(t, capabilities.FailureNonceOutOfRange, failureName(err))
	})

	t.Run("insufficient escrow", func(t *testing.T) {
		_, err := f.h.claim(ctx, f.authorityDID(), f.authorityDID(), f.caveats(9, 1_000_000))
		assert.Equal(t, capabilities.FailureTransferFailed, failureName(err))

		st, err := f.h.status(ctx, f.authorityDID(), capabilities.StatusCaveats{CampaignID: "1", Nonce: "9"})
		require.NoError(t, err)
		assert.Equal(t, types.Unclaimed.String(), st.Status)
	})

	t.Run("unknown campaign", func(t *testing.T) {
		nb := f.caveats(1, 1)
		nb.CampaignID = "99"
		_, err := f.h.claim(ctx, f.authorityDID(), f.authorityDID(), nb)
		assert.Equal(t, capabilities.FailureRegistryNotFound, failureName(err))
	})

	t.Run("destination must belong to the receiver", func(t *testing.T) {
		nb := f.caveats(11, 1)
		receiver := types.Address{0x77}.String()
		nb.Receiver = &receiver

		_, err := f.h.claim(ctx, f.authorityDID(), f.authorityDID(), nb)
		assert.Equal(t, capabilities.FailureInvalidDestination, failureName(err))
	})

	t.Run("malformed caveats", func(t *testing.T) {
		cases := map[string]func(*capabilities.ClaimCaveats){
			"nonce":       func(nb *capabilities.ClaimCaveats) { nb.Nonce = "x" },
			"amount":      func(nb *capabilities.ClaimCaveats) { nb.Amount = "18446744073709551616" },
			"decimals":    func(nb *capabilities.ClaimCaveats) { nb.Decimals = 256 },
			"mint":        func(nb *capabilities.ClaimCaveats) { nb.Mint = "not-base58!" },
			"destination": func(nb *capabilities.ClaimCaveats) { nb.Destination = "" },
		}
		for name, mutate := range cases {
			t.Run(name, func(t *testing.T) {
				nb := f.caveats(10, 1)
				mutate(&nb)
				_, err := f.h.claim(ctx, f.authorityDID(), f.authorityDID(), nb)
				assert.Equal(t, capabilities.FailureInvalidCaveats, failureName(err))
			})
		}
	})
}

func TestRevoke(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	t.Run("cid is required", func(t *testing.T) {
		_, err := f.h.revoke(ctx, f.authorityDID(), f.authorityDID(), capabilities.RevokeCaveats{})
		assert.Equal(t, capabilities.FailureInvalidCaveats, failureName(err))
	})

	t.Run("only the authority may revoke", func(t *testing.T) {
		_, err := f.h.revoke(ctx, f.authorityDID(), f.operatorDID(), capabilities.RevokeCaveats{Cid: "bafyTest"})
		assert.Equal(t, capabilities.FailureUnauthorized, failureName(err))
	})

	t.Run("authority revokes", func(t *testing.T) {
		ok, err := f.h.revoke(ctx, f.authorityDID(), f.authorityDID(), capabilities.RevokeCaveats{Cid: "bafyTest"})
		require.NoError(t, err)
		assert.True(t, ok.Revoked)

		revoked, err := f.h.svc.IsRevoked(ctx, types.Identity(f.authorityDID()), "bafyTest")
		require.NoError(t, err)
		assert.True(t, revoked)
	})
}

func TestStatus_Unclaimed(t *testing.T) {
	f := newHandlerFixture(t)

	st, err := f.h.status(context.Background(), f.authorityDID(), capabilities.StatusCaveats{CampaignID: "1", Nonce: "0"})
	require.NoError(t, err)
	assert.Equal(t, types.Unclaimed.String(), st.Status)
}

func TestFailureFor_Default(t *testing.T) {
	assert.Equal(t, capabilities.FailureInternal, failureName(errors.New("boom")))
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	t.Run("no validator", func(t *testing.T) {
		h := &handlers{}
		assert.Nil(t, h.validate(ctx, nil))
	})

	t.Run("structured rejection", func(t *testing.T) {
		h := &handlers{validator: ValidatorFunc(func(context.Context, invocation.Invocation) error {
			return NewValidationError(ErrCodeOperatorSuspended, "operator suspended")
		})}
		f := h.validate(ctx, nil)
		require.NotNil(t, f)
		assert.Equal(t, ErrCodeOperatorSuspended, f.Name())
		assert.Equal(t, "operator suspended", f.Error())
	})

	t.Run("plain rejection", func(t *testing.T) {
		h := &handlers{validator: ValidatorFunc(func(context.Context, invocation.Invocation) error {
			return errors.New("rate limited")
		})}
		f := h.validate(ctx, nil)
		require.NotNil(t, f)
		assert.Equal(t, "VALIDATION_ERROR", f.Name())
	})

	t.Run("accepted", func(t *testing.T) {
		h := &handlers{validator: ValidatorFunc(func(context.Context, invocation.Invocation) error {
			return nil
		})}
		assert.Nil(t, h.validate(ctx, nil))
	})
}

func TestSuspendedOperators(t *testing.T) {
	ctx := context.Background()
	f := newHandlerFixture(t)
	v := NewSuspendedOperators(f.operator.DID().String(), "")

	invoke := func(issuer principal.Signer) invocation.Invocation {
		inv, err := invocation.Invoke(issuer, f.authority, ucan.NewCapability(
			capabilities.AbilityStatus,
			f.authorityDID(),
			ucan.NoCaveats{},
		))
		require.NoError(t, err)
		return inv
	}

	t.Run("suspended operator is rejected", func(t *testing.T) {
		err := v.ValidateRequest(ctx, invoke(f.operator))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, ErrCodeOperatorSuspended, vErr.Code)
		assert.Contains(t, vErr.Message, f.operator.DID().String())
	})

	t.Run("other issuers are admitted", func(t *testing.T) {
		require.NoError(t, v.ValidateRequest(ctx, invoke(f.authority)))
	})

	t.Run("empty entries are ignored", func(t *testing.T) {
		assert.Len(t, v, 1)
	})
}
