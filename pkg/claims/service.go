// Package claims implements one-time token claims against pre-funded
// campaign escrows.
//
// Each (authority, campaign) pair owns a registry record at a derived
// address. The record's bitmap tracks which nonces have been redeemed, and
// the same derived address owns the escrow token account, so only this
// engine can move escrowed tokens and only through Claim.
package claims

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/relves/tokenclaim/internal/journal"
	"github.com/relves/tokenclaim/internal/storage"
	"github.com/relves/tokenclaim/pkg/derive"
	"github.com/relves/tokenclaim/pkg/ledger"
	"github.com/relves/tokenclaim/pkg/types"
)

const defaultAddressCacheSize = 4096

// Config holds the dependencies of a Service.
type Config struct {
	Stores    storage.StoreProvider
	Ledger    ledger.Ledger
	ProgramID types.Address
	// BitmapSize is the bitmap length in bytes for new registries.
	BitmapSize       int
	AddressCacheSize int
	Logger           *slog.Logger
}

type registryKey struct {
	authority  types.Identity
	campaignID types.CampaignID
}

type derivedAddress struct {
	address types.Address
	bump    uint8
}

// Service creates registries, authorizes claims and answers status queries.
type Service struct {
	stores     storage.StoreProvider
	ledger     ledger.Ledger
	programID  types.Address
	bitmapSize int
	addresses  *lru.Cache[registryKey, derivedAddress]
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Stores == nil {
		return nil, errors.New("claims: store provider is required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("claims: ledger is required")
	}
	if cfg.ProgramID.IsZero() {
		return nil, errors.New("claims: program ID is required")
	}
	if cfg.BitmapSize == 0 {
		cfg.BitmapSize = DefaultBitmapSize
	}
	if cfg.BitmapSize != SmallBitmapSize && cfg.BitmapSize != DefaultBitmapSize {
		return nil, fmt.Errorf("claims: bitmap size must be %d or %d, got %d", SmallBitmapSize, DefaultBitmapSize, cfg.BitmapSize)
	}
	if cfg.AddressCacheSize <= 0 {
		cfg.AddressCacheSize = defaultAddressCacheSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := lru.New[registryKey, derivedAddress](cfg.AddressCacheSize)
	if err != nil {
		return nil, fmt.Errorf("claims: address cache: %w", err)
	}

	return &Service{
		stores:     cfg.Stores,
		ledger:     cfg.Ledger,
		programID:  cfg.ProgramID,
		bitmapSize: cfg.BitmapSize,
		addresses:  cache,
		logger:     logger,
	}, nil
}

// ProgramID returns the program identity scoping all registry addresses.
func (s *Service) ProgramID() types.Address {
	return s.programID
}

// RegistryAddress returns the derived address and bump of a registry.
func (s *Service) RegistryAddress(authority types.Identity, campaignID types.CampaignID) (types.Address, uint8, error) {
	key := registryKey{authority: authority, campaignID: campaignID}
	if d, ok := s.addresses.Get(key); ok {
		return d.address, d.bump, nil
	}

	addr, bump, err := derive.FindAddress(RegistrySeeds(authority, campaignID), s.programID)
	if err != nil {
		return types.Address{}, 0, fmt.Errorf("derive registry address: %w", err)
	}
	s.addresses.Add(key, derivedAddress{address: addr, bump: bump})
	return addr, bump, nil
}

// EscrowAuthority returns the signer for a registry's escrow.
func (s *Service) EscrowAuthority(authority types.Identity, campaignID types.CampaignID) (*EscrowAuthority, error) {
	addr, bump, err := s.RegistryAddress(authority, campaignID)
	if err != nil {
		return nil, err
	}
	return &EscrowAuthority{
		ProgramID:  s.programID,
		Authority:  authority,
		CampaignID: campaignID,
		Bump:       bump,
		Address:    addr,
	}, nil
}

// EscrowAccount returns the token account the campaign must fund with mint.
func (s *Service) EscrowAccount(authority types.Identity, campaignID types.CampaignID, mint types.Address) (types.Address, error) {
	addr, _, err := s.RegistryAddress(authority, campaignID)
	if err != nil {
		return types.Address{}, err
	}
	return ledger.AssociatedAccount(addr, mint)
}

// CreateRegistry provisions the registry for (authority, campaignID) with
// every nonce unclaimed. It fails with ErrCollisionOnCreate if the registry
// already exists, leaving the existing record untouched.
func (s *Service) CreateRegistry(ctx context.Context, authority types.Identity, campaignID types.CampaignID) (*Record, error) {
	if authority == "" {
		return nil, fmt.Errorf("%w: empty authority", ErrUnauthorized)
	}
	addr, bump, err := s.RegistryAddress(authority, campaignID)
	if err != nil {
		return nil, err
	}
	store, err := s.stores.GetRegistryStore(authority)
	if err != nil {
		return nil, fmt.Errorf("failed to get registry store: %w", err)
	}

	bitmap, err := NewBitmap(s.bitmapSize)
	if err != nil {
		return nil, err
	}
	reg := &storage.Registry{
		Address:    addr,
		Authority:  authority,
		CampaignID: campaignID,
		Bump:       bump,
		Bitmap:     bitmap.Bytes(),
		CreatedAt:  time.Now().UTC(),
	}

	err = store.WithTx(ctx, func(tx storage.RegistryTx) error {
		if err := tx.InsertRegistry(ctx, reg); err != nil {
			if errors.Is(err, storage.ErrAlreadyExists) {
				return fmt.Errorf("%w: %s", ErrCollisionOnCreate, addr)
			}
			return fmt.Errorf("failed to insert registry: %w", err)
		}
		_, err := s.appendEvent(ctx, tx, addr, types.RegistryCreatedEvent{
			Authority:  authority,
			CampaignID: campaignID,
			Registry:   addr,
		})
		return err
	})
	if err != nil {
		s.logger.Debug("create registry failed", "authority", authority, "campaign", uint64(campaignID), "error", err)
		return nil, err
	}

	s.logger.Info("registry created",
		"authority", authority,
		"campaign", uint64(campaignID),
		"registry", addr.String(),
		"capacity", bitmap.Capacity())
	return recordFromRegistry(reg), nil
}

// GetRegistry returns the registry record for (authority, campaignID).
func (s *Service) GetRegistry(ctx context.Context, authority types.Identity, campaignID types.CampaignID) (*Record, error) {
	addr, _, err := s.RegistryAddress(authority, campaignID)
	if err != nil {
		return nil, err
	}
	store, err := s.stores.GetRegistryStore(authority)
	if err != nil {
		return nil, fmt.Errorf("failed to get registry store: %w", err)
	}
	reg, err := store.GetRegistry(ctx, addr)
	if err != nil {
		return nil, registryErr(err, addr)
	}
	return recordFromRegistry(reg), nil
}

// ClaimRequest is a request to redeem one nonce.
type ClaimRequest struct {
	// Invoker is the identity submitting the claim.
	Invoker    types.Identity
	Authority  types.Identity
	CampaignID types.CampaignID
	Nonce      uint64
	Amount     uint64
	Mint       types.Address
	Decimals   uint8
	// EscrowAccount defaults to the registry's associated account for Mint.
	EscrowAccount      types.Address
	DestinationAccount types.Address
	// Receiver, when set, must own DestinationAccount as its associated
	// account for Mint.
	Receiver types.Address
}

// ClaimReceipt describes a committed claim.
type ClaimReceipt struct {
	Registry      types.Address
	Nonce         uint64
	Amount        uint64
	EscrowAccount types.Address
	JournalIndex  uint64
	EventCID      string
	JournalRoot   []byte
	// Reconciled is set when the transfer had already been committed by an
	// earlier attempt whose registry update was lost.
	Reconciled bool
}

// Claim redeems req.Nonce and transfers req.Amount out of escrow.
//
// The bit is staged and the transfer issued inside one registry
// transaction. If the transfer fails the transaction rolls back and the
// nonce stays unclaimed. Once the ledger may have committed, cancellation of
// ctx no longer aborts the registry commit. A retry whose transfer was
// already committed under the same reference, with the same accounts, mint
// and amount, marks the nonce claimed without moving tokens again.
func (s *Service) Claim(ctx context.Context, req ClaimRequest) (*ClaimReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	escrow, err := s.EscrowAuthority(req.Authority, req.CampaignID)
	if err != nil {
		return nil, err
	}
	escrowAccount := req.EscrowAccount
	if escrowAccount.IsZero() {
		escrowAccount, err = ledger.AssociatedAccount(escrow.Address, req.Mint)
		if err != nil {
			return nil, err
		}
	}
	if !req.Receiver.IsZero() {
		want, err := ledger.AssociatedAccount(req.Receiver, req.Mint)
		if err != nil {
			return nil, err
		}
		if req.DestinationAccount != want {
			return nil, fmt.Errorf("%w: %s is not the associated account of %s",
				ErrInvalidDestination, req.DestinationAccount, req.Receiver)
		}
	}
	store, err := s.stores.GetRegistryStore(req.Authority)
	if err != nil {
		return nil, fmt.Errorf("failed to get registry store: %w", err)
	}

	txCtx := context.WithoutCancel(ctx)
	var receipt *ClaimReceipt
	err = store.WithTx(txCtx, func(tx storage.RegistryTx) error {
		reg, err := tx.GetRegistry(txCtx, escrow.Address)
		if err != nil {
			return registryErr(err, escrow.Address)
		}
		if req.Invoker != reg.Authority {
			return ErrUnauthorized
		}

		bitmap := BitmapFromBytes(reg.Bitmap)
		claimed, err := bitmap.IsClaimed(req.Nonce)
		if err != nil {
			return err
		}
		if claimed {
			return fmt.Errorf("%w: %d", ErrNonceAlreadyClaimed, req.Nonce)
		}
		if err := bitmap.MarkClaimed(req.Nonce); err != nil {
			return err
		}
		if err := tx.SetBitmap(txCtx, reg.Address, bitmap.Bytes()); err != nil {
			return fmt.Errorf("failed to store bitmap: %w", err)
		}

		appended, err := s.appendEvent(txCtx, tx, reg.Address, types.TokenClaimedEvent{
			Authority:   reg.Authority,
			CampaignID:  reg.CampaignID,
			Registry:    reg.Address,
			Mint:        req.Mint,
			Nonce:       req.Nonce,
			Amount:      req.Amount,
			Destination: req.DestinationAccount,
		})
		if err != nil {
			return err
		}

		params := ledger.TransferParams{
			From:      escrowAccount,
			To:        req.DestinationAccount,
			Mint:      req.Mint,
			Amount:    req.Amount,
			Decimals:  req.Decimals,
			Signer:    escrow,
			Reference: TransferReference(reg.Address, req.Nonce),
		}
		reconciled, err := s.transfer(ctx, txCtx, params)
		if err != nil {
			return err
		}

		receipt = &ClaimReceipt{
			Registry:      reg.Address,
			Nonce:         req.Nonce,
			Amount:        req.Amount,
			EscrowAccount: escrowAccount,
			JournalIndex:  appended.index,
			EventCID:      appended.cid,
			JournalRoot:   appended.root,
			Reconciled:    reconciled,
		}
		return nil
	})
	if err != nil {
		s.logger.Debug("claim rejected",
			"authority", req.Authority,
			"campaign", uint64(req.CampaignID),
			"nonce", req.Nonce,
			"error", err)
		return nil, err
	}

	s.logger.Info("token claimed",
		"authority", req.Authority,
		"campaign", uint64(req.CampaignID),
		"nonce", req.Nonce,
		"amount", req.Amount,
		"mint", req.Mint.String(),
		"destination", req.DestinationAccount.String(),
		"reconciled", receipt.Reconciled)
	return receipt, nil
}

// transfer issues the claim transfer. A duplicate reference whose stored
// transfer matches params counts as paid and reports reconciled.
func (s *Service) transfer(ctx, txCtx context.Context, params ledger.TransferParams) (bool, error) {
	err := s.ledger.TransferChecked(ctx, params)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ledger.ErrDuplicateReference) {
		return false, &TransferError{Cause: err}
	}

	prior, lookupErr := s.ledger.GetTransfer(txCtx, params.Reference)
	if lookupErr != nil {
		return false, &TransferError{Cause: errors.Join(err, lookupErr)}
	}
	if !params.Matches(prior) {
		return false, &TransferError{Cause: err}
	}
	s.logger.Warn("claim transfer already on ledger, recording nonce",
		"reference", params.Reference,
		"amount", params.Amount)
	return true, nil
}

// TransferReference is the ledger idempotency key of a claim transfer.
func TransferReference(registry types.Address, nonce uint64) string {
	return fmt.Sprintf("%s/%d", registry, nonce)
}

// Status reports whether nonce has been claimed. It never mutates state.
func (s *Service) Status(ctx context.Context, authority types.Identity, campaignID types.CampaignID, nonce uint64) (types.ClaimStatus, error) {
	rec, err := s.GetRegistry(ctx, authority, campaignID)
	if err != nil {
		return types.Unclaimed, err
	}
	claimed, err := rec.Bitmap.IsClaimed(nonce)
	if err != nil {
		return types.Unclaimed, err
	}
	if claimed {
		return types.Claimed, nil
	}
	return types.Unclaimed, nil
}

// RegistryInfo summarizes a registry.
type RegistryInfo struct {
	Record          *Record
	EscrowAuthority types.Address
	Capacity        uint64
	ClaimedCount    uint64
	JournalSize     uint64
	JournalRoot     []byte
}

// Info returns a summary of the registry for (authority, campaignID).
func (s *Service) Info(ctx context.Context, authority types.Identity, campaignID types.CampaignID) (*RegistryInfo, error) {
	rec, err := s.GetRegistry(ctx, authority, campaignID)
	if err != nil {
		return nil, err
	}
	store, err := s.stores.GetRegistryStore(authority)
	if err != nil {
		return nil, fmt.Errorf("failed to get registry store: %w", err)
	}
	head, err := store.GetJournalHead(ctx, rec.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal head: %w", err)
	}

	return &RegistryInfo{
		Record:          rec,
		EscrowAuthority: rec.Address,
		Capacity:        rec.Bitmap.Capacity(),
		ClaimedCount:    rec.Bitmap.ClaimedCount(),
		JournalSize:     head.Size,
		JournalRoot:     head.Root,
	}, nil
}

// Events returns up to limit journal events of a registry starting at from.
func (s *Service) Events(ctx context.Context, authority types.Identity, campaignID types.CampaignID, from uint64, limit int) ([]*storage.JournalEntry, error) {
	rec, err := s.GetRegistry(ctx, authority, campaignID)
	if err != nil {
		return nil, err
	}
	store, err := s.stores.GetRegistryStore(authority)
	if err != nil {
		return nil, fmt.Errorf("failed to get registry store: %w", err)
	}
	if limit <= 0 {
		limit = 100
	}
	return store.GetJournalEntries(ctx, rec.Address, from, limit)
}

// Revoke records a revoked delegation for authority.
func (s *Service) Revoke(ctx context.Context, authority types.Identity, delegationCID string) error {
	store, err := s.stores.GetRegistryStore(authority)
	if err != nil {
		return fmt.Errorf("failed to get registry store: %w", err)
	}
	if err := store.AddRevocation(ctx, delegationCID); err != nil {
		return fmt.Errorf("failed to add revocation: %w", err)
	}
	s.logger.Info("delegation revoked", "authority", authority, "delegation", delegationCID)
	return nil
}

// IsRevoked reports whether authority revoked the delegation.
func (s *Service) IsRevoked(ctx context.Context, authority types.Identity, delegationCID string) (bool, error) {
	store, err := s.stores.GetRegistryStore(authority)
	if err != nil {
		return false, fmt.Errorf("failed to get registry store: %w", err)
	}
	return store.IsRevoked(ctx, delegationCID)
}

type appendedEvent struct {
	index uint64
	cid   string
	root  []byte
}

func (s *Service) appendEvent(ctx context.Context, tx storage.RegistryTx, addr types.Address, ev types.Event) (*appendedEvent, error) {
	head, err := tx.GetJournalHead(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to get journal head: %w", err)
	}
	j, err := journal.Restore(head.Size, head.Hashes)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entry, err := types.NewJournalEntry(ev, now)
	if err != nil {
		return nil, err
	}
	data, err := entry.Serialize()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize journal entry: %w", err)
	}

	index, leaf, err := j.Append(data)
	if err != nil {
		return nil, err
	}
	root, err := j.Root()
	if err != nil {
		return nil, fmt.Errorf("failed to compute journal root: %w", err)
	}
	c, err := journal.ComputeCID(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compute event CID: %w", err)
	}

	err = tx.AppendJournal(ctx, addr, &storage.JournalEntry{
		Index:     index,
		EventType: ev.EventType(),
		CID:       c.String(),
		Data:      data,
		LeafHash:  leaf,
		CreatedAt: now,
	}, &storage.JournalHead{
		Size:   j.Size(),
		Hashes: j.Hashes(),
		Root:   root,
	})
	if err != nil {
		return nil, err
	}
	return &appendedEvent{index: index, cid: c.String(), root: root}, nil
}

func registryErr(err error, addr types.Address) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRegistryNotFound, addr)
	}
	return fmt.Errorf("failed to load registry: %w", err)
}
