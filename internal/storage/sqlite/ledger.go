package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/relves/tokenclaim/pkg/ledger"
	"github.com/relves/tokenclaim/pkg/types"
)

//go:embed ledger.sql
var ledgerSQL string

// Ensure LedgerStore implements ledger.Ledger at compile time.
var _ ledger.Ledger = (*LedgerStore)(nil)

// LedgerStore is a token ledger backed by SQLite. Amounts are unsigned 64-bit
// values stored bit-for-bit in INTEGER columns.
type LedgerStore struct {
	db      *sql.DB
	dbPath  string
	trusted map[types.Address]bool
}

// OpenLedgerStore opens the ledger at basePath/ledger/ledger.db. Derived
// signers are accepted only for the given program IDs.
func OpenLedgerStore(basePath string, trustedPrograms ...types.Address) (*LedgerStore, error) {
	dir := filepath.Join(basePath, "ledger")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	dbPath := filepath.Join(dir, "ledger.db")
	db, err := openDB(dbPath, ledgerSQL)
	if err != nil {
		return nil, err
	}

	trusted := make(map[types.Address]bool, len(trustedPrograms))
	for _, id := range trustedPrograms {
		trusted[id] = true
	}

	return &LedgerStore{
		db:      db,
		dbPath:  dbPath,
		trusted: trusted,
	}, nil
}

func (l *LedgerStore) Close() error {
	return l.db.Close()
}

func (l *LedgerStore) DBPath() string {
	return l.dbPath
}

// CreateMint registers a new token type controlled by authority.
func (l *LedgerStore) CreateMint(ctx context.Context, mint, authority types.Address, decimals uint8) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO mints (address, authority, decimals, supply) VALUES (?, ?, ?, 0)`,
		mint.String(), authority.String(), int(decimals))
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("mint %s: %w", mint, ledger.ErrAccountExists)
	}
	return err
}

// GetMint returns a mint by address.
func (l *LedgerStore) GetMint(ctx context.Context, mint types.Address) (*ledger.Mint, error) {
	return getMint(ctx, l.db, mint)
}

// OpenAccount creates the associated account of owner for mint and returns
// its address. Opening an existing associated account is a no-op.
func (l *LedgerStore) OpenAccount(ctx context.Context, owner, mint types.Address) (types.Address, error) {
	addr, err := ledger.AssociatedAccount(owner, mint)
	if err != nil {
		return types.Address{}, err
	}
	if _, err := l.GetMint(ctx, mint); err != nil {
		return types.Address{}, err
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO accounts (address, mint, owner, amount, frozen) VALUES (?, ?, ?, 0, 0)
		 ON CONFLICT(address) DO NOTHING`,
		addr.String(), mint.String(), owner.String())
	if err != nil {
		return types.Address{}, fmt.Errorf("open account: %w", err)
	}
	return addr, nil
}

// GetAccount returns an account by address.
func (l *LedgerStore) GetAccount(ctx context.Context, addr types.Address) (*ledger.Account, error) {
	return getAccount(ctx, l.db, addr)
}

// MintTo issues amount new tokens into account. The signer must be the mint
// authority.
func (l *LedgerStore) MintTo(ctx context.Context, mint, account types.Address, amount uint64, signer ledger.Signer) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	m, err := getMint(ctx, tx, mint)
	if err != nil {
		return err
	}
	if err := l.checkAuthority(signer, mintToMessage(mint, account, amount), m.Authority); err != nil {
		return err
	}

	acct, err := getAccount(ctx, tx, account)
	if err != nil {
		return err
	}
	if acct.Mint != mint {
		return ledger.ErrMintMismatch
	}
	if acct.Frozen {
		return ledger.ErrAccountFrozen
	}
	if m.Supply > math.MaxUint64-amount || acct.Amount > math.MaxUint64-amount {
		return fmt.Errorf("%w: supply overflow", ledger.ErrInvalidAmount)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE mints SET supply = ? WHERE address = ?`,
		int64(m.Supply+amount), mint.String()); err != nil {
		return err
	}
	if err := setBalance(ctx, tx, account, acct.Amount+amount); err != nil {
		return err
	}
	return tx.Commit()
}

// SetFrozen freezes or thaws an account. The signer must be the mint
// authority.
func (l *LedgerStore) SetFrozen(ctx context.Context, account types.Address, frozen bool, signer ledger.Signer) error {
	acct, err := l.GetAccount(ctx, account)
	if err != nil {
		return err
	}
	m, err := l.GetMint(ctx, acct.Mint)
	if err != nil {
		return err
	}
	if err := l.checkAuthority(signer, freezeMessage(account, frozen), m.Authority); err != nil {
		return err
	}

	_, err = l.db.ExecContext(ctx,
		`UPDATE accounts SET frozen = ? WHERE address = ?`,
		boolToInt(frozen), account.String())
	return err
}

// TransferChecked implements ledger.Ledger.
func (l *LedgerStore) TransferChecked(ctx context.Context, p ledger.TransferParams) error {
	if p.Signer == nil {
		return fmt.Errorf("%w: no signer", ledger.ErrUnauthorizedSigner)
	}
	auth, err := p.Signer.Authorize(p.Message())
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrUnauthorizedSigner, err)
	}
	if err := ledger.VerifyAuthorization(auth, p.Message(), l.trusted); err != nil {
		return err
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if p.Reference != "" {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM transfers WHERE reference = ?`, p.Reference).Scan(&count); err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateReference, p.Reference)
		}
	}

	m, err := getMint(ctx, tx, p.Mint)
	if err != nil {
		return err
	}
	if m.Decimals != p.Decimals {
		return fmt.Errorf("%w: mint has %d, got %d", ledger.ErrDecimalsMismatch, m.Decimals, p.Decimals)
	}

	from, err := getAccount(ctx, tx, p.From)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	to, err := getAccount(ctx, tx, p.To)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}
	if from.Mint != p.Mint || to.Mint != p.Mint {
		return ledger.ErrMintMismatch
	}
	if from.Frozen || to.Frozen {
		return ledger.ErrAccountFrozen
	}
	if from.Owner != auth.Owner {
		return ledger.ErrOwnerMismatch
	}
	if from.Amount < p.Amount {
		return fmt.Errorf("%w: balance %d, need %d", ledger.ErrInsufficientFunds, from.Amount, p.Amount)
	}
	if from.Address != to.Address && to.Amount > math.MaxUint64-p.Amount {
		return fmt.Errorf("%w: destination overflow", ledger.ErrInvalidAmount)
	}

	var reference any
	if p.Reference != "" {
		reference = p.Reference
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transfers (reference, source, destination, mint, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		reference, p.From.String(), p.To.String(), p.Mint.String(), int64(p.Amount),
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ledger.ErrDuplicateReference, p.Reference)
		}
		return err
	}

	if from.Address != to.Address {
		if err := setBalance(ctx, tx, from.Address, from.Amount-p.Amount); err != nil {
			return err
		}
		if err := setBalance(ctx, tx, to.Address, to.Amount+p.Amount); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetTransfer implements ledger.Ledger.
func (l *LedgerStore) GetTransfer(ctx context.Context, reference string) (*ledger.Transfer, error) {
	var (
		source, destination, mint, createdAt string
		amount                               int64
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT source, destination, mint, amount, created_at FROM transfers WHERE reference = ?`,
		reference).Scan(&source, &destination, &mint, &amount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrTransferNotFound, reference)
	}
	if err != nil {
		return nil, err
	}

	t := &ledger.Transfer{Reference: reference, Amount: uint64(amount)}
	if t.From, err = types.ParseAddress(source); err != nil {
		return nil, err
	}
	if t.To, err = types.ParseAddress(destination); err != nil {
		return nil, err
	}
	if t.Mint, err = types.ParseAddress(mint); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	return t, nil
}

func (l *LedgerStore) checkAuthority(signer ledger.Signer, msg []byte, authority types.Address) error {
	if signer == nil {
		return fmt.Errorf("%w: no signer", ledger.ErrUnauthorizedSigner)
	}
	auth, err := signer.Authorize(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrUnauthorizedSigner, err)
	}
	if err := ledger.VerifyAuthorization(auth, msg, l.trusted); err != nil {
		return err
	}
	if auth.Owner != authority {
		return ledger.ErrOwnerMismatch
	}
	return nil
}

func mintToMessage(mint, account types.Address, amount uint64) []byte {
	return ledger.TransferParams{To: account, Mint: mint, Amount: amount, Reference: "mint_to"}.Message()
}

func freezeMessage(account types.Address, frozen bool) []byte {
	ref := "thaw"
	if frozen {
		ref = "freeze"
	}
	return ledger.TransferParams{From: account, Reference: ref}.Message()
}

func getMint(ctx context.Context, q querier, mint types.Address) (*ledger.Mint, error) {
	var authority string
	var decimals int
	var supply int64
	err := q.QueryRowContext(ctx,
		`SELECT authority, decimals, supply FROM mints WHERE address = ?`,
		mint.String()).Scan(&authority, &decimals, &supply)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrMintNotFound, mint)
	}
	if err != nil {
		return nil, err
	}

	authAddr, err := types.ParseAddress(authority)
	if err != nil {
		return nil, err
	}
	return &ledger.Mint{
		Address:   mint,
		Authority: authAddr,
		Decimals:  uint8(decimals),
		Supply:    uint64(supply),
	}, nil
}

func getAccount(ctx context.Context, q querier, addr types.Address) (*ledger.Account, error) {
	var mint, owner string
	var amount int64
	var frozen int
	err := q.QueryRowContext(ctx,
		`SELECT mint, owner, amount, frozen FROM accounts WHERE address = ?`,
		addr.String()).Scan(&mint, &owner, &amount, &frozen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, addr)
	}
	if err != nil {
		return nil, err
	}

	mintAddr, err := types.ParseAddress(mint)
	if err != nil {
		return nil, err
	}
	ownerAddr, err := types.ParseAddress(owner)
	if err != nil {
		return nil, err
	}
	return &ledger.Account{
		Address: addr,
		Mint:    mintAddr,
		Owner:   ownerAddr,
		Amount:  uint64(amount),
		Frozen:  frozen != 0,
	}, nil
}

func setBalance(ctx context.Context, q querier, addr types.Address, amount uint64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE accounts SET amount = ? WHERE address = ?`,
		int64(amount), addr.String())
	return err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
