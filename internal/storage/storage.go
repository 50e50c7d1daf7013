// Package storage defines the persistence contracts for claims registries.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/relves/tokenclaim/pkg/types"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrBitmapSize    = errors.New("bitmap size mismatch")
)

// Registry is the persisted form of a claims registry record.
type Registry struct {
	Address    types.Address
	Authority  types.Identity
	CampaignID types.CampaignID
	Bump       uint8
	Bitmap     []byte
	CreatedAt  time.Time
}

// JournalHead is the persisted compact range of a registry journal.
type JournalHead struct {
	Size   uint64
	Hashes [][]byte
	Root   []byte
}

// JournalEntry is one stored journal leaf.
type JournalEntry struct {
	Index     uint64
	EventType types.EventType
	CID       string
	Data      []byte
	LeafHash  []byte
	CreatedAt time.Time
}

// RegistryTx is the set of operations available inside a registry
// transaction. Everything done through it commits or rolls back together.
type RegistryTx interface {
	GetRegistry(ctx context.Context, addr types.Address) (*Registry, error)
	// InsertRegistry inserts reg if no record exists for its address or for
	// its (authority, campaign) pair. Returns ErrAlreadyExists otherwise.
	InsertRegistry(ctx context.Context, reg *Registry) error
	// SetBitmap replaces the bitmap. The length must equal the stored one.
	SetBitmap(ctx context.Context, addr types.Address, bitmap []byte) error
	// GetJournalHead returns the journal head, or an empty head when the
	// journal has no entries.
	GetJournalHead(ctx context.Context, addr types.Address) (*JournalHead, error)
	// AppendJournal stores entry and advances the head to next.
	AppendJournal(ctx context.Context, addr types.Address, entry *JournalEntry, next *JournalHead) error
}

// RegistryStore persists the registries of a single authority.
type RegistryStore interface {
	// WithTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx RegistryTx) error) error

	GetRegistry(ctx context.Context, addr types.Address) (*Registry, error)
	GetJournalHead(ctx context.Context, addr types.Address) (*JournalHead, error)
	GetJournalEntries(ctx context.Context, addr types.Address, from uint64, limit int) ([]*JournalEntry, error)

	// Revocations
	AddRevocation(ctx context.Context, delegationCID string) error
	IsRevoked(ctx context.Context, delegationCID string) (bool, error)
	GetRevocations(ctx context.Context) ([]string, error)
}

// StoreProvider resolves the store holding an authority's registries.
type StoreProvider interface {
	GetRegistryStore(authority types.Identity) (RegistryStore, error)
}
