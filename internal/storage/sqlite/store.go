package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/relves/tokenclaim/internal/journal"
	"github.com/relves/tokenclaim/internal/storage"
	"github.com/relves/tokenclaim/pkg/types"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Ensure RegistryStore implements storage.RegistryStore at compile time.
var _ storage.RegistryStore = (*RegistryStore)(nil)

// RegistryStore holds the registries of one authority in a dedicated
// database. It uses a single connection, so transactions on any registry of
// the authority run one at a time.
type RegistryStore struct {
	db        *sql.DB
	authority types.Identity
	dbPath    string
	queries
}

// RegistryDir returns the directory holding an authority's database.
func RegistryDir(basePath string, authority types.Identity) string {
	return filepath.Join(basePath, "registries", hex.EncodeToString(authority.Seed()))
}

func OpenRegistryStore(basePath string, authority types.Identity) (*RegistryStore, error) {
	dir := RegistryDir(basePath, authority)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}

	dbPath := filepath.Join(dir, "registry.db")
	db, err := openDB(dbPath, schemaSQL)
	if err != nil {
		return nil, err
	}

	return &RegistryStore{
		db:        db,
		authority: authority,
		dbPath:    dbPath,
		queries:   queries{q: db},
	}, nil
}

func openDB(dbPath, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath+
		"?_pragma=journal_mode(WAL)"+
		"&_pragma=foreign_keys(ON)"+
		"&_pragma=busy_timeout(5000)"+ // Wait up to 5s on lock instead of returning SQLITE_BUSY immediately
		"&_pragma=synchronous(NORMAL)"+
		"&_pragma=wal_autocheckpoint(1000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Single writer: every read-modify-write on a record is serialized here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return db, nil
}

func (s *RegistryStore) Close() error {
	return s.db.Close()
}

func (s *RegistryStore) Authority() types.Identity {
	return s.authority
}

func (s *RegistryStore) DBPath() string {
	return s.dbPath
}

// SchemaVersion returns the stored layout version.
func (s *RegistryStore) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	return v, err
}

// WithTx runs fn inside a transaction.
func (s *RegistryStore) WithTx(ctx context.Context, fn func(tx storage.RegistryTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// AddRevocation marks a delegation as revoked. Idempotent.
func (s *RegistryStore) AddRevocation(ctx context.Context, delegationCID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revocations (delegation_cid, revoked_at) VALUES (?, ?)
		 ON CONFLICT(delegation_cid) DO NOTHING`,
		delegationCID, now)
	return err
}

// GetRevocations returns all revoked delegation CIDs.
func (s *RegistryStore) GetRevocations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT delegation_cid FROM revocations ORDER BY revoked_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cids []string
	for rows.Next() {
		var cid string
		if err := rows.Scan(&cid); err != nil {
			return nil, err
		}
		cids = append(cids, cid)
	}

	return cids, rows.Err()
}

// IsRevoked checks if a delegation has been revoked.
func (s *RegistryStore) IsRevoked(ctx context.Context, delegationCID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revocations WHERE delegation_cid = ?`,
		delegationCID).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetJournalEntries returns up to limit entries starting at index from.
func (s *RegistryStore) GetJournalEntries(ctx context.Context, addr types.Address, from uint64, limit int) ([]*storage.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, event_type, cid, data, leaf_hash, created_at
		 FROM journal_entries WHERE registry = ? AND idx >= ?
		 ORDER BY idx LIMIT ?`,
		addr.String(), int64(from), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*storage.JournalEntry
	for rows.Next() {
		var e storage.JournalEntry
		var idx int64
		var eventType, createdAt string
		if err := rows.Scan(&idx, &eventType, &e.CID, &e.Data, &e.LeafHash, &createdAt); err != nil {
			return nil, err
		}
		e.Index = uint64(idx)
		e.EventType = types.EventType(eventType)
		e.CreatedAt = parseTime(createdAt, "journal_entries.created_at")
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements storage.RegistryTx over a database or a transaction.
type queries struct {
	q querier
}

func (r *queries) GetRegistry(ctx context.Context, addr types.Address) (*storage.Registry, error) {
	var reg storage.Registry
	var authority, createdAt string
	var campaignID int64
	var bump int

	err := r.q.QueryRowContext(ctx,
		`SELECT authority, campaign_id, bump, bitmap, created_at
		 FROM registries WHERE address = ?`,
		addr.String()).Scan(&authority, &campaignID, &bump, &reg.Bitmap, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	reg.Address = addr
	reg.Authority = types.Identity(authority)
	reg.CampaignID = types.CampaignID(uint64(campaignID))
	reg.Bump = uint8(bump)
	reg.CreatedAt = parseTime(createdAt, "registries.created_at")
	return &reg, nil
}

func (r *queries) InsertRegistry(ctx context.Context, reg *storage.Registry) error {
	createdAt := reg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := r.q.ExecContext(ctx,
		`INSERT INTO registries (address, authority, campaign_id, bump, bitmap, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		reg.Address.String(), string(reg.Authority), int64(reg.CampaignID), int(reg.Bump),
		reg.Bitmap, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrAlreadyExists
	}
	return nil
}

func (r *queries) SetBitmap(ctx context.Context, addr types.Address, bitmap []byte) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE registries SET bitmap = ? WHERE address = ? AND length(bitmap) = ?`,
		bitmap, addr.String(), len(bitmap))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := r.GetRegistry(ctx, addr); err != nil {
		return err
	}
	return storage.ErrBitmapSize
}

func (r *queries) GetJournalHead(ctx context.Context, addr types.Address) (*storage.JournalHead, error) {
	var size int64
	var hashes, root []byte
	err := r.q.QueryRowContext(ctx,
		`SELECT size, hashes, root FROM journal_state WHERE registry = ?`,
		addr.String()).Scan(&size, &hashes, &root)
	if errors.Is(err, sql.ErrNoRows) {
		return &storage.JournalHead{}, nil
	}
	if err != nil {
		return nil, err
	}

	decoded, err := journal.DecodeHashes(hashes)
	if err != nil {
		return nil, fmt.Errorf("journal state for %s: %w", addr, err)
	}
	return &storage.JournalHead{Size: uint64(size), Hashes: decoded, Root: root}, nil
}

func (r *queries) AppendJournal(ctx context.Context, addr types.Address, entry *storage.JournalEntry, next *storage.JournalHead) error {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := r.q.ExecContext(ctx,
		`INSERT INTO journal_entries (registry, idx, event_type, cid, data, leaf_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		addr.String(), int64(entry.Index), string(entry.EventType), entry.CID,
		entry.Data, entry.LeafHash, createdAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("insert journal entry %d: %w", entry.Index, err)
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO journal_state (registry, size, hashes, root) VALUES (?, ?, ?, ?)
		 ON CONFLICT(registry) DO UPDATE SET size = excluded.size, hashes = excluded.hashes, root = excluded.root`,
		addr.String(), int64(next.Size), journal.EncodeHashes(next.Hashes), next.Root)
	if err != nil {
		return fmt.Errorf("update journal state: %w", err)
	}
	return nil
}

func parseTime(value, column string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		slog.Warn("failed to parse timestamp", "column", column, "value", value, "error", err)
	}
	return t
}
