// Package sdb is a reader/writer engine for the SQLite 3 file format. It
// opens database files (or creates them), walks table and index b-trees
// with zero-copy cursors, filters rows with compiled predicates, and
// commits changes durably through a rollback journal. Databases it writes
// are readable by any other SQLite 3 implementation that does not require
// WAL.
package sdb

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"os"

	"golang.org/x/crypto/argon2"

	"github.com/FocuswithJustin/sharc/core/ledger"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/pagecache"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/pager"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/schema"
)

// MemoryPath opens a private temporary database that is removed on Close.
const MemoryPath = ":memory:"

// Database is an open database handle. It owns the pager, the page cache,
// and the loaded schema. A Database is not safe for concurrent use by
// multiple goroutines when a writer is active.
type Database struct {
	path          string
	removeOnClose bool
	pg            *pager.Pager
	cache         *pagecache.Cache
	schema        *schema.Schema
	opts          Options
	ledger        *ledger.Ledger
}

// Open opens the database at path, creating it when writable and absent.
// The path ":memory:" opens a private scratch database. Leftover rollback
// journals from interrupted transactions are replayed before Open
// returns.
func Open(path string, opts Options) (*Database, error) {
	db := &Database{path: path, opts: opts}

	if path == MemoryPath {
		f, err := os.CreateTemp("", "sharc-mem-*.db")
		if err != nil {
			return nil, fmt.Errorf("create scratch database: %w", err)
		}
		db.path = f.Name()
		db.removeOnClose = true
		f.Close()
		opts.Writable = true
	}

	var aead cipher.AEAD
	if opts.Encryption != nil {
		var err error
		aead, err = newAEAD(opts.Encryption)
		if err != nil {
			return nil, err
		}
	}

	pg, err := pager.Open(db.path, pager.Options{
		PageSize: opts.PageSize,
		ReadOnly: !opts.Writable && path != MemoryPath,
		AEAD:     aead,
	})
	if err != nil {
		if db.removeOnClose {
			os.Remove(db.path)
		}
		return nil, err
	}
	db.pg = pg

	capacity := opts.PageCacheCapacity
	if capacity == 0 {
		capacity = 64
	}
	if capacity > 0 {
		cfg := pagecache.Config{Capacity: capacity}
		if opts.Prefetch != nil {
			cfg.SequentialThreshold = opts.Prefetch.SequentialThreshold
			cfg.PrefetchDepth = opts.Prefetch.Depth
		}
		db.cache = pagecache.New(pg, cfg)
	}

	if err := db.reloadSchema(); err != nil {
		pg.Close()
		if db.removeOnClose {
			os.Remove(db.path)
		}
		return nil, err
	}
	return db, nil
}

// newAEAD derives the database key with Argon2id and wraps it in
// AES-256-GCM.
func newAEAD(cfg *EncryptionConfig) (cipher.AEAD, error) {
	if len(cfg.MasterKey) == 0 {
		return nil, fmt.Errorf("%w: empty master key", ErrInvalidArgument)
	}
	kdf := cfg.KDF
	if kdf.Time == 0 {
		kdf = DefaultArgon2id(kdf.Salt)
	}
	key := argon2.IDKey(cfg.MasterKey, kdf.Salt, kdf.Time, kdf.Memory, kdf.Threads, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// pageReader returns the read path for cursors: the cache when enabled,
// otherwise the pager directly. During a write transaction reads bypass
// the cache so cursors observe in-transaction pages.
func (db *Database) pageReader() format.PageReader {
	if db.cache != nil && !db.pg.InTx() {
		return db.cache
	}
	return db.pg
}

// reloadSchema re-reads object metadata from the schema table.
func (db *Database) reloadSchema() error {
	s, err := schema.Load(db.pg, db.pg.UsableSize())
	if err != nil {
		return err
	}
	db.schema = s
	return nil
}

// Close rolls back any open transaction, releases locks, and closes the
// file. Scratch databases are removed.
func (db *Database) Close() error {
	if db.pg == nil {
		return nil
	}
	if db.cache != nil {
		db.cache.InvalidateAll()
	}
	err := db.pg.Close()
	db.pg = nil
	if db.removeOnClose {
		os.Remove(db.path)
	}
	return err
}

// Path returns the database file path.
func (db *Database) Path() string { return db.path }

// PageSize returns the page size in bytes.
func (db *Database) PageSize() int { return db.pg.PageSize() }

// PageCount returns the number of pages in the database.
func (db *Database) PageCount() uint32 { return db.pg.PageCount() }

// Header returns the parsed database header.
func (db *Database) Header() (*format.Header, error) { return db.pg.Header() }

// TableInfo summarizes one table for listing.
type TableInfo struct {
	Name         string
	RootPage     uint32
	Columns      []string
	WithoutRowid bool
}

// Tables lists the tables in the schema, in name order.
func (db *Database) Tables() []TableInfo {
	tables := db.schema.Tables()
	out := make([]TableInfo, 0, len(tables))
	for _, t := range tables {
		info := TableInfo{Name: t.Name, RootPage: t.RootPage, WithoutRowid: t.WithoutRowid}
		for _, c := range t.Columns {
			info.Columns = append(info.Columns, c.Name)
		}
		out = append(out, info)
	}
	return out
}

// Table returns the schema metadata of one table.
func (db *Database) Table(name string) (*schema.Table, error) {
	return db.schema.Table(name)
}

// PageCacheStats returns page cache counters, or zeroes when the cache is
// disabled.
func (db *Database) PageCacheStats() pagecache.Stats {
	if db.cache == nil {
		return pagecache.Stats{}
	}
	return db.cache.Stats()
}

// AttachLedger attaches a hash-chained mutation ledger: every commit
// appends an entry, and Validate verifies the chain.
func (db *Database) AttachLedger(l *ledger.Ledger) { db.ledger = l }

// invalidatePages drops mutated pages from the cache after a commit.
func (db *Database) invalidatePages(pages []uint32) {
	if db.cache == nil {
		return
	}
	for _, n := range pages {
		db.cache.Invalidate(n)
	}
}
