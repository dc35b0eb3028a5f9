// Package pager owns the database file: it reads and writes pages, runs
// the rollback-journal transaction protocol, allocates and frees pages
// through the freelist, and holds the advisory file locks.
package pager

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/pagesource"
)

// Transaction errors.
var (
	ErrReadOnly      = errors.New("database is read-only")
	ErrTxAlreadyOpen = errors.New("transaction already open")
	ErrNoActiveTx    = errors.New("no active transaction")
	ErrClosed        = errors.New("pager is closed")
)

// Options configures Open.
type Options struct {
	// PageSize applies when creating a new database. Zero means the
	// default 4096.
	PageSize int

	// ReadOnly opens without write access; Begin fails.
	ReadOnly bool

	// AEAD enables whole-database page encryption. The database must have
	// been created with the same key, and new databases are created with
	// GCMTagSize reserved bytes per page.
	AEAD cipher.AEAD
}

// Pager manages one database file.
type Pager struct {
	path        string
	journalPath string
	file        *os.File
	pageSize    int
	reserved    int
	readOnly    bool
	aead        cipher.AEAD

	dbSize   uint32 // pages, including uncommitted growth
	origSize uint32 // pages at Begin

	inTx      bool
	dirty     map[uint32][]byte // plaintext page images
	journaled map[uint32]bool
	journal   *journal
}

// Open opens or creates the database at path. If a valid rollback journal
// is present from an interrupted transaction, it is replayed before the
// pager becomes usable.
func Open(path string, opts Options) (*Pager, error) {
	pageSize := opts.PageSize
	if pageSize == 0 {
		pageSize = format.DefaultPageSize
	}
	if !format.IsValidPageSize(pageSize) {
		return nil, fmt.Errorf("%w: %d", format.ErrUnsupportedPageSize, pageSize)
	}

	flag := os.O_RDWR | os.O_CREATE
	if opts.ReadOnly {
		flag = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	p := &Pager{
		path:        path,
		journalPath: path + ".journal",
		file:        file,
		pageSize:    pageSize,
		readOnly:    opts.ReadOnly,
		aead:        opts.AEAD,
		dirty:       make(map[uint32][]byte),
		journaled:   make(map[uint32]bool),
	}
	if opts.AEAD != nil {
		p.reserved = pagesource.GCMTagSize
	}

	if err := lockFile(file, opts.ReadOnly); err != nil {
		file.Close()
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		p.unlockAndClose()
		return nil, fmt.Errorf("stat database: %w", err)
	}

	if info.Size() == 0 {
		if opts.ReadOnly {
			p.unlockAndClose()
			return nil, errors.New("cannot create database in read-only mode")
		}
		if err := p.initialize(); err != nil {
			p.unlockAndClose()
			return nil, err
		}
	} else {
		// The on-disk page size drives journal geometry, so read it before
		// attempting recovery.
		var sizeField [2]byte
		if _, err := file.ReadAt(sizeField[:], format.OffsetPageSize); err != nil {
			p.unlockAndClose()
			return nil, fmt.Errorf("read page size: %w", err)
		}
		raw := int(binary.BigEndian.Uint16(sizeField[:]))
		if raw == 1 {
			raw = format.MaxPageSize
		}
		if format.IsValidPageSize(raw) {
			p.pageSize = raw
		}

		if !opts.ReadOnly {
			if err := p.recover(); err != nil {
				p.unlockAndClose()
				return nil, err
			}
		}
		if err := p.load(); err != nil {
			p.unlockAndClose()
			return nil, err
		}
	}
	return p, nil
}

// initialize writes a fresh database: the header plus an empty schema
// table root occupying page 1.
func (p *Pager) initialize() error {
	h := format.NewHeader(p.pageSize)
	h.ReservedSpace = uint8(p.reserved)
	h.DatabaseSize = 1

	page := make([]byte, p.pageSize)
	copy(page, h.Serialize())
	format.InitPage(page, 1, format.PageTypeLeafTable, p.UsableSize())

	if err := p.writePageToFile(1, page); err != nil {
		return err
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("sync new database: %w", err)
	}
	p.dbSize = 1
	p.origSize = 1
	return nil
}

// load validates the header of an existing database.
func (p *Pager) load() error {
	raw := make([]byte, format.HeaderSize)
	if _, err := p.file.ReadAt(raw, 0); err != nil {
		return fmt.Errorf("read database header: %w", err)
	}
	h, err := format.ParseHeader(raw)
	if err != nil {
		return err
	}
	if h.GetPageSize() != p.pageSize {
		p.pageSize = h.GetPageSize()
	}
	p.reserved = int(h.ReservedSpace)
	if p.aead != nil && p.reserved != pagesource.GCMTagSize {
		return fmt.Errorf("%w: encrypted database needs %d reserved bytes per page, header has %d",
			format.ErrUnsupportedFormat, pagesource.GCMTagSize, p.reserved)
	}

	info, err := p.file.Stat()
	if err != nil {
		return fmt.Errorf("stat database: %w", err)
	}
	p.dbSize = uint32(info.Size() / int64(p.pageSize))
	p.origSize = p.dbSize
	return nil
}

// Close rolls back any open transaction and releases the lock.
func (p *Pager) Close() error {
	if p.file == nil {
		return nil
	}
	if p.inTx {
		if err := p.Rollback(); err != nil {
			return err
		}
	}
	return p.unlockAndClose()
}

func (p *Pager) unlockAndClose() error {
	unlockFile(p.file)
	err := p.file.Close()
	p.file = nil
	return err
}

// PageSize returns the page size in bytes.
func (p *Pager) PageSize() int { return p.pageSize }

// UsableSize returns the page size minus reserved space.
func (p *Pager) UsableSize() int { return p.pageSize - p.reserved }

// PageCount returns the current page count, including pages allocated by
// the open transaction.
func (p *Pager) PageCount() uint32 { return p.dbSize }

// Path returns the database file path.
func (p *Pager) Path() string { return p.path }

// InTx reports whether a write transaction is open.
func (p *Pager) InTx() bool { return p.inTx }

// DirtyPageNumbers returns the pages mutated so far by the open
// transaction, in ascending order.
func (p *Pager) DirtyPageNumbers() []uint32 {
	pages := make([]uint32, 0, len(p.dirty))
	for n := range p.dirty {
		pages = append(pages, n)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

// Page returns the current image of page n: the dirty in-transaction copy
// when present, otherwise the on-disk bytes (decrypted when the database
// is encrypted).
func (p *Pager) Page(n uint32) ([]byte, error) {
	if p.file == nil {
		return nil, ErrClosed
	}
	if n == 0 || n > p.dbSize {
		return nil, fmt.Errorf("%w: page %d of %d", pagesource.ErrOutOfRange, n, p.dbSize)
	}
	if img, ok := p.dirty[n]; ok {
		return img, nil
	}
	return p.readPageFromFile(n)
}

func (p *Pager) readPageFromFile(n uint32) ([]byte, error) {
	buf := make([]byte, p.pageSize)
	_, err := p.file.ReadAt(buf, int64(n-1)*int64(p.pageSize))
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		// Allocated but never written: reads as zeroes.
		return make([]byte, p.pageSize), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", n, err)
	}
	if p.aead != nil {
		return pagesource.DecryptPage(p.aead, buf, n)
	}
	return buf, nil
}

func (p *Pager) writePageToFile(n uint32, data []byte) error {
	out := data
	if p.aead != nil {
		out = pagesource.EncryptPage(p.aead, data, n)
	}
	if _, err := p.file.WriteAt(out, int64(n-1)*int64(p.pageSize)); err != nil {
		return fmt.Errorf("write page %d: %w", n, err)
	}
	return nil
}

// Begin opens a write transaction and takes the exclusive lock.
func (p *Pager) Begin() error {
	if p.file == nil {
		return ErrClosed
	}
	if p.readOnly {
		return ErrReadOnly
	}
	if p.inTx {
		return ErrTxAlreadyOpen
	}
	if err := lockExclusive(p.file); err != nil {
		return err
	}
	p.inTx = true
	p.origSize = p.dbSize
	return nil
}

// Update gives fn a mutable in-memory copy of page n. The original page is
// appended to the rollback journal before the first change in this
// transaction; nothing reaches the database file until Commit.
func (p *Pager) Update(n uint32, fn func(data []byte) error) error {
	if !p.inTx {
		return ErrNoActiveTx
	}
	img, ok := p.dirty[n]
	if !ok {
		orig, err := p.Page(n)
		if err != nil {
			return err
		}
		// Pages created by this transaction have no pre-image to journal;
		// rollback truncates them away instead. The journal stores the raw
		// on-disk bytes so replay needs no decryption.
		if n <= p.origSize && !p.journaled[n] {
			raw := make([]byte, p.pageSize)
			if _, err := p.file.ReadAt(raw, int64(n-1)*int64(p.pageSize)); err != nil {
				return fmt.Errorf("read page %d for journal: %w", n, err)
			}
			if err := p.journalPage(n, raw); err != nil {
				return err
			}
		}
		img = make([]byte, p.pageSize)
		copy(img, orig)
		p.dirty[n] = img
	}
	return fn(img)
}

func (p *Pager) journalPage(n uint32, data []byte) error {
	if p.journal == nil {
		j, err := openJournal(p.journalPath, p.pageSize, p.origSize)
		if err != nil {
			return err
		}
		p.journal = j
	}
	if err := p.journal.writeRecord(n, data); err != nil {
		return err
	}
	p.journaled[n] = true
	return nil
}

// Commit makes the transaction durable: journal to disk first, then dirty
// pages in ascending page order, then the journal is removed.
func (p *Pager) Commit() error {
	if !p.inTx {
		return ErrNoActiveTx
	}

	if err := p.bumpChangeCounter(); err != nil {
		p.Rollback()
		return err
	}

	if p.journal != nil {
		if err := p.journal.sync(); err != nil {
			p.Rollback()
			return err
		}
	}

	pages := make([]uint32, 0, len(p.dirty))
	for n := range p.dirty {
		pages = append(pages, n)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	for _, n := range pages {
		if err := p.writePageToFile(n, p.dirty[n]); err != nil {
			return p.failCommit(err)
		}
	}
	if err := p.file.Sync(); err != nil {
		return p.failCommit(err)
	}

	if p.journal != nil {
		if err := p.journal.remove(); err != nil {
			return err
		}
		p.journal = nil
	}

	p.endTx()
	return nil
}

// failCommit restores the pre-transaction state after a failed database
// write during commit.
func (p *Pager) failCommit(cause error) error {
	if err := p.replayJournal(); err != nil {
		return fmt.Errorf("commit failed (%v); journal replay also failed: %w", cause, err)
	}
	p.endTx()
	return cause
}

// Rollback discards the transaction. Journaled pages are restored from the
// journal; file growth is truncated away.
func (p *Pager) Rollback() error {
	if !p.inTx {
		return ErrNoActiveTx
	}
	if err := p.replayJournal(); err != nil {
		return err
	}
	p.endTx()
	return nil
}

func (p *Pager) replayJournal() error {
	if p.journal != nil {
		if err := p.journal.replay(p.file); err != nil {
			return err
		}
	}
	if err := p.file.Truncate(int64(p.origSize) * int64(p.pageSize)); err != nil {
		return fmt.Errorf("truncate on rollback: %w", err)
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("sync on rollback: %w", err)
	}
	if p.journal != nil {
		if err := p.journal.remove(); err != nil {
			return err
		}
		p.journal = nil
	}
	p.dbSize = p.origSize
	return nil
}

func (p *Pager) endTx() {
	p.dirty = make(map[uint32][]byte)
	p.journaled = make(map[uint32]bool)
	p.origSize = p.dbSize
	p.inTx = false
	unlockExclusive(p.file, p.readOnly)
}

// bumpChangeCounter updates the file change counter and the in-header page
// count on page 1 as part of the transaction.
func (p *Pager) bumpChangeCounter() error {
	return p.Update(1, func(data []byte) error {
		h, err := format.ParseHeader(data)
		if err != nil {
			return err
		}
		h.FileChangeCounter++
		h.VersionValidFor = h.FileChangeCounter
		h.DatabaseSize = p.dbSize
		copy(data, h.Serialize())
		return nil
	})
}

// recover replays a leftover journal from a crashed transaction, restoring
// the last committed state.
func (p *Pager) recover() error {
	j, err := readJournal(p.journalPath, p.pageSize)
	if err != nil {
		return err
	}
	if j == nil {
		return nil
	}
	if err := j.replay(p.file); err != nil {
		return fmt.Errorf("journal recovery: %w", err)
	}
	if err := p.file.Truncate(int64(j.initialSize) * int64(p.pageSize)); err != nil {
		return fmt.Errorf("truncate on recovery: %w", err)
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("sync on recovery: %w", err)
	}
	return j.remove()
}
