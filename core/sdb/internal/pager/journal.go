package pager

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Rollback journal layout. The header carries the SQLite journal magic and
// big-endian 32-bit fields for record count, nonce, initial database size
// in pages, sector size, and page size; it is padded to the sector
// boundary. Each record is a page number, one raw page image, and a
// checksum of the image salted with the nonce.
const (
	journalSectorSize = 512
	journalFieldsSize = 8 + 5*4
)

// journalMagic identifies a rollback journal file.
var journalMagic = []byte{0xd9, 0xd5, 0x05, 0xf9, 0x20, 0xa1, 0x63, 0xd7}

// ErrJournalCorrupt is returned when a journal record fails its checksum
// during replay.
var ErrJournalCorrupt = errors.New("journal corrupt")

type journal struct {
	path        string
	file        *os.File
	pageSize    int
	nonce       uint32
	initialSize uint32
	count       uint32
}

// openJournal creates a fresh journal for a transaction and writes its
// header.
func openJournal(path string, pageSize int, initialSize uint32) (*journal, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}

	var nonceBuf [4]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		file.Close()
		return nil, fmt.Errorf("journal nonce: %w", err)
	}

	j := &journal{
		path:        path,
		file:        file,
		pageSize:    pageSize,
		nonce:       binary.BigEndian.Uint32(nonceBuf[:]),
		initialSize: initialSize,
	}
	if err := j.writeHeader(); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}
	return j, nil
}

func (j *journal) writeHeader() error {
	header := make([]byte, journalSectorSize)
	copy(header, journalMagic)
	binary.BigEndian.PutUint32(header[8:], j.count)
	binary.BigEndian.PutUint32(header[12:], j.nonce)
	binary.BigEndian.PutUint32(header[16:], j.initialSize)
	binary.BigEndian.PutUint32(header[20:], journalSectorSize)
	binary.BigEndian.PutUint32(header[24:], uint32(j.pageSize))
	if _, err := j.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("write journal header: %w", err)
	}
	return nil
}

// writeRecord appends the pre-image of one page.
func (j *journal) writeRecord(pageNum uint32, data []byte) error {
	if len(data) != j.pageSize {
		return fmt.Errorf("journal record: page size %d, want %d", len(data), j.pageSize)
	}
	record := make([]byte, 4+j.pageSize+4)
	binary.BigEndian.PutUint32(record, pageNum)
	copy(record[4:], data)
	binary.BigEndian.PutUint32(record[4+j.pageSize:], j.checksum(data))

	off := int64(journalSectorSize) + int64(j.count)*int64(len(record))
	if _, err := j.file.WriteAt(record, off); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	j.count++
	return nil
}

// checksum salts a byte sum of the page image with the journal nonce.
func (j *journal) checksum(data []byte) uint32 {
	sum := j.nonce
	for _, b := range data {
		sum += uint32(b)
	}
	return sum
}

// sync makes the journal durable: record count into the header, then
// fsync. A journal is only trusted for replay after this.
func (j *journal) sync() error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], j.count)
	if _, err := j.file.WriteAt(buf[:], 8); err != nil {
		return fmt.Errorf("update journal count: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// replay restores journaled pages to the database file in reverse order
// and syncs it.
func (j *journal) replay(db *os.File) error {
	recordSize := int64(4 + j.pageSize + 4)
	record := make([]byte, recordSize)
	for i := int64(j.count) - 1; i >= 0; i-- {
		off := int64(journalSectorSize) + i*recordSize
		if _, err := j.file.ReadAt(record, off); err != nil {
			return fmt.Errorf("read journal record %d: %w", i, err)
		}
		pageNum := binary.BigEndian.Uint32(record)
		image := record[4 : 4+j.pageSize]
		want := binary.BigEndian.Uint32(record[4+j.pageSize:])
		if j.checksum(image) != want {
			return fmt.Errorf("%w: checksum mismatch for page %d", ErrJournalCorrupt, pageNum)
		}
		if _, err := db.WriteAt(image, int64(pageNum-1)*int64(j.pageSize)); err != nil {
			return fmt.Errorf("restore page %d: %w", pageNum, err)
		}
	}
	if err := db.Sync(); err != nil {
		return fmt.Errorf("sync database after replay: %w", err)
	}
	return nil
}

// remove deletes the journal file; a missing file is fine.
func (j *journal) remove() error {
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}

// readJournal opens an existing journal for recovery. It returns nil when
// no replayable journal exists (absent, wrong magic, or empty).
func readJournal(path string, pageSize int) (*journal, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	header := make([]byte, journalFieldsSize)
	if _, err := file.ReadAt(header, 0); err != nil {
		file.Close()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// Truncated before the header was durable; nothing to replay.
			return nil, os.Remove(path)
		}
		return nil, fmt.Errorf("read journal header: %w", err)
	}
	if string(header[:8]) != string(journalMagic) {
		file.Close()
		return nil, os.Remove(path)
	}

	j := &journal{
		path:        path,
		file:        file,
		pageSize:    int(binary.BigEndian.Uint32(header[24:])),
		nonce:       binary.BigEndian.Uint32(header[12:]),
		initialSize: binary.BigEndian.Uint32(header[16:]),
		count:       binary.BigEndian.Uint32(header[8:]),
	}
	if j.pageSize != pageSize || j.count == 0 {
		file.Close()
		return nil, os.Remove(path)
	}

	// Clamp the record count to what the file actually holds, in case the
	// process died mid-write.
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat journal: %w", err)
	}
	recordSize := int64(4 + j.pageSize + 4)
	available := (info.Size() - journalSectorSize) / recordSize
	if available < int64(j.count) {
		j.count = uint32(available)
	}
	if j.count == 0 {
		file.Close()
		return nil, os.Remove(path)
	}
	return j, nil
}
