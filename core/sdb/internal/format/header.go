// Package format defines the SQLite 3 on-disk structures: the 100-byte
// database header, b-tree page headers, cell layouts, overflow chains,
// and the freelist.
package format

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the database header size in bytes (first 100 bytes of the file).
	HeaderSize = 100

	// MagicString is the magic header string for SQLite 3 database files.
	// Exactly 16 bytes including the null terminator.
	MagicString = "SQLite format 3\000"

	// DefaultPageSize is the page size for new databases.
	DefaultPageSize = 4096

	// MinPageSize and MaxPageSize bound the valid page sizes.
	MinPageSize = 512
	MaxPageSize = 65536
)

// Header field offsets.
const (
	OffsetMagic             = 0
	OffsetPageSize          = 16
	OffsetWriteVersion      = 18
	OffsetReadVersion       = 19
	OffsetReservedSpace     = 20
	OffsetMaxPayloadFrac    = 21
	OffsetMinPayloadFrac    = 22
	OffsetLeafPayloadFrac   = 23
	OffsetFileChangeCounter = 24
	OffsetDatabaseSize      = 28
	OffsetFirstFreelist     = 32
	OffsetFreelistCount     = 36
	OffsetSchemaCookie      = 40
	OffsetSchemaFormat      = 44
	OffsetDefaultCacheSize  = 48
	OffsetLargestRootPage   = 52
	OffsetTextEncoding      = 56
	OffsetUserVersion       = 60
	OffsetIncrVacuum        = 64
	OffsetAppID             = 68
	OffsetReserved          = 72
	OffsetVersionValidFor   = 92
	OffsetSQLiteVersion     = 96
)

// Text encodings.
const (
	EncodingUTF8    = 1
	EncodingUTF16LE = 2
	EncodingUTF16BE = 3
)

// Format errors.
var (
	ErrBadMagic               = errors.New("bad magic header")
	ErrUnsupportedReadVersion = errors.New("unsupported read version (WAL databases are not supported)")
	ErrUnsupportedPageSize    = errors.New("unsupported page size")
	ErrUnsupportedFormat      = errors.New("unsupported format")
	ErrMalformedRecord        = errors.New("malformed record")
	ErrUnknownPageType        = errors.New("unknown page type")
	ErrTruncated              = errors.New("truncated input")
)

// CorruptPageError reports structural corruption on a specific page.
type CorruptPageError struct {
	Page   uint32
	Reason string
}

func (e *CorruptPageError) Error() string {
	return fmt.Sprintf("corrupt page %d: %s", e.Page, e.Reason)
}

// Corrupt constructs a CorruptPageError.
func Corrupt(page uint32, reason string) error {
	return &CorruptPageError{Page: page, Reason: reason}
}

// Header is the parsed form of the 100-byte database file header.
type Header struct {
	PageSize          uint16 // raw value; 1 encodes 65536
	WriteVersion      uint8
	ReadVersion       uint8
	ReservedSpace     uint8
	MaxPayloadFrac    uint8
	MinPayloadFrac    uint8
	LeafPayloadFrac   uint8
	FileChangeCounter uint32
	DatabaseSize      uint32 // in pages
	FirstFreelist     uint32
	FreelistCount     uint32
	SchemaCookie      uint32
	SchemaFormat      uint32
	DefaultCacheSize  uint32
	LargestRootPage   uint32
	TextEncoding      uint32
	UserVersion       uint32
	IncrVacuum        uint32
	AppID             uint32
	VersionValidFor   uint32
	SQLiteVersion     uint32
}

// ParseHeader parses and validates the database header from the first 100
// bytes of the file.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(data))
	}
	if string(data[OffsetMagic:OffsetMagic+16]) != MagicString {
		return nil, ErrBadMagic
	}

	h := &Header{
		PageSize:          binary.BigEndian.Uint16(data[OffsetPageSize:]),
		WriteVersion:      data[OffsetWriteVersion],
		ReadVersion:       data[OffsetReadVersion],
		ReservedSpace:     data[OffsetReservedSpace],
		MaxPayloadFrac:    data[OffsetMaxPayloadFrac],
		MinPayloadFrac:    data[OffsetMinPayloadFrac],
		LeafPayloadFrac:   data[OffsetLeafPayloadFrac],
		FileChangeCounter: binary.BigEndian.Uint32(data[OffsetFileChangeCounter:]),
		DatabaseSize:      binary.BigEndian.Uint32(data[OffsetDatabaseSize:]),
		FirstFreelist:     binary.BigEndian.Uint32(data[OffsetFirstFreelist:]),
		FreelistCount:     binary.BigEndian.Uint32(data[OffsetFreelistCount:]),
		SchemaCookie:      binary.BigEndian.Uint32(data[OffsetSchemaCookie:]),
		SchemaFormat:      binary.BigEndian.Uint32(data[OffsetSchemaFormat:]),
		DefaultCacheSize:  binary.BigEndian.Uint32(data[OffsetDefaultCacheSize:]),
		LargestRootPage:   binary.BigEndian.Uint32(data[OffsetLargestRootPage:]),
		TextEncoding:      binary.BigEndian.Uint32(data[OffsetTextEncoding:]),
		UserVersion:       binary.BigEndian.Uint32(data[OffsetUserVersion:]),
		IncrVacuum:        binary.BigEndian.Uint32(data[OffsetIncrVacuum:]),
		AppID:             binary.BigEndian.Uint32(data[OffsetAppID:]),
		VersionValidFor:   binary.BigEndian.Uint32(data[OffsetVersionValidFor:]),
		SQLiteVersion:     binary.BigEndian.Uint32(data[OffsetSQLiteVersion:]),
	}

	if err := h.Validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Serialize writes the header back to its 100-byte form.
func (h *Header) Serialize() []byte {
	data := make([]byte, HeaderSize)
	copy(data[OffsetMagic:], MagicString)
	binary.BigEndian.PutUint16(data[OffsetPageSize:], h.PageSize)
	data[OffsetWriteVersion] = h.WriteVersion
	data[OffsetReadVersion] = h.ReadVersion
	data[OffsetReservedSpace] = h.ReservedSpace
	data[OffsetMaxPayloadFrac] = h.MaxPayloadFrac
	data[OffsetMinPayloadFrac] = h.MinPayloadFrac
	data[OffsetLeafPayloadFrac] = h.LeafPayloadFrac
	binary.BigEndian.PutUint32(data[OffsetFileChangeCounter:], h.FileChangeCounter)
	binary.BigEndian.PutUint32(data[OffsetDatabaseSize:], h.DatabaseSize)
	binary.BigEndian.PutUint32(data[OffsetFirstFreelist:], h.FirstFreelist)
	binary.BigEndian.PutUint32(data[OffsetFreelistCount:], h.FreelistCount)
	binary.BigEndian.PutUint32(data[OffsetSchemaCookie:], h.SchemaCookie)
	binary.BigEndian.PutUint32(data[OffsetSchemaFormat:], h.SchemaFormat)
	binary.BigEndian.PutUint32(data[OffsetDefaultCacheSize:], h.DefaultCacheSize)
	binary.BigEndian.PutUint32(data[OffsetLargestRootPage:], h.LargestRootPage)
	binary.BigEndian.PutUint32(data[OffsetTextEncoding:], h.TextEncoding)
	binary.BigEndian.PutUint32(data[OffsetUserVersion:], h.UserVersion)
	binary.BigEndian.PutUint32(data[OffsetIncrVacuum:], h.IncrVacuum)
	binary.BigEndian.PutUint32(data[OffsetAppID:], h.AppID)
	binary.BigEndian.PutUint32(data[OffsetVersionValidFor:], h.VersionValidFor)
	binary.BigEndian.PutUint32(data[OffsetSQLiteVersion:], h.SQLiteVersion)
	return data
}

// NewHeader creates a header for a new database with the given page size.
func NewHeader(pageSize int) *Header {
	raw := uint16(pageSize)
	if pageSize == MaxPageSize {
		raw = 1
	}
	return &Header{
		PageSize:        raw,
		WriteVersion:    1,
		ReadVersion:     1,
		MaxPayloadFrac:  64,
		MinPayloadFrac:  32,
		LeafPayloadFrac: 32,
		SchemaFormat:    4,
		TextEncoding:    EncodingUTF8,
		SQLiteVersion:   3051020,
	}
}

// Validate checks the header invariants this engine depends on.
func (h *Header) Validate() error {
	if !IsValidPageSize(h.GetPageSize()) {
		return fmt.Errorf("%w: %d", ErrUnsupportedPageSize, h.GetPageSize())
	}
	if h.ReadVersion > 1 {
		return fmt.Errorf("%w: read version %d", ErrUnsupportedReadVersion, h.ReadVersion)
	}
	if h.MaxPayloadFrac != 64 || h.MinPayloadFrac != 32 || h.LeafPayloadFrac != 32 {
		return fmt.Errorf("%w: payload fractions %d/%d/%d",
			ErrUnsupportedFormat, h.MaxPayloadFrac, h.MinPayloadFrac, h.LeafPayloadFrac)
	}
	if h.SchemaFormat > 4 {
		return fmt.Errorf("%w: schema format %d", ErrUnsupportedFormat, h.SchemaFormat)
	}
	if h.TextEncoding != 0 && (h.TextEncoding < EncodingUTF8 || h.TextEncoding > EncodingUTF16BE) {
		return fmt.Errorf("%w: text encoding %d", ErrUnsupportedFormat, h.TextEncoding)
	}
	return nil
}

// GetPageSize returns the actual page size, decoding the stored value 1 as 65536.
func (h *Header) GetPageSize() int {
	if h.PageSize == 1 {
		return MaxPageSize
	}
	return int(h.PageSize)
}

// UsableSize returns the usable bytes per page (page size minus reserved space).
func (h *Header) UsableSize() int {
	return h.GetPageSize() - int(h.ReservedSpace)
}

// IsValidPageSize reports whether size is a power of two in [512, 65536].
func IsValidPageSize(size int) bool {
	if size < MinPageSize || size > MaxPageSize {
		return false
	}
	return size&(size-1) == 0
}
