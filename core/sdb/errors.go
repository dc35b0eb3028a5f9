package sdb

import (
	"errors"

	"github.com/FocuswithJustin/sharc/core/sdb/internal/btree"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/pager"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/schema"
)

// Error kinds surfaced by the engine. Format and schema kinds are the
// internal sentinels re-exported, so errors.Is works across the package
// boundary.
var (
	// Format errors.
	ErrBadMagic               = format.ErrBadMagic
	ErrUnsupportedReadVersion = format.ErrUnsupportedReadVersion
	ErrUnsupportedPageSize    = format.ErrUnsupportedPageSize
	ErrUnsupportedFormat      = format.ErrUnsupportedFormat
	ErrMalformedRecord        = format.ErrMalformedRecord
	ErrTruncated              = format.ErrTruncated

	// Schema errors.
	ErrUnknownTable  = schema.ErrUnknownTable
	ErrUnknownIndex  = schema.ErrUnknownIndex
	ErrUnknownColumn = schema.ErrUnknownColumn

	// Transaction errors.
	ErrTxAlreadyOpen  = pager.ErrTxAlreadyOpen
	ErrNoActiveTx     = pager.ErrNoActiveTx
	ErrReadOnly       = pager.ErrReadOnly
	ErrJournalCorrupt = pager.ErrJournalCorrupt

	// Write errors.
	ErrDuplicateRowid = btree.ErrDuplicateRowid
	ErrRecordTooLarge = btree.ErrRecordTooLarge
	ErrRowidOverflow  = errors.New("rowid overflow")
	ErrNullConstraint = errors.New("NOT NULL constraint failed")

	// Argument errors.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrClosed is returned by operations on a closed database.
	ErrClosed = errors.New("database is closed")
)

// CorruptPageError reports structural corruption with its page number;
// use errors.As to retrieve the context.
type CorruptPageError = format.CorruptPageError
