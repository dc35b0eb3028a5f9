package sdb

import (
	"fmt"
	"os"

	"github.com/FocuswithJustin/sharc/core/ledger"
	"github.com/FocuswithJustin/sharc/core/sdb/internal/format"
)

// ValidationReport summarizes the structural checks of Validate.
type ValidationReport struct {
	Valid    bool
	Problems []string

	// Ledger verification, present when a ledger is attached.
	Ledger *ledger.Report
}

// Validate checks the database file's structural invariants: the file size
// is a whole number of pages, the header magic and geometry are sound, and
// the in-header page count does not exceed the file. With an attached
// ledger the mutation hash chain is verified as well.
func (db *Database) Validate() (*ValidationReport, error) {
	if db.pg == nil {
		return nil, ErrClosed
	}
	report := &ValidationReport{Valid: true}
	flag := func(msg string, args ...interface{}) {
		report.Valid = false
		report.Problems = append(report.Problems, fmt.Sprintf(msg, args...))
	}

	info, err := os.Stat(db.path)
	if err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}

	page1, err := db.pg.Page(1)
	if err != nil {
		return nil, err
	}
	h, err := format.ParseHeader(page1)
	if err != nil {
		flag("header: %v", err)
		return report, nil
	}

	pageSize := h.GetPageSize()
	if info.Size()%int64(pageSize) != 0 {
		flag("file size %d is not a multiple of page size %d", info.Size(), pageSize)
	}
	if h.ReadVersion > 1 {
		flag("read version %d is not supported", h.ReadVersion)
	}
	filePages := uint32(info.Size() / int64(pageSize))
	if h.DatabaseSize > filePages {
		flag("in-header page count %d exceeds file page count %d", h.DatabaseSize, filePages)
	}
	if h.FreelistCount > 0 && h.FirstFreelist == 0 {
		flag("freelist count %d with no trunk page", h.FreelistCount)
	}
	if h.FirstFreelist > filePages {
		flag("freelist trunk page %d beyond file end", h.FirstFreelist)
	}

	if db.ledger != nil {
		lr, err := db.ledger.Verify()
		if err != nil {
			return nil, err
		}
		report.Ledger = lr
		if !lr.ChainIntact {
			flag("ledger chain diverges at sequence %d", lr.FirstDivergence)
		}
	}
	return report, nil
}
