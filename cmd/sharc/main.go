// Command sharc inspects and maintains SQLite database files using the
// sdb engine: header info, table listings, row scans, structural
// validation, and compressed backups.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/alecthomas/kong"
	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/sharc/core/ledger"
	"github.com/FocuswithJustin/sharc/core/sdb"
)

const version = "0.1.0"

// CLI defines the command-line interface.
var CLI struct {
	Info     InfoCmd     `cmd:"" help:"Show database header information"`
	Tables   TablesCmd   `cmd:"" help:"List tables and their columns"`
	Scan     ScanCmd     `cmd:"" help:"Print the rows of a table"`
	Validate ValidateCmd `cmd:"" help:"Check structural invariants (and the ledger chain when present)"`
	Backup   BackupCmd   `cmd:"" help:"Write an xz-compressed snapshot of the database"`
	Version  VersionCmd  `cmd:"" help:"Print the version"`
}

// InfoCmd prints the parsed database header.
type InfoCmd struct {
	Path string `arg:"" help:"Database file" type:"path"`
}

func (c *InfoCmd) Run() error {
	db, err := sdb.Open(c.Path, sdb.DefaultOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	h, err := db.Header()
	if err != nil {
		return err
	}
	fmt.Printf("page size:       %d\n", h.GetPageSize())
	fmt.Printf("page count:      %d\n", h.DatabaseSize)
	fmt.Printf("freelist pages:  %d\n", h.FreelistCount)
	fmt.Printf("schema cookie:   %d\n", h.SchemaCookie)
	fmt.Printf("schema format:   %d\n", h.SchemaFormat)
	fmt.Printf("text encoding:   %d\n", h.TextEncoding)
	fmt.Printf("change counter:  %d\n", h.FileChangeCounter)
	fmt.Printf("reserved bytes:  %d\n", h.ReservedSpace)
	return nil
}

// TablesCmd lists schema objects.
type TablesCmd struct {
	Path string `arg:"" help:"Database file" type:"path"`
}

func (c *TablesCmd) Run() error {
	db, err := sdb.Open(c.Path, sdb.DefaultOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	for _, t := range db.Tables() {
		flags := ""
		if t.WithoutRowid {
			flags = " (WITHOUT ROWID)"
		}
		fmt.Printf("%s%s root=%d\n", t.Name, flags, t.RootPage)
		for _, col := range t.Columns {
			fmt.Printf("  %s\n", col)
		}
	}
	return nil
}

// ScanCmd prints table rows.
type ScanCmd struct {
	Path    string   `arg:"" help:"Database file" type:"path"`
	Table   string   `arg:"" help:"Table to scan"`
	Columns []string `name:"columns" short:"c" help:"Project onto these columns"`
	Limit   int      `name:"limit" short:"n" default:"0" help:"Stop after N rows (0 = all)"`
}

func (c *ScanCmd) Run() error {
	db, err := sdb.Open(c.Path, sdb.DefaultOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	var opts []sdb.ReaderOption
	if len(c.Columns) > 0 {
		opts = append(opts, sdb.WithColumns(c.Columns...))
	}
	r, err := db.Reader(c.Table, opts...)
	if err != nil {
		return err
	}

	count := 0
	for r.Next() {
		fmt.Printf("%d:", r.Rowid())
		for _, v := range r.Values() {
			switch x := v.(type) {
			case nil:
				fmt.Print(" NULL")
			case []byte:
				fmt.Printf(" x'%x'", x)
			default:
				fmt.Printf(" %v", x)
			}
		}
		fmt.Println()
		count++
		if c.Limit > 0 && count >= c.Limit {
			break
		}
	}
	return r.Err()
}

// ValidateCmd runs the structural validator.
type ValidateCmd struct {
	Path   string `arg:"" help:"Database file" type:"path"`
	Ledger string `name:"ledger" help:"Ledger sidecar to verify (defaults to <db>.ledger when present)" type:"path"`
}

func (c *ValidateCmd) Run() error {
	db, err := sdb.Open(c.Path, sdb.DefaultOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	ledgerPath := c.Ledger
	if ledgerPath == "" {
		if _, err := os.Stat(c.Path + ".ledger"); err == nil {
			ledgerPath = c.Path + ".ledger"
		}
	}
	if ledgerPath != "" {
		l, err := ledger.Open(ledgerPath)
		if err != nil {
			return err
		}
		db.AttachLedger(l)
	}

	report, err := db.Validate()
	if err != nil {
		return err
	}
	if report.Ledger != nil {
		fmt.Printf("ledger entries: %d, chain intact: %v\n", report.Ledger.EntryCount, report.Ledger.ChainIntact)
	}
	if !report.Valid {
		for _, p := range report.Problems {
			fmt.Printf("problem: %s\n", p)
		}
		return fmt.Errorf("validation failed with %d problem(s)", len(report.Problems))
	}
	fmt.Println("ok")
	return nil
}

// BackupCmd snapshots the database into an xz-compressed file.
type BackupCmd struct {
	Path string `arg:"" help:"Database file" type:"path"`
	Out  string `arg:"" optional:"" help:"Output path (default <db>.xz)" type:"path"`
}

func (c *BackupCmd) Run() error {
	// Opening takes the shared lock, so the snapshot cannot interleave
	// with a commit.
	db, err := sdb.Open(c.Path, sdb.DefaultOptions())
	if err != nil {
		return err
	}
	defer db.Close()

	out := c.Out
	if out == "" {
		out = c.Path + ".xz"
	}

	src, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(out)
	if err != nil {
		return err
	}
	defer dst.Close()

	zw, err := xz.NewWriter(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(zw, src)
	if err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	fmt.Printf("backed up %d bytes to %s\n", n, out)
	return nil
}

// VersionCmd prints the tool version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("sharc", version)
	return nil
}

func main() {
	log.SetFlags(0)
	ctx := kong.Parse(&CLI,
		kong.Name("sharc"),
		kong.Description("Inspect and maintain SQLite database files."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(); err != nil {
		log.Fatalf("sharc: %v", err)
	}
}
