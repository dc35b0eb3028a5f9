//go:build linux || darwin

package pager

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Advisory file locks: readers share the database, a writer holds the
// exclusive lock for the duration of its transaction.

func lockFile(file *os.File, readOnly bool) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_SH); err != nil {
		return fmt.Errorf("acquire shared lock: %w", err)
	}
	return nil
}

func unlockFile(file *os.File) {
	_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
}

func lockExclusive(file *os.File) error {
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("acquire exclusive lock: %w", err)
	}
	return nil
}

func unlockExclusive(file *os.File, readOnly bool) {
	if file == nil {
		return
	}
	// Downgrade back to shared; the pager keeps reading after commit.
	_ = unix.Flock(int(file.Fd()), unix.LOCK_SH)
}
