//go:build !linux && !darwin

package pager

import "os"

// Advisory locking is a no-op on platforms without flock; single-process
// use remains safe.

func lockFile(file *os.File, readOnly bool) error { return nil }

func unlockFile(file *os.File) {}

func lockExclusive(file *os.File) error { return nil }

func unlockExclusive(file *os.File, readOnly bool) {}
