//go:build linux || darwin

package pagesource

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrMmapUnsupported is returned on platforms without the memory-mapped
// source; callers fall back to FileSource. OpenMmapSource never returns
// it on this platform.
var ErrMmapUnsupported = errors.New("memory-mapped page source not supported on this platform")

// MmapSource serves pages as spans into a read-only memory mapping.
// Suited to large read-only databases: no per-page copies, the OS pages
// data in on demand.
type MmapSource struct {
	data     []byte
	pageSize int
}

// OpenMmapSource maps path read-only. The file length must be a multiple
// of pageSize.
func OpenMmapSource(path string, pageSize int) (*MmapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 || size%int64(pageSize) != 0 {
		return nil, fmt.Errorf("file size %d is not a multiple of page size %d", size, pageSize)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &MmapSource{data: data, pageSize: pageSize}, nil
}

// PageSize returns the page size.
func (s *MmapSource) PageSize() int { return s.pageSize }

// PageCount returns the number of mapped pages.
func (s *MmapSource) PageCount() uint32 { return uint32(len(s.data) / s.pageSize) }

// Page returns a span into the mapping.
func (s *MmapSource) Page(n uint32) ([]byte, error) {
	if s.data == nil {
		return nil, ErrClosed
	}
	if err := checkRange(n, s.PageCount()); err != nil {
		return nil, err
	}
	off := int(n-1) * s.pageSize
	return s.data[off : off+s.pageSize], nil
}

// Close unmaps the file. Spans returned by Page must not be used after
// Close.
func (s *MmapSource) Close() error {
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	return err
}
