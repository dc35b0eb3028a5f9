package pagesource

import (
	"fmt"
	"os"
)

// FileSource reads pages from an open database file through the OS page
// cache. Reads position at (n-1) * pageSize.
type FileSource struct {
	file      *os.File
	pageSize  int
	pageCount uint32
}

// NewFileSource creates a source over an already-open file. The caller
// retains ownership of size bookkeeping; pageCount is refreshed with
// SetPageCount after the file grows.
func NewFileSource(file *os.File, pageSize int, pageCount uint32) *FileSource {
	return &FileSource{file: file, pageSize: pageSize, pageCount: pageCount}
}

// OpenFileSource opens path read-only and sizes the source from the file.
func OpenFileSource(path string, pageSize int) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return NewFileSource(f, pageSize, uint32(info.Size()/int64(pageSize))), nil
}

// PageSize returns the page size.
func (s *FileSource) PageSize() int { return s.pageSize }

// PageCount returns the number of pages in the file.
func (s *FileSource) PageCount() uint32 { return s.pageCount }

// SetPageCount updates the page count after the file grows or shrinks.
func (s *FileSource) SetPageCount(n uint32) { s.pageCount = n }

// Page reads page n from the file. Each call returns a fresh buffer.
func (s *FileSource) Page(n uint32) ([]byte, error) {
	if s.file == nil {
		return nil, ErrClosed
	}
	if err := checkRange(n, s.pageCount); err != nil {
		return nil, err
	}
	buf := make([]byte, s.pageSize)
	if _, err := s.file.ReadAt(buf, int64(n-1)*int64(s.pageSize)); err != nil {
		return nil, fmt.Errorf("read page %d: %w", n, err)
	}
	return buf, nil
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
