package pagesource

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// GCMTagSize is the AES-GCM authentication tag length. Encrypted databases
// declare it as the per-page reserved space, so the b-tree layer never
// touches the tag bytes.
const GCMTagSize = 16

// CryptSource decrypts pages of an encrypted database read through an
// inner source. On disk each page holds ciphertext of the usable region
// followed by the GCM tag in the reserved tail; page 1 keeps its first
// 100 bytes (the database header) in plaintext.
type CryptSource struct {
	inner Source
	aead  cipher.AEAD
}

// NewCryptSource wraps inner with the given AEAD, which must have a
// 12-byte nonce and 16-byte overhead (AES-256-GCM).
func NewCryptSource(inner Source, aead cipher.AEAD) (*CryptSource, error) {
	if aead.NonceSize() != 12 || aead.Overhead() != GCMTagSize {
		return nil, fmt.Errorf("unexpected AEAD geometry: nonce %d, overhead %d", aead.NonceSize(), aead.Overhead())
	}
	return &CryptSource{inner: inner, aead: aead}, nil
}

// PageNonce returns the 12-byte nonce for a page: the page number encoded
// big-endian into the low 4 bytes.
func PageNonce(n uint32) []byte {
	nonce := make([]byte, 12)
	binary.BigEndian.PutUint32(nonce[8:], n)
	return nonce
}

// PageAAD returns the additional authenticated data for a page: its
// big-endian page number.
func PageAAD(n uint32) []byte {
	aad := make([]byte, 4)
	binary.BigEndian.PutUint32(aad, n)
	return aad
}

// PageSize returns the page size.
func (s *CryptSource) PageSize() int { return s.inner.PageSize() }

// PageCount returns the page count.
func (s *CryptSource) PageCount() uint32 { return s.inner.PageCount() }

// Page reads and decrypts page n. The returned buffer is PageSize bytes
// with the reserved tail zeroed.
func (s *CryptSource) Page(n uint32) ([]byte, error) {
	raw, err := s.inner.Page(n)
	if err != nil {
		return nil, err
	}
	return DecryptPage(s.aead, raw, n)
}

// Close closes the inner source.
func (s *CryptSource) Close() error { return s.inner.Close() }

// DecryptPage decrypts one raw on-disk page. The plaintext header window
// of page 1 is copied through unchanged.
func DecryptPage(aead cipher.AEAD, raw []byte, n uint32) ([]byte, error) {
	pageSize := len(raw)
	skip := 0
	if n == 1 {
		skip = 100
	}
	out := make([]byte, pageSize)
	copy(out, raw[:skip])

	ct := raw[skip:] // ciphertext ‖ tag
	pt, err := aead.Open(out[skip:skip], PageNonce(n), ct, PageAAD(n))
	if err != nil {
		return nil, fmt.Errorf("decrypt page %d: %w", n, err)
	}
	_ = pt // decrypts in place into out[skip:]
	return out, nil
}

// EncryptPage encrypts one full-size page buffer for writing. data must be
// PageSize bytes with the reserved tail unused; the result is the same
// length with the tag occupying the tail.
func EncryptPage(aead cipher.AEAD, data []byte, n uint32) []byte {
	pageSize := len(data)
	skip := 0
	if n == 1 {
		skip = 100
	}
	out := make([]byte, pageSize)
	copy(out, data[:skip])

	plain := data[skip : pageSize-GCMTagSize]
	aead.Seal(out[skip:skip], PageNonce(n), plain, PageAAD(n))
	return out
}
