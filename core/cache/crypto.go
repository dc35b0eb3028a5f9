package cache

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// scopeInfoPrefix is the HKDF info-string prefix binding derived keys to
// this cache's scope namespace.
const scopeInfoPrefix = "sharc-cache-scope/"

const nonceSize = 12

// scopeKey derives (and memoizes) the AES-256 key for a scope:
// HKDF-SHA256(master, salt = zero, info = prefix ‖ scope).
func (c *Cache) scopeKey(scope string) ([]byte, error) {
	c.mu.Lock()
	if key, ok := c.scopeKeys[scope]; ok {
		c.mu.Unlock()
		return key, nil
	}
	c.mu.Unlock()

	r := hkdf.New(sha256.New, c.cfg.MasterKey, nil, []byte(scopeInfoPrefix+scope))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive scope key: %w", err)
	}

	c.mu.Lock()
	c.scopeKeys[scope] = key
	c.mu.Unlock()
	return key, nil
}

func (c *Cache) scopeAEAD(scope string) (cipher.AEAD, error) {
	key, err := c.scopeKey(scope)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal envelope-encrypts plain under the scope key with a fresh random
// nonce, using the scope as additional authenticated data. The stored form
// is nonce ‖ ciphertext ‖ tag.
func (c *Cache) seal(scope string, plain []byte) ([]byte, error) {
	aead, err := c.scopeAEAD(scope)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cache nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, []byte(scope)), nil
}

// open decrypts a stored entry. A tampered ciphertext or a key/scope
// mismatch surfaces as ErrIntegrity.
func (c *Cache) open(scope string, stored []byte) ([]byte, error) {
	if len(stored) < nonceSize {
		return nil, ErrIntegrity
	}
	aead, err := c.scopeAEAD(scope)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, stored[:nonceSize], stored[nonceSize:], []byte(scope))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plain, nil
}
