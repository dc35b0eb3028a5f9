package sdb

// PrefetchConfig tunes the page cache's sequential-access prefetcher.
type PrefetchConfig struct {
	// SequentialThreshold is how many consecutive page reads arm the
	// prefetcher.
	SequentialThreshold int

	// Depth is how many following pages one trigger loads.
	Depth int
}

// DefaultPrefetch returns the standard prefetch configuration.
func DefaultPrefetch() *PrefetchConfig {
	return &PrefetchConfig{SequentialThreshold: 3, Depth: 8}
}

// Argon2idParams parameterizes the key derivation for whole-database
// encryption.
type Argon2idParams struct {
	Memory  uint32 // KiB
	Time    uint32
	Threads uint8
	Salt    []byte
}

// DefaultArgon2id returns moderate interactive-use parameters.
func DefaultArgon2id(salt []byte) Argon2idParams {
	return Argon2idParams{Memory: 64 * 1024, Time: 3, Threads: 4, Salt: salt}
}

// EncryptionConfig enables whole-database encryption at page granularity:
// AES-256-GCM per page under a key derived from MasterKey with Argon2id.
type EncryptionConfig struct {
	MasterKey []byte
	KDF       Argon2idParams
}

// Options configures Open.
type Options struct {
	// Writable opens the database for writing. Default is read-only.
	Writable bool

	// PageSize applies when creating a new database; zero means 4096.
	PageSize int

	// PageCacheCapacity is the page cache size in pages. Zero means the
	// default of 64; a negative value disables the cache.
	PageCacheCapacity int

	// Prefetch enables sequential prefetch; nil disables it.
	Prefetch *PrefetchConfig

	// Encryption enables whole-database encryption; nil means plaintext.
	Encryption *EncryptionConfig
}

// DefaultOptions returns the standard read-only configuration.
func DefaultOptions() Options {
	return Options{
		PageCacheCapacity: 64,
		Prefetch:          DefaultPrefetch(),
	}
}
