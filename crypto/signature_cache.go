// signature_cache.go implements an LRU cache for signature verification
// results.
//
// Ecrecover is one of the more expensive operations the concrete validator
// performs while replaying a counterexample transaction sequence, and the
// same (signature, message hash) pair can recur across replay attempts when
// the path explorer re-validates a counterexample after mutating a later
// step. Caching verification results keyed by Keccak256(sig || msgHash)
// avoids redundant recovery work.
package crypto

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ethbmc/ethbmc/core/types"
)

// DefaultSigCacheSize is the default number of entries in the signature cache.
const DefaultSigCacheSize = 4096

// SigCacheEntry holds a cached ecrecover result.
type SigCacheEntry struct {
	Signer types.Address
	Valid  bool
}

// SignatureCache is a concurrent-safe LRU cache for ecrecover results.
type SignatureCache struct {
	cache *lru.Cache[types.Hash, SigCacheEntry]
}

// NewSignatureCache creates a cache with the given maximum number of entries.
// If capacity <= 0, DefaultSigCacheSize is used.
func NewSignatureCache(capacity int) *SignatureCache {
	if capacity <= 0 {
		capacity = DefaultSigCacheSize
	}
	c, err := lru.New[types.Hash, SigCacheEntry](capacity)
	if err != nil {
		// Only returned for capacity <= 0, which is guarded above.
		panic(err)
	}
	return &SignatureCache{cache: c}
}

// SigCacheKey derives a deterministic cache key from a signature and message
// hash: Keccak256(sig || msgHash).
func SigCacheKey(sig []byte, msgHash types.Hash) types.Hash {
	buf := make([]byte, len(sig)+types.HashLength)
	copy(buf, sig)
	copy(buf[len(sig):], msgHash[:])
	return Keccak256Hash(buf)
}

// Get looks up a cached verification result.
func (c *SignatureCache) Get(key types.Hash) (SigCacheEntry, bool) {
	return c.cache.Get(key)
}

// Add inserts a verification result into the cache, evicting the least
// recently used entry if the cache is at capacity.
func (c *SignatureCache) Add(key types.Hash, entry SigCacheEntry) {
	c.cache.Add(key, entry)
}

// Len returns the number of entries currently in the cache.
func (c *SignatureCache) Len() int {
	return c.cache.Len()
}

// Purge removes all entries from the cache.
func (c *SignatureCache) Purge() {
	c.cache.Purge()
}
