package license

import (
	"crypto/subtle"

	"github.com/algorand/go-deadlock"

	"fitcore/internal/security"
)

// SignatureCache remembers the content hash of the last license whose RSA
// signature verified, so that unchanged licenses skip the RSA math.
type SignatureCache struct {
	mutex     deadlock.Mutex
	verified  bool
	hash      [security.DMSize]byte
	hitCount  int64
	missCount int64
}

// NewSignatureCache creates an empty cache.
func NewSignatureCache() *SignatureCache {
	return &SignatureCache{}
}

// Lookup reports whether hash is the cached verified hash.
func (c *SignatureCache) Lookup(hash [security.DMSize]byte) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.verified && subtle.ConstantTimeCompare(c.hash[:], hash[:]) == 1 {
		c.hitCount++
		return true
	}
	c.missCount++
	return false
}

// Store records hash as verified.
func (c *SignatureCache) Store(hash [security.DMSize]byte) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.verified = true
	c.hash = hash
}

// Invalidate forgets the cached hash. It runs on every failed
// verification.
func (c *SignatureCache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.verified = false
	c.hash = [security.DMSize]byte{}
}

// Reset invalidates the slot and clears the statistics.
func (c *SignatureCache) Reset() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.verified = false
	c.hash = [security.DMSize]byte{}
	c.hitCount = 0
	c.missCount = 0
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Verified bool    `json:"verified"`
	Hits     int64   `json:"hit_count"`
	Misses   int64   `json:"miss_count"`
	HitRatio float64 `json:"hit_ratio"`
}

// Stats returns cache statistics.
func (c *SignatureCache) Stats() CacheStats {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	total := c.hitCount + c.missCount
	ratio := float64(0)
	if total > 0 {
		ratio = float64(c.hitCount) / float64(total)
	}
	return CacheStats{
		Verified: c.verified,
		Hits:     c.hitCount,
		Misses:   c.missCount,
		HitRatio: ratio,
	}
}
