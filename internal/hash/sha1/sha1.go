// Package sha1 provides content-address hashing for dedup keys.
package sha1

import (
	"crypto/sha1"
	"encoding/hex"
)

// Sum returns the hex SHA-1 digest of s. URL hashes produced here are the
// primary dedup key for crawled articles and prefix every chunk id.
func Sum(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
