// Package hashing derives the deterministic content hash and point identifier
// used throughout the ingest and retrieval pipelines. The same (url, index,
// text) triple always yields the same hash, and the same hash always yields
// the same point id — this is what makes repeated ingestion idempotent.
package hashing

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Hash returns the lowercase hex SHA-256 digest of
// "<url>#<index>:<text>". It is the dedup key for a chunk and the seed for
// its point id.
func Hash(url string, index int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s#%d:%s", url, index, text)))
	return hex.EncodeToString(sum[:])
}

// PointID derives a deterministic UUIDv3 point identifier from a content
// hash: the MD5 digest of the hash's UTF-8 bytes with the version-3 and
// RFC 4122 variant bits set, and no namespace prefix — the hash itself
// already encodes the source url/index/text.
//
// PointID returns an error if hash is blank: a blank hash cannot be a stable
// seed and indicates a caller bug upstream (e.g. hashing before the text was
// read).
func PointID(hash string) (uuid.UUID, error) {
	if hash == "" {
		return uuid.UUID{}, fmt.Errorf("hashing: point id requires a non-blank hash")
	}
	sum := md5.Sum([]byte(hash))
	sum[6] = (sum[6] & 0x0f) | 0x30 // version 3
	sum[8] = (sum[8] & 0x3f) | 0x80 // RFC 4122 variant
	return uuid.UUID(sum), nil
}

// MustPointID is PointID but panics on error. Use only where hash is already
// known to be non-blank (e.g. it was just computed by Hash).
func MustPointID(hash string) uuid.UUID {
	id, err := PointID(hash)
	if err != nil {
		panic(err)
	}
	return id
}
