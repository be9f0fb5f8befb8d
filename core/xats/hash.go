package xats

import (
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// Hash returns the BLAKE3 hash of the document's canonical JSON encoding.
// The encoding is reduced to generic values before hashing: Content maps
// may hold typed values (*SemanticText) whose struct field order differs
// from the sorted map keys the same JSON decodes to, and the hash must not
// change across an encode/decode cycle. Used for cache keys, bundle
// manifests, and round-trip metrics.
func (d *Document) Hash() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the hex BLAKE3 hash of raw content.
func HashBytes(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
