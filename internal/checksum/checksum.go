package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Node digests a node's indexable state: title, tags, and content bytes,
// NUL-separated so field boundaries cannot collide. The search index
// skips reindexing when this digest is unchanged.
func Node(title string, tags []string, content []byte) string {
	var b bytes.Buffer
	b.WriteString(title)
	for _, t := range tags {
		b.WriteByte(0)
		b.WriteString(t)
	}
	b.WriteByte(0)
	b.Write(content)
	return Sum(b.Bytes())
}
