package crypto

import (
	_ "crypto/sha256" // registers SHA-256 for go-digest
	"fmt"
	"io"
	"strings"

	"github.com/opencontainers/go-digest"
)

// ContentHasher computes the digest recorded for release artifacts.
// Implementations must be deterministic: equal bytes always give equal digests.
type ContentHasher interface {
	// Digest returns the lowercase hex digest of data.
	Digest(data []byte) string
	// DigestReader streams r and returns its hex digest and length.
	DigestReader(r io.Reader) (string, int64, error)
}

// SHA256Hasher is the default ContentHasher.
type SHA256Hasher struct{}

func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

func (SHA256Hasher) Digest(data []byte) string {
	return digest.SHA256.FromBytes(data).Encoded()
}

func (SHA256Hasher) DigestReader(r io.Reader) (string, int64, error) {
	d := digest.SHA256.Digester()
	n, err := io.Copy(d.Hash(), r)
	if err != nil {
		return "", n, fmt.Errorf("digest stream: %w", err)
	}
	return d.Digest().Encoded(), n, nil
}

// ValidDigest reports whether s is a well-formed hex SHA-256 digest.
func ValidDigest(s string) bool {
	if s != strings.ToLower(s) {
		return false
	}
	return digest.NewDigestFromEncoded(digest.SHA256, s).Validate() == nil
}

// EqualDigest compares two hex digests ignoring case.
func EqualDigest(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}
