package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSHA256Hasher_KnownVectors(t *testing.T) {
	h := NewSHA256Hasher()
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", h.Digest(nil))
	assert.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", h.Digest([]byte("hello world")))
}

func TestSHA256Hasher_ReaderMatchesBytes(t *testing.T) {
	h := NewSHA256Hasher()
	data := bytes.Repeat([]byte("release-"), 4096)

	sum, n, err := h.DigestReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, h.Digest(data), sum)
}

func TestDigestStability(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	h := NewSHA256Hasher()

	properties.Property("equal bytes hash equally", prop.ForAll(
		func(data []byte) bool {
			cp := append([]byte(nil), data...)
			return h.Digest(data) == h.Digest(cp) && ValidDigest(h.Digest(data))
		},
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("flipping one byte changes the digest", prop.ForAll(
		func(data []byte, idx int) bool {
			if len(data) == 0 {
				return true
			}
			mutated := append([]byte(nil), data...)
			mutated[idx%len(mutated)] ^= 0x01
			return h.Digest(data) != h.Digest(mutated)
		},
		gen.SliceOf(gen.UInt8()),
		gen.IntRange(0, 1<<16),
	))

	properties.TestingRun(t)
}

func TestValidDigest(t *testing.T) {
	assert.True(t, ValidDigest("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
	assert.False(t, ValidDigest("E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855"))
	assert.False(t, ValidDigest("abc"))
	assert.False(t, ValidDigest(""))
	assert.False(t, ValidDigest("sha256:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
}

func TestEqualDigest(t *testing.T) {
	assert.True(t, EqualDigest("abCD", "ABcd"))
	assert.False(t, EqualDigest("", ""))
	assert.False(t, EqualDigest("ab", "ac"))
}

func TestCanonicalHash_KeyOrderIndependent(t *testing.T) {
	m1 := map[string]int{"a": 1, "b": 2}
	m2 := map[string]int{"b": 2, "a": 1}

	h1, err := CanonicalHash(m1)
	require.NoError(t, err)
	h2, err := CanonicalHash(m2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	out, err := CanonicalMarshal(struct {
		Z string `json:"z"`
		A string `json:"a"`
	}{Z: "<z>", A: "a"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"a","z":"<z>"}`, string(out))
}

func TestEd25519Signer_SignVerify(t *testing.T) {
	signer, err := NewEd25519Signer("key-1")
	require.NoError(t, err)

	data := []byte("hello world")
	sig, err := signer.Sign(data)
	require.NoError(t, err)

	ok, err := Verify(signer.PublicKey(), sig, data)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(signer.PublicKey(), sig, []byte("hello world!"))
	require.NoError(t, err)
	assert.False(t, ok, "tampered payload must not verify")

	_, err = Verify("zz", sig, data)
	assert.Error(t, err)
}

func TestLoadOrCreateSigner_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.key")

	first, created, err := LoadOrCreateSigner(path, "node-1")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := LoadOrCreateSigner(path, "node-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.PublicKey(), second.PublicKey())
	assert.Equal(t, "node-1", second.ID())
}

func TestLoadOrCreateSigner_RejectsMalformedSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.key")
	require.NoError(t, os.WriteFile(path, []byte("not-hex"), 0o600))

	_, _, err := LoadOrCreateSigner(path, "node-1")
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("abcd"), 0o600))
	_, _, err = LoadOrCreateSigner(path, "node-1")
	assert.Error(t, err, "short seed must be rejected")
}
