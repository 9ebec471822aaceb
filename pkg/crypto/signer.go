package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Signer produces detached signatures over ledger entries.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	ID() string
}

// Ed25519Signer signs with an ed25519 key. Signatures and keys are hex.
type Ed25519Signer struct {
	key ed25519.PrivateKey
	id  string
}

// NewEd25519Signer generates a fresh key.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Ed25519Signer{key: priv, id: keyID}, nil
}

// LoadOrCreateSigner reads a hex ed25519 seed from path. When the file is
// absent a new key is generated and written with mode 0600; created reports
// which happened.
func LoadOrCreateSigner(path, keyID string) (s *Ed25519Signer, created bool, err error) {
	raw, err := os.ReadFile(path) //nolint:gosec // operator-supplied key path
	switch {
	case err == nil:
		seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, false, fmt.Errorf("key file %s: want %d hex-encoded seed bytes", path, ed25519.SeedSize)
		}
		return &Ed25519Signer{key: ed25519.NewKeyFromSeed(seed), id: keyID}, false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("read key file: %w", err)
	}

	if s, err = NewEd25519Signer(keyID); err != nil {
		return nil, false, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".key-*")
	if err != nil {
		return nil, false, fmt.Errorf("persist key file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err = tmp.WriteString(hex.EncodeToString(s.key.Seed())); err == nil {
		err = tmp.Close()
	} else {
		_ = tmp.Close()
	}
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}
	if err != nil {
		return nil, false, fmt.Errorf("persist key file: %w", err)
	}
	return s, true, nil
}

func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.key, data)), nil
}

func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.key.Public().(ed25519.PublicKey))
}

func (s *Ed25519Signer) ID() string { return s.id }

// Verify checks a hex signature over data against a hex public key. Malformed
// keys or signatures are errors; a well-formed signature that does not match
// returns false.
func Verify(pubKeyHex, sigHex string, data []byte) (bool, error) {
	pub, err := hex.DecodeString(pubKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false, fmt.Errorf("malformed ed25519 public key %q", pubKeyHex)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false, errors.New("malformed ed25519 signature")
	}
	return ed25519.Verify(pub, data, sig), nil
}
