package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
)

// FileStore is a filesystem-backed Store. Layout: <root>/<packageId>/<version>.blob.
type FileStore struct {
	fs     billy.Filesystem
	hasher crypto.ContentHasher
}

// NewFileStore creates a store rooted at baseDir on the host filesystem.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return NewFileStoreFS(osfs.New(baseDir)), nil
}

// NewFileStoreFS creates a store on an arbitrary billy filesystem (memfs in tests).
func NewFileStoreFS(fs billy.Filesystem) *FileStore {
	return &FileStore{fs: fs, hasher: crypto.NewSHA256Hasher()}
}

// Put writes data to a staging file and renames it over the key, so readers
// see either the previous blob or the new one in full.
func (s *FileStore) Put(ctx context.Context, packageID, version string, data []byte) (PutResult, error) {
	key, err := objectKey(packageID, version)
	if err != nil {
		return PutResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}

	res := PutResult{
		Hash:        s.hasher.Digest(data),
		Size:        int64(len(data)),
		ContentType: DetectContentType(data),
	}

	//nolint:gosec // G301: 0755 is intentional for shared artifact directory
	if err := s.fs.MkdirAll(packageID, 0755); err != nil {
		return PutResult{}, fmt.Errorf("failed to create package dir: %w", err)
	}

	// Stage in the package dir so the rename stays on one filesystem. Staged
	// names lack the blob suffix and never show up in ListVersions.
	tmp, err := s.fs.TempFile(packageID, ".upload-")
	if err != nil {
		return PutResult{}, fmt.Errorf("failed to stage blob: %w", err)
	}
	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return PutResult{}, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return PutResult{}, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := s.fs.Rename(tmp.Name(), key); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return PutResult{}, fmt.Errorf("failed to commit blob: %w", err)
	}
	return res, nil
}

func (s *FileStore) Get(ctx context.Context, packageID, version string) ([]byte, error) {
	key, err := objectKey(packageID, version)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := util.ReadFile(s.fs, key)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Exists(ctx context.Context, packageID, version string) (bool, error) {
	key, err := objectKey(packageID, version)
	if err != nil {
		return false, err
	}
	_, err = s.fs.Stat(key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat blob: %w", err)
}

func (s *FileStore) DeleteVersion(ctx context.Context, packageID, version string) error {
	key, err := objectKey(packageID, version)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(key); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

func (s *FileStore) DeletePackage(ctx context.Context, packageID string) error {
	if _, err := packagePrefix(packageID); err != nil {
		return err
	}
	if err := util.RemoveAll(s.fs, packageID); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete package artifacts: %w", err)
	}
	return nil
}

func (s *FileStore) ListVersions(ctx context.Context, packageID string) ([]string, error) {
	if _, err := packagePrefix(packageID); err != nil {
		return nil, err
	}
	entries, err := s.fs.ReadDir(packageID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list package dir: %w", err)
	}
	versions := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blobSuffix) {
			continue
		}
		versions = append(versions, strings.TrimSuffix(e.Name(), blobSuffix))
	}
	sort.Strings(versions)
	return versions, nil
}
