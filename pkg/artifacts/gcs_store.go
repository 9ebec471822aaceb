//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
)

// GCSStore implements Store using Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string // Optional key prefix (e.g., "artifacts/")
	hasher crypto.ContentHasher
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCSStore creates a new GCS-backed artifact store.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	// Uses ADC by default
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		hasher: crypto.NewSHA256Hasher(),
	}, nil
}

func (s *GCSStore) object(packageID, version string) (*storage.ObjectHandle, string, error) {
	k, err := objectKey(packageID, version)
	if err != nil {
		return nil, "", err
	}
	path := s.prefix + k
	return s.client.Bucket(s.bucket).Object(path), path, nil
}

func (s *GCSStore) Put(ctx context.Context, packageID, version string, data []byte) (PutResult, error) {
	obj, path, err := s.object(packageID, version)
	if err != nil {
		return PutResult{}, err
	}
	res := PutResult{
		Hash:        s.hasher.Digest(data),
		Size:        int64(len(data)),
		ContentType: DetectContentType(data),
	}

	w := obj.NewWriter(ctx)
	w.ContentType = res.ContentType
	w.Metadata = map[string]string{metaDigestKey: res.Hash}

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return PutResult{}, fmt.Errorf("gcs write failed for %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return PutResult{}, fmt.Errorf("gcs close failed for %s: %w", path, err)
	}
	return res, nil
}

func (s *GCSStore) Get(ctx context.Context, packageID, version string) ([]byte, error) {
	obj, path, err := s.object(packageID, version)
	if err != nil {
		return nil, err
	}
	reader, err := obj.NewReader(ctx)
	if err != nil {
		if isGCSNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", path, err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

func (s *GCSStore) Exists(ctx context.Context, packageID, version string) (bool, error) {
	obj, _, err := s.object(packageID, version)
	if err != nil {
		return false, err
	}
	if _, err := obj.Attrs(ctx); err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

func (s *GCSStore) DeleteVersion(ctx context.Context, packageID, version string) error {
	obj, path, err := s.object(packageID, version)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !isGCSNotFound(err) {
		return fmt.Errorf("gcs delete failed for %s: %w", path, err)
	}
	return nil
}

func (s *GCSStore) DeletePackage(ctx context.Context, packageID string) error {
	keys, err := s.listKeys(ctx, packageID)
	if err != nil {
		return err
	}
	bucket := s.client.Bucket(s.bucket)
	for _, key := range keys {
		if err := bucket.Object(key).Delete(ctx); err != nil && !isGCSNotFound(err) {
			return fmt.Errorf("gcs delete failed for %s: %w", key, err)
		}
	}
	return nil
}

func (s *GCSStore) ListVersions(ctx context.Context, packageID string) ([]string, error) {
	keys, err := s.listKeys(ctx, packageID)
	if err != nil {
		return nil, err
	}
	return versionsFromKeys(s.prefix+packageID+"/", keys), nil
}

func (s *GCSStore) listKeys(ctx context.Context, packageID string) ([]string, error) {
	prefix, err := packagePrefix(packageID)
	if err != nil {
		return nil, err
	}
	var keys []string
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix + prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("gcs list failed for %s: %w", packageID, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func isGCSNotFound(err error) bool {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return true
	}
	var gErr *googleapi.Error
	return errors.As(err, &gErr) && gErr.Code == http.StatusNotFound
}
