package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
)

// MinioStore implements Store on a MinIO (or other S3-compatible) server via minio-go.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
	hasher crypto.ContentHasher
}

// MinioStoreConfig holds configuration for MinioStore.
type MinioStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// NewMinioStore connects to the server and ensures the bucket exists.
func NewMinioStore(ctx context.Context, cfg MinioStoreConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio bucket check failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("minio make bucket failed: %w", err)
		}
	}

	return &MinioStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		hasher: crypto.NewSHA256Hasher(),
	}, nil
}

func (s *MinioStore) key(packageID, version string) (string, error) {
	k, err := objectKey(packageID, version)
	if err != nil {
		return "", err
	}
	return s.prefix + k, nil
}

// Put uploads data, replacing any object already under the key.
func (s *MinioStore) Put(ctx context.Context, packageID, version string, data []byte) (PutResult, error) {
	key, err := s.key(packageID, version)
	if err != nil {
		return PutResult{}, err
	}
	res := PutResult{
		Hash:        s.hasher.Digest(data),
		Size:        int64(len(data)),
		ContentType: DetectContentType(data),
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), res.Size, minio.PutObjectOptions{
		ContentType:  res.ContentType,
		UserMetadata: map[string]string{metaDigestKey: res.Hash},
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("minio put failed for %s: %w", key, err)
	}
	return res, nil
}

func (s *MinioStore) Get(ctx context.Context, packageID, version string) ([]byte, error) {
	key, err := s.key(packageID, version)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get failed for %s: %w", key, err)
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; a missing key surfaces on first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("minio read failed for %s: %w", key, err)
	}
	return data, nil
}

func (s *MinioStore) Exists(ctx context.Context, packageID, version string) (bool, error) {
	key, err := s.key(packageID, version)
	if err != nil {
		return false, err
	}
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("minio stat failed for %s: %w", key, err)
	}
	return true, nil
}

func (s *MinioStore) DeleteVersion(ctx context.Context, packageID, version string) error {
	key, err := s.key(packageID, version)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isMinioNotFound(err) {
		return fmt.Errorf("minio delete failed for %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) DeletePackage(ctx context.Context, packageID string) error {
	keys, err := s.listKeys(ctx, packageID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isMinioNotFound(err) {
			return fmt.Errorf("minio delete failed for %s: %w", key, err)
		}
	}
	return nil
}

func (s *MinioStore) ListVersions(ctx context.Context, packageID string) ([]string, error) {
	keys, err := s.listKeys(ctx, packageID)
	if err != nil {
		return nil, err
	}
	return versionsFromKeys(s.prefix+packageID+"/", keys), nil
}

func (s *MinioStore) listKeys(ctx context.Context, packageID string) ([]string, error) {
	prefix, err := packagePrefix(packageID)
	if err != nil {
		return nil, err
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix + prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio list failed for %s: %w", packageID, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
