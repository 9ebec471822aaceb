package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
)

// metaDigestKey is the user-metadata key carrying the artifact digest.
const metaDigestKey = "content-sha256"

// S3Store implements Store using AWS S3 (or any S3-compatible endpoint).
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string // Optional key prefix (e.g., "artifacts/")
	hasher crypto.ContentHasher
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (LocalStack, Ceph, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Store creates a new S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		hasher: crypto.NewSHA256Hasher(),
	}, nil
}

func (s *S3Store) key(packageID, version string) (string, error) {
	k, err := objectKey(packageID, version)
	if err != nil {
		return "", err
	}
	return s.prefix + k, nil
}

// Put uploads data, replacing any object already under the key.
func (s *S3Store) Put(ctx context.Context, packageID, version string, data []byte) (PutResult, error) {
	key, err := s.key(packageID, version)
	if err != nil {
		return PutResult{}, err
	}
	res := PutResult{
		Hash:        s.hasher.Digest(data),
		Size:        int64(len(data)),
		ContentType: DetectContentType(data),
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(res.ContentType),
		Metadata:    map[string]string{metaDigestKey: res.Hash},
	})
	if err != nil {
		return PutResult{}, fmt.Errorf("s3 put failed for %s: %w", key, err)
	}
	return res, nil
}

func (s *S3Store) Get(ctx context.Context, packageID, version string) ([]byte, error) {
	key, err := s.key(packageID, version)
	if err != nil {
		return nil, err
	}
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("s3 get failed for %s: %w", key, err)
	}
	defer func() { _ = result.Body.Close() }()

	return io.ReadAll(result.Body)
}

func (s *S3Store) Exists(ctx context.Context, packageID, version string) (bool, error) {
	key, err := s.key(packageID, version)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 head failed for %s: %w", key, err)
	}
	return true, nil
}

func (s *S3Store) DeleteVersion(ctx context.Context, packageID, version string) error {
	key, err := s.key(packageID, version)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3 delete failed for %s: %w", key, err)
	}
	return nil
}

func (s *S3Store) DeletePackage(ctx context.Context, packageID string) error {
	keys, err := s.listKeys(ctx, packageID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); err != nil {
			return fmt.Errorf("s3 delete failed for %s: %w", key, err)
		}
	}
	return nil
}

func (s *S3Store) ListVersions(ctx context.Context, packageID string) ([]string, error) {
	keys, err := s.listKeys(ctx, packageID)
	if err != nil {
		return nil, err
	}
	return versionsFromKeys(s.prefix+packageID+"/", keys), nil
}

func (s *S3Store) listKeys(ctx context.Context, packageID string) ([]string, error) {
	prefix, err := packagePrefix(packageID)
	if err != nil {
		return nil, err
	}
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix + prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed for %s: %w", packageID, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

// isS3NotFound matches the typed errors and, for S3-compatible servers that
// only send an error code, the bare codes.
func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}

// versionsFromKeys extracts versions from "<dir><version>.blob" keys.
func versionsFromKeys(dir string, keys []string) []string {
	versions := make([]string, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimPrefix(k, dir)
		if rest == k || strings.Contains(rest, "/") || !strings.HasSuffix(rest, blobSuffix) {
			continue
		}
		versions = append(versions, strings.TrimSuffix(rest, blobSuffix))
	}
	sort.Strings(versions)
	return versions
}
