package artifacts

import (
	"context"
	"fmt"
	"path/filepath"
)

// StoreType represents the type of artifact storage backend.
type StoreType string

const (
	StoreTypeFS    StoreType = "fs"
	StoreTypeS3    StoreType = "s3"
	StoreTypeGCS   StoreType = "gcs"
	StoreTypeMinio StoreType = "minio"
)

// Config selects and configures an artifact backend.
type Config struct {
	Type    StoreType
	DataDir string // fs: artifacts live under DataDir/artifacts

	Bucket   string
	Prefix   string
	Region   string // s3
	Endpoint string // s3 (optional) and minio (required)

	AccessKey string // minio
	SecretKey string // minio
	UseSSL    bool   // minio
}

// NewStore creates an artifact store for cfg.Type ("fs" when empty).
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	storeType := cfg.Type
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "data"
		}
		return NewFileStore(filepath.Join(dataDir, "artifacts"))
	case StoreTypeS3:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
		}
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	case StoreTypeGCS:
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
		}
		return newGCSStore(ctx, cfg)
	case StoreTypeMinio:
		if cfg.Endpoint == "" || cfg.Bucket == "" {
			return nil, fmt.Errorf("ARTIFACT_MINIO_ENDPOINT and ARTIFACT_MINIO_BUCKET are required for MinIO storage")
		}
		return NewMinioStore(ctx, MinioStoreConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
			UseSSL:    cfg.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", storeType)
	}
}
