package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func TestNewStore_DefaultIsFileStore(t *testing.T) {
	store, err := NewStore(context.Background(), Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("Expected *FileStore, got %T", store)
	}
}

func TestNewStore_ExplicitFS(t *testing.T) {
	store, err := NewStore(context.Background(), Config{Type: StoreTypeFS, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if _, ok := store.(*FileStore); !ok {
		t.Fatalf("Expected *FileStore, got %T", store)
	}
}

func TestNewStore_S3MissingBucket(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: StoreTypeS3})
	if err == nil {
		t.Fatal("Expected error for missing S3 bucket")
	}
	if !strings.Contains(err.Error(), "ARTIFACT_S3_BUCKET is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewStore_GCSMissingBucket(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: StoreTypeGCS})
	if err == nil {
		t.Fatal("Expected error for missing GCS bucket")
	}
	if !strings.Contains(err.Error(), "ARTIFACT_GCS_BUCKET is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewStore_MinioMissingEndpoint(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: StoreTypeMinio, Bucket: "releases"})
	if err == nil {
		t.Fatal("Expected error for missing MinIO endpoint")
	}
	if !strings.Contains(err.Error(), "ARTIFACT_MINIO_ENDPOINT") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewStore_UnsupportedType(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Type: "azure"})
	if err == nil {
		t.Fatal("Expected error for unsupported storage type")
	}
	if !strings.Contains(err.Error(), "unsupported artifact storage type") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestVersionsFromKeys(t *testing.T) {
	keys := []string{
		"artifacts/com.acme.lib/2.0.0.blob",
		"artifacts/com.acme.lib/1.0.0.blob",
		"artifacts/com.acme.lib/nested/1.0.0.blob",
		"artifacts/com.acme.lib/readme.txt",
		"artifacts/com.acme.other/1.0.0.blob",
	}
	got := versionsFromKeys("artifacts/com.acme.lib/", keys)
	if len(got) != 2 || got[0] != "1.0.0" || got[1] != "2.0.0" {
		t.Fatalf("unexpected versions: %v", got)
	}
}

func TestIsS3NotFound(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&types.NoSuchKey{}, true},
		{fmt.Errorf("head: %w", &types.NotFound{}), true},
		{&smithy.GenericAPIError{Code: "NoSuchKey"}, true},
		{&smithy.GenericAPIError{Code: "AccessDenied"}, false},
		{errors.New("connection reset"), false},
	}
	for _, c := range cases {
		if got := isS3NotFound(c.err); got != c.want {
			t.Errorf("isS3NotFound(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
