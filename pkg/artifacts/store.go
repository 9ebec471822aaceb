// Package artifacts stores release binaries, one blob per (packageId, version).
//
// Stores are deliberately dumb: they never consult the ledger and they surface
// raw I/O failures. Ordering and rollback are the registrar's job.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrNotFound is returned by Get when no artifact is stored under the key.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidKey is returned for package ids or versions that cannot be used as a path segment.
	ErrInvalidKey = errors.New("invalid artifact key")
)

// PutResult describes a stored artifact.
type PutResult struct {
	Hash        string
	Size        int64
	ContentType string
}

// Store defines the contract for per-release artifact storage.
type Store interface {
	// Put stores data under (packageID, version), creating any grouping it needs.
	// An existing blob is replaced, so retrying a failed publish is always safe.
	// Keeping published releases immutable is the caller's job.
	Put(ctx context.Context, packageID, version string, data []byte) (PutResult, error)
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, packageID, version string) ([]byte, error)
	// Exists reports whether an artifact is stored under the key.
	Exists(ctx context.Context, packageID, version string) (bool, error)
	// DeleteVersion removes one artifact. Absence is not an error.
	DeleteVersion(ctx context.Context, packageID, version string) error
	// DeletePackage removes every artifact of a package. Absence is not an error.
	DeletePackage(ctx context.Context, packageID string) error
	// ListVersions returns the versions that currently have a stored artifact.
	ListVersions(ctx context.Context, packageID string) ([]string, error)
}

const blobSuffix = ".blob"

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)

// objectKey maps a release to "<packageId>/<version>.blob".
func objectKey(packageID, version string) (string, error) {
	if err := checkSegment(packageID); err != nil {
		return "", err
	}
	if err := checkSegment(version); err != nil {
		return "", err
	}
	return packageID + "/" + version + blobSuffix, nil
}

func packagePrefix(packageID string) (string, error) {
	if err := checkSegment(packageID); err != nil {
		return "", err
	}
	return packageID + "/", nil
}

func checkSegment(s string) error {
	if !segmentPattern.MatchString(s) || s == "." || s == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	return nil
}

// DetectContentType sniffs the MIME type of an artifact.
func DetectContentType(data []byte) string {
	return mimetype.Detect(data).String()
}
