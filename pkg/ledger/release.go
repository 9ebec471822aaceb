// Package ledger is the tamper-evident release ledger.
//
// Records are keyed by "packageId:version", created exactly once and never
// deleted. The only mutation is the one-way status flip ACTIVE -> DISCONTINUED.
// Every write appends a hash-chained, signed history entry to the record.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a release.
type Status string

const (
	StatusActive       Status = "ACTIVE"
	StatusDiscontinued Status = "DISCONTINUED"
)

var (
	ErrAlreadyExists    = errors.New("release already exists")
	ErrNotFound         = errors.New("release not found")
	ErrInvalidArgument  = errors.New("invalid ledger argument")
	ErrRevisionConflict = errors.New("ledger revision conflict")
	ErrChainBroken      = errors.New("ledger history chain broken")
)

// Release is the ledger-owned record of one published version.
type Release struct {
	PackageID      string     `json:"packageId"`
	Version        string     `json:"version"`
	ContentHash    string     `json:"contentHash"`
	Status         Status     `json:"status"`
	Publisher      string     `json:"publisher"`
	PublishedAt    time.Time  `json:"publishedAt"`
	DiscontinuedAt *time.Time `json:"discontinuedAt,omitempty"`
}

// Key returns the ledger key of the release.
func (r *Release) Key() string {
	return Key(r.PackageID, r.Version)
}

// Active reports whether the release may be downloaded.
func (r *Release) Active() bool {
	return r.Status == StatusActive
}

// Key builds the ledger key for a release.
func Key(packageID, version string) string {
	return packageID + ":" + version
}

// Service is the ledger contract as seen by its callers.
type Service interface {
	// Publish creates the record. Fails with ErrAlreadyExists, never overwrites.
	Publish(ctx context.Context, packageID, version, contentHash string) (*Release, error)
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, packageID, version string) (*Release, error)
	// Validate reports whether the record exists, is ACTIVE, and matches contentHash.
	// Missing, mismatched and discontinued releases yield false without an error.
	Validate(ctx context.Context, packageID, version, contentHash string) (bool, error)
	// Discontinue flips the status. ErrNotFound if absent; idempotent otherwise.
	Discontinue(ctx context.Context, packageID, version string) (*Release, error)
	// List returns every record of a package ordered by version.
	List(ctx context.Context, packageID string) ([]*Release, error)
	// History returns the hash-chained write history of one record.
	History(ctx context.Context, packageID, version string) ([]Entry, error)
}
