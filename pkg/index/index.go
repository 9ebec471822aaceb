// Package index holds user-facing release metadata: package ownership,
// comments, subscriptions and download logs. It is never consulted for
// integrity decisions; the ledger is.
package index

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPackageNotFound is returned when a package has no metadata row.
	ErrPackageNotFound = errors.New("package not found")
	// ErrInvalidInput is returned for empty identifiers or bodies.
	ErrInvalidInput = errors.New("invalid index input")
)

// Package is the index-owned record created on first publish.
// OwnerID is fixed at creation.
type Package struct {
	PackageID   string    `json:"packageId"`
	OwnerID     string    `json:"ownerId"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	PackageID string    `json:"packageId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type Subscription struct {
	PackageID    string    `json:"packageId"`
	SubscriberID string    `json:"subscriberId"`
	Email        string    `json:"email"`
	CreatedAt    time.Time `json:"createdAt"`
}

type DownloadRecord struct {
	PackageID    string    `json:"packageId"`
	Version      string    `json:"version"`
	DownloaderID string    `json:"downloaderId,omitempty"`
	At           time.Time `json:"at"`
}

// Store is the metadata index.
type Store interface {
	GetPackage(ctx context.Context, packageID string) (*Package, error)
	// EnsurePackage claims pkg.PackageID for pkg.OwnerID if unclaimed and
	// returns the stored record. created reports whether this call claimed it.
	EnsurePackage(ctx context.Context, pkg Package) (stored *Package, created bool, err error)
	// DeletePackage removes the package and all metadata it owns.
	DeletePackage(ctx context.Context, packageID string) error

	AddComment(ctx context.Context, c Comment) (*Comment, error)
	ListComments(ctx context.Context, packageID string) ([]Comment, error)

	Subscribe(ctx context.Context, s Subscription) error
	Unsubscribe(ctx context.Context, packageID, subscriberID string) error
	ListSubscribers(ctx context.Context, packageID string) ([]Subscription, error)

	RecordDownload(ctx context.Context, d DownloadRecord) error
	CountDownloads(ctx context.Context, packageID, version string) (int64, error)
}

func validatePackage(p Package) error {
	if p.PackageID == "" || p.OwnerID == "" {
		return ErrInvalidInput
	}
	return nil
}
