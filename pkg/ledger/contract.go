package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
)

const maxCASAttempts = 5

// Contract is the ledger node logic: it enforces create-once records, the
// one-way status flip, and the per-record history chain on top of a StateStore.
type Contract struct {
	state  StateStore
	nodeID string
	signer crypto.Signer
	clock  func() time.Time
	logger *slog.Logger
}

// NewContract creates a contract. nodeID is the publisher identity stamped on
// writes when the caller has no identity of its own. signer may be nil.
func NewContract(state StateStore, nodeID string, signer crypto.Signer) *Contract {
	return &Contract{
		state:  state,
		nodeID: nodeID,
		signer: signer,
		clock:  time.Now,
		logger: slog.Default().With("component", "ledger"),
	}
}

// WithClock overrides clock for testing.
func (c *Contract) WithClock(clock func() time.Time) *Contract {
	c.clock = clock
	return c
}

func (c *Contract) author(ctx context.Context) string {
	if id, ok := CallerFrom(ctx); ok {
		return id
	}
	return c.nodeID
}

func (c *Contract) Publish(ctx context.Context, packageID, version, contentHash string) (*Release, error) {
	if packageID == "" || version == "" {
		return nil, fmt.Errorf("%w: packageId and version are required", ErrInvalidArgument)
	}
	if strings.Contains(packageID, ":") {
		return nil, fmt.Errorf("%w: packageId must not contain ':'", ErrInvalidArgument)
	}
	contentHash = strings.ToLower(contentHash)
	if !crypto.ValidDigest(contentHash) {
		return nil, fmt.Errorf("%w: contentHash is not a hex sha256 digest", ErrInvalidArgument)
	}

	now := c.clock().UTC()
	author := c.author(ctx)
	doc := &document{Release: Release{
		PackageID:   packageID,
		Version:     version,
		ContentHash: contentHash,
		Status:      StatusActive,
		Publisher:   author,
		PublishedAt: now,
	}}
	if err := appendEntry(doc, ActionPublish, author, now, c.signer); err != nil {
		return nil, err
	}
	value, err := encodeDocument(doc)
	if err != nil {
		return nil, err
	}

	if err := c.state.Create(ctx, packageID, version, value); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, Key(packageID, version))
		}
		return nil, err
	}

	c.logger.InfoContext(ctx, "release recorded",
		"key", Key(packageID, version),
		"content_hash", contentHash,
		"publisher", author,
	)
	rel := doc.Release
	return &rel, nil
}

func (c *Contract) read(ctx context.Context, packageID, version string) (*document, uint64, error) {
	rec, err := c.state.Read(ctx, packageID, version)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, Key(packageID, version))
		}
		return nil, 0, err
	}
	doc, err := decodeDocument(rec.Value)
	if err != nil {
		return nil, 0, err
	}
	return doc, rec.Revision, nil
}

func (c *Contract) Get(ctx context.Context, packageID, version string) (*Release, error) {
	doc, _, err := c.read(ctx, packageID, version)
	if err != nil {
		return nil, err
	}
	rel := doc.Release
	return &rel, nil
}

func (c *Contract) Validate(ctx context.Context, packageID, version, contentHash string) (bool, error) {
	rel, err := c.Get(ctx, packageID, version)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return rel.Active() && crypto.EqualDigest(rel.ContentHash, contentHash), nil
}

func (c *Contract) Discontinue(ctx context.Context, packageID, version string) (*Release, error) {
	for attempt := 1; attempt <= maxCASAttempts; attempt++ {
		doc, rev, err := c.read(ctx, packageID, version)
		if err != nil {
			return nil, err
		}
		if doc.Release.Status == StatusDiscontinued {
			rel := doc.Release
			return &rel, nil
		}

		now := c.clock().UTC()
		doc.Release.Status = StatusDiscontinued
		doc.Release.DiscontinuedAt = &now
		if err := appendEntry(doc, ActionDiscontinue, c.author(ctx), now, c.signer); err != nil {
			return nil, err
		}
		value, err := encodeDocument(doc)
		if err != nil {
			return nil, err
		}

		err = c.state.Update(ctx, packageID, version, rev, value)
		if err == nil {
			c.logger.InfoContext(ctx, "release discontinued", "key", Key(packageID, version))
			rel := doc.Release
			return &rel, nil
		}
		if !errors.Is(err, ErrRevisionConflict) {
			return nil, err
		}
		c.logger.DebugContext(ctx, "discontinue raced another write, retrying",
			"key", Key(packageID, version), "attempt", attempt)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts", ErrRevisionConflict, Key(packageID, version), maxCASAttempts)
}

func (c *Contract) List(ctx context.Context, packageID string) ([]*Release, error) {
	recs, err := c.state.List(ctx, packageID)
	if err != nil {
		return nil, err
	}
	out := make([]*Release, 0, len(recs))
	for _, rec := range recs {
		doc, err := decodeDocument(rec.Value)
		if err != nil {
			return nil, err
		}
		rel := doc.Release
		out = append(out, &rel)
	}
	SortReleases(out)
	return out, nil
}

func (c *Contract) History(ctx context.Context, packageID, version string) ([]Entry, error) {
	doc, _, err := c.read(ctx, packageID, version)
	if err != nil {
		return nil, err
	}
	return doc.History, nil
}

// Verify checks the stored history chain of one release.
func (c *Contract) Verify(ctx context.Context, packageID, version string) error {
	doc, _, err := c.read(ctx, packageID, version)
	if err != nil {
		return err
	}
	return VerifyHistory(&doc.Release, doc.History)
}

// SortReleases orders releases by semantic version, falling back to string order.
func SortReleases(rels []*Release) {
	sort.SliceStable(rels, func(i, j int) bool {
		vi, errI := semver.NewVersion(rels[i].Version)
		vj, errJ := semver.NewVersion(rels[j].Version)
		if errI == nil && errJ == nil {
			return vi.LessThan(vj)
		}
		return rels[i].Version < rels[j].Version
	})
}
