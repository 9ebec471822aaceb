package registrar

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/release-registry/pkg/artifacts"
	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/notify"
	"github.com/Mindburn-Labs/release-registry/pkg/observability"
)

type PublishRequest struct {
	PackageID string
	Version   string
	Content   []byte
	Publisher Principal
	// Name and Description seed the package record on first publish only.
	Name        string
	Description string
}

type PublishResult struct {
	PackageID   string          `json:"packageId"`
	Version     string          `json:"version"`
	ContentHash string          `json:"hash"`
	Size        int64           `json:"size"`
	ContentType string          `json:"contentType"`
	DownloadRef string          `json:"downloadRef"`
	Release     *ledger.Release `json:"release"`
}

// Publish stores the artifact, then records the release on the ledger.
//
// The artifact is written first so a crash between the two steps leaves at
// worst an unrecorded artifact, never a ledger record without bytes. The store
// overwrites, so a key is checked against the ledger before the write and a
// taken key is never touched. If the ledger rejects the record, or the write
// times out and no matching record can be confirmed, the artifact is removed
// again and a retry starts from a clean slot.
func (r *Registrar) Publish(ctx context.Context, req PublishRequest) (res *PublishResult, err error) {
	pkgID, ver := req.PackageID, req.Version
	ctx, finish := r.obs.TrackOperation(ctx, "registrar.publish", observability.ReleaseOperation(opPublish, pkgID, ver)...)
	defer func() { finish(err) }()

	if err := validateCoordinates(pkgID, ver); err != nil {
		return nil, newError(CodeInvalidInput, opPublish, pkgID, ver, err)
	}
	if len(req.Content) == 0 {
		return nil, newError(CodeInvalidInput, opPublish, pkgID, ver, errors.New("artifact is empty"))
	}
	if req.Publisher.ID == "" {
		return nil, newError(CodeForbidden, opPublish, pkgID, ver, errors.New("publisher identity is required"))
	}

	if err := r.claimPackage(ctx, req); err != nil {
		return nil, err
	}

	if existing, err := r.ledger.EnsureAbsent(ctx, pkgID, ver); err != nil {
		if existing != nil {
			return nil, newError(CodeAlreadyExists, opPublish, pkgID, ver,
				fmt.Errorf("%w (status %s)", err, existing.Status))
		}
		return nil, ledgerError(opPublish, pkgID, ver, err)
	}

	put, err := r.stageArtifact(ctx, pkgID, ver, req.Content)
	if err != nil {
		return nil, err
	}

	rel, err := r.ledger.Publish(ledger.WithCaller(ctx, req.Publisher.ID), pkgID, ver, put.Hash)
	if err != nil {
		rel, err = r.resolveLedgerFailure(ctx, pkgID, ver, put, err)
		if err != nil {
			return nil, err
		}
	}

	r.logger.InfoContext(ctx, "release published",
		"package_id", pkgID, "version", ver, "hash", put.Hash, "size", put.Size, "publisher", rel.Publisher)
	r.notify(ctx, notify.Event{Kind: notify.EventPublished, PackageID: pkgID, Version: ver, ContentHash: put.Hash})

	return &PublishResult{
		PackageID:   pkgID,
		Version:     ver,
		ContentHash: put.Hash,
		Size:        put.Size,
		ContentType: put.ContentType,
		DownloadRef: DownloadRef(pkgID, ver),
		Release:     rel,
	}, nil
}

// claimPackage resolves or creates the package and enforces ownership.
func (r *Registrar) claimPackage(ctx context.Context, req PublishRequest) error {
	ictx, cancel := r.indexCtx(ctx)
	defer cancel()

	pkg, created, err := r.index.EnsurePackage(ictx, index.Package{
		PackageID:   req.PackageID,
		OwnerID:     req.Publisher.ID,
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		return indexError(opPublish, req.PackageID, err)
	}
	if created {
		r.logger.InfoContext(ctx, "package claimed", "package_id", req.PackageID, "owner", req.Publisher.ID)
		return nil
	}
	if pkg.OwnerID != req.Publisher.ID && !req.Publisher.Elevated {
		return newError(CodeForbidden, opPublish, req.PackageID, req.Version,
			fmt.Errorf("package is owned by %q", pkg.OwnerID))
	}
	return nil
}

// stageArtifact writes the bytes, replacing whatever an earlier failed
// attempt left in the slot.
func (r *Registrar) stageArtifact(ctx context.Context, pkgID, ver string, content []byte) (artifacts.PutResult, error) {
	actx, cancel := r.artifactCtx(ctx)
	defer cancel()

	put, err := r.artifacts.Put(actx, pkgID, ver, content)
	switch {
	case err == nil:
		return put, nil
	case errors.Is(err, artifacts.ErrInvalidKey):
		return put, newError(CodeInvalidInput, opPublish, pkgID, ver, err)
	default:
		return put, newError(CodeTransient, opPublish, pkgID, ver, fmt.Errorf("artifact write failed: %w", err))
	}
}

// resolveLedgerFailure decides the outcome of a failed ledger write. Only a
// record that is ACTIVE with this call's hash keeps the artifact; anything
// else, including a ledger that cannot be read back, rolls it back.
func (r *Registrar) resolveLedgerFailure(ctx context.Context, pkgID, ver string, put artifacts.PutResult, cause error) (*ledger.Release, error) {
	ctx = context.WithoutCancel(ctx)
	rel, getErr := r.ledger.Get(ctx, pkgID, ver)
	landed := getErr == nil && rel.Active() && crypto.EqualDigest(rel.ContentHash, put.Hash)

	switch {
	case errors.Is(cause, ledger.ErrAlreadyExists):
		if !landed {
			r.rollback(ctx, pkgID, ver, put, "ledger rejected duplicate")
		}
		return nil, newError(CodeAlreadyExists, opPublish, pkgID, ver, cause)
	case errors.Is(cause, ledger.ErrInvalidArgument):
		r.rollback(ctx, pkgID, ver, put, "ledger rejected arguments")
		return nil, newError(CodeInvalidInput, opPublish, pkgID, ver, cause)
	case landed:
		r.logger.WarnContext(ctx, "ledger write reported failure but record exists, keeping artifact",
			"package_id", pkgID, "version", ver, "error", cause)
		return rel, nil
	}

	// Timeout or transport failure with no confirmed record: assume none
	// was created.
	if getErr != nil && !errors.Is(getErr, ledger.ErrNotFound) {
		r.logger.WarnContext(ctx, "ledger outcome unknown, assuming no record",
			"package_id", pkgID, "version", ver, "error", cause, "read_error", getErr)
	}
	r.rollback(ctx, pkgID, ver, put, "ledger write failed")
	return nil, newError(CodeTransient, opPublish, pkgID, ver, cause)
}

// rollback removes the artifact this publish wrote. Bytes that no longer
// match put.Hash belong to a later writer and are left alone.
func (r *Registrar) rollback(ctx context.Context, pkgID, ver string, put artifacts.PutResult, reason string) {
	actx, cancel := r.artifactCtx(ctx)
	defer cancel()

	stored, err := r.artifacts.Get(actx, pkgID, ver)
	switch {
	case errors.Is(err, artifacts.ErrNotFound):
		return
	case err == nil && !crypto.EqualDigest(r.hasher.Digest(stored), put.Hash):
		r.logger.InfoContext(ctx, "artifact replaced by another writer, skipping rollback",
			"package_id", pkgID, "version", ver, "reason", reason)
		return
	case err != nil:
		r.logger.WarnContext(ctx, "could not read artifact before rollback, deleting anyway",
			"package_id", pkgID, "version", ver, "error", err)
	}

	if err := r.artifacts.DeleteVersion(actx, pkgID, ver); err != nil {
		r.logger.ErrorContext(ctx, "artifact rollback failed, orphan left for sweep",
			"package_id", pkgID, "version", ver, "reason", reason, "error", err)
		return
	}
	r.obs.RecordRollback(ctx, observability.ReleaseOperation(opPublish, pkgID, ver)...)
	r.logger.WarnContext(ctx, "artifact rolled back", "package_id", pkgID, "version", ver, "reason", reason)
}
