package registrar

import (
	"context"
	"errors"
	"strings"

	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/observability"
)

// ReleaseDetail combines the ledger record with stored-artifact and index data.
type ReleaseDetail struct {
	Release         *ledger.Release `json:"release"`
	Package         *index.Package  `json:"package,omitempty"`
	ArtifactPresent bool            `json:"artifactPresent"`
	Downloads       int64           `json:"downloads"`
	DownloadRef     string          `json:"downloadRef,omitempty"`
	History         []ledger.Entry  `json:"history,omitempty"`
}

// GetRelease returns the ledger record for a release plus best-effort
// metadata. Only the ledger lookup can fail the call.
func (r *Registrar) GetRelease(ctx context.Context, packageID, version string) (d *ReleaseDetail, err error) {
	ctx, finish := r.obs.TrackOperation(ctx, "registrar.get_release", observability.ReleaseOperation(opGetRelease, packageID, version)...)
	defer func() { finish(err) }()

	rel, err := r.ledger.Get(ctx, packageID, version)
	if err != nil {
		return nil, ledgerError(opGetRelease, packageID, version, err)
	}
	d = &ReleaseDetail{Release: rel}
	if rel.Active() {
		d.DownloadRef = DownloadRef(packageID, version)
	}

	if history, err := r.ledger.History(ctx, packageID, version); err == nil {
		d.History = history
	} else {
		r.logger.WarnContext(ctx, "ledger history unavailable", "package_id", packageID, "version", version, "error", err)
	}

	actx, cancel := r.artifactCtx(ctx)
	defer cancel()
	if ok, err := r.artifacts.Exists(actx, packageID, version); err == nil {
		d.ArtifactPresent = ok
	}

	ictx, icancel := r.indexCtx(ctx)
	defer icancel()
	if pkg, err := r.index.GetPackage(ictx, packageID); err == nil {
		d.Package = pkg
	}
	if n, err := r.index.CountDownloads(ictx, packageID, version); err == nil {
		d.Downloads = n
	}
	return d, nil
}

// ListReleases returns every ledger record of a package in version order.
func (r *Registrar) ListReleases(ctx context.Context, packageID string) ([]*ledger.Release, error) {
	rels, err := r.ledger.List(ctx, packageID)
	if err != nil {
		return nil, ledgerError(opGetRelease, packageID, "", err)
	}
	return rels, nil
}

// SweepOrphans removes stored artifacts that no ACTIVE ledger record vouches
// for: uploads whose ledger write never happened, and leftovers of
// discontinued releases. Run it when no publish of the package is in flight.
func (r *Registrar) SweepOrphans(ctx context.Context, packageID string, caller Principal) (removed []string, err error) {
	ctx, finish := r.obs.TrackOperation(ctx, "registrar.sweep_orphans", observability.PackageOperation(opSweep, packageID)...)
	defer func() { finish(err) }()

	if _, err := r.authorize(ctx, opSweep, packageID, caller); err != nil {
		return nil, err
	}

	actx, cancel := r.artifactCtx(ctx)
	defer cancel()
	versions, err := r.artifacts.ListVersions(actx, packageID)
	if err != nil {
		return nil, newError(CodeTransient, opSweep, packageID, "", err)
	}

	removed = make([]string, 0)
	for _, v := range versions {
		rel, err := r.ledger.Get(ctx, packageID, v)
		switch {
		case err == nil && rel.Active():
			continue
		case err != nil && !errors.Is(err, ledger.ErrNotFound):
			r.logger.WarnContext(ctx, "sweep skipped version, ledger unavailable",
				"package_id", packageID, "version", v, "error", err)
			continue
		}
		if err := r.artifacts.DeleteVersion(actx, packageID, v); err != nil {
			r.logger.ErrorContext(ctx, "sweep delete failed", "package_id", packageID, "version", v, "error", err)
			continue
		}
		r.logger.InfoContext(ctx, "orphan artifact removed", "package_id", packageID, "version", v)
		removed = append(removed, v)
	}
	return removed, nil
}

// AddComment attaches a comment to an existing package.
func (r *Registrar) AddComment(ctx context.Context, packageID string, author Principal, body string) (*index.Comment, error) {
	body = strings.TrimSpace(body)
	if author.ID == "" || body == "" {
		return nil, newError(CodeInvalidInput, opComment, packageID, "", errors.New("author and body are required"))
	}
	ictx, cancel := r.indexCtx(ctx)
	defer cancel()
	c, err := r.index.AddComment(ictx, index.Comment{PackageID: packageID, AuthorID: author.ID, Body: body})
	if err != nil {
		return nil, indexError(opComment, packageID, err)
	}
	return c, nil
}

func (r *Registrar) ListComments(ctx context.Context, packageID string) ([]index.Comment, error) {
	ictx, cancel := r.indexCtx(ctx)
	defer cancel()
	comments, err := r.index.ListComments(ictx, packageID)
	if err != nil {
		return nil, indexError(opComment, packageID, err)
	}
	return comments, nil
}

// Subscribe registers the caller for notifications about packageID.
func (r *Registrar) Subscribe(ctx context.Context, packageID string, subscriber Principal, email string) error {
	if subscriber.ID == "" {
		return newError(CodeInvalidInput, opSubscribe, packageID, "", errors.New("subscriber identity is required"))
	}
	ictx, cancel := r.indexCtx(ctx)
	defer cancel()
	err := r.index.Subscribe(ictx, index.Subscription{PackageID: packageID, SubscriberID: subscriber.ID, Email: email})
	if err != nil {
		return indexError(opSubscribe, packageID, err)
	}
	return nil
}

func (r *Registrar) Unsubscribe(ctx context.Context, packageID string, subscriber Principal) error {
	ictx, cancel := r.indexCtx(ctx)
	defer cancel()
	if err := r.index.Unsubscribe(ictx, packageID, subscriber.ID); err != nil {
		return indexError(opSubscribe, packageID, err)
	}
	return nil
}
