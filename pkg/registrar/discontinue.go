package registrar

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/notify"
	"github.com/Mindburn-Labs/release-registry/pkg/observability"
)

type DiscontinueResult struct {
	Release         *ledger.Release `json:"release"`
	ArtifactDeleted bool            `json:"artifactDeleted"`
	ArtifactError   string          `json:"artifactError,omitempty"`
}

// DiscontinueRelease flips one release to DISCONTINUED and removes its
// artifact. The status flip is what matters: a failed artifact delete is
// reported but downloads are already refused.
func (r *Registrar) DiscontinueRelease(ctx context.Context, packageID, version string, caller Principal) (res *DiscontinueResult, err error) {
	ctx, finish := r.obs.TrackOperation(ctx, "registrar.discontinue", observability.ReleaseOperation(opDiscontinue, packageID, version)...)
	defer func() { finish(err) }()

	if _, err := r.authorize(ctx, opDiscontinue, packageID, caller); err != nil {
		return nil, err
	}
	ctx = ledger.WithCaller(ctx, caller.ID)

	out := r.discontinueVersion(ctx, packageID, version)
	if out.err != nil {
		return nil, out.err
	}

	r.notify(ctx, notify.Event{
		Kind:        notify.EventDiscontinued,
		PackageID:   packageID,
		Version:     version,
		ContentHash: out.release.ContentHash,
	})
	res = &DiscontinueResult{Release: out.release, ArtifactDeleted: out.artifactErr == nil}
	if out.artifactErr != nil {
		res.ArtifactError = out.artifactErr.Error()
	}
	return res, nil
}

type versionOutcome struct {
	release     *ledger.Release
	err         error
	artifactErr error
}

func (r *Registrar) discontinueVersion(ctx context.Context, packageID, version string) versionOutcome {
	rel, err := r.ledger.Discontinue(ctx, packageID, version)
	if err != nil {
		return versionOutcome{err: ledgerError(opDiscontinue, packageID, version, err)}
	}
	r.logger.InfoContext(ctx, "release discontinued", "package_id", packageID, "version", version)

	actx, cancel := r.artifactCtx(ctx)
	defer cancel()
	if err := r.artifacts.DeleteVersion(actx, packageID, version); err != nil {
		r.logger.ErrorContext(ctx, "artifact delete failed after discontinue",
			"package_id", packageID, "version", version, "error", err)
		return versionOutcome{release: rel, artifactErr: err}
	}
	return versionOutcome{release: rel}
}

// VersionReport is the per-version outcome of DiscontinuePackage.
type VersionReport struct {
	Version         string    `json:"version"`
	Discontinued    bool      `json:"discontinued"`
	ArtifactDeleted bool      `json:"artifactDeleted"`
	Code            ErrorCode `json:"code,omitempty"`
	Error           string    `json:"error,omitempty"`
}

type PackageReport struct {
	PackageID       string          `json:"packageId"`
	Versions        []VersionReport `json:"versions"`
	MetadataRemoved bool            `json:"metadataRemoved"`
	// Complete is true when every version was discontinued and all stored
	// artifacts and metadata were removed.
	Complete bool `json:"complete"`
}

// DiscontinuePackage discontinues every version of a package independently.
// One version failing never stops the others. Package metadata and any
// remaining artifacts are removed only once every ledger record is
// DISCONTINUED, so a partial run can simply be repeated.
func (r *Registrar) DiscontinuePackage(ctx context.Context, packageID string, caller Principal) (report *PackageReport, err error) {
	ctx, finish := r.obs.TrackOperation(ctx, "registrar.discontinue_package", observability.PackageOperation(opDiscontinuePackage, packageID)...)
	defer func() { finish(err) }()

	pkg, err := r.authorize(ctx, opDiscontinuePackage, packageID, caller)
	if err != nil {
		return nil, err
	}
	ctx = ledger.WithCaller(ctx, caller.ID)

	// Captured before the subscriptions are deleted with the package.
	var recipients []notify.Recipient
	ictx, cancel := r.indexCtx(ctx)
	subs, err := r.index.ListSubscribers(ictx, packageID)
	cancel()
	if err != nil {
		r.logger.WarnContext(ctx, "subscriber snapshot failed", "package_id", packageID, "error", err)
	} else {
		recipients = notify.RecipientsFrom(subs)
	}

	releases, err := r.ledger.List(ctx, packageID)
	if err != nil {
		return nil, ledgerError(opDiscontinuePackage, packageID, "", err)
	}
	if len(releases) == 0 && pkg == nil {
		return nil, newError(CodeNotFound, opDiscontinuePackage, packageID, "", errors.New("package has no releases"))
	}

	report = &PackageReport{PackageID: packageID, Versions: make([]VersionReport, len(releases))}
	var (
		mu       sync.Mutex
		allFlips = true
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.deleteConcurrency)
	for i, rel := range releases {
		g.Go(func() error {
			out := r.discontinueVersion(gctx, packageID, rel.Version)
			vr := VersionReport{Version: rel.Version}
			if out.err != nil {
				vr.Code = CodeOf(out.err)
				vr.Error = out.err.Error()
				mu.Lock()
				allFlips = false
				mu.Unlock()
			} else {
				vr.Discontinued = true
				vr.ArtifactDeleted = out.artifactErr == nil
				if out.artifactErr != nil {
					vr.Error = out.artifactErr.Error()
				}
			}
			report.Versions[i] = vr
			return nil
		})
	}
	_ = g.Wait()

	if allFlips {
		report.MetadataRemoved, report.Complete = r.removePackageData(ctx, packageID)
		if report.Complete {
			markSwept(report.Versions)
		}
	}

	r.logger.InfoContext(ctx, "package discontinued",
		"package_id", packageID, "versions", len(releases), "complete", report.Complete)
	if r.notifier != nil {
		r.notifier.NotifyRecipients(ctx, notify.Event{Kind: notify.EventPackageDiscontinued, PackageID: packageID}, recipients)
	}
	return report, nil
}

// removePackageData deletes every stored artifact and the package metadata.
func (r *Registrar) removePackageData(ctx context.Context, packageID string) (metadataRemoved, complete bool) {
	complete = true

	actx, cancel := r.artifactCtx(ctx)
	defer cancel()
	if err := r.artifacts.DeletePackage(actx, packageID); err != nil {
		r.logger.ErrorContext(ctx, "package artifact cleanup failed", "package_id", packageID, "error", err)
		complete = false
	}

	ictx, icancel := r.indexCtx(ctx)
	defer icancel()
	err := r.index.DeletePackage(ictx, packageID)
	switch {
	case err == nil, errors.Is(err, index.ErrPackageNotFound):
		metadataRemoved = true
	default:
		r.logger.ErrorContext(ctx, "package metadata cleanup failed", "package_id", packageID, "error", err)
		complete = false
	}
	return metadataRemoved, complete
}

// markSwept records that artifacts whose individual delete failed were
// removed by the package-wide cleanup.
func markSwept(versions []VersionReport) {
	for i := range versions {
		if versions[i].Discontinued && !versions[i].ArtifactDeleted {
			versions[i].ArtifactDeleted = true
			versions[i].Error = fmt.Sprintf("removed by package cleanup after: %s", versions[i].Error)
		}
	}
}
