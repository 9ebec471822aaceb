package registrar

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/release-registry/pkg/artifacts"
	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
	"github.com/Mindburn-Labs/release-registry/pkg/index"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/observability"
)

type Download struct {
	PackageID   string
	Version     string
	Content     []byte
	ContentHash string
	ContentType string
}

// FetchForDownload returns the artifact of an ACTIVE release. The ledger
// status gates distribution regardless of whether bytes are still stored,
// and the bytes are re-hashed against the ledger before being handed out.
func (r *Registrar) FetchForDownload(ctx context.Context, packageID, version, downloaderID string) (dl *Download, err error) {
	ctx, finish := r.obs.TrackOperation(ctx, "registrar.download", observability.ReleaseOperation(opDownload, packageID, version)...)
	defer func() { finish(err) }()

	rel, err := r.ledger.Get(ctx, packageID, version)
	if err != nil {
		return nil, ledgerError(opDownload, packageID, version, err)
	}
	if !rel.Active() {
		return nil, newError(CodeUnavailable, opDownload, packageID, version,
			fmt.Errorf("release is %s", rel.Status))
	}

	actx, cancel := r.artifactCtx(ctx)
	defer cancel()
	content, err := r.artifacts.Get(actx, packageID, version)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			r.logger.ErrorContext(ctx, "active release has no stored artifact",
				"package_id", packageID, "version", version)
			return nil, newError(CodeUnavailable, opDownload, packageID, version, err)
		}
		return nil, newError(CodeTransient, opDownload, packageID, version, err)
	}

	actual := r.hasher.Digest(content)
	if !crypto.EqualDigest(actual, rel.ContentHash) {
		r.obs.RecordIntegrityMismatch(ctx, observability.ReleaseOperation(opDownload, packageID, version)...)
		r.logger.ErrorContext(ctx, "stored artifact does not match ledger hash",
			"package_id", packageID, "version", version, "expected", rel.ContentHash, "actual", actual)
		return nil, newError(CodeUnavailable, opDownload, packageID, version,
			errors.New("stored artifact failed integrity check"))
	}

	r.recordDownload(ctx, rel, downloaderID)

	return &Download{
		PackageID:   packageID,
		Version:     version,
		Content:     content,
		ContentHash: rel.ContentHash,
		ContentType: artifacts.DetectContentType(content),
	}, nil
}

func (r *Registrar) recordDownload(ctx context.Context, rel *ledger.Release, downloaderID string) {
	ictx, cancel := r.indexCtx(context.WithoutCancel(ctx))
	defer cancel()
	err := r.index.RecordDownload(ictx, index.DownloadRecord{
		PackageID:    rel.PackageID,
		Version:      rel.Version,
		DownloaderID: downloaderID,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to record download",
			"package_id", rel.PackageID, "version", rel.Version, "error", err)
	}
}
