package registrar

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/release-registry/pkg/crypto"
	"github.com/Mindburn-Labs/release-registry/pkg/ledger"
	"github.com/Mindburn-Labs/release-registry/pkg/observability"
)

// ValidationResult reports an integrity check. A mismatch is a normal outcome.
type ValidationResult struct {
	PackageID    string        `json:"packageId"`
	Version      string        `json:"version"`
	Valid        bool          `json:"valid"`
	ExpectedHash string        `json:"expectedHash,omitempty"`
	ActualHash   string        `json:"actualHash"`
	Found        bool          `json:"found"`
	Status       ledger.Status `json:"status,omitempty"`
}

// Validate hashes candidate locally and compares it with the hash recorded on
// the ledger. It returns an error only when the ledger cannot be consulted;
// missing releases, discontinued releases and mismatches yield Valid=false.
func (r *Registrar) Validate(ctx context.Context, packageID, version string, candidate []byte) (res *ValidationResult, err error) {
	ctx, finish := r.obs.TrackOperation(ctx, "registrar.validate", observability.ReleaseOperation(opValidate, packageID, version)...)
	defer func() { finish(err) }()

	res = &ValidationResult{
		PackageID:  packageID,
		Version:    version,
		ActualHash: r.hasher.Digest(candidate),
	}

	rel, err := r.ledger.Get(ctx, packageID, version)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return res, nil
		}
		return nil, ledgerError(opValidate, packageID, version, err)
	}
	res.Found = true
	res.ExpectedHash = rel.ContentHash
	res.Status = rel.Status

	valid, err := r.ledger.Validate(ctx, packageID, version, res.ActualHash)
	if err != nil {
		return nil, ledgerError(opValidate, packageID, version, err)
	}
	res.Valid = valid

	if !crypto.EqualDigest(res.ExpectedHash, res.ActualHash) {
		r.obs.RecordIntegrityMismatch(ctx, observability.ReleaseOperation(opValidate, packageID, version)...)
		r.logger.InfoContext(ctx, "integrity mismatch",
			"package_id", packageID, "version", version,
			"expected", res.ExpectedHash, "actual", res.ActualHash)
	}
	return res, nil
}
