package registrar

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/Masterminds/semver/v3"
)

const maxPackageIDLength = 200

// Reverse-domain identifiers: at least two dot-separated labels.
var packageIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*(\.[A-Za-z0-9][A-Za-z0-9_-]*)+$`)

// ValidatePackageID checks a reverse-domain package identifier such as "com.acme.lib".
func ValidatePackageID(packageID string) error {
	if packageID == "" {
		return errors.New("packageId is required")
	}
	if len(packageID) > maxPackageIDLength {
		return fmt.Errorf("packageId exceeds %d characters", maxPackageIDLength)
	}
	if !packageIDPattern.MatchString(packageID) {
		return fmt.Errorf("packageId %q is not a reverse-domain identifier", packageID)
	}
	return nil
}

// ParseVersion accepts strict MAJOR.MINOR.PATCH versions only.
func ParseVersion(version string) (*semver.Version, error) {
	if version == "" {
		return nil, errors.New("version is required")
	}
	v, err := semver.StrictNewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("version %q is not MAJOR.MINOR.PATCH: %w", version, err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return nil, fmt.Errorf("version %q must not carry pre-release or build metadata", version)
	}
	return v, nil
}

func validateCoordinates(packageID, version string) error {
	if err := ValidatePackageID(packageID); err != nil {
		return err
	}
	_, err := ParseVersion(version)
	return err
}

// DownloadRef is the API path a release is downloaded from.
func DownloadRef(packageID, version string) string {
	return "/api/v1/packages/" + url.PathEscape(packageID) + "/versions/" + url.PathEscape(version) + "/file"
}
