// Package version exposes this library's own release version and a
// helper for checking it against a caller-supplied semver constraint, so
// embedding applications can assert compatibility at startup rather than
// discovering a protocol mismatch mid-connection.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// String is this build's semantic version. Override at link time with
// -ldflags "-X github.com/alxayo/tcpconn/internal/tcpconn/version.String=v1.2.3"
// for release builds; the default covers local/dev builds.
var String = "v0.1.0-dev"

// Parsed returns the library version as a *semver.Version.
func Parsed() (*semver.Version, error) {
	v, err := semver.NewVersion(String)
	if err != nil {
		return nil, fmt.Errorf("version: parsing %q: %w", String, err)
	}
	return v, nil
}

// CheckMinVersion reports an error if this build's version does not
// satisfy the given semver constraint (e.g. ">= 1.0.0, < 2.0.0").
func CheckMinVersion(constraint string) error {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("version: invalid constraint %q: %w", constraint, err)
	}
	v, err := Parsed()
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("version: %s does not satisfy constraint %q", v, constraint)
	}
	return nil
}
