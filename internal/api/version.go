package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blang/semver/v4"
)

// compareVersions orders two PKG version strings ("01.09", "1.10.02", ...)
// numerically component-by-component: each version is zero-padded (or
// truncated) to a 3-component MAJOR.MINOR.PATCH tuple and parsed as semver.
// A version that fails to parse sorts lowest.
func compareVersions(a, b string) int {
	va, errA := normalizeToSemver(a)
	vb, errB := normalizeToSemver(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

func normalizeToSemver(version string) (semver.Version, error) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	components := make([]uint64, 3)
	for i := 0; i < 3 && i < len(parts); i++ {
		n, err := strconv.ParseUint(parts[i], 10, 64)
		if err != nil {
			return semver.Version{}, fmt.Errorf("version component %q: %w", parts[i], err)
		}
		components[i] = n
	}
	return semver.Version{Major: components[0], Minor: components[1], Patch: components[2]}, nil
}
