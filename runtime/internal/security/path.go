package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinBoundary ensures that targetPath is within or equal to boundaryPath,
// so a name taken from a remote source cannot escape a cache directory with "../".
//
//	boundary := "/var/cache/gimo"
//	target := "/var/cache/gimo/plugins.yaml"    // ok
//	target := "/var/cache/gimo/../../etc/passwd" // rejected
func ValidatePathWithinBoundary(boundaryPath, targetPath string) error {
	absBoundary, err := filepath.Abs(boundaryPath)
	if err != nil {
		return fmt.Errorf("failed to resolve boundary path %q: %w", boundaryPath, err)
	}

	absTarget, err := filepath.Abs(targetPath)
	if err != nil {
		return fmt.Errorf("failed to resolve target path %q: %w", targetPath, err)
	}

	rel, err := filepath.Rel(absBoundary, absTarget)
	if err != nil {
		return fmt.Errorf("invalid path relationship between %q and %q: %w", absBoundary, absTarget, err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path traversal detected: %q escapes boundary %q", targetPath, boundaryPath)
	}

	return nil
}

// JoinWithinBoundary joins name onto boundaryPath and validates the result.
func JoinWithinBoundary(boundaryPath, name string) (string, error) {
	target := filepath.Join(boundaryPath, name)
	if err := ValidatePathWithinBoundary(boundaryPath, target); err != nil {
		return "", err
	}
	return target, nil
}
