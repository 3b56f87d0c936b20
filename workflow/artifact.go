package workflow

import (
	"path"
	"strings"

	"golang.org/x/exp/slices"
)

// Artifact is a declared file or directory, addressed by a path relative to
// the workspace root. Directories are coarse units: staleness and caching
// treat the whole tree as one artifact.
type Artifact struct {
	Path string
	Dir  bool
}

// ParseArtifact normalizes a manifest path. A trailing slash marks a
// directory artifact. Absolute paths and paths escaping the workspace are
// rejected.
func ParseArtifact(raw string) (Artifact, error) {
	if strings.TrimSpace(raw) == "" {
		return Artifact{}, Configf("artifact path is empty")
	}
	dir := strings.HasSuffix(raw, "/")
	cleaned := path.Clean(raw)
	if path.IsAbs(cleaned) {
		return Artifact{}, Configf("artifact path %q must be relative to the workspace", raw)
	}
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return Artifact{}, Configf("artifact path %q escapes the workspace", raw)
	}
	return Artifact{Path: cleaned, Dir: dir}, nil
}

// String renders the artifact the way manifests spell it, with the trailing
// slash restored for directories.
func (a Artifact) String() string {
	if a.Dir {
		return a.Path + "/"
	}
	return a.Path
}

// SortedArtifacts returns a copy ordered by path, for stable fingerprints and
// reports.
func SortedArtifacts(arts []Artifact) []Artifact {
	out := slices.Clone(arts)
	slices.SortFunc(out, func(a, b Artifact) int {
		return strings.Compare(a.Path, b.Path)
	})
	return out
}
