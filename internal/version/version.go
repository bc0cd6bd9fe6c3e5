// Package version derives release tags from source-control refs.
package version

import "strings"

const (
	tagNamespace = "refs/tags/"
	branchPrefix = "refs/heads/"

	// mainlineBranch is published under mainlineTag. main and master are
	// intentionally not aliased.
	mainlineBranch = "develop"
	mainlineTag    = "latest"
)

// Resolve maps a ref to its release tag:
//
//	refs/heads/develop  -> latest
//	refs/tags/v2.1.0    -> 2.1.0
//	refs/heads/feature  -> feature
//
// Refs without a separator pass through, subject only to the develop rule.
func Resolve(ref string) string {
	candidate := ref
	if i := strings.LastIndex(ref, "/"); i >= 0 {
		candidate = ref[i+1:]
	}
	if strings.HasPrefix(ref, tagNamespace) {
		candidate = strings.TrimPrefix(candidate, "v")
	}
	if candidate == mainlineBranch {
		return mainlineTag
	}
	return candidate
}

// AsRef wraps a resolved tag as a branch ref. Resolve(AsRef(t)) == t for any
// tag returned by Resolve.
func AsRef(tag string) string {
	return branchPrefix + tag
}

// IsTagRef reports whether ref lives in the tag namespace.
func IsTagRef(ref string) bool {
	return strings.HasPrefix(ref, tagNamespace)
}

// ArtifactName is the version-qualified name of the serialized image handed
// from the docker job to the publish job.
func ArtifactName(tag string) string {
	return "image-" + tag + ".tar"
}
