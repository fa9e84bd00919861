// Package conceptkey derives concept identities from object-storage keys.
//
// Keys have the form
//
//	{network}/{atlas-short-name}-v{generation}[-{revision}]/.../{kind-dir}/{filename}
//
// and every function here is pure: the same key always yields the same identity,
// which is what lets re-uploads be grouped into one version chain.
package conceptkey

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hca-atlas-tracker/tracker/pkg/apperrors"
	"github.com/hca-atlas-tracker/tracker/pkg/models"
)

// Kind directory names as they appear in storage keys.
const (
	DirSourceDatasets    = "source-datasets"
	DirIntegratedObjects = "integrated-objects"
	DirManifests         = "manifests"
)

var (
	// atlasSegmentPattern splits "gut-v2-1" into short name "gut" and version "2-1".
	atlasSegmentPattern = regexp.MustCompile(`(?i)^(.+?)-v(\d+(?:-\d+)*)$`)

	// versionSuffixPattern matches "-r3" or "-r3-wip-2" directly before ".h5ad".
	versionSuffixPattern = regexp.MustCompile(`(?i)-r\d+(?:-wip-\d+)?(\.h5ad)$`)

	revisionMarkerPattern = regexp.MustCompile(`(?i)-r(\d+)(?:-wip-\d+)?\.h5ad$`)
)

// Identity is the result of parsing a storage key.
type Identity struct {
	models.ConceptIdentity
	// AtlasVersion is the raw version string from the atlas segment, e.g. "2-1".
	AtlasVersion string
	// Filename is the last key segment as uploaded.
	Filename string
}

// Parse resolves a storage key into a concept identity.
// Manifests resolve with FileType ingest_manifest; callers must not create a
// concept for them.
func Parse(key string) (Identity, error) {
	segments := strings.Split(key, "/")
	if len(segments) < 4 {
		return Identity{}, malformed(key, "expected {network}/{atlas}-v{generation}/.../{kind}/{filename}")
	}
	for i, s := range segments {
		if s == "" {
			return Identity{}, malformed(key, fmt.Sprintf("empty path segment at position %d", i))
		}
	}

	match := atlasSegmentPattern.FindStringSubmatch(segments[1])
	if match == nil {
		return Identity{}, malformed(key, fmt.Sprintf("atlas segment %q has no -v<generation> suffix", segments[1]))
	}

	generation, err := ExtractGeneration(match[2])
	if err != nil {
		return Identity{}, malformed(key, err.Error())
	}

	kindDir := segments[len(segments)-2]
	fileType, ok := fileTypeForDir(kindDir)
	if !ok {
		return Identity{}, malformed(key, fmt.Sprintf("unknown file kind directory %q", kindDir))
	}

	filename := segments[len(segments)-1]

	return Identity{
		ConceptIdentity: models.ConceptIdentity{
			Network:        strings.ToLower(segments[0]),
			AtlasShortName: strings.ToLower(match[1]),
			Generation:     generation,
			BaseFilename:   StripVersionSuffix(filename),
			FileType:       fileType,
		},
		AtlasVersion: match[2],
		Filename:     filename,
	}, nil
}

// StripVersionSuffix removes a trailing "-r<n>" or "-r<n>-wip-<m>" revision
// marker from an .h5ad filename. Other extensions are returned unchanged.
func StripVersionSuffix(filename string) string {
	return versionSuffixPattern.ReplaceAllString(filename, "${1}")
}

// RevisionMarker returns the n of a trailing "-r<n>" marker on an .h5ad
// filename. ok is false when the filename carries no marker.
func RevisionMarker(filename string) (revision int, ok bool) {
	match := revisionMarkerPattern.FindStringSubmatch(filename)
	if match == nil {
		return 0, false
	}
	revision, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return revision, true
}

// ExtractGeneration returns the generation (major version) of an atlas
// version string: "2-3" → 2.
func ExtractGeneration(version string) (int, error) {
	generation, _, err := ParseAtlasVersion(version)
	return generation, err
}

// ParseAtlasVersion splits "2-3" into generation 2 and revision 3. A bare
// generation has revision 0; components after the revision are ignored.
func ParseAtlasVersion(version string) (generation int, revision int, err error) {
	parts := strings.Split(version, "-")
	numbers := make([]int, len(parts))
	for i, part := range parts {
		if part == "" || strings.Trim(part, "0123456789") != "" {
			return 0, 0, fmt.Errorf("invalid atlas version %q", version)
		}
		numbers[i], err = strconv.Atoi(part)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid atlas version %q: %w", version, err)
		}
	}
	generation = numbers[0]
	if len(numbers) > 1 {
		revision = numbers[1]
	}
	return generation, revision, nil
}

// IsH5AD reports whether the filename is an AnnData file.
func IsH5AD(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".h5ad")
}

func fileTypeForDir(dir string) (models.FileType, bool) {
	switch dir {
	case DirSourceDatasets:
		return models.FileTypeSourceDataset, true
	case DirIntegratedObjects:
		return models.FileTypeIntegratedObject, true
	case DirManifests:
		return models.FileTypeIngestManifest, true
	}
	return "", false
}

func malformed(key, reason string) error {
	return &apperrors.MalformedKeyError{Key: key, Reason: reason}
}
