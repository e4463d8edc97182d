package keys

import (
	"regexp"
	"strings"

	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

const idChars = `[\w\-~.:%]+`

var (
	courseRe      = regexp.MustCompile(`^course-v1:(` + idChars + `)\+(` + idChars + `)\+(` + idChars + `)$`)
	slashCourseRe = regexp.MustCompile(`^(` + idChars + `)/(` + idChars + `)/(` + idChars + `)$`)
	blockRe       = regexp.MustCompile(`^block-v1:(` + idChars + `)\+(` + idChars + `)\+(` + idChars + `)\+type@(` + idChars + `)\+block@(` + idChars + `)$`)
	i4xRe         = regexp.MustCompile(`^i4x://(` + idChars + `)/(` + idChars + `)/(` + idChars + `)/(` + idChars + `)$`)
	assetRe       = regexp.MustCompile(`^asset-v1:(` + idChars + `)\+(` + idChars + `)\+(` + idChars + `)\+type@(` + idChars + `)\+block@([^+/]+)$`)
	plainPartRe   = regexp.MustCompile(`^[\w\-~.%]+$`)
)

// ParseCourseKey accepts "course-v1:org+course+run" and the deprecated "org/course/run".
func ParseCourseKey(raw string) (CourseKey, error) {
	s := strings.TrimSpace(raw)
	if m := courseRe.FindStringSubmatch(s); m != nil {
		return CourseKey{Org: m[1], Course: m[2], Run: m[3]}, nil
	}
	if m := slashCourseRe.FindStringSubmatch(s); m != nil {
		return CourseKey{Org: m[1], Course: m[2], Run: m[3]}, nil
	}
	return CourseKey{}, storeerr.InvalidKey(raw)
}

// ParseUsageKey accepts the canonical block-v1 form and the deprecated i4x form. The
// deprecated form carries no run; callers bind it with MapIntoCourse.
func ParseUsageKey(raw string) (UsageKey, error) {
	s := strings.TrimSpace(raw)
	if m := blockRe.FindStringSubmatch(s); m != nil {
		return UsageKey{
			Course:    CourseKey{Org: m[1], Course: m[2], Run: m[3]},
			BlockType: m[4],
			BlockID:   m[5],
		}, nil
	}
	if m := i4xRe.FindStringSubmatch(s); m != nil {
		return UsageKey{
			Course:    CourseKey{Org: m[1], Course: m[2]},
			BlockType: m[3],
			BlockID:   m[4],
		}, nil
	}
	return UsageKey{}, storeerr.InvalidKey(raw)
}

// ParseUsageKeyIn parses raw and binds it to course. Keys from another (org, course)
// are rejected.
func ParseUsageKeyIn(raw string, course CourseKey) (UsageKey, error) {
	k, err := ParseUsageKey(raw)
	if err != nil {
		return UsageKey{}, err
	}
	if !k.Course.SameScope(course) {
		return UsageKey{}, storeerr.New(storeerr.ErrInvalidKey, raw, "%s does not belong to %s", raw, course)
	}
	return k.MapIntoCourse(course), nil
}

func ParseLibraryKey(raw string) (LibraryKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 || parts[0] != "lib" || !plainParts(parts[1:]) {
		return LibraryKey{}, storeerr.InvalidKey(raw)
	}
	return LibraryKey{Org: parts[1], Slug: parts[2]}, nil
}

func ParseLibraryUsageKey(raw string) (LibraryUsageKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 5 || parts[0] != "lb" || !plainParts(parts[1:]) {
		return LibraryUsageKey{}, storeerr.InvalidKey(raw)
	}
	return LibraryUsageKey{Lib: LibraryKey{Org: parts[1], Slug: parts[2]}, BlockType: parts[3], BlockID: parts[4]}, nil
}

func ParseLibraryContainerKey(raw string) (LibraryContainerKey, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 5 || parts[0] != "lct" || !plainParts(parts[1:]) {
		return LibraryContainerKey{}, storeerr.InvalidKey(raw)
	}
	return LibraryContainerKey{Lib: LibraryKey{Org: parts[1], Slug: parts[2]}, ContainerType: parts[3], ContainerID: parts[4]}, nil
}

// ParseUpstream resolves an upstream reference to a library block or container key.
func ParseUpstream(raw string) (UpstreamKey, error) {
	s := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(s, "lb:"):
		return ParseLibraryUsageKey(s)
	case strings.HasPrefix(s, "lct:"):
		return ParseLibraryContainerKey(s)
	}
	return nil, storeerr.InvalidKey(raw)
}

func ParseAssetKey(raw string) (AssetKey, error) {
	m := assetRe.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return AssetKey{}, storeerr.InvalidKey(raw)
	}
	return AssetKey{
		Course:    CourseKey{Org: m[1], Course: m[2], Run: m[3]},
		AssetType: m[4],
		Filename:  m[5],
	}, nil
}

func plainParts(parts []string) bool {
	for _, p := range parts {
		if !plainPartRe.MatchString(p) {
			return false
		}
	}
	return true
}
