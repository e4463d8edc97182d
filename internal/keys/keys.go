// Package keys holds the identifiers of courses, libraries, blocks and assets, plus
// their string forms. Parsers accept both the canonical and the deprecated forms;
// String always emits the canonical one.
package keys

import (
	"strings"

	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
)

type Branch string

const (
	BranchDraft     Branch = "draft"
	BranchPublished Branch = "published"
)

func (b Branch) Valid() bool { return b == BranchDraft || b == BranchPublished }

func ParseBranch(raw string) (Branch, error) {
	b := Branch(strings.ToLower(strings.TrimSpace(raw)))
	if !b.Valid() {
		return "", storeerr.New(storeerr.ErrInvalidBranch, raw, "unknown branch %q", raw)
	}
	return b, nil
}

// CourseKey identifies a course run.
type CourseKey struct {
	Org    string
	Course string
	Run    string
}

func (k CourseKey) IsZero() bool { return k.Org == "" && k.Course == "" && k.Run == "" }

func (k CourseKey) String() string {
	return "course-v1:" + k.Org + "+" + k.Course + "+" + k.Run
}

// Scope is the (org, course) pair the store partitions documents by. The run is
// implicit: it is the block id of the course root.
func (k CourseKey) Scope() string { return k.Org + "/" + k.Course }

// SameScope reports whether other lives in the same (org, course) partition.
func (k CourseKey) SameScope(other CourseKey) bool {
	return k.Org == other.Org && k.Course == other.Course
}

func (k CourseKey) MakeUsageKey(blockType, blockID string) UsageKey {
	return UsageKey{Course: k, BlockType: blockType, BlockID: blockID}
}

// Root is the usage key of the course root block.
func (k CourseKey) Root() UsageKey { return k.MakeUsageKey("course", k.Run) }

func (k CourseKey) MakeAssetKey(assetType, filename string) AssetKey {
	return AssetKey{Course: k, AssetType: assetType, Filename: filename}
}

// UsageKey identifies one block within a course.
type UsageKey struct {
	Course    CourseKey
	BlockType string
	BlockID   string
}

func (u UsageKey) IsZero() bool { return u.BlockType == "" && u.BlockID == "" }

func (u UsageKey) String() string {
	if u.IsZero() {
		return ""
	}
	return "block-v1:" + u.Course.Org + "+" + u.Course.Course + "+" + u.Course.Run +
		"+type@" + u.BlockType + "+block@" + u.BlockID
}

// MapIntoCourse rebinds the key to course, filling in a run the deprecated form lacks.
func (u UsageKey) MapIntoCourse(course CourseKey) UsageKey {
	u.Course = course
	return u
}

func (u UsageKey) Branched(b Branch) BranchedUsageKey {
	return BranchedUsageKey{UsageKey: u, Branch: b}
}

func (u UsageKey) MarshalText() ([]byte, error) { return []byte(u.String()), nil }

func (u *UsageKey) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*u = UsageKey{}
		return nil
	}
	parsed, err := ParseUsageKey(string(b))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

type BranchedUsageKey struct {
	UsageKey
	Branch Branch
}

func (b BranchedUsageKey) String() string {
	return b.UsageKey.String() + "@" + string(b.Branch)
}

// LibraryKey identifies a content library.
type LibraryKey struct {
	Org  string
	Slug string
}

func (k LibraryKey) String() string { return "lib:" + k.Org + ":" + k.Slug }

// UpstreamKey is implemented by LibraryUsageKey and LibraryContainerKey.
type UpstreamKey interface {
	String() string
	Library() LibraryKey
	isUpstream()
}

// LibraryUsageKey is a leaf block inside a library.
type LibraryUsageKey struct {
	Lib       LibraryKey
	BlockType string
	BlockID   string
}

func (k LibraryUsageKey) String() string {
	return "lb:" + k.Lib.Org + ":" + k.Lib.Slug + ":" + k.BlockType + ":" + k.BlockID
}
func (k LibraryUsageKey) Library() LibraryKey { return k.Lib }
func (LibraryUsageKey) isUpstream()           {}

// LibraryContainerKey is a unit, subsection or section inside a library.
type LibraryContainerKey struct {
	Lib           LibraryKey
	ContainerType string
	ContainerID   string
}

func (k LibraryContainerKey) String() string {
	return "lct:" + k.Lib.Org + ":" + k.Lib.Slug + ":" + k.ContainerType + ":" + k.ContainerID
}
func (k LibraryContainerKey) Library() LibraryKey { return k.Lib }
func (LibraryContainerKey) isUpstream()           {}

// AssetKey addresses one asset in a course asset store.
type AssetKey struct {
	Course    CourseKey
	AssetType string
	Filename  string
}

func (a AssetKey) String() string {
	return "asset-v1:" + a.Course.Org + "+" + a.Course.Course + "+" + a.Course.Run +
		"+type@" + a.AssetType + "+block@" + a.Filename
}

func (a AssetKey) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AssetKey) UnmarshalText(b []byte) error {
	parsed, err := ParseAssetKey(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
