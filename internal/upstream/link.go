// Package upstream keeps course blocks linked to library content and pulls library
// changes into them without losing local customizations.
package upstream

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/coursestore-backend/internal/keys"
)

var (
	ErrNoUpstream    = errors.New("no upstream")
	ErrBadUpstream   = errors.New("bad upstream")
	ErrBadDownstream = errors.New("bad downstream")
)

// LinkError is a link failure. Kind is one of the Err* sentinels above.
type LinkError struct {
	Kind error
	Msg  string
	Err  error
}

func (e *LinkError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *LinkError) Unwrap() error { return e.Err }

func (e *LinkError) Is(target error) bool { return target == e.Kind }

func linkErr(kind error, cause error, format string, args ...any) *LinkError {
	return &LinkError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// Link is the read-only state of a downstream block's upstream link.
type Link struct {
	UpstreamRef      string           `json:"upstream_ref"`
	UpstreamKey      keys.UpstreamKey `json:"-"`
	VersionSynced    *int             `json:"version_synced"`
	VersionAvailable *int             `json:"version_available"`
	VersionDeclined  *int             `json:"version_declined"`
	ErrorMessage     string           `json:"error_message,omitempty"`
}

// ReadyToSync reports whether the library has a version newer than both the synced
// and the declined one.
func (l *Link) ReadyToSync() bool {
	if l == nil || l.UpstreamRef == "" || l.VersionAvailable == nil {
		return false
	}
	floor := 0
	if l.VersionSynced != nil && *l.VersionSynced > floor {
		floor = *l.VersionSynced
	}
	if l.VersionDeclined != nil && *l.VersionDeclined > floor {
		floor = *l.VersionDeclined
	}
	return *l.VersionAvailable > floor
}

// IsContainer reports whether the link points at a library container.
func (l *Link) IsContainer() bool {
	_, ok := l.UpstreamKey.(keys.LibraryContainerKey)
	return ok
}

// LibraryBlock is the published state of a library leaf block. Fields hold stored-form
// values keyed by field name.
type LibraryBlock struct {
	Key              keys.LibraryUsageKey
	BlockType        string
	PublishedVersion *int
	Fields           map[string]any
}

type LibraryContainer struct {
	Key              keys.LibraryContainerKey
	ContainerType    string
	PublishedVersion *int
	DisplayName      string
	Fields           map[string]any
}

// ContainerChild is one entry of a container's published children. Ref is a library
// block or container key string.
type ContainerChild struct {
	Ref         string `json:"usage_key"`
	DisplayName string `json:"display_name"`
}

// LibraryService reads published library content on behalf of user. Missing content
// and denied reads surface as storeerr NotFound and PermissionDenied.
type LibraryService interface {
	GetBlock(ctx context.Context, user string, key keys.LibraryUsageKey) (*LibraryBlock, error)
	GetContainer(ctx context.Context, user string, key keys.LibraryContainerKey) (*LibraryContainer, error)
	GetContainerChildren(ctx context.Context, user string, key keys.LibraryContainerKey, published bool) ([]ContainerChild, error)
}
