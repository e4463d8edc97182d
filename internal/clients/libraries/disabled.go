package libraries

import (
	"context"

	"github.com/yungbote/coursestore-backend/internal/keys"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/upstream"
)

// Disabled stands in when LIBRARY_SERVICE_URL is unset. Every lookup fails with
// ErrUnavailable, so links report an error instead of syncing.
type Disabled struct{}

var _ upstream.LibraryService = Disabled{}

func (Disabled) GetBlock(ctx context.Context, user string, key keys.LibraryUsageKey) (*upstream.LibraryBlock, error) {
	return nil, disabledErr(key.String())
}

func (Disabled) GetContainer(ctx context.Context, user string, key keys.LibraryContainerKey) (*upstream.LibraryContainer, error) {
	return nil, disabledErr(key.String())
}

func (Disabled) GetContainerChildren(ctx context.Context, user string, key keys.LibraryContainerKey, published bool) ([]upstream.ContainerChild, error) {
	return nil, disabledErr(key.String())
}

func disabledErr(key string) error {
	return storeerr.New(storeerr.ErrUnavailable, key, "library service is not configured")
}
