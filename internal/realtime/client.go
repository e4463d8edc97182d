package realtime

import (
	"github.com/google/uuid"

	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type SSEEvent string

// Studio clients receive store signals under these names.
const (
	SSEEventStructureChanged SSEEvent = "CourseStructureChanged"
	SSEEventPublished        SSEEvent = "CoursePublished"
	SSEEventItemDeleted      SSEEvent = "ItemDeleted"
	SSEEventBlockDuplicated  SSEEvent = "BlockDuplicated"
	SSEEventCourseDeleted    SSEEvent = "CourseDeleted"
	SSEEventLibraryUpdated   SSEEvent = "LibraryUpdated"
)

type SSEMessage struct {
	Channel string   `json:"channel"`
	Event   SSEEvent `json:"event"`
	Data    any      `json:"data,omitempty"`
}

type SSEClient struct {
	ID       uuid.UUID
	UserID   string
	Channels map[string]bool
	Outbound chan SSEMessage
	done     chan struct{}
	Logger   *logger.Logger
}
