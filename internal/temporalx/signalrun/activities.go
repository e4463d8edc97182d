package signalrun

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

// Applier is satisfied by *coursegraph.Projector.
type Applier interface {
	Apply(ctx context.Context, e signals.Event) error
}

type Activities struct {
	Log       *logger.Logger
	Projector Applier
}

func (a *Activities) Apply(ctx context.Context, ev signals.Event) error {
	if a == nil || a.Projector == nil {
		return fmt.Errorf("signalrun: activity not configured")
	}
	if a.Log != nil {
		info := activity.GetInfo(ctx)
		a.Log.Debug("applying course signal", "signal", ev.Name, "course_key", ev.CourseKey, "attempt", info.Attempt)
	}
	return a.Projector.Apply(ctx, ev)
}
