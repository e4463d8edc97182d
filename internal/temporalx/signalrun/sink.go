package signalrun

import (
	"context"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/signals"
)

// Sink hands course_published and course_deleted to the per-course workflow with
// signal-with-start. Every other event is dropped.
type Sink struct {
	log       *logger.Logger
	tc        temporalsdkclient.Client
	taskQueue string
}

var _ signals.Sink = (*Sink)(nil)

func NewSink(tc temporalsdkclient.Client, taskQueue string, baseLog *logger.Logger) *Sink {
	return &Sink{log: baseLog.With("component", "TemporalSignalSink"), tc: tc, taskQueue: taskQueue}
}

func (s *Sink) Publish(ctx context.Context, e signals.Event) error {
	if s == nil || s.tc == nil || !Projected(e) {
		return nil
	}
	id := WorkflowID(e.CourseKey)
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:        id,
		TaskQueue: s.taskQueue,
	}
	if _, err := s.tc.SignalWithStartWorkflow(ctx, id, SignalCourseEvent, e, opts, WorkflowName); err != nil {
		s.log.Warn("signal-with-start failed", "workflow_id", id, "signal", e.Name, "error", err)
		return err
	}
	return nil
}
