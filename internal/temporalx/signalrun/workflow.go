package signalrun

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/coursestore-backend/internal/signals"
)

const (
	idleTimeout          = 5 * time.Minute
	continueEventLimit   = 500
	continueHistoryLimit = 10000
)

// Workflow drains course events for one course in arrival order. When several events
// are queued only the newest is applied, since each application rewrites the whole
// projection. It exits after idleTimeout without events.
func Workflow(ctx workflow.Context) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})
	log := workflow.GetLogger(ctx)
	ch := workflow.GetSignalChannel(ctx, SignalCourseEvent)

	applied := 0
	for {
		ev, ok := nextEvent(ctx, ch)
		if !ok {
			return nil
		}
		for {
			var newer signals.Event
			if !ch.ReceiveAsync(&newer) {
				break
			}
			ev = newer
		}
		if err := workflow.ExecuteActivity(ctx, ActivityApply, ev).Get(ctx, nil); err != nil {
			// Projection is a derived view; a later publish repairs it.
			log.Warn("course signal apply failed", "signal", string(ev.Name), "course_key", ev.CourseKey, "error", err)
		}
		applied++
		if ch.Len() == 0 && shouldContinueAsNew(ctx, applied) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func nextEvent(ctx workflow.Context, ch workflow.ReceiveChannel) (signals.Event, bool) {
	var ev signals.Event
	got := false
	timerCtx, cancel := workflow.WithCancel(ctx)
	defer cancel()
	sel := workflow.NewSelector(ctx)
	sel.AddReceive(ch, func(c workflow.ReceiveChannel, more bool) {
		c.Receive(ctx, &ev)
		got = true
	})
	sel.AddFuture(workflow.NewTimer(timerCtx, idleTimeout), func(f workflow.Future) {})
	sel.Select(ctx)
	if !got {
		// A signal may land in the same task as the timer.
		got = ch.ReceiveAsync(&ev)
	}
	return ev, got
}

func shouldContinueAsNew(ctx workflow.Context, applied int) bool {
	if applied >= continueEventLimit {
		return true
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= continueHistoryLimit
}
