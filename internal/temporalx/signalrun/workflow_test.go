package signalrun

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/coursestore-backend/internal/signals"
)

type recordingApplier struct {
	mu  sync.Mutex
	got []signals.Event
}

func (r *recordingApplier) Apply(ctx context.Context, e signals.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, e)
	return nil
}

func TestWorkflowAppliesEventsInOrderThenIdles(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	rec := &recordingApplier{}
	acts := &Activities{Projector: rec}
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions(acts.Apply, activity.RegisterOptions{Name: ActivityApply})

	course := "course-v1:org+cs101+2026"
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCourseEvent, signals.Event{Name: signals.CoursePublished, CourseKey: course})
	}, time.Minute)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalCourseEvent, signals.Event{Name: signals.CourseDeleted, CourseKey: course})
	}, 2*time.Minute)

	env.ExecuteWorkflow(Workflow)

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if len(rec.got) != 2 {
		t.Fatalf("applied: want=2 got=%d", len(rec.got))
	}
	if rec.got[0].Name != signals.CoursePublished || rec.got[1].Name != signals.CourseDeleted {
		t.Fatalf("order: got=%v,%v", rec.got[0].Name, rec.got[1].Name)
	}
}

func TestProjected(t *testing.T) {
	cases := []struct {
		ev   signals.Event
		want bool
	}{
		{signals.Event{Name: signals.CoursePublished, CourseKey: "course-v1:a+b+c"}, true},
		{signals.Event{Name: signals.CourseDeleted, CourseKey: "course-v1:a+b+c"}, true},
		{signals.Event{Name: signals.CourseStructureChanged, CourseKey: "course-v1:a+b+c"}, false},
		{signals.Event{Name: signals.CoursePublished}, false},
	}
	for _, tc := range cases {
		if got := Projected(tc.ev); got != tc.want {
			t.Fatalf("Projected(%v): want=%v got=%v", tc.ev.Name, tc.want, got)
		}
	}
}
