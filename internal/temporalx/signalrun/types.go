// Package signalrun moves course graph projection onto Temporal so it survives
// restarts and retries on graph outages.
package signalrun

import (
	"github.com/yungbote/coursestore-backend/internal/signals"
)

const (
	WorkflowName      = "course_signal"
	ActivityApply     = "course_signal_apply"
	SignalCourseEvent = "course_event"
)

// Projected reports whether an event is routed through the workflow.
func Projected(e signals.Event) bool {
	return e.CourseKey != "" && (e.Name == signals.CoursePublished || e.Name == signals.CourseDeleted)
}

// WorkflowID serialises all projection work for one course.
func WorkflowID(courseKey string) string {
	return "course-graph:" + courseKey
}
