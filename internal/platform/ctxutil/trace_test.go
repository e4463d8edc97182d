package ctxutil

import (
	"context"
	"reflect"
	"testing"
)

func TestLogFields(t *testing.T) {
	ctx := context.Background()
	if got := LogFields(ctx); len(got) != 0 {
		t.Fatalf("empty ctx: want=[] got=%v", got)
	}
	ctx = WithTraceData(ctx, TraceData{TraceID: "t1"})
	ctx = WithRequestData(ctx, &RequestData{UserID: "u1"})
	want := []any{"trace_id", "t1", "user_id", "u1"}
	if got := LogFields(ctx); !reflect.DeepEqual(got, want) {
		t.Fatalf("LogFields: want=%v got=%v", want, got)
	}
}
