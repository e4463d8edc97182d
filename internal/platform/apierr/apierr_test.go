package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/yungbote/coursestore-backend/internal/modulestore/kvs"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/upstream"
)

func TestFromError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{storeerr.NotFound("block-v1:a+b+c+type@html+block@x"), http.StatusNotFound, "not_found"},
		{storeerr.InvalidMove("k", "You can not move an item into itself."), http.StatusBadRequest, "invalid_move"},
		{fmt.Errorf("wrapped: %w", storeerr.New(storeerr.ErrDuplicateCourse, "course-v1:a+b+c", "exists")), http.StatusConflict, "duplicate_course"},
		{&upstream.LinkError{Kind: upstream.ErrBadUpstream, Msg: "gone"}, http.StatusBadRequest, "bad_upstream"},
		{kvs.ErrReadOnlyField, http.StatusBadRequest, "read_only_field"},
		{storeerr.New(storeerr.ErrPermissionDenied, "k", "nope"), http.StatusForbidden, "permission_denied"},
		{storeerr.Wrap(storeerr.ErrUnavailable, "lb:o:l:html:x", errors.New("dial"), "down"), http.StatusBadGateway, "upstream_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		got := FromError(tc.err)
		if got.Status != tc.status || got.Code != tc.code {
			t.Fatalf("FromError(%v): want=%d/%s got=%d/%s", tc.err, tc.status, tc.code, got.Status, got.Code)
		}
	}
	if FromError(nil) != nil {
		t.Fatalf("FromError(nil): want=nil")
	}
	pre := New(http.StatusTeapot, "teapot", errors.New("x"))
	if got := FromError(fmt.Errorf("ctx: %w", pre)); got != pre {
		t.Fatalf("existing *Error: want passthrough got=%+v", got)
	}
}
