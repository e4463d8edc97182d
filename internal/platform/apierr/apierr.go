package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/yungbote/coursestore-backend/internal/modulestore/kvs"
	storeerr "github.com/yungbote/coursestore-backend/internal/pkg/errors"
	"github.com/yungbote/coursestore-backend/internal/upstream"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

var statusTable = []struct {
	kind   error
	status int
	code   string
}{
	{storeerr.ErrNotFound, http.StatusNotFound, "not_found"},
	{storeerr.ErrInvalidKey, http.StatusBadRequest, "invalid_key"},
	{storeerr.ErrInvalidBranch, http.StatusBadRequest, "invalid_branch"},
	{storeerr.ErrInvalidMove, http.StatusBadRequest, "invalid_move"},
	{storeerr.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{upstream.ErrNoUpstream, http.StatusBadRequest, "no_upstream"},
	{upstream.ErrBadUpstream, http.StatusBadRequest, "bad_upstream"},
	{upstream.ErrBadDownstream, http.StatusBadRequest, "bad_downstream"},
	{kvs.ErrInvalidScope, http.StatusBadRequest, "invalid_scope"},
	{kvs.ErrReadOnlyField, http.StatusBadRequest, "read_only_field"},
	{kvs.ErrInvalidValue, http.StatusBadRequest, "invalid_value"},
	{kvs.ErrFieldNotSet, http.StatusNotFound, "field_not_set"},
	{storeerr.ErrPermissionDenied, http.StatusForbidden, "permission_denied"},
	{storeerr.ErrDuplicateCourse, http.StatusConflict, "duplicate_course"},
	{storeerr.ErrReferentialIntegrity, http.StatusConflict, "referential_integrity"},
	{storeerr.ErrUnavailable, http.StatusBadGateway, "upstream_unavailable"},
}

// FromError classifies a store, link or field error. Unknown errors become 500s with
// code "internal".
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	for _, row := range statusTable {
		if errors.Is(err, row.kind) {
			return New(row.status, row.code, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(http.StatusGatewayTimeout, "timeout", err)
	}
	return New(http.StatusInternalServerError, "internal", err)
}
