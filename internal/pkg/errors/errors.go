package errors

import (
	"errors"
	"fmt"
)

// Kind sentinels. Match with errors.Is(err, ErrNotFound) and friends; every *Error
// reports itself as its kind.
var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidKey           = errors.New("invalid key")
	ErrInvalidBranch        = errors.New("invalid branch")
	ErrInvalidMove          = errors.New("invalid move")
	ErrReferentialIntegrity = errors.New("referential integrity")
	ErrDuplicateCourse      = errors.New("duplicate course")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrInvalidArgument      = errors.New("invalid argument")
	// ErrUnavailable is a collaborator (library service, broker) that could not answer.
	ErrUnavailable = errors.New("unavailable")
)

// Error carries a kind, the canonical key it concerns and a human readable message.
type Error struct {
	Kind error
	Key  string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Msg
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return e != nil && e.Kind != nil && target == e.Kind
}

// Code is the machine-readable kind name.
func (e *Error) Code() string {
	return CodeOf(e)
}

func New(kind error, key string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Key: key, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind error, key string, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Key: key, Msg: fmt.Sprintf(format, args...), Err: err}
}

func NotFound(key string) *Error {
	return New(ErrNotFound, key, "%s not found", key)
}

func InvalidKey(raw string) *Error {
	return New(ErrInvalidKey, raw, "invalid key %q", raw)
}

func InvalidMove(key, msg string) *Error {
	return &Error{Kind: ErrInvalidMove, Key: key, Msg: msg}
}

var codes = []struct {
	kind error
	code string
}{
	{ErrNotFound, "not_found"},
	{ErrInvalidKey, "invalid_key"},
	{ErrInvalidBranch, "invalid_branch"},
	{ErrInvalidMove, "invalid_move"},
	{ErrReferentialIntegrity, "referential_integrity"},
	{ErrDuplicateCourse, "duplicate_course"},
	{ErrPermissionDenied, "permission_denied"},
	{ErrInvalidArgument, "invalid_argument"},
	{ErrUnavailable, "unavailable"},
}

// CodeOf returns the code of the first kind err matches, or "" for foreign errors.
func CodeOf(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.kind) {
			return c.code
		}
	}
	return ""
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
