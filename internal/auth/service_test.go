package auth

import (
	"context"
	"testing"
	"time"

	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService(logger.Nop(), "secret", "coursestore", time.Hour)
	tok, err := svc.IssueToken("author-1", false, map[string]string{"course-v1:org+cs101+2026": RoleStaff})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	ctx, err := svc.SetContextFromToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	rd := ctxutil.GetRequestData(ctx)
	if rd == nil || rd.UserID != "author-1" || rd.SessionID == "" {
		t.Fatalf("request data: got=%+v", rd)
	}
	if got := rd.Roles["course-v1:org+cs101+2026"]; got != RoleStaff {
		t.Fatalf("role: want=%s got=%s", RoleStaff, got)
	}
}

func TestRejectsForeignSecretAndExpiry(t *testing.T) {
	svc := NewAuthService(logger.Nop(), "secret", "", time.Hour)
	other := NewAuthService(logger.Nop(), "other", "", time.Hour)
	tok, _ := other.IssueToken("u", true, nil)
	if _, err := svc.SetContextFromToken(context.Background(), tok); err == nil {
		t.Fatalf("foreign secret: want error")
	}
	expired := NewAuthService(logger.Nop(), "secret", "", -time.Minute)
	tok, _ = expired.IssueToken("u", true, nil)
	if _, err := svc.SetContextFromToken(context.Background(), tok); err == nil {
		t.Fatalf("expired token: want error")
	}
	if _, err := svc.SetContextFromToken(context.Background(), ""); err == nil {
		t.Fatalf("empty token: want error")
	}
}

func TestStudioAccess(t *testing.T) {
	svc := NewAuthService(logger.Nop(), "secret", "", time.Hour)
	course := keys.CourseKey{Org: "org", Course: "cs101", Run: "2026"}
	other := keys.CourseKey{Org: "other", Course: "x", Run: "1"}
	with := func(rd *ctxutil.RequestData) context.Context {
		return ctxutil.WithRequestData(context.Background(), rd)
	}
	cases := []struct {
		name        string
		ctx         context.Context
		course      keys.CourseKey
		read, write bool
	}{
		{"anonymous", context.Background(), course, false, false},
		{"global staff", with(&ctxutil.RequestData{UserID: "s", Staff: true}), other, true, true},
		{"course instructor", with(&ctxutil.RequestData{UserID: "i", Roles: map[string]string{course.String(): RoleInstructor}}), course, true, true},
		{"org staff", with(&ctxutil.RequestData{UserID: "o", Roles: map[string]string{"org:org": RoleStaff}}), course, true, true},
		{"viewer", with(&ctxutil.RequestData{UserID: "v", Roles: map[string]string{course.String(): RoleViewer}}), course, true, false},
		{"course grant beats org grant", with(&ctxutil.RequestData{UserID: "c", Roles: map[string]string{"org:org": RoleStaff, course.String(): RoleLimitedStaff}}), course, true, false},
		{"role elsewhere", with(&ctxutil.RequestData{UserID: "e", Roles: map[string]string{course.String(): RoleStaff}}), other, false, false},
	}
	for _, tc := range cases {
		if got := svc.HasStudioReadAccess(tc.ctx, tc.course); got != tc.read {
			t.Fatalf("%s read: want=%v got=%v", tc.name, tc.read, got)
		}
		if got := svc.HasStudioWriteAccess(tc.ctx, tc.course); got != tc.write {
			t.Fatalf("%s write: want=%v got=%v", tc.name, tc.write, got)
		}
	}
}
