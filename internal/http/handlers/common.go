package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursestore-backend/internal/auth"
	"github.com/yungbote/coursestore-backend/internal/http/response"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/platform/ctxutil"
)

func currentUser(c *gin.Context) string {
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil {
		return rd.UserID
	}
	return ""
}

func courseParam(c *gin.Context) (keys.CourseKey, bool) {
	ck, err := keys.ParseCourseKey(c.Param("course_key"))
	if err != nil {
		response.RespondStoreError(c, err)
		return keys.CourseKey{}, false
	}
	return ck, true
}

func usageParam(c *gin.Context) (keys.UsageKey, bool) {
	uk, err := keys.ParseUsageKey(c.Param("usage_key"))
	if err != nil {
		response.RespondStoreError(c, err)
		return keys.UsageKey{}, false
	}
	return uk, true
}

func branchQuery(c *gin.Context, def keys.Branch) (keys.Branch, bool) {
	raw := c.Query("branch")
	if raw == "" {
		return def, true
	}
	b, err := keys.ParseBranch(raw)
	if err != nil {
		response.RespondStoreError(c, err)
		return "", false
	}
	return b, true
}

// guard enforces the studio access predicate for course and writes a 403 when it fails.
func guard(c *gin.Context, authz auth.AuthService, course keys.CourseKey, write bool) bool {
	ctx := c.Request.Context()
	ok := authz.HasStudioReadAccess(ctx, course)
	if write {
		ok = authz.HasStudioWriteAccess(ctx, course)
	}
	if !ok {
		response.RespondError(c, http.StatusForbidden, "permission_denied", errNoAccess(course, write))
		return false
	}
	return true
}

type accessError struct {
	course keys.CourseKey
	write  bool
}

func (e accessError) Error() string {
	if e.write {
		return "no studio write access to " + e.course.String()
	}
	return "no studio read access to " + e.course.String()
}

func errNoAccess(course keys.CourseKey, write bool) error {
	return accessError{course: course, write: write}
}

type EditInfoView struct {
	EditedOn        *time.Time `json:"edited_on,omitempty"`
	EditedBy        *string    `json:"edited_by"`
	SubtreeEditedOn *time.Time `json:"subtree_edited_on,omitempty"`
	SubtreeEditedBy *string    `json:"subtree_edited_by,omitempty"`
	PublishedOn     *time.Time `json:"published_on,omitempty"`
	PublishedBy     *string    `json:"published_by,omitempty"`
}

type BlockView struct {
	UsageKey    string         `json:"usage_key"`
	BlockType   string         `json:"block_type"`
	Branch      string         `json:"branch"`
	DisplayName string         `json:"display_name"`
	Content     map[string]any `json:"content"`
	Settings    map[string]any `json:"settings"`
	Children    []string       `json:"children,omitempty"`
	Edit        EditInfoView   `json:"edit_info"`
	Loaded      []*BlockView   `json:"loaded_children,omitempty"`
}

func blockView(b *modulestore.Block) *BlockView {
	if b == nil {
		return nil
	}
	v := &BlockView{
		UsageKey:    b.Key.String(),
		BlockType:   b.Key.BlockType,
		Branch:      string(b.Branch),
		DisplayName: b.DisplayName(),
		Content:     b.Content(),
		Settings:    b.Settings(),
		Edit: EditInfoView{
			EditedOn:        b.Edit.EditedOn,
			EditedBy:        b.Edit.EditedBy,
			SubtreeEditedOn: b.Edit.SubtreeEditedOn,
			SubtreeEditedBy: b.Edit.SubtreeEditedBy,
			PublishedOn:     b.Edit.PublishedOn,
			PublishedBy:     b.Edit.PublishedBy,
		},
	}
	for _, k := range b.Children() {
		v.Children = append(v.Children, k.String())
	}
	for _, child := range b.Loaded {
		v.Loaded = append(v.Loaded, blockView(child))
	}
	return v
}

func keyStrings(list []keys.UsageKey) []string {
	out := make([]string, 0, len(list))
	for _, k := range list {
		out = append(out, k.String())
	}
	return out
}
