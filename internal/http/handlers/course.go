package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursestore-backend/internal/auth"
	"github.com/yungbote/coursestore-backend/internal/http/response"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type CourseHandler struct {
	log   *logger.Logger
	store *modulestore.Store
	authz auth.AuthService
}

func NewCourseHandler(log *logger.Logger, store *modulestore.Store, authz auth.AuthService) *CourseHandler {
	return &CourseHandler{
		log:   log.With("handler", "CourseHandler"),
		store: store,
		authz: authz,
	}
}

type createCourseRequest struct {
	Org         string         `json:"org" binding:"required"`
	Course      string         `json:"course" binding:"required"`
	Run         string         `json:"run" binding:"required"`
	DisplayName string         `json:"display_name"`
	Fields      map[string]any `json:"fields"`
}

// ListCourses returns the course roots the caller can read.
func (h *CourseHandler) ListCourses(c *gin.Context) {
	ctx := c.Request.Context()
	roots, err := h.store.GetCourses(ctx)
	if err != nil {
		h.log.Error("ListCourses failed", "error", err, "user_id", currentUser(c))
		response.RespondStoreError(c, err)
		return
	}
	out := make([]*BlockView, 0, len(roots))
	for _, b := range roots {
		if h.authz.HasStudioReadAccess(ctx, b.Key.Course) {
			out = append(out, blockView(b))
		}
	}
	response.RespondOK(c, gin.H{"courses": out})
}

func (h *CourseHandler) CreateCourse(c *gin.Context) {
	var req createCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	// Creating a course needs staff or an org-wide grant.
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || !(rd.Staff || rd.Roles["org:"+req.Org] == auth.RoleInstructor || rd.Roles["org:"+req.Org] == auth.RoleStaff) {
		response.RespondError(c, http.StatusForbidden, "permission_denied", errNoCreate(req.Org))
		return
	}
	fields := req.Fields
	if req.DisplayName != "" {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["display_name"] = req.DisplayName
	}
	root, err := h.store.CreateCourse(c.Request.Context(), rd.UserID, req.Org, req.Course, req.Run, fields)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"course_key": root.Key.Course.String(), "root": blockView(root)})
}

func (h *CourseHandler) GetCourse(c *gin.Context) {
	course, ok := courseParam(c)
	if !ok || !guard(c, h.authz, course, false) {
		return
	}
	depth, _ := strconv.Atoi(c.DefaultQuery("depth", "0"))
	root, err := h.store.GetCourse(c.Request.Context(), course, depth)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"course": blockView(root)})
}

func (h *CourseHandler) DeleteCourse(c *gin.Context) {
	course, ok := courseParam(c)
	if !ok || !guard(c, h.authz, course, true) {
		return
	}
	if err := h.store.DeleteCourse(c.Request.Context(), course, currentUser(c)); err != nil {
		response.RespondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CourseHandler) GetOrphans(c *gin.Context) {
	course, ok := courseParam(c)
	if !ok || !guard(c, h.authz, course, false) {
		return
	}
	orphans, err := h.store.GetOrphans(c.Request.Context(), course)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"orphans": keyStrings(orphans)})
}

// DeleteOrphans deletes orphans unless ?dry_run=true.
func (h *CourseHandler) DeleteOrphans(c *gin.Context) {
	course, ok := courseParam(c)
	if !ok || !guard(c, h.authz, course, true) {
		return
	}
	commit := c.Query("dry_run") != "true"
	orphans, err := h.store.DeleteOrphans(c.Request.Context(), course, currentUser(c), commit)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"orphans": keyStrings(orphans), "deleted": commit})
}

type createError string

func (e createError) Error() string { return "no course creator access in org " + string(e) }

func errNoCreate(org string) error { return createError(org) }
