package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursestore-backend/internal/auth"
	"github.com/yungbote/coursestore-backend/internal/http/response"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

// XBlockHandler exposes block reads and edits. Every route is scoped to the course of
// the usage key in the path or body.
type XBlockHandler struct {
	log   *logger.Logger
	store *modulestore.Store
	authz auth.AuthService
}

func NewXBlockHandler(log *logger.Logger, store *modulestore.Store, authz auth.AuthService) *XBlockHandler {
	return &XBlockHandler{
		log:   log.With("handler", "XBlockHandler"),
		store: store,
		authz: authz,
	}
}

func (h *XBlockHandler) GetItem(c *gin.Context) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, false) {
		return
	}
	branch, ok := branchQuery(c, keys.BranchDraft)
	if !ok {
		return
	}
	depth, err := strconv.Atoi(c.DefaultQuery("depth", "0"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	b, err := h.store.GetItem(c.Request.Context(), key, branch, depth)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"block": blockView(b)})
}

type createItemRequest struct {
	ParentLocator string         `json:"parent_locator" binding:"required"`
	Category      string         `json:"category" binding:"required"`
	BlockID       string         `json:"block_id"`
	DisplayName   string         `json:"display_name"`
	Fields        map[string]any `json:"fields"`
	Position      *int           `json:"position"`
}

func (h *XBlockHandler) CreateItem(c *gin.Context) {
	var req createItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	parent, err := keys.ParseUsageKey(req.ParentLocator)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	if !guard(c, h.authz, parent.Course, true) {
		return
	}
	fields := req.Fields
	if req.DisplayName != "" {
		if fields == nil {
			fields = map[string]any{}
		}
		fields["display_name"] = req.DisplayName
	}
	b, err := h.store.CreateChild(c.Request.Context(), currentUser(c), parent, req.Category, req.BlockID, fields, req.Position)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"locator": b.Key.String(), "block": blockView(b)})
}

type updateItemRequest struct {
	// Fields sets each named field; a null value clears it.
	Fields   map[string]any `json:"fields"`
	Children *[]string      `json:"children"`
}

func (h *XBlockHandler) UpdateItem(c *gin.Context) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ctx := c.Request.Context()
	b, err := h.store.GetItem(ctx, key, keys.BranchDraft, 0)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	for name, v := range req.Fields {
		if err := b.Set(name, v); err != nil {
			response.RespondStoreError(c, err)
			return
		}
	}
	if req.Children != nil {
		children := make([]keys.UsageKey, 0, len(*req.Children))
		for _, raw := range *req.Children {
			k, err := keys.ParseUsageKeyIn(raw, key.Course)
			if err != nil {
				response.RespondStoreError(c, err)
				return
			}
			children = append(children, k)
		}
		b.SetChildren(children)
	}
	out, err := h.store.UpdateItem(ctx, b, currentUser(c))
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"block": blockView(out)})
}

// DeleteItem takes ?mode=draft|published_only|all, defaulting to all.
func (h *XBlockHandler) DeleteItem(c *gin.Context) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	mode, err := modulestore.ParseDeleteMode(c.Query("mode"))
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	if err := h.store.DeleteItem(c.Request.Context(), key, currentUser(c), mode); err != nil {
		response.RespondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *XBlockHandler) Publish(c *gin.Context) {
	h.branchOp(c, h.store.Publish)
}

func (h *XBlockHandler) RevertToPublished(c *gin.Context) {
	h.branchOp(c, h.store.RevertToPublished)
}

func (h *XBlockHandler) Unpublish(c *gin.Context) {
	h.branchOp(c, h.store.Unpublish)
}

type branchOpFunc func(ctx context.Context, key keys.UsageKey, user string) (*modulestore.Block, error)

func (h *XBlockHandler) branchOp(c *gin.Context, op branchOpFunc) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	b, err := op(c.Request.Context(), key, currentUser(c))
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"block": blockView(b)})
}

func (h *XBlockHandler) PublishState(c *gin.Context) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, false) {
		return
	}
	ctx := c.Request.Context()
	changed, err := h.store.HasChanges(ctx, key)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	published, err := h.store.HasPublishedVersion(ctx, key)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"has_changes": changed, "published": published})
}

func (h *XBlockHandler) GetParent(c *gin.Context) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, false) {
		return
	}
	branch, ok := branchQuery(c, keys.BranchDraft)
	if !ok {
		return
	}
	parent, err := h.store.GetParentLocation(c.Request.Context(), key, branch)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	var out *string
	if parent != nil {
		s := parent.String()
		out = &s
	}
	response.RespondOK(c, gin.H{"parent": out})
}

type moveRequest struct {
	MoveSourceLocator string `json:"move_source_locator" binding:"required"`
	ParentLocator     string `json:"parent_locator" binding:"required"`
	TargetIndex       *int   `json:"target_index"`
}

func (h *XBlockHandler) Move(c *gin.Context) {
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	source, err := keys.ParseUsageKey(req.MoveSourceLocator)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	target, err := keys.ParseUsageKey(req.ParentLocator)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	if !guard(c, h.authz, source.Course, true) {
		return
	}
	res, err := h.store.MoveItem(c.Request.Context(), currentUser(c), source, target, req.TargetIndex)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{
		"move_source_locator": res.Source.String(),
		"parent_locator":      res.NewParent.String(),
		"source_index":        res.InsertedAt,
		"old_parent_locator":  res.OldParent.String(),
		"old_index":           res.OldIndex,
	})
}

type duplicateRequest struct {
	DuplicateSourceLocator string  `json:"duplicate_source_locator" binding:"required"`
	ParentLocator          string  `json:"parent_locator"`
	DisplayName            *string `json:"display_name"`
}

func (h *XBlockHandler) Duplicate(c *gin.Context) {
	var req duplicateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	source, err := keys.ParseUsageKey(req.DuplicateSourceLocator)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	var parent *keys.UsageKey
	if req.ParentLocator != "" {
		p, err := keys.ParseUsageKeyIn(req.ParentLocator, source.Course)
		if err != nil {
			response.RespondStoreError(c, err)
			return
		}
		parent = &p
	}
	if !guard(c, h.authz, source.Course, true) {
		return
	}
	b, err := h.store.DuplicateBlock(c.Request.Context(), currentUser(c), source, parent, req.DisplayName)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondCreated(c, gin.H{"locator": b.Key.String(), "block": blockView(b)})
}
