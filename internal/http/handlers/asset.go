package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursestore-backend/internal/auth"
	"github.com/yungbote/coursestore-backend/internal/http/response"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
)

type AssetHandler struct {
	log   *logger.Logger
	store *modulestore.Store
	authz auth.AuthService
}

func NewAssetHandler(log *logger.Logger, store *modulestore.Store, authz auth.AuthService) *AssetHandler {
	return &AssetHandler{
		log:   log.With("handler", "AssetHandler"),
		store: store,
		authz: authz,
	}
}

func assetParam(c *gin.Context) (keys.AssetKey, bool) {
	ak, err := keys.ParseAssetKey(c.Param("asset_key"))
	if err != nil {
		response.RespondStoreError(c, err)
		return keys.AssetKey{}, false
	}
	return ak, true
}

// ListAssets takes ?asset_type, ?start, ?max (-1 for all), ?sort and ?direction=desc.
func (h *AssetHandler) ListAssets(c *gin.Context) {
	course, ok := courseParam(c)
	if !ok || !guard(c, h.authz, course, false) {
		return
	}
	start, err := strconv.Atoi(c.DefaultQuery("start", "0"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	max, err := strconv.Atoi(c.DefaultQuery("max", "-1"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	var order *modulestore.AssetSort
	if field := c.Query("sort"); field != "" {
		order = &modulestore.AssetSort{Field: field, Descending: c.Query("direction") == "desc"}
	}
	list, err := h.store.GetAllAssetMetadata(c.Request.Context(), course, c.Query("asset_type"), start, max, order)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"assets": list})
}

func (h *AssetHandler) GetAsset(c *gin.Context) {
	key, ok := assetParam(c)
	if !ok || !guard(c, h.authz, key.Course, false) {
		return
	}
	md, err := h.store.FindAssetMetadata(c.Request.Context(), key)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"asset": md})
}

// PutAsset stores the metadata for the asset in the path, replacing any previous
// record.
func (h *AssetHandler) PutAsset(c *gin.Context) {
	key, ok := assetParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	var md modulestore.AssetMetadata
	if err := c.ShouldBindJSON(&md); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	md.Key = key
	if err := h.store.SaveAssetMetadata(c.Request.Context(), &md, currentUser(c)); err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"asset": md})
}

func (h *AssetHandler) PatchAsset(c *gin.Context) {
	key, ok := assetParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	var attrs map[string]any
	if err := c.ShouldBindJSON(&attrs); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	ctx := c.Request.Context()
	if err := h.store.SetAssetMetadataAttrs(ctx, key, attrs, currentUser(c)); err != nil {
		response.RespondStoreError(c, err)
		return
	}
	md, err := h.store.FindAssetMetadata(ctx, key)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"asset": md})
}

func (h *AssetHandler) DeleteAsset(c *gin.Context) {
	key, ok := assetParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	n, err := h.store.DeleteAssetMetadata(c.Request.Context(), key, currentUser(c))
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"deleted": n})
}

func (h *AssetHandler) DeleteAllAssets(c *gin.Context) {
	course, ok := courseParam(c)
	if !ok || !guard(c, h.authz, course, true) {
		return
	}
	if err := h.store.DeleteAllAssetMetadata(c.Request.Context(), course, currentUser(c)); err != nil {
		response.RespondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type copyAssetsRequest struct {
	SourceCourseKey string `json:"source_course_key" binding:"required"`
}

// CopyAssets copies every asset record of the source course into the course in the path.
func (h *AssetHandler) CopyAssets(c *gin.Context) {
	dst, ok := courseParam(c)
	if !ok {
		return
	}
	var req copyAssetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	src, err := keys.ParseCourseKey(req.SourceCourseKey)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	if !guard(c, h.authz, src, false) || !guard(c, h.authz, dst, true) {
		return
	}
	if err := h.store.CopyAllAssetMetadata(c.Request.Context(), src, dst, currentUser(c)); err != nil {
		response.RespondStoreError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
