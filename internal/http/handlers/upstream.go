package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursestore-backend/internal/auth"
	"github.com/yungbote/coursestore-backend/internal/http/response"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/modulestore"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/signals"
	"github.com/yungbote/coursestore-backend/internal/upstream"
)

type UpstreamHandler struct {
	log   *logger.Logger
	store *modulestore.Store
	links upstream.LinkService
	authz auth.AuthService
	emit  signals.Emitter
}

func NewUpstreamHandler(log *logger.Logger, store *modulestore.Store, links upstream.LinkService, authz auth.AuthService, emit signals.Emitter) *UpstreamHandler {
	return &UpstreamHandler{
		log:   log.With("handler", "UpstreamHandler"),
		store: store,
		links: links,
		authz: authz,
		emit:  emit,
	}
}

type linkView struct {
	*upstream.Link
	ReadyToSync bool `json:"ready_to_sync"`
}

// GetLink reports the link state of a block. Link failures are returned in
// error_message rather than as an error status.
func (h *UpstreamHandler) GetLink(c *gin.Context) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, false) {
		return
	}
	ctx := c.Request.Context()
	b, err := h.store.GetItem(ctx, key, keys.BranchDraft, 0)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	link := h.links.TryGetForBlock(ctx, currentUser(c), b)
	if link == nil {
		response.RespondError(c, http.StatusNotFound, "no_upstream", upstreamMissing(key))
		return
	}
	response.RespondOK(c, linkView{Link: link, ReadyToSync: link.ReadyToSync()})
}

type linkRequest struct {
	UpstreamRef string `json:"upstream_ref" binding:"required"`
}

// SetLink points a block at a new upstream and syncs it in one bulk operation.
func (h *UpstreamHandler) SetLink(c *gin.Context) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	var req linkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	user := currentUser(c)
	var out *modulestore.Block
	err := h.store.RunBulk(c.Request.Context(), key.Course, func(ctx context.Context) error {
		b, err := h.store.GetItem(ctx, key, keys.BranchDraft, 0)
		if err != nil {
			return err
		}
		if err := b.Set("upstream", req.UpstreamRef); err != nil {
			return err
		}
		for _, name := range []string{"upstream_version", "upstream_version_declined"} {
			if err := b.Clear(name); err != nil {
				return err
			}
		}
		if _, err := h.store.UpdateItem(ctx, b, user); err != nil {
			return err
		}
		out, err = h.links.SyncFromUpstream(ctx, user, key, upstream.SyncOptions{})
		return err
	})
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"block": blockView(out)})
}

type syncRequest struct {
	DeleteRemovedChildren bool `json:"delete_removed_children"`
}

func (h *UpstreamHandler) Sync(c *gin.Context) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
	}
	b, err := h.links.SyncFromUpstream(c.Request.Context(), currentUser(c), key, upstream.SyncOptions{DeleteRemovedChildren: req.DeleteRemovedChildren})
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"block": blockView(b)})
}

func (h *UpstreamHandler) FetchCustomizable(c *gin.Context) {
	h.linkOp(c, h.links.FetchCustomizableFields)
}

func (h *UpstreamHandler) Decline(c *gin.Context) {
	h.linkOp(c, h.links.DeclineSync)
}

func (h *UpstreamHandler) Sever(c *gin.Context) {
	h.linkOp(c, h.links.SeverUpstreamLink)
}

func (h *UpstreamHandler) linkOp(c *gin.Context, op func(ctx context.Context, user string, key keys.UsageKey) (*modulestore.Block, error)) {
	key, ok := usageParam(c)
	if !ok || !guard(c, h.authz, key.Course, true) {
		return
	}
	b, err := op(c.Request.Context(), currentUser(c), key)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"block": blockView(b)})
}

type libraryUpdatedRequest struct {
	LibraryKey string `json:"library_key" binding:"required"`
}

// LibraryUpdated is called by the library service after a library publish. It emits
// library_updated so downstream listeners can refresh their link state.
func (h *UpstreamHandler) LibraryUpdated(c *gin.Context) {
	var req libraryUpdatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	lib, err := keys.ParseLibraryKey(req.LibraryKey)
	if err != nil {
		response.RespondStoreError(c, err)
		return
	}
	if err := h.emit.Emit(c.Request.Context(), signals.LibraryChanged(lib)); err != nil {
		h.log.Warn("library_updated delivery incomplete", "library_key", lib.String(), "error", err)
	}
	c.Status(http.StatusAccepted)
}

type missingUpstream keys.UsageKey

func (e missingUpstream) Error() string { return keys.UsageKey(e).String() + " has no upstream link" }

func upstreamMissing(key keys.UsageKey) error { return missingUpstream(key) }
