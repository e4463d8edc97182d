package handlers

import (
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/coursestore-backend/internal/auth"
	"github.com/yungbote/coursestore-backend/internal/http/response"
	"github.com/yungbote/coursestore-backend/internal/keys"
	"github.com/yungbote/coursestore-backend/internal/platform/ctxutil"
	"github.com/yungbote/coursestore-backend/internal/platform/logger"
	"github.com/yungbote/coursestore-backend/internal/realtime"
)

// RealtimeHandler streams store signals to studio sessions. Channels are course keys
// (studio read access required) or library keys.
type RealtimeHandler struct {
	log   *logger.Logger
	hub   *realtime.SSEHub
	authz auth.AuthService

	mu      sync.RWMutex
	clients map[string]*realtime.SSEClient // key: session id
}

func NewRealtimeHandler(log *logger.Logger, hub *realtime.SSEHub, authz auth.AuthService) *RealtimeHandler {
	return &RealtimeHandler{
		log:     log.With("handler", "RealtimeHandler"),
		hub:     hub,
		authz:   authz,
		clients: make(map[string]*realtime.SSEClient),
	}
}

var errBadChannel = errors.New("channel must be a course key or library key")

// checkChannel returns the canonical channel name when the caller may listen on it.
func (h *RealtimeHandler) checkChannel(c *gin.Context, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if lib, err := keys.ParseLibraryKey(raw); err == nil {
		return lib.String(), true
	}
	course, err := keys.ParseCourseKey(raw)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_channel", errBadChannel)
		return "", false
	}
	if !guard(c, h.authz, course, false) {
		return "", false
	}
	return course.String(), true
}

// SSEStream opens the session's event stream. Repeated course_key query values
// subscribe up front.
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == "" || rd.SessionID == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing session"))
		return
	}
	var initial []string
	for _, raw := range c.QueryArray("course_key") {
		ch, ok := h.checkChannel(c, raw)
		if !ok {
			return
		}
		initial = append(initial, ch)
	}

	h.mu.Lock()
	if existing, ok := h.clients[rd.SessionID]; ok {
		h.hub.CloseClient(existing)
		delete(h.clients, rd.SessionID)
	}
	client := h.hub.NewSSEClient(rd.UserID)
	h.clients[rd.SessionID] = client
	h.mu.Unlock()
	h.log.Info("SSEStream open", "user_id", rd.UserID, "session_id", rd.SessionID, "client_id", client.ID.String())

	for _, ch := range initial {
		h.hub.AddChannel(client, ch)
	}
	h.hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	if h.clients[rd.SessionID] == client {
		delete(h.clients, rd.SessionID)
	}
	h.mu.Unlock()
	h.hub.CloseClient(client)
}

type channelRequest struct {
	Channel string `json:"channel" binding:"required"`
}

func (h *RealtimeHandler) SSESubscribe(c *gin.Context) {
	h.changeSubscription(c, true)
}

func (h *RealtimeHandler) SSEUnsubscribe(c *gin.Context) {
	h.changeSubscription(c, false)
}

func (h *RealtimeHandler) changeSubscription(c *gin.Context, subscribe bool) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.SessionID == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing session"))
		return
	}
	var req channelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_channel", err)
		return
	}
	channel, ok := h.checkChannel(c, req.Channel)
	if !ok {
		return
	}
	h.mu.RLock()
	client, exists := h.clients[rd.SessionID]
	h.mu.RUnlock()
	if !exists {
		response.RespondError(c, http.StatusConflict, "no_stream", errors.New("no active SSE connection for this session"))
		return
	}
	if subscribe {
		h.hub.AddChannel(client, channel)
		response.RespondOK(c, gin.H{"message": "subscribed", "channel": channel})
		return
	}
	h.hub.RemoveChannel(client, channel)
	response.RespondOK(c, gin.H{"message": "unsubscribed", "channel": channel})
}
