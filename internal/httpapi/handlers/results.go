package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/chat"
	"github.com/suPer8Hu/pixelshift/internal/common"
	"github.com/suPer8Hu/pixelshift/internal/httpapi/middleware"
)

const sessionIDHeader = "X-Session-Id"

// PublicSession is the server-side results view for a chat.
func (h *Handler) PublicSession(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("chat_id"))
	if raw == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "chat_id is required")
		return
	}
	chatID, err := parseChatID(raw)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, err.Error())
		return
	}

	view, err := h.Lookup.Session(c.Request.Context(), chatID)
	if err != nil {
		if errors.Is(err, chat.ErrRequestNotFound) {
			common.Fail(c, http.StatusNotFound, 10404, "Request not found")
			return
		}
		log.Error().Err(err).Uint64("chat_id", chatID).Msg("public session lookup")
		common.Fail(c, http.StatusInternalServerError, 20050, "failed to load session")
		return
	}
	common.OK(c, http.StatusOK, view)
}

type sharedSessionReq struct {
	SessionID string     `json:"sessionId"`
	ChatID    flexibleID `json:"chatId"`
}

func (h *Handler) RegisterSharedSession(c *gin.Context) {
	var req sharedSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sid := strings.TrimSpace(req.SessionID)
	if sid == "" || req.ChatID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "sessionId and chatId are required")
		return
	}
	chatID, err := parseChatID(string(req.ChatID))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, err.Error())
		return
	}

	if err := h.Registry.Register(c.Request.Context(), sid, chatID); err != nil {
		if errors.Is(err, chat.ErrInvalidGrant) {
			common.Fail(c, http.StatusBadRequest, 10002, err.Error())
			return
		}
		log.Error().Err(err).Str("session_id", sid).Uint64("chat_id", chatID).Msg("register shared session")
		common.Fail(c, http.StatusInternalServerError, 20051, "failed to register shared session")
		return
	}
	common.OK(c, http.StatusOK, gin.H{"success": true})
}

func (h *Handler) ChatRequest(c *gin.Context) {
	chatID, viewers, ok := h.chatViewers(c)
	if !ok {
		return
	}
	req, err := h.Lookup.GetRequest(c.Request.Context(), chatID, viewers...)
	if err != nil {
		h.lookupFailed(c, chatID, err)
		return
	}
	// nil until the row exists; clients keep polling
	if req == nil {
		common.OK(c, http.StatusOK, gin.H{"data": nil})
		return
	}
	common.OK(c, http.StatusOK, gin.H{"data": req})
}

func (h *Handler) ChatResponse(c *gin.Context) {
	chatID, viewers, ok := h.chatViewers(c)
	if !ok {
		return
	}
	resp, err := h.Lookup.GetResponse(c.Request.Context(), chatID, viewers...)
	if err != nil {
		h.lookupFailed(c, chatID, err)
		return
	}
	if resp == nil {
		common.OK(c, http.StatusOK, gin.H{"data": nil})
		return
	}
	common.OK(c, http.StatusOK, gin.H{"data": resp})
}

// ShareToken trades a shared-session grant for a capability token scoped to
// the same chat.
func (h *Handler) ShareToken(c *gin.Context) {
	sid := strings.TrimSpace(c.Query("session_id"))
	if sid == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "session_id is required")
		return
	}
	chatID, err := parseChatID(c.Query("chat_id"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, err.Error())
		return
	}

	ok, err := h.Registry.Allows(c.Request.Context(), sid, chatID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sid).Uint64("chat_id", chatID).Msg("share grant lookup")
		common.Fail(c, http.StatusInternalServerError, 20052, "failed to check grant")
		return
	}
	if !ok {
		common.Fail(c, http.StatusForbidden, 40300, "forbidden")
		return
	}

	tok, exp, err := h.Shares.Issue(chatID, sid)
	if err != nil {
		log.Error().Err(err).Uint64("chat_id", chatID).Msg("issue share token")
		common.Fail(c, http.StatusInternalServerError, 20053, "failed to issue share token")
		return
	}
	common.OK(c, http.StatusOK, gin.H{"token": tok, "expires_at": exp.Unix()})
}

// chatViewers resolves the chat id and every credential the caller sent.
// An explicit shared-session id or share token comes before the bearer
// identity, so a signed-in user can still open someone else's shared link.
func (h *Handler) chatViewers(c *gin.Context) (uint64, []chat.Viewer, bool) {
	chatID, err := parseChatID(c.Param("chat_id"))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, err.Error())
		return 0, nil, false
	}

	var viewers []chat.Viewer
	if sid := strings.TrimSpace(c.GetHeader(sessionIDHeader)); sid != "" {
		viewers = append(viewers, chat.SessionViewer(sid))
	}
	if tok := strings.TrimSpace(c.Query("token")); tok != "" {
		tokChat, err := h.Shares.Verify(tok)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid share token")
			return 0, nil, false
		}
		viewers = append(viewers, chat.TokenViewer(tokChat))
	}
	if uid, ok := middleware.UserID(c); ok {
		viewers = append(viewers, chat.OwnerViewer(uid))
	}

	if len(viewers) == 0 {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return 0, nil, false
	}
	return chatID, viewers, true
}

func (h *Handler) lookupFailed(c *gin.Context, chatID uint64, err error) {
	if errors.Is(err, chat.ErrForbidden) {
		common.Fail(c, http.StatusForbidden, 40300, "forbidden")
		return
	}
	log.Error().Err(err).Uint64("chat_id", chatID).Msg("result lookup")
	common.Fail(c, http.StatusInternalServerError, 20054, "failed to load chat")
}
