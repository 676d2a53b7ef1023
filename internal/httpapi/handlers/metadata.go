package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/common"
	"github.com/suPer8Hu/pixelshift/internal/payment"
)

func (h *Handler) GetSessionMetadata(c *gin.Context) {
	sid := strings.TrimSpace(c.Query("session_id"))
	if sid == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "Session ID is required")
		return
	}

	md, err := h.Metadata.Read(c.Request.Context(), sid)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 10404, "Session not found")
			return
		}
		log.Error().Err(err).Str("session_id", sid).Msg("read session metadata")
		common.Fail(c, http.StatusInternalServerError, 20020, "failed to retrieve session metadata")
		return
	}
	common.OK(c, http.StatusOK, gin.H{"success": true, "metadata": md})
}

type updateMetadataReq struct {
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	ChatID    flexibleID `json:"chatId"`
}

func (h *Handler) UpdateSessionMetadata(c *gin.Context) {
	var req updateMetadataReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sid := strings.TrimSpace(req.SessionID)
	if sid == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "Session ID is required")
		return
	}

	md, err := h.Metadata.Update(c.Request.Context(), sid, strings.TrimSpace(req.UserID), string(req.ChatID))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrMissingUpdateFields):
			common.Fail(c, http.StatusBadRequest, 10002, "userId or chatId is required")
		case errors.Is(err, payment.ErrSessionNotFound):
			common.Fail(c, http.StatusNotFound, 10404, "Session not found")
		default:
			log.Error().Err(err).Str("session_id", sid).Msg("update session metadata")
			common.Fail(c, http.StatusInternalServerError, 20021, "failed to update session metadata")
		}
		return
	}
	common.OK(c, http.StatusOK, gin.H{"success": true, "metadata": md})
}
