package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/common"
	"github.com/suPer8Hu/pixelshift/internal/fulfillment"
	"github.com/suPer8Hu/pixelshift/internal/identity"
)

type sessionTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    *int64 `json:"expires_at"`
}

// SessionUser lets a browser returning from checkout pick up the anonymous
// identity provisioned for its payment.
func (h *Handler) SessionUser(c *gin.Context) {
	sid := strings.TrimSpace(c.Query("session_id"))
	if sid == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "Session ID is required")
		return
	}

	u, err := h.Sessions.UserForCheckout(c.Request.Context(), sid)
	if err != nil {
		switch {
		case errors.Is(err, fulfillment.ErrMappingNotFound):
			common.Fail(c, http.StatusNotFound, 10404, "Session not found or no user associated")
		case errors.Is(err, fulfillment.ErrMappingIncomplete):
			common.Fail(c, http.StatusInternalServerError, 20040, "Authentication data not found")
		default:
			log.Error().Err(err).Str("session_id", sid).Msg("session user lookup")
			common.Fail(c, http.StatusInternalServerError, 20041, "failed to load session user")
		}
		return
	}

	common.OK(c, http.StatusOK, gin.H{
		"userId": u.UserID,
		"session": sessionTokens{
			AccessToken:  u.AccessToken,
			RefreshToken: u.RefreshToken,
			ExpiresAt:    u.ExpiresAt,
		},
	})
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) RefreshToken(c *gin.Context) {
	if h.Local == nil {
		common.Fail(c, http.StatusNotFound, 40400, "token refresh is handled by the identity provider")
		return
	}
	var req refreshReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RefreshToken) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "refresh_token required")
		return
	}

	id, err := h.Local.Refresh(c.Request.Context(), strings.TrimSpace(req.RefreshToken))
	if err != nil {
		if errors.Is(err, identity.ErrInvalidRefreshToken) {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid refresh token")
			return
		}
		log.Error().Err(err).Msg("refresh token")
		common.Fail(c, http.StatusInternalServerError, 20042, "failed to refresh token")
		return
	}
	common.OK(c, http.StatusOK, gin.H{
		"userId":        id.UserID,
		"access_token":  id.AccessToken,
		"refresh_token": id.RefreshToken,
		"expires_at":    id.ExpiresAt,
	})
}
