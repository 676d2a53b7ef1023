package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/common"
	"github.com/suPer8Hu/pixelshift/internal/fulfillment"
	"github.com/suPer8Hu/pixelshift/internal/payment"
)

const (
	maxWebhookBody        = 1 << 20
	signatureHeader       = "Stripe-Signature"
	developmentModeHeader = "X-Development-Mode"
)

func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10030, "failed to read request body")
		return
	}

	var ev *payment.Event
	if h.Cfg.Development() && c.GetHeader(developmentModeHeader) == "true" {
		log.Warn().Msg("webhook signature verification skipped (development mode)")
		ev, err = payment.DecodeEvent(payload)
	} else {
		ev, err = h.Gateway.ParseEvent(payload, c.GetHeader(signatureHeader))
	}
	if err != nil {
		log.Warn().Err(err).Msg("webhook rejected")
		common.FailDetail(c, http.StatusBadRequest, 10031, "Webhook Error", err.Error())
		return
	}

	ack, err := h.Confirmer.Handle(c.Request.Context(), ev)
	if err != nil {
		sid := ""
		if ev.Session != nil {
			sid = ev.Session.ID
		}
		if errors.Is(err, fulfillment.ErrInFlight) {
			common.Fail(c, http.StatusConflict, 10032, "checkout session is already being processed")
			return
		}
		log.Error().Err(err).Str("session_id", sid).Str("event_id", ev.ID).Msg("webhook provisioning failed")
		common.FailDetail(c, http.StatusInternalServerError, 20030, "Failed to process payment", err.Error())
		return
	}
	common.OK(c, http.StatusOK, ack)
}
