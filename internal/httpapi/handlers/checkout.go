package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/pixelshift/internal/common"
	"github.com/suPer8Hu/pixelshift/internal/payment"
)

type checkoutImage struct {
	ImageURL string `json:"imageUrl" binding:"required,url"`
}

type createCheckoutReq struct {
	Images []checkoutImage `json:"images" binding:"required,min=1,dive"`
	Prompt string          `json:"prompt" binding:"max=10000"`
	UserID string          `json:"userId" binding:"omitempty,max=64"`
}

func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var req createCheckoutReq
	if err := c.ShouldBindJSON(&req); err != nil {
		var ve validator.ValidationErrors
		switch {
		case !errors.As(err, &ve):
			common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		case ve[0].StructField() == "Images":
			common.Fail(c, http.StatusBadRequest, 10002, "No images provided")
		default:
			common.Fail(c, http.StatusBadRequest, 10003, "invalid "+ve[0].Field())
		}
		return
	}

	urls := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		urls = append(urls, strings.TrimSpace(img.ImageURL))
	}

	ctx := c.Request.Context()
	cs, err := h.Builder.Create(ctx, h.origin(c), payment.CheckoutInput{
		ImageURLs: urls,
		Prompt:    req.Prompt,
		UserID:    req.UserID,
	})
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrNoImages),
			errors.Is(err, payment.ErrTooManyImages),
			errors.Is(err, payment.ErrInvalidImageURL):
			common.Fail(c, http.StatusBadRequest, 10003, err.Error())
		default:
			log.Error().Err(err).Msg("create checkout session")
			common.Fail(c, http.StatusInternalServerError, 20010, "failed to create checkout session")
		}
		return
	}

	if h.dev != nil {
		if err := h.fulfilWithoutPayment(c, cs.ID); err != nil {
			log.Error().Err(err).Str("session_id", cs.ID).Msg("bypass: provisioning failed")
			common.FailDetail(c, http.StatusInternalServerError, 20012, "Failed to process payment", err.Error())
			return
		}
	}

	common.OK(c, http.StatusOK, gin.H{"url": cs.URL})
}

// fulfilWithoutPayment marks a bypass session paid and provisions it inline.
func (h *Handler) fulfilWithoutPayment(c *gin.Context, sessionID string) error {
	ev, err := h.dev.MarkPaid(sessionID)
	if err != nil {
		return fmt.Errorf("mark paid: %w", err)
	}
	ack, err := h.Confirmer.Handle(c.Request.Context(), ev)
	if err != nil {
		return err
	}
	log.Info().Str("session_id", sessionID).Str("user_id", ack.UserID).Uint64("chat_id", ack.ChatID).
		Msg("bypass: checkout fulfilled without payment")
	return nil
}

func (h *Handler) CheckPaymentStatus(c *gin.Context) {
	sid := strings.TrimSpace(c.Query("session_id"))
	if sid == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "Session ID is required")
		return
	}
	status, err := h.Metadata.PaymentStatus(c.Request.Context(), sid)
	if err != nil {
		if errors.Is(err, payment.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 10404, "Session not found")
			return
		}
		log.Error().Err(err).Str("session_id", sid).Msg("retrieve payment status")
		common.Fail(c, http.StatusInternalServerError, 20011, "failed to retrieve payment status")
		return
	}
	common.OK(c, http.StatusOK, gin.H{
		"status": status,
		"isPaid": status == payment.PaymentStatusPaid,
	})
}

// origin is where the provider redirects back to: the caller's Origin when
// it is one we serve, the configured public origin otherwise.
func (h *Handler) origin(c *gin.Context) string {
	o := strings.TrimRight(c.GetHeader("Origin"), "/")
	if o != "" && strings.EqualFold(o, strings.TrimRight(h.Cfg.PublicOrigin, "/")) {
		return o
	}
	return strings.TrimRight(h.Cfg.PublicOrigin, "/")
}
