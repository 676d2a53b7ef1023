package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/pixelshift/internal/auth"
	"github.com/suPer8Hu/pixelshift/internal/chat"
	"github.com/suPer8Hu/pixelshift/internal/config"
	"github.com/suPer8Hu/pixelshift/internal/fulfillment"
	"github.com/suPer8Hu/pixelshift/internal/identity"
	"github.com/suPer8Hu/pixelshift/internal/payment"
	"gorm.io/gorm"
)

// Deps are the external collaborators. Optional ones may be left nil.
type Deps struct {
	Gateway  payment.Gateway
	Identity identity.Provider
	// Local is set when the built-in identity provider is in use; it backs
	// bearer auth and token refresh.
	Local     *identity.LocalProvider
	Cache     payment.MetadataCache
	Locker    fulfillment.Locker
	Publisher fulfillment.Publisher
}

type Handler struct {
	DB  *gorm.DB
	Cfg config.Config

	Gateway   payment.Gateway
	Builder   *payment.Builder
	Metadata  *payment.MetadataService
	Confirmer *fulfillment.Confirmer
	Sessions  *fulfillment.Sessions
	Registry  *chat.Registry
	Lookup    *chat.Lookup
	Shares    *auth.ShareTokens
	Local     *identity.LocalProvider

	// dev is the in-memory gateway when payments are bypassed.
	dev *payment.MemoryGateway
}

func NewHandler(db *gorm.DB, cfg config.Config, d Deps) *Handler {
	metadata := payment.NewMetadataService(d.Gateway, d.Cache)

	prov := fulfillment.NewProvisioner(fulfillment.Deps{
		DB:             db,
		Identity:       d.Identity,
		Metadata:       metadata,
		Publisher:      d.Publisher,
		Locker:         d.Locker,
		TransformQueue: cfg.RabbitQueue,
		ReconcileQueue: cfg.RabbitReconcileQueue,
	})

	chats := chat.NewRepo(db)
	registry := chat.NewRegistry(chats)

	h := &Handler{
		DB:      db,
		Cfg:     cfg,
		Gateway: d.Gateway,
		Builder: payment.NewBuilder(d.Gateway, payment.BuilderConfig{
			UnitAmount:  cfg.CheckoutUnitAmount,
			Currency:    cfg.CheckoutCurrency,
			MaxImages:   cfg.MaxImages,
			PromptLimit: cfg.PromptMetadataLimit,
		}),
		Metadata:  metadata,
		Confirmer: fulfillment.NewConfirmer(prov),
		Sessions:  fulfillment.NewSessions(fulfillment.NewRepo(db)),
		Registry:  registry,
		Lookup:    chat.NewLookup(chats, registry),
		Shares:    auth.NewShareTokens(cfg.JWTSecret, cfg.ShareTokenTTL),
		Local:     d.Local,
	}
	if mg, ok := d.Gateway.(*payment.MemoryGateway); ok && cfg.BypassStripe {
		h.dev = mg
	}
	return h
}

func (h *Handler) Ping(c *gin.Context) {
	if sqlDB, err := h.DB.DB(); err == nil {
		if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"message": "db unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}
