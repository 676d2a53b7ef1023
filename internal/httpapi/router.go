package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/pixelshift/internal/common"
	"github.com/suPer8Hu/pixelshift/internal/config"
	"github.com/suPer8Hu/pixelshift/internal/httpapi/handlers"
	"github.com/suPer8Hu/pixelshift/internal/httpapi/middleware"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, deps handlers.Deps) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, deps)

	r.GET("/ping", h.Ping)

	// checkout + payment confirmation
	r.POST("/checkout-session", h.CreateCheckoutSession)
	r.GET("/check-payment-status", h.CheckPaymentStatus)
	r.POST("/webhook", h.Webhook)

	// checkout metadata
	r.GET("/session-metadata", h.GetSessionMetadata)
	r.POST("/update-session-metadata", h.UpdateSessionMetadata)

	// anonymous identity
	r.GET("/session-user", h.SessionUser)
	r.POST("/auth/refresh", h.RefreshToken)

	// results
	r.GET("/public-session", h.PublicSession)
	r.POST("/shared-sessions", h.RegisterSharedSession)
	r.GET("/share-token", h.ShareToken)

	results := r.Group("/chats")
	if deps.Local != nil {
		results.Use(middleware.OptionalAuth(deps.Local))
	}
	results.GET("/:chat_id/request", h.ChatRequest)
	results.GET("/:chat_id/response", h.ChatResponse)

	return r
}
