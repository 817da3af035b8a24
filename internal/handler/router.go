package handler

import (
	"github.com/NovakDetti/magicfitai-sub001/internal/auth"
	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/gateway"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter wires all routes.
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, gw gateway.Gateway) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, gw)
	verifier := auth.NewVerifier(cfg.Auth.JWTSecret)

	api := r.Group("/api/v1")
	{
		sessions := api.Group("/sessions")
		{
			sessions.POST("", auth.OptionalAuth(verifier), h.CreateSession)
			sessions.GET("", auth.RequireAuth(verifier), h.ListSessions)
			sessions.GET("/:session_no", auth.OptionalAuth(verifier), h.GetSession)
			sessions.POST("/:session_no/spend", auth.RequireAuth(verifier), h.SpendCredit)
			sessions.POST("/claim", auth.RequireAuth(verifier), h.ClaimSession)
		}

		checkout := api.Group("/checkout")
		{
			checkout.POST("", auth.OptionalAuth(verifier), h.InitiateCheckout)
			checkout.GET("/verify", h.VerifyCheckout)
		}

		credits := api.Group("/credits", auth.RequireAuth(verifier))
		{
			credits.GET("/balance", h.GetBalance)
			credits.GET("/ledger", h.ListLedger)
		}

		admin := api.Group("/admin", RequireKey("X-Admin-Key", cfg.Auth.AdminKey))
		{
			admin.POST("/credits/adjust", h.AdminAdjust)
		}
	}

	// the gateway calls this directly; auth is the webhook signature
	r.POST("/webhooks/stripe", h.GatewayWebhook)

	internal := r.Group("/internal", RequireKey("X-Worker-Key", cfg.Auth.WorkerKey))
	{
		internal.POST("/analysis/complete", h.WorkerComplete)
		internal.POST("/analysis/fail", h.WorkerFail)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
