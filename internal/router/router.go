// internal/router/router.go
package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/javajoker/revshare-backend/internal/config"
	"github.com/javajoker/revshare-backend/internal/handlers"
	"github.com/javajoker/revshare-backend/internal/metrics"
	"github.com/javajoker/revshare-backend/internal/middleware"
	"github.com/javajoker/revshare-backend/internal/services"
	"github.com/javajoker/revshare-backend/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config) (*gin.Engine, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(cfg.Metrics.Prefix)
	}

	// Initialize services
	notificationService := services.NewNotificationService(cfg.Email)
	storageService, err := services.NewStorageService(cfg.AWS)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	anchorService := services.NewAnchorService(db)
	proofService, err := services.NewProofService(db, anchorService, storageService, cfg.Proof)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize proofs: %w", err)
	}

	authService := services.NewAuthService(db, cfg)
	splitService := services.NewSplitService(db)
	linkService := services.NewLinkService(db)
	clearanceService := services.NewClearanceService(db, cfg.Clearance, notificationService, m)
	settlementService := services.NewSettlementService(db, notificationService, m)
	paymentService := services.NewPaymentService(db, cfg.Payment, settlementService)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	contentHandler := handlers.NewContentHandler(splitService, linkService, anchorService)
	clearanceHandler := handlers.NewClearanceHandler(clearanceService)
	paymentHandler := handlers.NewPaymentHandler(paymentService)
	settlementHandler := handlers.NewSettlementHandler(settlementService)
	proofHandler := handlers.NewProofHandler(proofService)

	utils.SetJWTSecret(cfg.JWT.SecretKey)

	limit := func(mw gin.HandlerFunc) gin.HandlerFunc {
		if !cfg.Server.RateLimit {
			return func(c *gin.Context) { c.Next() }
		}
		return mw
	}

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(middleware.I18nMiddleware(cfg.I18n.DefaultLocale))
	r.Use(m.Middleware())
	r.Use(middleware.RequestLogger())
	r.Use(limit(middleware.GeneralRateLimit()))
	r.Use(middleware.AuditLogMiddleware(db))

	r.GET("/health", func(c *gin.Context) {
		status := "healthy"
		code := http.StatusOK
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"version": "1.0.0",
		})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := r.Group("/v1")
	{
		auth := v1.Group("/auth")
		auth.Use(limit(middleware.AuthRateLimit()))
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		me := v1.Group("/me")
		me.Use(middleware.AuthRequired())
		{
			me.GET("", authHandler.GetProfile)
			me.GET("/payouts", settlementHandler.ListPayouts)
			me.GET("/entitlements", paymentHandler.ListEntitlements)
		}

		content := v1.Group("/content")
		{
			content.GET("", contentHandler.ListContent)
			content.GET("/:id", contentHandler.GetContent)
			content.GET("/:id/splits", contentHandler.GetLockedSplit)
			content.GET("/:id/links", contentHandler.GetParentLinks)

			protected := content.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", contentHandler.CreateContent)
				protected.POST("/:id/splits", contentHandler.CreateSplitVersion)
				protected.POST("/:id/links", contentHandler.CreateLink)
			}
		}

		splits := v1.Group("/splits")
		{
			splits.GET("/:id", contentHandler.GetSplit)
			splits.GET("/:id/verify", contentHandler.VerifySplit)

			protected := splits.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.PUT("/:id", contentHandler.UpdateSplit)
				protected.POST("/:id/lock", contentHandler.LockSplit)
				protected.POST("/:id/accept", contentHandler.AcceptSplit)
			}
		}

		links := v1.Group("/links")
		{
			links.GET("/:id/clearance", clearanceHandler.GetClearance)

			protected := links.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("/:id/clearance", clearanceHandler.RequestClearance)
				protected.POST("/:id/votes", limit(middleware.VoteRateLimit()), clearanceHandler.CastVote)
			}
		}

		payments := v1.Group("/payments")
		payments.Use(limit(middleware.PaymentRateLimit()))
		{
			payments.POST("/intents", middleware.OptionalAuth(), paymentHandler.CreatePaymentIntent)
			payments.GET("/intents/:id", paymentHandler.GetPaymentIntent)
			payments.POST("/confirm", middleware.RailSecretRequired(cfg.Payment.RailSharedSecret), paymentHandler.ConfirmPayment)
			payments.POST("/webhooks/stripe", paymentHandler.StripeWebhook)
		}

		settlements := v1.Group("/settlements")
		{
			settlements.GET("/:paymentIntentId", settlementHandler.GetSettlement)
			settlements.POST("/:paymentIntentId/finalize", middleware.RailSecretRequired(cfg.Payment.RailSharedSecret), settlementHandler.Finalize)
		}

		proofs := v1.Group("/proofs")
		{
			proofs.GET("/:id", proofHandler.GetProof)
			proofs.GET("/:id/verify", proofHandler.VerifyProof)

			protected := proofs.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", proofHandler.BuildProof)
				protected.POST("/:id/signatures", proofHandler.SignProof)
			}
		}
	}

	return r, nil
}
