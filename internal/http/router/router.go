package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/collectibles-backend/internal/config"
	"github.com/ignatzorin/collectibles-backend/internal/http/handlers"
	"github.com/ignatzorin/collectibles-backend/internal/http/middleware"
	"github.com/ignatzorin/collectibles-backend/internal/metrics"
	"github.com/ignatzorin/collectibles-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	authHandler *handlers.AuthHandler,
	listingHandler *handlers.ListingHandler,
	collectibleHandler *handlers.CollectibleHandler,
	paymentHandler *handlers.PaymentHandler,
	payoutHandler *handlers.PayoutHandler,
	balanceHandler *handlers.BalanceHandler,
	notificationHandler *handlers.NotificationHandler,
	verificationHandler *handlers.VerificationHandler,
	webhookHandler *handlers.WebhookHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	adminJobsHandler *handlers.AdminJobsHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")

	authGroup := api.Group("/auth")
	authRateLimit := middleware.RateLimitMiddleware(5, cfg.RateLimitPeriod)
	authGroup.Use(authRateLimit)
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)
	}

	protectedAuth := api.Group("/auth")
	protectedAuth.Use(middleware.AuthMiddleware(tokenManager))
	{
		protectedAuth.POST("/logout", authHandler.Logout)
		protectedAuth.GET("/me", authHandler.Me)
	}

	// Публичные маршруты
	api.GET("/listings", listingHandler.List)
	api.GET("/listings/:id", middleware.UUIDValidator("id"), listingHandler.Get)
	api.GET("/collectibles/:id/history", middleware.UUIDValidator("id"), collectibleHandler.History)
	api.GET("/ws", wsHandler.Handle)

	// Уведомления процессора приходят без пользовательской авторизации,
	// доступ ограничен подписью тела.
	api.POST("/webhooks/processor", webhookHandler.Handle)

	// Защищённые маршруты
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		protected.POST("/listings", listingHandler.Create)
		protected.DELETE("/listings/:id", middleware.UUIDValidator("id"), listingHandler.Cancel)
		protected.POST("/listings/:id/purchase", middleware.UUIDValidator("id"), listingHandler.Purchase)

		protected.GET("/collectibles/my", collectibleHandler.ListMine)

		protected.GET("/balance", balanceHandler.Available)
		protected.GET("/balance/history", balanceHandler.History)

		protected.POST("/payments/cards", paymentHandler.RegisterCard)
		protected.POST("/payments/checkout/pack", paymentHandler.CheckoutPack)
		protected.POST("/payments/checkout/listing", paymentHandler.CheckoutListing)
		protected.POST("/payments/deposit", paymentHandler.Deposit)
		protected.POST("/payments/deposit/stablecoin", paymentHandler.DepositStablecoin)
		protected.GET("/payments", paymentHandler.List)
		protected.GET("/payments/:id", middleware.UUIDValidator("id"), paymentHandler.Get)
		protected.POST("/payments/:id/cancel", middleware.UUIDValidator("id"), paymentHandler.Cancel)

		protected.POST("/payouts/bank-accounts", payoutHandler.CreateBankAccount)
		protected.POST("/payouts/wire", payoutHandler.RequestWire)
		protected.POST("/payouts/crypto", payoutHandler.RequestCrypto)
		protected.GET("/payouts", payoutHandler.List)
		protected.GET("/payouts/:id", middleware.UUIDValidator("id"), payoutHandler.Get)

		protected.GET("/notifications", notificationHandler.List)
		protected.GET("/notifications/unread/count", notificationHandler.CountUnread)
		protected.PUT("/notifications/:id/read", middleware.UUIDValidator("id"), notificationHandler.MarkAsRead)

		protected.POST("/verification/documents", verificationHandler.SubmitDocument)
		protected.GET("/verification/documents", verificationHandler.ListDocuments)
	}

	// Операторские маршруты
	admin := api.Group("/admin")
	admin.Use(middleware.AdminMiddleware(cfg.AdminToken))
	{
		admin.POST("/verification/:userId/review", middleware.UUIDValidator("userId"), verificationHandler.Review)
		admin.GET("/jobs/dead", adminJobsHandler.ListDead)
		admin.POST("/jobs/:id/revive", middleware.UUIDValidator("id"), adminJobsHandler.Revive)
	}

	return r
}
