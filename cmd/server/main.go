package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/collectibles-backend/internal/chain"
	"github.com/ignatzorin/collectibles-backend/internal/config"
	"github.com/ignatzorin/collectibles-backend/internal/db"
	"github.com/ignatzorin/collectibles-backend/internal/goroutine"
	httpHandlers "github.com/ignatzorin/collectibles-backend/internal/http/handlers"
	httpRouter "github.com/ignatzorin/collectibles-backend/internal/http/router"
	"github.com/ignatzorin/collectibles-backend/internal/jobs"
	"github.com/ignatzorin/collectibles-backend/internal/logger"
	"github.com/ignatzorin/collectibles-backend/internal/metrics"
	"github.com/ignatzorin/collectibles-backend/internal/processor"
	"github.com/ignatzorin/collectibles-backend/internal/repository"
	"github.com/ignatzorin/collectibles-backend/internal/service"
	"github.com/ignatzorin/collectibles-backend/internal/storage"
	"github.com/ignatzorin/collectibles-backend/internal/ws"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	// Инициализация логгера
	logLevel := "info"
	if cfg.Env == "development" {
		logLevel = "debug"
		logger.Init(logLevel)
		logger.SetTextFormatter()
	} else {
		logger.Init(logLevel)
	}

	metrics.Init()

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Вспомогательные сервисы.
	tokenManager := service.NewTokenManager(cfg.JWTSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	documentStorage, err := storage.NewDocumentStorage(cfg.DocumentStoragePath, cfg.MaxUploadSizeMB)
	if err != nil {
		log.Fatalf("main: не удалось подготовить файловое хранилище: %v", err)
	}

	// Внешние клиенты.
	processorClient := processor.NewClient(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey)
	chainClient := chain.NewClient(cfg.ChainBaseURL, cfg.ChainToken)

	// Репозитории.
	userRepo := repository.NewUserRepository(dbConn)
	transferRepo := repository.NewTransferRepository(dbConn)
	listingRepo := repository.NewListingRepository(dbConn)
	paymentRepo := repository.NewPaymentRepository(dbConn)
	payoutRepo := repository.NewPayoutRepository(dbConn)
	collectibleRepo := repository.NewCollectibleRepository(dbConn)
	notificationRepo := repository.NewNotificationRepository(dbConn)
	webhookRepo := repository.NewWebhookRepository(dbConn)

	// Очередь фоновых задач.
	queue := jobs.NewQueue(dbConn)
	pool := jobs.NewPool(queue, cfg.JobWorkers, cfg.JobMaxAttempts, cfg.JobPollInterval)

	// WebSocket хаб.
	hub := ws.NewHub()
	goroutine.SafeGo(hub.Run)

	// Сервисы.
	ledgerService := service.NewLedgerService(transferRepo)
	notificationService := service.NewNotificationService(notificationRepo, hub)
	complianceService := service.NewComplianceService(userRepo, paymentRepo, processorClient, cfg.KYCDailyThreshold, cfg.KYCLifetimeThreshold)
	authService := service.NewAuthService(userRepo, tokenManager, complianceService)
	verificationService := service.NewVerificationService(userRepo, documentStorage, notificationService)

	listingService := service.NewListingService(listingRepo, collectibleRepo, userRepo, ledgerService, chainClient, queue, notificationService, cfg.TradeCooldown, cfg.ListingTTL)
	paymentService := service.NewPaymentService(paymentRepo, collectibleRepo, userRepo, ledgerService, complianceService, processorClient, chainClient, queue, notificationService, cfg.StablecoinAssetID)
	paymentService.SetMarket(listingService)
	payoutService := service.NewPayoutService(payoutRepo, userRepo, ledgerService, processorClient, complianceService, queue, notificationService, cfg.WirePayoutFee, cfg.MinPayoutAmount)
	reconcileService := service.NewReconcileService(webhookRepo, paymentService, payoutService, cfg.WebhookSecret)

	// Фоновые задачи.
	service.RegisterJobHandlers(pool, queue, listingService, paymentService, payoutService)
	if err := service.SeedRecurringJobs(ctx, queue); err != nil {
		log.Fatalf("main: не удалось поставить регулярные задачи: %v", err)
	}
	pool.Start(ctx)

	// Подписка на уведомления процессора.
	if cfg.PublicWebhookURL != "" {
		goroutine.SafeGo(func() {
			subCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := processorClient.Subscribe(subCtx, cfg.PublicWebhookURL); err != nil {
				logger.WithComponent("main").WithError(err).Warn("не удалось оформить подписку на вебхуки")
			}
		})
	}

	// Хэндлеры.
	authHandler := httpHandlers.NewAuthHandler(authService)
	listingHandler := httpHandlers.NewListingHandler(listingService)
	collectibleHandler := httpHandlers.NewCollectibleHandler(listingService)
	paymentHandler := httpHandlers.NewPaymentHandler(paymentService)
	payoutHandler := httpHandlers.NewPayoutHandler(payoutService)
	balanceHandler := httpHandlers.NewBalanceHandler(ledgerService)
	notificationHandler := httpHandlers.NewNotificationHandler(notificationService)
	verificationHandler := httpHandlers.NewVerificationHandler(verificationService, cfg.MaxUploadSizeMB)
	webhookHandler := httpHandlers.NewWebhookHandler(reconcileService)
	wsHandler := httpHandlers.NewWSHandler(hub, tokenManager)
	healthHandler := httpHandlers.NewHealthHandler(dbConn)
	adminJobsHandler := httpHandlers.NewAdminJobsHandler(queue)

	// Роутер.
	engine := httpRouter.SetupRouter(
		cfg,
		authHandler,
		listingHandler,
		collectibleHandler,
		paymentHandler,
		payoutHandler,
		balanceHandler,
		notificationHandler,
		verificationHandler,
		webhookHandler,
		wsHandler,
		healthHandler,
		adminJobsHandler,
		tokenManager,
	)

	server := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: engine,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("main: ошибка остановки http сервера: %v", err)
		}
		pool.Stop()
	}()

	log.Printf("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
