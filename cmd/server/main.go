package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kidspc/kidspc-server/internal/billing"
	"github.com/kidspc/kidspc-server/internal/config"
	"github.com/kidspc/kidspc-server/internal/database"
	"github.com/kidspc/kidspc-server/internal/handler"
	"github.com/kidspc/kidspc-server/internal/jobs"
	"github.com/kidspc/kidspc-server/internal/middleware"
	"github.com/kidspc/kidspc-server/internal/redis"
	"github.com/kidspc/kidspc-server/internal/repository"
	"github.com/kidspc/kidspc-server/internal/service"
)

func main() {
	godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	accountRepo := repository.NewAccountRepository(db.DB)
	deviceRepo := repository.NewDeviceRepository(db.DB)
	pairingTokenRepo := repository.NewPairingTokenRepository(db.DB)
	subscriptionRepo := repository.NewSubscriptionRepository(db.DB)
	settingsRepo := repository.NewDeviceSettingsRepository(db.DB)
	commandRepo := repository.NewCommandRepository(db.DB)
	eventRepo := repository.NewEventRepository(db.DB)
	usageRepo := repository.NewUsageRepository(db.DB)
	blocklistRepo := repository.NewBlocklistRepository(db.DB)
	billingEventRepo := repository.NewBillingEventRepository(db.DB)

	mercadopagoClient := billing.NewMercadoPagoClient(cfg.MercadoPagoToken, cfg.MercadoPagoBaseURL)
	stripeClient := billing.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, "")

	pairingService := service.NewPairingService(
		db, pairingTokenRepo, deviceRepo, subscriptionRepo, settingsRepo, cfg,
	)
	deviceService := service.NewDeviceService(
		db, deviceRepo, settingsRepo, commandRepo, eventRepo, usageRepo, blocklistRepo,
	)
	syncService := service.NewSyncService(
		deviceRepo, settingsRepo, commandRepo, eventRepo, usageRepo, blocklistRepo,
	)
	billingService := service.NewBillingService(
		subscriptionRepo, deviceRepo, accountRepo, billingEventRepo,
		mercadopagoClient, stripeClient, cfg.AppBaseURL,
	)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(accountRepo)
	deviceJWTMiddleware := middleware.NewDeviceJWTMiddleware(deviceRepo, cfg.DeviceJWTSecret)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	pairingRequestLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.PairingRequestLimitPerMin, time.Minute, "pairing-request")
	pairingCheckLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.PairingCheckLimitPerMin, time.Minute, "pairing-check")
	claimLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.DeviceClaimLimitPerMin, time.Minute, "device-claim")
	accountLimit := middleware.NewAccountRateLimitMiddleware(rateLimiter)

	pairingHandler := handler.NewPairingHandler(pairingService)
	claimHandler := handler.NewClaimHandler(pairingService)
	deviceHandler := handler.NewDeviceHandler(deviceService, pairingService, billingService)
	billingHandler := handler.NewBillingHandler(billingService)
	syncHandler := handler.NewSyncHandler(syncService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		// Unauthenticated: the desktop client before it holds any
		// credential, and provider webhooks.
		r.Route("/pairing", func(r chi.Router) {
			r.With(pairingRequestLimit.Handler).Post("/request", pairingHandler.RequestCode)
			r.With(pairingCheckLimit.Handler).Get("/check", pairingHandler.CheckCode)

			// Parent side of pairing.
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Handler)
				r.Use(accountLimit.Handler)
				r.Post("/", pairingHandler.GenerateWebCode)
				r.Post("/confirm", pairingHandler.Confirm)
			})
		})

		r.With(claimLimit.Handler).Post("/devices/claim", claimHandler.Claim)

		r.Mount("/billing", billingWebhooksThenAuthed(billingHandler, authMiddleware, accountLimit))

		r.Route("/devices", func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Use(accountLimit.Handler)
			r.Mount("/", deviceHandler.Routes())
		})

		r.Route("/sync", func(r chi.Router) {
			r.Use(deviceJWTMiddleware.Handler)
			r.Mount("/", syncHandler.Routes())
		})
	})

	cleanupJob := jobs.NewCleanupJob(
		pairingTokenRepo, commandRepo, deviceRepo, config.CleanupJobInterval,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// billingWebhooksThenAuthed mounts the unauthenticated webhook endpoints
// next to the parent-authenticated billing API on one subtree.
func billingWebhooksThenAuthed(
	h *handler.BillingHandler,
	auth *middleware.AuthMiddleware,
	limit *middleware.AccountRateLimitMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Post("/webhook", h.MercadoPagoWebhook)
	r.Post("/stripe/webhook", h.StripeWebhook)

	r.Group(func(r chi.Router) {
		r.Use(auth.Handler)
		r.Use(limit.Handler)
		r.Get("/status", h.Status)
		r.Post("/checkout", h.Checkout)
		r.Post("/cancel", h.Cancel)
		r.Post("/sync", h.Sync)
		r.Get("/payments", h.Payments)
	})

	return r
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
