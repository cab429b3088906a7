package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yashrajoria/webhook-service/config"
	"github.com/yashrajoria/webhook-service/controllers"
	"github.com/yashrajoria/webhook-service/database"
	"github.com/yashrajoria/webhook-service/logger"
	"github.com/yashrajoria/webhook-service/ratelimit"
	"github.com/yashrajoria/webhook-service/routes"
	"github.com/yashrajoria/webhook-service/services"
	"github.com/yashrajoria/webhook-service/webhook"
)

func serveCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), autoMigrate)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", false, "prepare the order store schema before serving")
	return cmd
}

func runServe(ctx context.Context, autoMigrate bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		return err
	}

	loadAWS := newAWSLoader(ctx)
	log, err := logger.New(cfg.AppEnv, logSink(ctx, cfg, loadAWS))
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.WebhookSecret == "" {
		log.Error("STRIPE_WEBHOOK_SECRET is not set, every webhook delivery will be answered with 500")
	}
	if cfg.UseSecrets && !cfg.SecretsLoaded {
		log.Warn("Secrets Manager overlay unavailable, using environment values", zap.String("secret", cfg.SecretsName))
	}

	// Order store
	store, err := database.OpenOrderStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Order store close error", zap.Error(err))
		}
	}()
	if autoMigrate {
		if err := store.Migrate(ctx); err != nil {
			return err
		}
	}

	// Cache invalidation
	notifier, closers, err := buildNotifier(ctx, cfg, loadAWS, log)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Error("Notifier close error", zap.Error(err))
			}
		}
	}()
	if err != nil {
		return err
	}

	// Metrics
	cw := metricsClient(cfg, loadAWS, log)
	var recorder services.MetricsRecorder = services.NopMetrics{}
	if cw != nil {
		recorder = cw
	}

	// Rate limiting
	windows := ratelimit.NewWindowStore(nil)
	windows.StartSweeper(cfg.RateLimitSweepInterval, func(removed int) {
		if removed > 0 {
			log.Debug("Swept expired rate limit windows", zap.Int("removed", removed))
		}
	})
	defer windows.Close()
	limiter := ratelimit.NewLimiter(windows, nil)

	// Webhook pipeline
	materializer := services.NewMaterializer(store.Repo, notifier, recorder, log, cfg.StoreTimeout)
	dispatcher := services.NewDispatcher(materializer, recorder, log)
	verifier := webhook.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance)

	r := routes.NewRouter(routes.Dependencies{
		Webhook: controllers.NewWebhookController(verifier, dispatcher, recorder, log, cfg.WebhookMaxBodyBytes),
		Orders:  controllers.NewOrderController(store.Repo),
		Limiter: limiter,
		Policies: routes.Policies{
			Webhook: cfg.RateLimitPolicy(config.PolicyWebhook),
			API:     cfg.RateLimitPolicy(config.PolicyAPI),
			Auth:    cfg.RateLimitPolicy(config.PolicyAuth),
		},
		AdminJWTSecret: cfg.AdminJWTSecret,
		Recorder:       recorder,
		MetricsClient:  cw,
		ServiceName:    serviceName,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Webhook service started",
			zap.String("port", cfg.Port),
			zap.String("order_store", cfg.OrderStore),
			zap.Strings("notifiers", cfg.Notifiers),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case <-quit:
	case err, ok := <-serverErr:
		if ok {
			log.Error("Server failed", zap.Error(err))
			return err
		}
	}

	log.Info("Initiating graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	materializer.Wait()
	log.Info("Webhook service stopped gracefully")
	return nil
}
