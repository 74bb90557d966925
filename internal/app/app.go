package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/lois2311/pyro-backend/internal/domain/discount"
	"github.com/lois2311/pyro-backend/internal/domain/order"
	"github.com/lois2311/pyro-backend/internal/domain/payment"
	"github.com/lois2311/pyro-backend/internal/gateway/wompi"
	"github.com/lois2311/pyro-backend/internal/handler"
	"github.com/lois2311/pyro-backend/internal/storage/postgres"
	"github.com/lois2311/pyro-backend/internal/storage/redis"
	"github.com/lois2311/pyro-backend/internal/telemetry"
	"github.com/lois2311/pyro-backend/pkg/health"
	"github.com/lois2311/pyro-backend/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	metrics, err := telemetry.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	paymentOpts := []payment.ServiceOption{
		payment.WithTimeout(cfg.Gateway.Timeout),
		payment.WithServiceMetrics(metrics),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer func() { _ = rdb.Close() }()

		store := redis.NewIdempotencyStore(rdb, cfg.Redis.TTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(store))
		paymentOpts = append(paymentOpts, payment.WithIdempotencyStore(store))
	} else {
		lg.Warn("Redis is not configured, payment initiations will not be replayed")
	}
	if cfg.Webhook.Secret == "" {
		lg.Warn("Webhook secret is not configured, every webhook will be rejected")
	}

	// Domain services.
	orderService := order.NewService(productRepo, orderRepo)
	discountEngine := discount.NewEngine(orderRepo, discountRepo,
		discount.WithSingleUsePerOrder(cfg.Discount.SingleUsePerOrder),
		discount.WithMetrics(metrics),
	)
	gateway := wompi.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.PrivateKey,
		wompi.WithTracerProvider(m.TracerProvider()),
	)
	paymentService := payment.NewService(orderRepo, gateway, paymentOpts...)
	verifier := payment.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)
	reconciler := payment.NewReconciler(orderRepo, cfg.AutoAdvance)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	if cfg.Discount.ReconcileInterval > 0 {
		go runDiscountReconciler(ctx, lg, discountEngine, cfg.Discount)
	}

	// HTTP handlers.
	h := handler.NewHandler(
		handler.Config{Metrics: metrics},
		orderService,
		discountEngine,
		paymentService,
		verifier,
		reconciler,
	)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	// Mux: health endpoints + API routes on one server. The write timeout
	// leaves room for a full gateway call.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", handler.NewRouter(h, securityHandler))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Gateway.Timeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.Instrument("pyro-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// pendingReconciler settles discount applications left pending by a crash.
type pendingReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Duration) (discount.ReconcileReport, error)
}

func runDiscountReconciler(ctx context.Context, lg *zap.Logger, r pendingReconciler, cfg DiscountConfig) {
	ticker := time.NewTicker(cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		report, err := r.ReconcilePending(ctx, cfg.ReconcileAge)
		if err != nil {
			if ctx.Err() == nil {
				lg.Error("Discount reconciliation failed", zap.Error(err))
			}
			continue
		}
		if report != (discount.ReconcileReport{}) {
			lg.Info("Discount applications reconciled",
				zap.Int("completed", report.Completed),
				zap.Int("aborted", report.Aborted),
				zap.Int("compensated", report.Compensated),
				zap.Int("failed", report.Failed),
			)
		}
	}
}
