package app

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/spin-rewards/internal/domain/reward"
	"github.com/xenking/spin-rewards/internal/domain/user"
	"github.com/xenking/spin-rewards/internal/handler"
	"github.com/xenking/spin-rewards/internal/notify"
	"github.com/xenking/spin-rewards/internal/storage/postgres"
	"github.com/xenking/spin-rewards/pkg/health"
	"github.com/xenking/spin-rewards/pkg/httpmiddleware"
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

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second), health.WithThresholds(5, 1))

	var limiter httpmiddleware.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))
		limiter = httpmiddleware.NewRedisLimiter(rdb, "spin:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
		lg.Info("Using shared rate limiter", zap.String("redis", cfg.Redis.Addr))
	}

	// Repositories.
	codeRepo := postgres.NewCodeRepository(pool)
	businessRepo := postgres.NewBusinessRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	notificationRepo := postgres.NewNotificationRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Notifications.
	channels, closers, err := notificationChannels(lg, cfg.Notify, notificationRepo)
	if err != nil {
		return errors.Wrap(err, "create notification channels")
	}
	dispatcher := notify.NewDispatcher(cfg.Notify.dispatcher(), userRepo, channels...)

	// Domain services.
	defaults, err := cfg.DefaultRewards()
	if err != nil {
		return err
	}
	selector, err := reward.NewSelector(defaults)
	if err != nil {
		return errors.Wrap(err, "create reward selector")
	}
	store := reward.NewStore(codeRepo, reward.NewCodeGenerator(cfg.Spin.CodePrefix))
	rewardSvc, err := reward.NewService(
		reward.Config{CodeTTL: cfg.Spin.CodeTTL, Currency: cfg.Spin.Currency},
		businessRepo,
		reward.NewEligibilityChecker(store, cfg.Spin.Cooldown),
		selector,
		store,
		reward.NewValidator(store),
		dispatcher,
		m.MeterProvider().Meter("github.com/xenking/spin-rewards/internal/domain/reward"),
	)
	if err != nil {
		return errors.Wrap(err, "create reward service")
	}
	userSvc := user.NewService(userRepo)

	// HTTP handlers.
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))
	h := handler.NewHandler(rewardSvc, userSvc, securityHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	for _, route := range h.Routes() {
		mux.Handle(route.Pattern, otelhttp.NewHandler(route.Handler, route.Operation,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		))
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.LogRequests(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
				ExposeHeaders:    []string{"X-Request-ID", "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			rateLimit(ctx, cfg.RateLimit, limiter),
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
		// Requests are drained, so no new events arrive.
		if err := dispatcher.Close(shutdownCtx); err != nil {
			lg.Error("Notifications not flushed", zap.Error(err))
		}
		for _, c := range closers {
			if err := c.Close(); err != nil {
				lg.Error("Close notification channel", zap.Error(err))
			}
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

// rateLimit uses the shared limiter when Redis is configured and an
// in-process one otherwise.
func rateLimit(ctx context.Context, cfg RateLimitConfig, limiter httpmiddleware.Limiter) httpmiddleware.Middleware {
	rl := httpmiddleware.RateLimitConfig{Max: cfg.Max, Window: cfg.Window}
	if limiter == nil {
		return httpmiddleware.RateLimitWithCleanup(ctx, rl)
	}
	rl.Limiter = limiter
	return httpmiddleware.RateLimit(rl)
}

// notificationChannels builds every configured channel. The in-app inbox is
// always on. Returned closers must be closed after the dispatcher.
func notificationChannels(lg *zap.Logger, cfg NotifyConfig, inbox notify.InboxStore) ([]notify.Channel, []io.Closer, error) {
	channels := []notify.Channel{notify.NewInboxChannel(inbox)}
	var closers []io.Closer

	if cfg.Expo.Enabled {
		channels = append(channels, notify.NewExpoChannel(notify.ExpoConfig{
			URL:         cfg.Expo.URL,
			AccessToken: cfg.Expo.AccessToken,
		}, nil))
	}
	if email := cfg.Email.notify(); email.Enabled() {
		ch, err := notify.NewEmailChannel(email)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, ch)
	}
	if sms := cfg.SMS.notify(); sms.Enabled() {
		ch, err := notify.NewSMSChannel(sms)
		if err != nil {
			return nil, nil, err
		}
		channels = append(channels, ch)
	}
	if events := cfg.Kafka.notify(); events.Enabled() {
		ch := notify.NewEventChannel(events)
		channels = append(channels, ch)
		closers = append(closers, ch)
	}

	names := make([]string, len(channels))
	for i, ch := range channels {
		names[i] = ch.Name()
	}
	lg.Info("Notification channels", zap.Strings("channels", names))
	return channels, closers, nil
}
