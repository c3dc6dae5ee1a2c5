package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/timeout"
	"github.com/gin-gonic/gin"
	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	stripe "github.com/stripe/stripe-go/v83"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/internal/arbiter"
	"github.com/ridecore/dispatch/internal/dispatch"
	"github.com/ridecore/dispatch/internal/earnings"
	"github.com/ridecore/dispatch/internal/geo"
	"github.com/ridecore/dispatch/internal/notifier"
	"github.com/ridecore/dispatch/internal/payments"
	"github.com/ridecore/dispatch/internal/presence"
	"github.com/ridecore/dispatch/internal/rides"
	"github.com/ridecore/dispatch/internal/scheduler"
	"github.com/ridecore/dispatch/pkg/config"
	"github.com/ridecore/dispatch/pkg/database"
	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/health"
	"github.com/ridecore/dispatch/pkg/redis"
	"github.com/ridecore/dispatch/pkg/secrets"
	"github.com/ridecore/dispatch/pkg/tracing"
)

// main wires the dispatch core (spec §2): the ride state machine,
// matching pipeline, acceptance arbiter, auto-cancel sweeper, and
// earnings finalizer into one deployable. The connection-facing realtime
// gateway (cmd/realtime) is a separate process sharing only Postgres,
// Redis, and the NATS event bus (spec §2's deployment split).
func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("dispatch")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	if err := loadSecretOverrides(cfg, logger); err != nil {
		logger.Fatal("failed to load secrets", zap.Error(err))
	}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Server.Environment,
			TracesSampleRate: 0.2,
		}); err != nil {
			logger.Warn("sentry init failed, continuing without error reporting", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	tracerProvider, err := tracing.Init(cfg.Server.ServiceName, cfg.Server.Environment)
	if err != nil {
		logger.Fatal("failed to init tracer provider", zap.Error(err))
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}()

	pool, err := database.NewPostgresPool(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close(pool)
	logger.Info("connected to postgres")

	redisClient, err := redis.NewRedisClientWithTimeouts(&cfg.Redis, cfg.Timeouts)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	bus, err := eventbus.NewBus(cfg.NATS.URL, cfg.NATS.InstanceID, logger)
	if err != nil {
		logger.Fatal("failed to connect to nats", zap.Error(err))
	}
	defer bus.Close()
	logger.Info("connected to event bus", zap.String("instanceId", bus.InstanceID()))

	// Presence registry: durable record + hot cache + in-memory proximity
	// index, shared by the Matcher and the connection layer alike.
	geoIndex := geo.NewIndex()
	presenceCacheTTL := time.Duration(cfg.Dispatch.DriverPresenceTTLSec) * time.Second
	presenceService := presence.NewService(presence.NewRepository(pool), presence.NewCache(redisClient, presenceCacheTTL), geoIndex, logger)

	// Ride state machine.
	ridesService := rides.NewService(rides.NewRepository(pool), redisClient, bus, logger)
	ridesService.SetPresence(presenceService)
	presenceService.SetActiveRideLister(ridesService)

	// Rider-facing SMS fallback, wired only when Twilio credentials are
	// configured; every caller treats it as optional (spec §4.5 step 3,
	// §4.1 step 4 describe it as a best-effort second channel).
	var riderNotifier *notifier.Service
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		twilioNotifier := notifier.NewTwilioNotifier(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber, logger)
		riderNotifier = notifier.NewService(twilioNotifier, logger)
	} else {
		logger.Warn("twilio credentials not configured, SMS fallback channel disabled")
	}

	// Dispatch Pipeline + worker pool.
	dispatchNotifier := dispatch.NewEventBusNotifier(bus)
	pipeline := dispatch.NewPipeline(ridesService, presenceService, dispatchNotifier, redisClient, bus, dispatch.Config{
		RadiiKM:       cfg.Dispatch.RadiiKM,
		RetryRadiiKM:  cfg.Dispatch.RetryRadiiKM,
		MaxCandidates: cfg.Dispatch.MaxCandidates,
	}, logger)
	if riderNotifier != nil {
		pipeline.SetRiderNotifier(riderNotifier)
	}
	queue := dispatch.NewQueue(pipeline, redisClient, 5, logger)

	queueCtx, cancelQueue := context.WithCancel(context.Background())
	queue.Start(queueCtx)
	defer cancelQueue()
	defer queue.Stop()

	// Acceptance Arbiter.
	arbiterNotifier := arbiter.NewEventBusNotifier(bus)
	rideArbiter := arbiter.NewArbiter(ridesService, redisClient, arbiterNotifier, bus, logger)

	// Auto-Cancel Sweeper.
	sweeper := scheduler.NewSweeper(ridesService, scheduler.Config{
		TimeoutMinutes:       cfg.Dispatch.AutoCancelTimeoutMinutes,
		CheckIntervalMinutes: cfg.Dispatch.AutoCancelCheckIntervalMinutes,
	}, logger)
	if riderNotifier != nil {
		sweeper.SetRiderNotifier(riderNotifier)
	}
	sweeperCtx, cancelSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweeperCtx)
	defer cancelSweeper()

	// Payments: wallet ledger + Stripe Gateway adapter.
	if cfg.Stripe.APIKey != "" {
		stripe.Key = cfg.Stripe.APIKey
	} else {
		logger.Warn("stripe api key not configured, gateway-method payments will fail closed")
	}
	paymentsRepo := payments.NewRepository(pool)
	stripeGateway := payments.NewStripeGateway(logger)
	paymentsService := payments.NewService(paymentsRepo, stripeGateway, logger)
	paymentsService.SetRideGateway(ridesService)

	// Earnings Finalizer, subscribed onto rideCompleted.
	earningsRepo := earnings.NewRepository(pool)
	earningsNotifier := earnings.NewEventBusNotifier(bus)
	if _, err := earnings.NewService(ridesService, paymentsService, paymentsService, earningsRepo, earningsRepo, earningsNotifier, bus, logger); err != nil {
		logger.Fatal("failed to start earnings finalizer", zap.Error(err))
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Sentry.DSN != "" {
		router.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	// Every request gets a hard wall-clock budget so a stalled downstream
	// (Postgres, Redis, the Gateway) degrades into a 503 instead of an
	// indefinitely hung connection.
	router.Use(timeout.New(
		timeout.WithTimeout(10*time.Second),
		timeout.WithHandler(func(c *gin.Context) { c.Next() }),
		timeout.WithResponse(func(c *gin.Context) {
			c.JSON(503, gin.H{"status": "unavailable", "error": "request timed out"})
		}),
	))

	// /healthz aggregates Postgres and Redis reachability, cached briefly
	// so a liveness-probe storm doesn't turn into a ping storm on either
	// dependency.
	healthChecker := health.NewCachedChecker(health.CompositeChecker("dispatch", map[string]health.Checker{
		"postgres": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		},
		"redis": health.RedisChecker(redisClient.Client),
	}), 5*time.Second)
	router.GET("/healthz", func(c *gin.Context) {
		if err := healthChecker.Check(); err != nil {
			c.JSON(503, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.Status(200)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ridesHandler := rides.NewHandler(ridesService, queue)
	ridesHandler.RegisterRoutes(router, cfg.JWT.Secret)

	dispatchHandler := dispatch.NewHandler(ridesService, pipeline, logger)
	dispatchHandler.RegisterRoutes(router, cfg.JWT.Secret)

	arbiterHandler := arbiter.NewHandler(rideArbiter)
	arbiterHandler.RegisterRoutes(router, cfg.JWT.Secret)

	paymentsHandler := payments.NewHandler(paymentsService, cfg.Stripe.WebhookSecret, logger)
	paymentsHandler.RegisterRoutes(router)

	srvCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Server.Port
	logger.Info("dispatch core starting", zap.String("addr", addr))
	go func() {
		if err := router.Run(addr); err != nil {
			logger.Fatal("dispatch core stopped", zap.Error(err))
		}
	}()

	<-srvCtx.Done()
	logger.Info("dispatch core shutting down")
}

// loadSecretOverrides fetches the Stripe API key, Twilio auth token, and JWT
// signing key from the configured secret provider, overriding whatever plain
// environment variables config.Load already populated. A no-op when
// SECRETS_PROVIDER is unset, so a plain-env deployment keeps working.
func loadSecretOverrides(cfg *config.Config, logger *zap.Logger) error {
	if cfg.Secrets.Provider == "" {
		return nil
	}

	mgr, err := secrets.NewManager(secrets.Config{
		Provider: secrets.ProviderType(cfg.Secrets.Provider),
		CacheTTL: time.Duration(cfg.Secrets.CacheTTLSec) * time.Second,
		Vault: secrets.VaultConfig{
			Address:   cfg.Secrets.VaultAddress,
			Token:     cfg.Secrets.VaultToken,
			MountPath: cfg.Secrets.VaultMount,
		},
	})
	if err != nil {
		return err
	}
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fetch := func(name string, secretType secrets.SecretType, raw string) (string, bool) {
		ref, err := secrets.ParseReference(name, secretType, raw)
		if err != nil {
			logger.Warn("invalid secret reference, skipping override", zap.String("name", name), zap.Error(err))
			return "", false
		}
		val, err := mgr.GetString(ctx, ref)
		if err != nil {
			logger.Warn("secret fetch failed, falling back to env value", zap.String("name", name), zap.Error(err))
			return "", false
		}
		return val, true
	}

	if v, ok := fetch("stripe", secrets.SecretStripe, cfg.Secrets.StripeRef); ok {
		cfg.Stripe.APIKey = v
	}
	if v, ok := fetch("twilio", secrets.SecretTwilio, cfg.Secrets.TwilioRef); ok {
		cfg.Twilio.AuthToken = v
	}
	if v, ok := fetch("jwt", secrets.SecretJWTKeys, cfg.Secrets.JWTSigningRef); ok {
		cfg.JWT.Secret = v
	}

	return nil
}
