package main

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ridecore/dispatch/internal/geo"
	"github.com/ridecore/dispatch/internal/presence"
	"github.com/ridecore/dispatch/internal/realtime"
	"github.com/ridecore/dispatch/internal/rides"
	"github.com/ridecore/dispatch/pkg/config"
	"github.com/ridecore/dispatch/pkg/database"
	"github.com/ridecore/dispatch/pkg/eventbus"
	"github.com/ridecore/dispatch/pkg/redis"
	ws "github.com/ridecore/dispatch/pkg/websocket"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load("realtime")
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

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

	hub := ws.NewHub()
	go hub.Run()
	logger.Info("websocket hub started")

	geoIndex := geo.NewIndex()
	presenceCacheTTL := time.Duration(cfg.Dispatch.DriverPresenceTTLSec) * time.Second
	presenceService := presence.NewService(presence.NewRepository(pool), presence.NewCache(redisClient, presenceCacheTTL), geoIndex, logger)
	ridesService := rides.NewService(rides.NewRepository(pool), redisClient, bus, logger)
	ridesService.SetPresence(presenceService)
	presenceService.SetActiveRideLister(ridesService)

	realtimeService, err := realtime.NewService(hub, bus, presenceService, ridesService, ridesService, logger)
	if err != nil {
		logger.Fatal("failed to start realtime service", zap.Error(err))
	}
	handler := realtime.NewHandler(realtimeService, hub, logger)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.RegisterRoutes(router, cfg.JWT.Secret)

	addr := ":" + cfg.Server.Port
	logger.Info("realtime gateway starting", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("realtime gateway stopped", zap.Error(err))
	}
}
