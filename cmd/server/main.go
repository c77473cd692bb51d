package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/cache"
	"github.com/taskboard/taskchat/internal/chat"
	"github.com/taskboard/taskchat/internal/config"
	"github.com/taskboard/taskchat/internal/events"
	"github.com/taskboard/taskchat/internal/httpapi"
	"github.com/taskboard/taskchat/internal/observability"
	"github.com/taskboard/taskchat/internal/repository"
	"github.com/taskboard/taskchat/internal/repository/memory"
	"github.com/taskboard/taskchat/internal/repository/postgres"
	"github.com/taskboard/taskchat/internal/router"
	"github.com/taskboard/taskchat/internal/server"
	"github.com/taskboard/taskchat/internal/websocket"
)

func main() {
	cfg := config.Load()

	// Observability
	observability.InitLogger(cfg.ServiceName)
	log := observability.Log

	if cfg.TracingEnabled {
		tp, err := observability.InitTracer(cfg.ServiceName, cfg.JaegerURL)
		if err != nil {
			log.Fatal("failed to initialize tracer", zap.Error(err))
		}
		defer tp.Shutdown(context.Background())
	}

	ctx, cancel := setupSignalHandler(log)
	defer cancel()

	instanceID := getOrGenerateInstanceID(cfg.InstanceID)
	ready := []observability.Pinger{}

	repo, closeRepo := initRepository(ctx, cfg, log)
	defer closeRepo()
	ready = append(ready, repo)

	rooms := websocket.NewRooms()
	deps := chat.Deps{Rooms: rooms, Log: log}

	var rtr *router.Router
	if cfg.RedisAddr != "" {
		redisClient := initRedis(ctx, cfg.RedisAddr, log)
		defer redisClient.Close()
		history := cache.New(redisClient, cfg.CacheTTL)
		rtr = router.New(redisClient, instanceID)
		deps.Cache = history
		deps.Peers = rtr
		ready = append(ready, history)
	} else {
		log.Info("redis not configured, running single instance without history cache")
	}

	publisher := initKafka(cfg, log)
	defer publisher.Close()
	deps.Events = publisher
	if p, ok := publisher.(observability.Pinger); ok {
		ready = append(ready, p)
	}

	svc := chat.New(repo, deps)
	if rtr != nil {
		rtr.Subscribe(ctx, svc.DeliverRemote)
	}

	uploads, err := httpapi.NewUploadHandler(cfg.UploadDir, cfg.PublicURL)
	if err != nil {
		log.Fatal("failed to prepare upload directory", zap.Error(err))
	}
	wsHandler := websocket.NewHandler(rooms, svc, cfg.SocketSendRate, cfg.SocketSendBurst)

	// Servers
	obsSrv := initObservabilityServer(cfg, ready)
	mainSrv := server.New(cfg.HTTPPort, httpapi.NewRouter(httpapi.RouterConfig{
		ServiceName:       cfg.ServiceName,
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, httpapi.NewMessageHandler(svc), uploads, wsHandler), log)

	startServers(cfg, obsSrv, mainSrv, log)

	<-ctx.Done()
	performGracefulShutdown(obsSrv, mainSrv, rooms, log)
}

func setupSignalHandler(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, initiating shutdown", zap.String("signal", sig.String()))
		cancel()
	}()
	return ctx, cancel
}

func getOrGenerateInstanceID(id string) string {
	if id == "" {
		return uuid.NewString()
	}
	return id
}

func initRepository(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Repository, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, messages are kept in memory only")
		return memory.New(), func() {}
	}
	repo, err := postgres.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	if err := repo.Migrate(ctx); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Error("failed to close database", zap.Error(err))
		}
	}
}

func initRedis(ctx context.Context, addr string, log *zap.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	return client
}

func initKafka(cfg *config.Config, log *zap.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info("kafka not configured, message events disabled")
		return events.Nop{}
	}
	producer, err := events.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		log.Fatal("failed to create kafka producer", zap.Error(err))
	}
	return producer
}

func initObservabilityServer(cfg *config.Config, deps []observability.Pinger) *http.Server {
	mux := chi.NewRouter()
	mux.Use(observability.MetricsMiddleware(cfg.ServiceName))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Get("/health/live", observability.HealthLiveHandler)
	mux.Get("/health/ready", observability.HealthReadyHandler(deps...))
	return &http.Server{Addr: cfg.ObsHTTPAddr, Handler: mux}
}

func startServers(cfg *config.Config, obsSrv *http.Server, mainSrv *server.Server, log *zap.Logger) {
	go func() {
		log.Info("starting observability server", zap.String("addr", cfg.ObsHTTPAddr))
		if err := obsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("observability server error", zap.Error(err))
		}
	}()
	go func() {
		if err := mainSrv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error", zap.Error(err))
		}
	}()
}

func performGracefulShutdown(obs *http.Server, mainSrv *server.Server, rooms *websocket.Rooms, log *zap.Logger) {
	log.Info("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rooms.CloseAll()
	if err := mainSrv.Shutdown(ctx); err != nil {
		log.Error("error during main server shutdown", zap.Error(err))
	}
	if err := obs.Shutdown(ctx); err != nil {
		log.Error("error during observability server shutdown", zap.Error(err))
	}
	log.Info("shutdown complete, exiting")
}
