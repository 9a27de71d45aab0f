package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lunchroulette/server/config"
	"github.com/lunchroulette/server/internal/api"
	"github.com/lunchroulette/server/internal/handler"
	"github.com/lunchroulette/server/internal/pkg/kafka"
	"github.com/lunchroulette/server/internal/pkg/redis"
	"github.com/lunchroulette/server/internal/repository"
	"github.com/lunchroulette/server/internal/service"
	"github.com/lunchroulette/server/internal/storage"
	"github.com/lunchroulette/server/internal/utils"
	"github.com/lunchroulette/server/internal/ws"
	logger "github.com/lunchroulette/server/middleware/log"
	"github.com/lunchroulette/server/middleware/session"
	"github.com/lunchroulette/server/utils/ratelimit"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	l, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer l.Close()

	gin.SetMode(cfg.Server.Mode)

	db, err := storage.InitPostgres(&cfg.Postgres, cfg.Server.Mode == gin.DebugMode, l)
	if err != nil {
		l.Fatal("failed to init postgres", zap.Error(err))
	}

	rdb, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		l.Fatal("failed to init redis", zap.Error(err))
	}
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Kafka is optional; without it events are dropped.
	var events service.EventPublisher = service.NopPublisher()
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka, l.Logger)
		if err != nil {
			l.Warn("kafka unavailable, group events disabled", zap.Error(err))
		} else {
			defer producer.Close()
			events = producer
		}
	}

	hub := ws.NewHub(rdb, l)
	if err := hub.Start(ctx); err != nil {
		l.Fatal("failed to start live feed hub", zap.Error(err))
	}

	userRepo := repository.NewUserRepository(db, rdb.GetClient())
	groupRepo := repository.NewGroupRepository(db)
	memberRepo := repository.NewMembershipRepository(db)
	venueRepo := repository.NewVenueRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	loc := cfg.Location()
	authService := service.NewAuthService(userRepo, session.NewAuthenticator(cfg.Session.Secret, cfg.Session.TTL, rdb), l)
	groupService := service.NewGroupService(groupRepo, memberRepo, venueRepo, messageRepo, events, loc, l)
	membershipService := service.NewMembershipService(memberRepo, events, loc, l)
	messageService := service.NewMessageService(messageRepo, groupRepo, userRepo, hub, events, l)

	pool := utils.NewWorkerPool(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, l.Logger)
	pool.Start()

	limiter := ratelimit.NewFixedWindowLimiter(rdb.GetClient(), l.Logger, cfg.RateLimit.FailOpen)
	middleware := api.NewMiddlewareManager(authService, limiter, &cfg.RateLimit, &cfg.Server, cfg.Session.CookieName, pool, l)

	router := api.NewRouter(middleware, api.Handlers{
		Auth:    handler.NewAuthHandler(authService, cfg.Session, l),
		Group:   handler.NewGroupHandler(groupService, membershipService, l),
		Message: handler.NewMessageHandler(messageService, l),
		Live:    ws.NewHandler(hub, groupService, cfg.Server.AllowsOrigin, l),
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		l.Info("server listening", zap.Int("port", cfg.Server.Port), zap.String("timezone", loc.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	l.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("graceful shutdown failed", zap.Error(err))
	}
	pool.Stop()
}
