package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"socialchat/internal/config"
	"socialchat/internal/handlers"
	"socialchat/internal/metrics"
	"socialchat/internal/routes"
	"socialchat/internal/storage"
	"socialchat/internal/storage/memory"
	"socialchat/internal/storage/mongostore"
	"socialchat/internal/storage/redisstore"
	"socialchat/internal/websocket"
	"socialchat/pkg/database"
	"socialchat/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	// Initialize logger
	logger.Init()
	defer logger.Close()

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := make(map[string]handlers.HealthChecker)

	store, err := openStore(ctx, cfg, checks)
	if err != nil {
		logger.Fatal("Failed to open store: " + err.Error())
	}
	presence, err := openPresence(ctx, cfg, checks)
	if err != nil {
		logger.Fatal("Failed to open presence store: " + err.Error())
	}

	metrics.Init()

	// Initialize WebSocket hub
	hub := websocket.NewHub(cfg.Server.WebSocket, cfg.Server.Polling, store, presence)

	// Initialize Gin router
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	routes.SetupRoutes(router, routes.Deps{
		Config: cfg,
		Hub:    hub,
		Store:  store,
		Checks: checks,
	})

	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.HTTP.Host, cfg.App.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.HTTP.ReadTimeout,
		WriteTimeout: cfg.Server.HTTP.WriteTimeout,
		IdleTimeout:  cfg.Server.HTTP.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.WithFields(map[string]interface{}{
			"addr":        srv.Addr,
			"environment": cfg.App.Environment,
			"store":       cfg.Database.Driver,
		}).Info("Relay starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Relay stopped with error: " + err.Error())
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := presence.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close presence store")
	}
	if err := store.Close(closeCtx); err != nil {
		logger.WithError(err).Warn("Failed to close store")
	}
	logger.Info("Relay stopped")
}

func openStore(ctx context.Context, cfg *config.Config, checks map[string]handlers.HealthChecker) (storage.Store, error) {
	if cfg.Database.Driver == "memory" {
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.NewStore(), nil
	}

	db, err := database.InitMongoDB(cfg.Database.MongoDB)
	if err != nil {
		return nil, err
	}
	if err := database.CreateIndexes(ctx, db); err != nil {
		logger.WithError(err).Warn("Failed to create indexes")
	}
	checks["mongodb"] = database.Ping
	return mongostore.NewStore(db), nil
}

func openPresence(ctx context.Context, cfg *config.Config, checks map[string]handlers.HealthChecker) (storage.PresenceStore, error) {
	if !cfg.Database.Redis.Enabled {
		return memory.NewPresence(), nil
	}

	p, err := redisstore.Connect(ctx, cfg.Database.Redis)
	if err != nil {
		return nil, err
	}
	checks["redis"] = p.Ping
	return p, nil
}
