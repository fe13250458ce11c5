package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/doc-shield/lc-engine/internal/auditchain"
	"github.com/doc-shield/lc-engine/internal/cache"
	"github.com/doc-shield/lc-engine/internal/config"
	"github.com/doc-shield/lc-engine/internal/database"
	"github.com/doc-shield/lc-engine/internal/handlers"
	"github.com/doc-shield/lc-engine/internal/lccheck"
	"github.com/doc-shield/lc-engine/internal/lifecycle"
	"github.com/doc-shield/lc-engine/internal/metrics"
	"github.com/doc-shield/lc-engine/internal/scheduler"
)

const serviceName = "lc-engine"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg)
	defer logger.Sync()

	logger.Info("Starting LC compliance engine",
		zap.String("service", serviceName),
		zap.String("environment", cfg.Environment),
	)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(cfg.Database); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	store := database.NewStore(db, logger)
	collector := metrics.NewCollector()

	writer := auditchain.NewWriter(store, cfg.Checking.ChainMaxAttempts, logger)
	verifier := auditchain.NewVerifier(store, logger)
	aggregator := lccheck.NewAggregator(cfg.Checking.NumericTolerance, logger)
	manager := lifecycle.NewManager(store, aggregator, writer, verifier,
		cfg.Checking.MaxFreeRechecks, cfg.Checking.ChainMaxAttempts, logger)

	cacheClient := cache.New(cfg.Redis, logger)
	defer cacheClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweeper := scheduler.NewSweeper(cfg.Scheduler, store, verifier, collector, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("Failed to start integrity sweep", zap.Error(err))
	}
	defer sweeper.Stop()

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	handler := handlers.New(manager, writer, verifier, cacheClient, collector, logger)
	handler.RegisterRoutes(router)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Forced shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

func setupLogging(cfg config.Config) *zap.Logger {
	var logger *zap.Logger
	var err error
	if cfg.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
