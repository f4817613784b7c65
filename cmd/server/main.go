package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/logging"
	"chatrelay-backend/internal/repository"
	"chatrelay-backend/internal/router"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Configuration ────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("✗ Configuration invalid: %v", err)
	}

	// ──── Step 2: Configure Logging ────
	logCloser := logging.Setup(cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()

	log.Info("🚀 Starting Chat Relay...")
	log.WithField("env", cfg.Env).Info("✓ Configuration loaded")
	if cfg.Upstream.APIKey == "" {
		log.Warn("upstream API key is not set; relay calls will fail until it is provided")
	}

	var sinks []worker.Sink

	// ──── Step 3: Initialize PostgreSQL (optional) ────
	if cfg.DatabaseURL != "" {
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("✗ PostgreSQL connection failed: %v", err)
		}
		defer pool.Close()

		if err := database.RunMigrations(pool, "migrations"); err != nil {
			log.Fatalf("✗ Database migration failed: %v", err)
		}
		sinks = append(sinks, repository.NewExchangeRepo(pool))
		log.Info("✓ PostgreSQL connected, exchanges will be stored")
	}

	// ──── Step 4: Initialize Redis (optional) ────
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("✗ Redis connection failed: %v", err)
		}
		defer redisClient.Close()

		sinks = append(sinks, services.NewEventPublisher(redisClient))
		log.Infof("✓ Redis connected, exchanges will be published on %s", services.ExchangeChannel)
	}

	// ──── Step 5: Start Exchange Recorder ────
	recorder := worker.NewPool(sinks, cfg.RecorderWorkers, cfg.RecorderQueueSize)
	recorder.Start()

	// ──── Step 6: Initialize Relay ────
	relayService := services.NewRelayService(cfg)
	chatHandler := handlers.NewChatHandler(relayService, recorder, cfg)
	log.WithFields(log.Fields{
		"model":       cfg.Upstream.Model,
		"upstream":    cfg.Upstream.BaseURL,
		"chat":        fmt.Sprintf("%s/%s", cfg.Chat.Shape, cfg.Chat.Status),
		"completions": fmt.Sprintf("%s/%s", cfg.Completions.Shape, cfg.Completions.Status),
	}).Info("✓ Relay initialized")

	// ──── Step 7: Start HTTP Server ────
	r := router.New(chatHandler, cfg.CORSAllowOrigin, cfg.MetricsEnabled)

	writeTimeout := time.Duration(cfg.Upstream.TimeoutSeconds)*time.Second + 15*time.Second
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("HTTP server shutdown incomplete")
		}
		recorder.Stop()
		if dropped := recorder.Dropped(); dropped > 0 {
			log.Warnf("%d exchange records were dropped", dropped)
		}
	}()

	log.Infof("✓ Chat Relay ready on http://localhost:%s", cfg.Port)
	log.Infof("  Chat:        POST http://localhost:%s/api/chat", cfg.Port)
	log.Infof("  Completions: POST http://localhost:%s/api/completions", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
	<-done
}
