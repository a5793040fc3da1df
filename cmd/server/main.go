package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/quizauth/internal"
	"github.com/DukeRupert/quizauth/internal/middleware"
	"github.com/DukeRupert/quizauth/internal/repository"
	"github.com/DukeRupert/quizauth/internal/router"
	"github.com/DukeRupert/quizauth/internal/service"
	"github.com/DukeRupert/quizauth/internal/session"
	"github.com/DukeRupert/quizauth/internal/token"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize credential store
	var queries repository.Querier
	switch cfg.DBDriver {
	case internal.DriverPostgres:
		db, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		if err := internal.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		queries = repository.New(db)
		logger.Info("Database ready")
	case internal.DriverMemory:
		queries = repository.NewMemoryStore()
		logger.Warn("Using in-memory user store; accounts are lost on restart")
	}

	// Token codec and cookie transport
	codec, err := token.New(cfg.TokenConfig())
	if err != nil {
		return fmt.Errorf("token codec initialization failed: %w", err)
	}
	cookies := session.New(cfg.SessionConfig())

	// Initialize services
	userService := service.NewUserService(queries, codec, logger, service.Options{
		MinPasswordLength: cfg.MinPasswordLength,
		AdminEmails:       cfg.AdminEmails,
	})

	// Rate limits: shared through Redis when configured, else per process
	limits := middleware.AuthRateLimits{
		LoginAttempts:    cfg.MaxLoginAttempts,
		LoginIPAttempts:  cfg.LoginIPAttempts,
		LoginWindow:      cfg.LockoutDuration,
		RegisterAttempts: cfg.RegisterAttempts,
		RegisterWindow:   cfg.RegisterWindow,
	}
	var limiter *middleware.AuthRateLimiter
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		limiter = middleware.NewRedisAuthRateLimiter(rdb, limits, logger)
		logger.Info("Rate limits shared via Redis", "addr", opt.Addr)
	} else {
		limiter = middleware.NewAuthRateLimiter(limits, logger)
	}
	defer limiter.Close()

	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("/metrics is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: router.New(router.Deps{
			Config:  cfg,
			Users:   userService,
			Tokens:  codec,
			Cookies: cookies,
			Limiter: limiter,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server started",
			"address", server.Addr,
			"env", cfg.Env,
			"db_driver", cfg.DBDriver,
			"token_ttl", codec.TTL().String(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case <-sigChan:
	}
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
