package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"booktrak/internal/ratelimit"
	"booktrak/internal/util"
	"booktrak/services/bookstore/internal/app"
	"booktrak/services/bookstore/internal/config"
	"booktrak/services/bookstore/internal/security"
	"booktrak/services/bookstore/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(config.ResolvePath())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	tokenTTL, err := config.ParseTokenTTL(cfg.TokenTTL)
	if err != nil {
		log.Fatalf("failed to parse token TTL: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.RedisPassword})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn("redis not configured; tokens are process-local and rate limiting is disabled")
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Redis:       redisClient,
		JWTSecret:   cfg.JWTSecret,
		TokenTTL:    tokenTTL,
		LoanPeriod:  cfg.LoanPeriod(),
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	registrationLimiter := newLimiter(redisClient, "booktrak:ratelimit:registration", *cfg.RegistrationRateLimitPerMinute)
	loginLimiter := newLimiter(redisClient, "booktrak:ratelimit:login", *cfg.LoginRateLimitPerMinute)

	httpServer := server.New(server.Config{
		App:                 appCore,
		RegistrationLimiter: registrationLimiter,
		LoginLimiter:        loginLimiter,
		Alerter:             security.NewAuditAlerter(redisClient, ""),
		TrustedProxies:      trustedProxies,
		CORSAllowedOrigins:  cfg.CORSAllowedOrigins,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
		}
		return
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

// newLimiter returns nil (no limiting) without Redis or for a zero limit.
func newLimiter(client *redis.Client, prefix string, perMinute int) *ratelimit.FixedWindowLimiter {
	if client == nil || perMinute <= 0 {
		return nil
	}
	limiter, err := ratelimit.NewFixedWindowLimiter(client, prefix, perMinute, time.Minute)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}
	return limiter
}
