package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"nexuschat/internal/metrics"
	"nexuschat/internal/ratelimit"
	"nexuschat/internal/usertoken"
	"nexuschat/internal/util"
	"nexuschat/services/chat/internal/app"
	"nexuschat/services/chat/internal/config"
	"nexuschat/services/chat/internal/realtime"
	"nexuschat/services/chat/internal/server"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	var revoker usertoken.Revoker = usertoken.NewMemoryRevoker()
	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RedisAddr != "" {
		redisRevoker := usertoken.NewRedisRevoker(cfg.RedisAddr, cfg.RedisPassword)
		defer redisRevoker.Close()
		revoker = redisRevoker
		if cfg.RateLimitPerMinute > 0 {
			limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "nexus:ratelimit:chat", cfg.RateLimitPerMinute, time.Minute)
			if err != nil {
				util.Fatal("failed to init rate limiter", "err", err)
			}
			defer limiter.Close()
		}
	} else {
		logger.Warn("redisAddr not set; token revocation is process-local and rate limiting is disabled")
	}

	tokens, err := usertoken.NewVerifier(usertoken.Config{
		Secret:   cfg.SecretKey,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   cfg.Leeway,
		TTL:      cfg.TokenTTL(),
		Revoker:  revoker,
	})
	if err != nil {
		util.Fatal("failed to init token verifier", "err", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy cidrs", "err", err)
	}

	m := metrics.New()
	appCore, err := app.New(app.Config{
		DatabaseDriver: cfg.DatabaseDriver,
		DatabaseURL:    cfg.DatabaseURL,
		Tokens:         tokens,
		Hub:            realtime.HubOptions{MaxMessagesPerSecond: cfg.MaxMessagesPerSecond},
		Logger:         logger,
		Metrics:        m,
	})
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	if cfg.SocketAuth == config.SocketAuthOff {
		logger.Warn("socket authentication disabled; any client can connect as any user id")
	}
	httpServer := server.New(server.Config{
		App:            appCore,
		Metrics:        m,
		Limiter:        limiter,
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
		CookieName:     cfg.AuthCookieName,
		SocketAuth:     cfg.SocketAuth,
		Socket: realtime.SocketOptions{
			IdleTimeout:  cfg.Idle,
			PingInterval: cfg.PingEvery,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Socket sessions end when the root context is cancelled.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chat server listening", "addr", addr, "driver", cfg.DatabaseDriver, "socket_auth", cfg.SocketAuth)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("chat server stopped")
}
