package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/signet-labs/approvald/internal/auth"
	"github.com/signet-labs/approvald/internal/chain"
	"github.com/signet-labs/approvald/internal/config"
	"github.com/signet-labs/approvald/internal/notify"
	"github.com/signet-labs/approvald/internal/registry"
	"github.com/signet-labs/approvald/internal/server"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Chain client ──────────────────────────────────────────────────────────
	onchain, err := chain.NewClient(cfg.Chain.RPCURL, cfg.Chain.ChainID, log)
	if err != nil {
		log.Fatal("chain client init failed", zap.Error(err))
	}

	// ── Flow manager ──────────────────────────────────────────────────────────
	notifier := notify.NewClient(log)
	idleTimeout := time.Duration(cfg.Approval.IdleTimeoutMs) * time.Millisecond
	mgr := server.NewManager(ctx, onchain, rdb, notifier, cfg.Keystore.Dir, idleTimeout, log)
	defer mgr.Shutdown()

	// ── Registry janitor ──────────────────────────────────────────────────────
	go registry.RunJanitor(ctx, rdb,
		time.Duration(cfg.Approval.JanitorIntervalSec)*time.Second,
		time.Duration(cfg.Approval.RetentionSec)*time.Second,
		log,
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	api := r.Group("/api", auth.Middleware(rdb))
	server.NewHandler(mgr, log).Register(api)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
