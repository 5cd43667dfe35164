package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/park285/cooldown-chess/internal/archive"
	appcfg "github.com/park285/cooldown-chess/internal/config"
	"github.com/park285/cooldown-chess/internal/chat"
	"github.com/park285/cooldown-chess/internal/httpapi"
	"github.com/park285/cooldown-chess/internal/msgcat"
	"github.com/park285/cooldown-chess/internal/obslog"
	"github.com/park285/cooldown-chess/internal/room"
	"github.com/park285/cooldown-chess/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}
	if !cfg.Dev() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	rdb, err := store.Dial(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		logger.Fatal("redis_connect_error", zap.Error(err))
	}
	defer rdb.Close()
	st := store.New(rdb, store.WithMaxRetries(cfg.MaxUpdateRetries))

	rooms := room.NewManager(st)
	if cfg.DatabaseURL != "" {
		repo, err := archive.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("archive_init_error", zap.Error(err))
		}
		defer repo.Close()
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = repo.EnsureSchema(sctx)
		scancel()
		if err != nil {
			logger.Fatal("archive_schema_error", zap.Error(err))
		}
		rooms.AttachResultSink(repo)
		logger.Info("archive_enabled")
	}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_error", zap.Error(err))
	}

	router, stopMW := httpapi.NewRouter(httpapi.Deps{
		Rooms:        rooms,
		Chat:         chat.NewService(st, rooms.Exists, chat.WithLimit(cfg.ChatHistoryLimit)),
		Messages:     msgs,
		Events:       st,
		PollInterval: cfg.PollInterval,
		Dev:          cfg.Dev(),
		RateLimit:    rate.Limit(cfg.RateLimitRPS),
		Burst:        cfg.RateLimitBurst,
	})
	defer stopMW()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http_serve_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("http_shutdown")
	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_error", zap.Error(err))
	}
}
