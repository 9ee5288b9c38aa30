package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"playmate-chat/config"
	"playmate-chat/logger"
	"playmate-chat/models"
	"playmate-chat/routes"
	"playmate-chat/services"
	"playmate-chat/ws"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	zl, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	db, err := config.InitDB(cfg.Database, zl)
	if err != nil {
		return fmt.Errorf("init db: %w", err)
	}
	if err := models.Migrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := ws.NewHub(nil, cfg.Realtime, zl.Named("ws"))
	chat := services.NewChatService(db, hub, services.NewUserProfiles(db), zl.Named("chat"))
	hub.SetBackend(chat)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	r := routes.RegisterRoutes(routes.Deps{
		Config: cfg,
		Chat:   chat,
		Hub:    hub,
		Tokens: services.NewTokenVerifier(cfg.Auth.JWTSecret),
		Log:    zl.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		zl.Info("listening", zap.String("addr", srv.Addr), zap.String("db_driver", cfg.Database.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by Shutdown; stopping
	// the hub closes them
	stopHub()
	return srv.Shutdown(shutdownCtx)
}
