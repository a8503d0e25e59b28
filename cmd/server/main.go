package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"quiz-session-backend/internal/config"
	"quiz-session-backend/internal/database"
	"quiz-session-backend/internal/handlers"
	"quiz-session-backend/internal/logging"
	"quiz-session-backend/internal/metrics"
	"quiz-session-backend/internal/repository"
	"quiz-session-backend/internal/services"
	"quiz-session-backend/internal/ws"

	_ "quiz-session-backend/docs"
)

// @title           Quiz Session API
// @version         1.0
// @description     Live multiplayer quiz sessions: hosts drive questions, participants answer in real time.
// @host            localhost:8080
// @BasePath        /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Enter "Bearer {token}"

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	m := metrics.New()
	store := repository.NewSessionStore(db)
	hub := ws.NewHub(cfg.Runtime.HubBufferSize, m, logger)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Valkey.Enabled() {
		client, err := ws.NewValkeyClient(cfg.Valkey)
		if err != nil {
			return fmt.Errorf("valkey: %w", err)
		}
		defer client.Close()
		relay := ws.NewValkeyRelay(client, cfg.Valkey.ChannelPrefix, logger)
		hub.SetRelay(relay)
		g.Go(func() error { return relay.Run(gctx, hub) })
		logger.Info("valkey_relay_enabled", "addr", cfg.Valkey.Addr)
	}

	store.OnChange(services.RelayChanges(hub, logger))

	sessionService := services.NewSessionService(store, hub, services.NewScoringService(), m, logger, services.SessionOptions{
		MaxRetries:        cfg.Runtime.AdvanceMaxRetries,
		TimeLeftTolerance: cfg.Runtime.TimeLeftTolerance,
	})
	defer sessionService.Shutdown()

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.Deps{
		Auth:     services.NewAuthService(db, cfg.JWTSecret),
		Games:    services.NewGameService(db),
		Sessions: sessionService,
		Hub:      hub,
		Metrics:  m,
		Logger:   logger,
		Server:   cfg.Server,
		Runtime:  cfg.Runtime,
		Health:   sqlDB.PingContext,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logging.StdLogger(logger, slog.LevelWarn),
	}

	g.Go(func() error {
		logger.Info("server_starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server_stopping")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server_stopped")
	return nil
}
