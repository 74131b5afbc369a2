// cmd/library/main.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"nubia/internal/api"
	"nubia/internal/config"
	"nubia/internal/consumer"
	"nubia/internal/projection"
	"nubia/internal/router"
	"nubia/internal/storage/memory"
	"nubia/internal/storage/postgres"
	"nubia/internal/telemetry"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "nubia-library", cfg.OTELEndpoint)
	if err != nil {
		logger.Fatal("setup telemetry", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	var store projection.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("open database", zap.Error(err))
		}
		defer db.Close()

		pg := postgres.New(db)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("migrate schema", zap.Error(err))
		}
		store = pg
	} else {
		logger.Warn("DATABASE_URL not set, projection state is in-memory only")
		store = memory.New()
	}

	svc := projection.NewService(store, logger)
	rt := router.New(svc, logger)

	source := make(consumer.ChanSource, cfg.QueueSize)
	cons, err := consumer.New(source, rt, logger, consumer.Config{
		Workers:         cfg.Workers,
		EventsPerSecond: cfg.EventsPerSecond,
	})
	if err != nil {
		logger.Fatal("create consumer", zap.Error(err))
	}

	go func() {
		if err := cons.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped", zap.Error(err))
		}
	}()

	handler := api.New(svc, rt, source, logger)
	server := &http.Server{Addr: ":" + cfg.Port, Handler: handler.Routes()}

	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	logger.Info("library projection listening", zap.String("port", cfg.Port))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}
