// Package main runs the taskforge coordinator: the HTTP API, the dispatcher,
// the liveness monitor and the recurring scheduler in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"taskforge/pkg/api"
	"taskforge/pkg/broker"
	"taskforge/pkg/config"
	"taskforge/pkg/core"
	"taskforge/pkg/engine"
	"taskforge/pkg/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("coordinator exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		return err
	}
	store, err := storage.NewGormStoreWithPool(db,
		storage.MaxOpenConns(cfg.DBMaxOpenConns),
		storage.MaxIdleConns(cfg.DBMaxIdleConns),
		storage.ConnMaxLifetime(cfg.DBConnMaxLifetime),
		storage.ConnMaxIdleTime(cfg.DBConnMaxIdleTime),
	)
	if err != nil {
		return err
	}

	var brk core.Broker
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return err
		}
		brk = broker.NewRedisBrokerWithClient(client)
		logger.Info("using redis broker", "addr", cfg.RedisAddr)
	} else {
		brk = broker.NewMemoryBroker()
		logger.Info("using in-memory broker")
	}
	defer brk.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eng, err := engine.New(ctx, store, brk,
		engine.WithLogger(logger),
		engine.WithDispatchInterval(cfg.DispatchInterval),
		engine.WithMonitorInterval(cfg.MonitorInterval),
		engine.WithHeartbeatInterval(cfg.HeartbeatInterval),
		engine.WithLivenessThreshold(cfg.LivenessThreshold),
		engine.WithDispatchBatch(cfg.DispatchBatch),
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    cfg.HTTPListenAddr,
		Handler: api.NewServer(eng).Router(),
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http api listening", "addr", cfg.HTTPListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := eng.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		cancel()
		shutdown(srv, logger)
		return err
	}

	shutdown(srv, logger)
	return nil
}

func shutdown(srv *http.Server, logger *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
}
