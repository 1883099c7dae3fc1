package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stock-alert/internal/infrastructure/config"
	"stock-alert/internal/infrastructure/db"
	"stock-alert/internal/infrastructure/logging"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single check and exit")
	flag.Parse()

	cfg, err := config.LoadFromFile(*cfgPath)
	if err != nil {
		log.Fatalf("CRITICAL: load config failed: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("CRITICAL: build logger failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.Connect(connectCtx, cfg.DB)
	cancel()
	if err != nil {
		logger.Warn("database connection failed, falling back to in-memory store", zap.Error(err))
	} else if pool == nil {
		logger.Info("no DB_DSN provided; running with in-memory store only")
	} else {
		defer pool.Close()
		logger.Info("database connected")
	}

	a := newApp(ctx, cfg, pool, logger)
	defer a.close()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if *once {
		stats, err := a.scheduler.RunOnce(ctx)
		logger.Info("single check finished",
			zap.Int("checked", stats.CheckedRules),
			zap.Int("new_alerts", stats.NewAlerts),
			zap.Bool("partial", stats.Partial),
			zap.Error(err),
		)
		return
	}

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: a.routes(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting HTTP server", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	if err := a.scheduler.Start(ctx); err != nil {
		logger.Fatal("start scheduler failed", zap.Error(err))
	}
	if cfg.Engine.RunOnStart {
		go func() {
			if _, err := a.scheduler.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("startup check incomplete", zap.Error(err))
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelShutdown()
	select {
	case <-a.scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("running check did not stop in time")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
}
