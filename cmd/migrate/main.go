package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"stock-alert/internal/infrastructure/config"
	"stock-alert/internal/infrastructure/logging"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	migrationsPath := flag.String("dir", "db/migrations", "path to migrations directory")
	flag.Parse()

	cfg, err := config.LoadFromFile(*cfgPath)
	if err != nil {
		log.Fatalf("讀取組態失敗: %v", err)
	}
	if cfg.DB.DSN == "" {
		log.Fatal("config.db.dsn 未設定，無法執行 migration")
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化 logger 失敗: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	files, err := listMigrations(*migrationsPath)
	if err != nil {
		logger.Fatal("讀取 migrations 失敗", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Fatal("連線資料庫失敗", zap.Error(err))
	}
	defer db.Close()

	applied, err := newMigrator(db, logger).Apply(ctx, files)
	if err != nil {
		logger.Fatal("migration 失敗", zap.Error(err))
	}
	logger.Info("migration 完成", zap.Int("applied", applied), zap.Int("total", len(files)))
}
