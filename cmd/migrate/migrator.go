package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    VARCHAR(255) PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

var errNoMigrations = errors.New("no .sql migration files found")

// listMigrations 回傳目錄下依檔名排序的 .sql 檔。
func listMigrations(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if _, err := os.Stat(absDir); err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(absDir, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errNoMigrations
	}
	sort.Strings(files)
	return files, nil
}

// migrator 逐檔在交易內執行 migration，已套用的版本記錄於 schema_migrations。
type migrator struct {
	db       *sql.DB
	readFile func(string) ([]byte, error)
	log      *zap.Logger
}

func newMigrator(db *sql.DB, log *zap.Logger) *migrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &migrator{db: db, readFile: os.ReadFile, log: log}
}

// Apply 回傳本次新套用的檔案數。
func (m *migrator) Apply(ctx context.Context, files []string) (int, error) {
	if _, err := m.db.ExecContext(ctx, createVersionTable); err != nil {
		return 0, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied := 0
	for _, f := range files {
		version := filepath.Base(f)
		done, err := m.isApplied(ctx, version)
		if err != nil {
			return applied, err
		}
		if done {
			m.log.Debug("略過已套用的 migration", zap.String("version", version))
			continue
		}
		body, err := m.readFile(f)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", version, err)
		}
		if err := m.applyOne(ctx, version, string(body)); err != nil {
			return applied, err
		}
		m.log.Info("已套用 migration", zap.String("version", version))
		applied++
	}
	return applied, nil
}

func (m *migrator) isApplied(ctx context.Context, version string) (bool, error) {
	var ok bool
	err := m.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1);`, version).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", version, err)
	}
	return ok, nil
}

func (m *migrator) applyOne(ctx context.Context, version, body string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1);`, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s: %w", version, err)
	}
	return tx.Commit()
}
