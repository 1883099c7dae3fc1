package logging

import (
	"testing"

	"stock-alert/internal/infrastructure/config"

	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		log, err := New(config.LogConfig{Level: "warn", Format: "json"})
		if err != nil {
			t.Fatal(err)
		}
		if log.Core().Enabled(zapcore.InfoLevel) {
			t.Error("info should be disabled at warn level")
		}
		if !log.Core().Enabled(zapcore.ErrorLevel) {
			t.Error("error should be enabled at warn level")
		}
	})

	t.Run("Console", func(t *testing.T) {
		log, err := New(config.LogConfig{Level: "DEBUG", Format: "console"})
		if err != nil {
			t.Fatal(err)
		}
		if !log.Core().Enabled(zapcore.DebugLevel) {
			t.Error("debug should be enabled")
		}
	})

	t.Run("InvalidLevel", func(t *testing.T) {
		if _, err := New(config.LogConfig{Level: "loud"}); err == nil {
			t.Fatal("expected error for unknown level")
		}
	})
}
