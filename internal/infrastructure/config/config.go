package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 儲存監控服務及外部相依的執行設定。
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	DB       DBConfig       `yaml:"db"`
	Log      LogConfig      `yaml:"log"`
	Engine   EngineConfig   `yaml:"engine"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	NATS     NATSConfig     `yaml:"nats"`
}

// HTTPConfig 為 /metrics 與健康檢查的監聽位址。
type HTTPConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type DBConfig struct {
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int           `yaml:"max_idle_conns" validate:"gte=0"`
	MaxIdleTime  time.Duration `yaml:"max_idle_time" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json console"`
}

// EngineConfig 控制排程檢查。
type EngineConfig struct {
	Schedule    string        `yaml:"schedule" validate:"required"`
	Workers     int           `yaml:"workers" validate:"gte=1"`
	RunTimeout  time.Duration `yaml:"run_timeout" validate:"gt=0"`
	DedupWindow time.Duration `yaml:"dedup_window" validate:"gt=0"`
	Dispatch    bool          `yaml:"dispatch"`
	RunOnStart  bool          `yaml:"run_on_start"`
}

// DispatchConfig 為通道未設定時套用的投遞政策。
type DispatchConfig struct {
	DefaultTimeout       time.Duration `yaml:"default_timeout" validate:"gt=0"`
	DefaultRetryCount    int           `yaml:"default_retry_count" validate:"gte=1"`
	DefaultRetryInterval time.Duration `yaml:"default_retry_interval" validate:"gte=0"`
}

// NATSConfig 為新預警的發佈目標；URL 為空代表不發佈。
type NATSConfig struct {
	URL     string `yaml:"url" validate:"omitempty,url"`
	Subject string `yaml:"subject" validate:"required_with=URL"`
	Stream  string `yaml:"stream"`
}

var validate = validator.New()

// Validate 檢查套用預設值與環境變數後的設定。
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// LoadFromFile 從 YAML 組態檔載入設定，檔案不存在時僅使用預設值與環境變數。
func LoadFromFile(path string) (Config, error) {
	// 嘗試載入 .env 檔案（如果存在）
	_ = godotenv.Load()

	var cfg Config
	// Dispatch 預設開啟，YAML 可明確關閉。
	cfg.Engine.Dispatch = true
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg = applyDefaults(cfg)
	cfg = applyEnv(cfg)
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg Config) Config {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":9100"
	}
	if cfg.DB.MaxOpenConns == 0 {
		cfg.DB.MaxOpenConns = 5
	}
	if cfg.DB.MaxIdleConns == 0 {
		cfg.DB.MaxIdleConns = 2
	}
	if cfg.DB.MaxIdleTime == 0 {
		cfg.DB.MaxIdleTime = 15 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Engine.Schedule == "" {
		cfg.Engine.Schedule = "0 */5 9-15 * * 1-5"
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 4
	}
	if cfg.Engine.RunTimeout == 0 {
		cfg.Engine.RunTimeout = 2 * time.Minute
	}
	if cfg.Engine.DedupWindow == 0 {
		cfg.Engine.DedupWindow = 60 * time.Minute
	}
	if cfg.Dispatch.DefaultTimeout == 0 {
		cfg.Dispatch.DefaultTimeout = 10 * time.Second
	}
	if cfg.Dispatch.DefaultRetryCount == 0 {
		cfg.Dispatch.DefaultRetryCount = 3
	}
	if cfg.Dispatch.DefaultRetryInterval == 0 {
		cfg.Dispatch.DefaultRetryInterval = 5 * time.Second
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "alerts.created"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "ALERTS_STREAM"
	}
	return cfg
}

func applyEnv(cfg Config) Config {
	if val := os.Getenv("HTTP_ADDR"); val != "" {
		cfg.HTTP.Addr = val
	}
	if val := os.Getenv("DB_DSN"); val != "" {
		cfg.DB.DSN = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
	if val := os.Getenv("ENGINE_SCHEDULE"); val != "" {
		cfg.Engine.Schedule = val
	}
	if val := os.Getenv("ENGINE_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			cfg.Engine.Workers = n
		}
	}
	if val := os.Getenv("ENGINE_DISPATCH"); val != "" {
		cfg.Engine.Dispatch = (val == "true")
	}
	if val := os.Getenv("DEDUP_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.DedupWindow = d
		}
	}
	if val := os.Getenv("NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	return cfg
}
