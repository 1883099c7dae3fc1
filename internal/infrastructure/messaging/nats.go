package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stock-alert/internal/domain/alert"
	"stock-alert/internal/infrastructure/config"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// streamPublisher 為 jetstream.JetStream 中發佈所需的部分。
type streamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// AlertPublisher 將新建立的預警發佈到 JetStream，供下游服務訂閱。
type AlertPublisher struct {
	conn    *nats.Conn
	js      streamPublisher
	subject string
	log     *zap.Logger
}

// AlertMessage 為發佈的 JSON 內容。
type AlertMessage struct {
	ID             string         `json:"id"`
	StockCode      string         `json:"ts_code"`
	StockName      string         `json:"stock_name,omitempty"`
	AlertType      string         `json:"alert_type"`
	Severity       string         `json:"alert_level"`
	Message        string         `json:"alert_message"`
	RuleID         string         `json:"rule_id,omitempty"`
	Source         string         `json:"trigger_source"`
	RiskValue      *float64       `json:"risk_value,omitempty"`
	ThresholdValue *float64       `json:"threshold_value,omitempty"`
	CurrentPrice   *float64       `json:"current_price,omitempty"`
	ExtraData      map[string]any `json:"extra_data,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Connect 連線 NATS 並確保預警 stream 存在。
func Connect(ctx context.Context, cfg config.NATSConfig, log *zap.Logger) (*AlertPublisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("stock-alert"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream: %w", err)
	}
	if cfg.Stream != "" {
		_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:        cfg.Stream,
			Subjects:    streamSubjects(cfg.Subject),
			Description: "risk alerts created by the rule engine",
			Retention:   jetstream.LimitsPolicy,
			MaxMsgs:     50000,
			MaxBytes:    50 * 1024 * 1024,
			MaxAge:      7 * 24 * time.Hour,
		})
		if err != nil {
			log.Warn("create or update stream failed", zap.String("stream", cfg.Stream), zap.Error(err))
		}
	}

	p := newAlertPublisher(js, cfg.Subject, log)
	p.conn = nc
	return p, nil
}

// streamSubjects 以發佈主題的上一層建立萬用主題，例如 alerts.created -> alerts.>。
func streamSubjects(subject string) []string {
	i := strings.LastIndex(subject, ".")
	if i <= 0 {
		return []string{subject}
	}
	return []string{subject[:i] + ".>"}
}

func newAlertPublisher(js streamPublisher, subject string, log *zap.Logger) *AlertPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &AlertPublisher{js: js, subject: subject, log: log}
}

// PublishAlert 以預警 ID 作為訊息 ID，重送時由 JetStream 去重。
func (p *AlertPublisher) PublishAlert(ctx context.Context, a alert.RiskAlert) error {
	payload, err := json.Marshal(toMessage(a))
	if err != nil {
		return fmt.Errorf("encode alert message: %w", err)
	}
	if _, err := p.js.Publish(ctx, p.subject, payload, jetstream.WithMsgID(a.ID)); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	p.log.Debug("alert published", zap.String("subject", p.subject), zap.String("alert_id", a.ID), zap.Int("bytes", len(payload)))
	return nil
}

// Close 清空緩衝後關閉連線。
func (p *AlertPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}

func toMessage(a alert.RiskAlert) AlertMessage {
	m := AlertMessage{
		ID:             a.ID,
		StockCode:      a.StockCode,
		StockName:      a.StockName,
		AlertType:      a.AlertType,
		Severity:       string(a.Severity),
		Message:        a.Message,
		Source:         string(a.Source),
		RiskValue:      a.RiskValue,
		ThresholdValue: a.ThresholdValue,
		CurrentPrice:   a.CurrentPrice,
		ExtraData:      a.ExtraData,
		CreatedAt:      a.CreatedAt,
	}
	if a.RuleID != nil {
		m.RuleID = *a.RuleID
	}
	return m
}
