package notify

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stock-alert/internal/domain/alert"
	notifyDomain "stock-alert/internal/domain/notify"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransportKind 決定訊息交給哪一種傳輸層。
type TransportKind string

const (
	TransportHTTP TransportKind = "http"
	TransportSMTP TransportKind = "smtp"
)

// Message 為已轉成通道線上格式的封包。
type Message struct {
	Transport   TransportKind
	Method      string
	URL         string
	Headers     map[string]string
	ContentType string
	Body        []byte
	Query       map[string]string // GET 時附加於 URL

	// SMTP 專用
	SMTP SMTPServer
	From string
	To   []string

	// Check 驗證 HTTP 回應內容，nil 代表只看狀態碼。
	Check func(body []byte) error

	// Text 為渲染後的純文字內容，供紀錄使用。
	Text string
}

// SMTPServer 為郵件通道的伺服器與帳號。
type SMTPServer struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

func (m Message) clone() Message {
	out := m
	out.Body = append([]byte(nil), m.Body...)
	out.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		out.Headers[k] = v
	}
	out.To = append([]string(nil), m.To...)
	if m.Query != nil {
		out.Query = make(map[string]string, len(m.Query))
		for k, v := range m.Query {
			out.Query[k] = v
		}
	}
	return out
}

// Formatter 將事件轉成單一通道類型的封包。
type Formatter interface {
	Format(ch notifyDomain.Channel, ev notifyDomain.Event) (Message, error)
}

// Signer 由需要簽章的通道實作，每次嘗試前重新簽章。
type Signer interface {
	Sign(msg *Message, secret string, now time.Time) error
}

// Formatters 依通道類型選擇實作。
type Formatters map[notifyDomain.ChannelType]Formatter

// NewFormatters 建立所有內建通道的 Formatter。
func NewFormatters(log *zap.Logger) Formatters {
	r := &textRenderer{log: orNop(log)}
	return Formatters{
		notifyDomain.ChannelDingTalk:   dingTalkFormatter{r},
		notifyDomain.ChannelWeChatWork: weChatWorkFormatter{r},
		notifyDomain.ChannelFeishu:     feishuFormatter{r},
		notifyDomain.ChannelTelegram:   telegramFormatter{r},
		notifyDomain.ChannelEmail:      emailFormatter{r},
		notifyDomain.ChannelWebhook:    webhookFormatter{r},
		notifyDomain.ChannelCustom:     customFormatter{r},
	}
}

// For 取得通道類型對應的 Formatter。
func (f Formatters) For(t notifyDomain.ChannelType) (Formatter, error) {
	fm, ok := f[t]
	if !ok {
		return nil, fmt.Errorf("no formatter for channel type %q", t)
	}
	return fm, nil
}

func orNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}

var (
	errUnclosedPlaceholder = errors.New("unclosed placeholder")
	errUnknownPlaceholder  = errors.New("unknown placeholder")
)

const timeLayout = "2006-01-02 15:04:05"

// textRenderer 負責模板代換與預設文字。
type textRenderer struct {
	log *zap.Logger
}

// Text 回傳通道使用的文字；自訂模板失敗時退回預設文字。
func (r *textRenderer) Text(ch notifyDomain.Channel, ev notifyDomain.Event) string {
	if strings.TrimSpace(ch.MessageTemplate) == "" {
		return defaultText(ch, ev)
	}
	out, err := renderTemplate(ch.MessageTemplate, placeholders(ev), nil)
	if err != nil {
		r.log.Warn("message template render failed, using default text",
			zap.String("channel_id", ch.ID),
			zap.String("channel", ch.Name),
			zap.Error(err),
		)
		return defaultText(ch, ev)
	}
	return out
}

// placeholders 列出模板可使用的欄位。
func placeholders(ev notifyDomain.Event) map[string]string {
	vals := map[string]string{
		"stock_code":      ev.StockCode,
		"stock_name":      ev.StockName,
		"alert_level":     ev.Severity.Label(),
		"alert_type":      alertTypeLabel(ev.AlertType),
		"alert_message":   ev.Message,
		"current_price":   formatOptional(ev.CurrentPrice),
		"threshold_value": formatOptional(ev.ThresholdValue),
		"rule_name":       ev.RuleName,
		"timestamp":       ev.TriggeredAt.Format(timeLayout),
		"change_pct":      "",
	}
	if pct, ok := ev.DerivedChangePct(); ok {
		vals["change_pct"] = decimal.NewFromFloat(pct).StringFixed(2)
	}
	return vals
}

// renderTemplate 代換 {{name}} 形式的欄位；未知欄位或未閉合視為錯誤。
func renderTemplate(tmpl string, vals map[string]string, escape func(string) string) (string, error) {
	var b strings.Builder
	rest := tmpl
	for {
		i := strings.Index(rest, "{{")
		if i < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:i])
		rest = rest[i+2:]
		j := strings.Index(rest, "}}")
		if j < 0 {
			return "", errUnclosedPlaceholder
		}
		key := strings.TrimSpace(rest[:j])
		v, ok := vals[key]
		if !ok {
			return "", fmt.Errorf("%w: %q", errUnknownPlaceholder, key)
		}
		if escape != nil {
			v = escape(v)
		}
		b.WriteString(v)
		rest = rest[j+2:]
	}
}

// defaultText 組出預設文字：等級圖示、標的、訊息、規則與時間。
func defaultText(ch notifyDomain.Channel, ev notifyDomain.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s\n", severityIcon(ev.Severity), ev.Severity.Label(), instrument(ev))
	b.WriteString(ev.Message)
	b.WriteString("\n")
	if ch.IncludeStockInfo && (ev.CurrentPrice != nil || ev.ThresholdValue != nil) {
		fmt.Fprintf(&b, "Price: %s | Threshold: %s\n", orDash(formatOptional(ev.CurrentPrice)), orDash(formatOptional(ev.ThresholdValue)))
	}
	if ch.IncludeRuleInfo && ev.RuleName != "" {
		fmt.Fprintf(&b, "Rule: %s\n", ev.RuleName)
	}
	fmt.Fprintf(&b, "Time: %s", ev.TriggeredAt.Format(timeLayout))
	return b.String()
}

func instrument(ev notifyDomain.Event) string {
	if ev.StockName == "" {
		return ev.StockCode
	}
	return fmt.Sprintf("%s (%s)", ev.StockName, ev.StockCode)
}

func subject(ev notifyDomain.Event) string {
	return fmt.Sprintf("[%s] %s %s", strings.ToUpper(string(ev.Severity)), ev.StockCode, alertTypeLabel(ev.AlertType))
}

func alertTypeLabel(t string) string {
	rt := alert.RuleType(t)
	if rt.Valid() {
		return rt.Label()
	}
	return t
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromFloat(*v).Round(4).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func severityIcon(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "🚨"
	case alert.SeverityHigh:
		return "🔴"
	case alert.SeverityMedium:
		return "🟠"
	default:
		return "🔵"
	}
}

// severityColor 為 HTML / markdown 標題色。
func severityColor(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "#dc3545"
	case alert.SeverityHigh:
		return "#fd7e14"
	case alert.SeverityMedium:
		return "#ffc107"
	default:
		return "#17a2b8"
	}
}
