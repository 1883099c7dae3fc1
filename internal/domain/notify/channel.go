package notify

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"stock-alert/internal/domain/alert"
)

var (
	// ErrInvalidChannel 表示通道設定不合法，不得寫入。
	ErrInvalidChannel = errors.New("invalid notification channel")
	// ErrChannelNotFound 表示通道不存在或已刪除。
	ErrChannelNotFound = errors.New("notification channel not found")
	// ErrDefaultChannel 表示預設通道不可刪除或停用。
	ErrDefaultChannel = errors.New("default channel cannot be deleted or disabled")
)

// ChannelType 為通道的封包格式類型。
type ChannelType string

const (
	ChannelDingTalk   ChannelType = "dingtalk"
	ChannelWeChatWork ChannelType = "wechat_work"
	ChannelFeishu     ChannelType = "feishu"
	ChannelTelegram   ChannelType = "telegram"
	ChannelEmail      ChannelType = "email"
	ChannelWebhook    ChannelType = "webhook"
	ChannelCustom     ChannelType = "custom"
)

// ChannelTypes 列出所有支援的通道類型。
var ChannelTypes = []ChannelType{
	ChannelDingTalk,
	ChannelWeChatWork,
	ChannelFeishu,
	ChannelTelegram,
	ChannelEmail,
	ChannelWebhook,
	ChannelCustom,
}

func (t ChannelType) Valid() bool {
	return slices.Contains(ChannelTypes, t)
}

// AuthType 為自訂 HTTP 通道的驗證方式。
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
)

// Transport 為各類型通道共用的連線設定，依類型取用不同欄位。
type Transport struct {
	URL          string            `json:"url,omitempty"`
	Secret       string            `json:"secret,omitempty"`
	AuthType     AuthType          `json:"auth_type,omitempty"`
	Username     string            `json:"username,omitempty"`
	Password     string            `json:"password,omitempty"`
	Token        string            `json:"token,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	Method       string            `json:"method,omitempty"`
	BodyTemplate string            `json:"body_template,omitempty"`
	ChatID       string            `json:"chat_id,omitempty"`

	SMTPHost     string   `json:"smtp_host,omitempty"`
	SMTPPort     int      `json:"smtp_port,omitempty"`
	SMTPUser     string   `json:"smtp_user,omitempty"`
	SMTPPassword string   `json:"smtp_password,omitempty"`
	From         string   `json:"from,omitempty"`
	FromName     string   `json:"from_name,omitempty"`
	To           []string `json:"to,omitempty"`
	UseTLS       bool     `json:"use_tls,omitempty"`
}

// DeliveryPolicy 控制單一通道的逾時與重試。
type DeliveryPolicy struct {
	Timeout       time.Duration
	RetryCount    int
	RetryInterval time.Duration
}

const (
	DefaultTimeout       = 10 * time.Second
	DefaultRetryCount    = 3
	DefaultRetryInterval = 5 * time.Second
)

// Attempts 回傳總嘗試次數，至少一次。
func (p DeliveryPolicy) Attempts() int {
	if p.RetryCount < 1 {
		return 1
	}
	return p.RetryCount
}

// WithDefaults 補上未設定的欄位。
func (p DeliveryPolicy) WithDefaults(d DeliveryPolicy) DeliveryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = d.Timeout
	}
	if p.RetryCount <= 0 {
		p.RetryCount = d.RetryCount
	}
	if p.RetryInterval <= 0 {
		p.RetryInterval = d.RetryInterval
	}
	return p
}

// Counters 由 Dispatcher 維護。
type Counters struct {
	SuccessCount int
	FailureCount int
	LastSentAt   *time.Time
	LastStatus   string
}

// SuccessRate 回傳成功百分比，尚未送出過則為 0。
func (c Counters) SuccessRate() float64 {
	total := c.SuccessCount + c.FailureCount
	if total == 0 {
		return 0
	}
	return float64(c.SuccessCount) / float64(total) * 100
}

const (
	LastStatusSuccess = "success"
	LastStatusFailed  = "failed"
)

// Channel 為一個外部通知目標。
type Channel struct {
	ID               string
	Name             string
	Type             ChannelType
	Transport        Transport
	Enabled          bool
	IsDefault        bool
	Active           bool // false 代表已軟刪除
	Severities       []alert.Severity
	MessageTemplate  string
	IncludeStockInfo bool
	IncludeRuleInfo  bool
	Policy           DeliveryPolicy
	Counters         Counters
	Description      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Accepts 判斷通道是否接收此等級；空清單代表全收。
func (c Channel) Accepts(s alert.Severity) bool {
	if len(c.Severities) == 0 {
		return true
	}
	return slices.Contains(c.Severities, s)
}

// Deliverable 表示通道會被 Dispatch 選中的基本條件。
func (c Channel) Deliverable() bool {
	return c.Enabled && c.Active
}

// Validate 檢查類型與必要的連線設定。
func (c Channel) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidChannel)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: unsupported channel type %q", ErrInvalidChannel, c.Type)
	}
	for _, s := range c.Severities {
		if !s.Valid() {
			return fmt.Errorf("%w: unsupported severity %q", ErrInvalidChannel, s)
		}
	}
	if c.Policy.RetryCount < 0 || c.Policy.RetryInterval < 0 || c.Policy.Timeout < 0 {
		return fmt.Errorf("%w: delivery policy must not be negative", ErrInvalidChannel)
	}

	t := c.Transport
	switch c.Type {
	case ChannelEmail:
		if t.SMTPHost == "" || t.SMTPPort <= 0 {
			return fmt.Errorf("%w: smtp host and port are required", ErrInvalidChannel)
		}
		if t.From == "" || len(t.To) == 0 {
			return fmt.Errorf("%w: sender and recipients are required", ErrInvalidChannel)
		}
	case ChannelTelegram:
		if t.Token == "" || t.ChatID == "" {
			return fmt.Errorf("%w: telegram token and chat_id are required", ErrInvalidChannel)
		}
	default:
		if err := validURL(t.URL); err != nil {
			return err
		}
	}

	if c.Type == ChannelCustom {
		switch strings.ToUpper(t.Method) {
		case "", "GET", "POST", "PUT":
		default:
			return fmt.Errorf("%w: unsupported method %q", ErrInvalidChannel, t.Method)
		}
		switch t.AuthType {
		case "", AuthNone, AuthBasic, AuthBearer:
		default:
			return fmt.Errorf("%w: unsupported auth type %q", ErrInvalidChannel, t.AuthType)
		}
	}
	return nil
}

func validURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidChannel)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid url %q", ErrInvalidChannel, raw)
	}
	return nil
}
