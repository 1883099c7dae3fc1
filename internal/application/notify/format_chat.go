package notify

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"stock-alert/internal/domain/alert"
	notifyDomain "stock-alert/internal/domain/notify"
)

const defaultTelegramBaseURL = "https://api.telegram.org"

// dingTalkFormatter 產生釘釘 markdown 訊息，標題依等級上色。
type dingTalkFormatter struct{ r *textRenderer }

func (f dingTalkFormatter) Format(ch notifyDomain.Channel, ev notifyDomain.Event) (Message, error) {
	text := f.r.Text(ch, ev)
	md := fmt.Sprintf("### <font color=%s>%s %s alert</font>\n\n%s",
		severityColor(ev.Severity), severityIcon(ev.Severity), ev.Severity.Label(), markdownLines(text))
	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": subject(ev),
			"text":  md,
		},
		"at": map[string]bool{"isAtAll": ev.Severity == alert.SeverityCritical},
	}
	return jsonMessage(ch.Transport.URL, payload, text, checkErrcode)
}

// Sign 將毫秒時間戳與簽章附加在 URL 查詢參數。
func (dingTalkFormatter) Sign(msg *Message, secret string, now time.Time) error {
	ts := strconv.FormatInt(now.UnixMilli(), 10)
	u, err := url.Parse(msg.URL)
	if err != nil {
		return fmt.Errorf("parse webhook url: %w", err)
	}
	q := u.Query()
	q.Set("timestamp", ts)
	q.Set("sign", hmacBase64(secret, ts+"\n"+secret))
	u.RawQuery = q.Encode()
	msg.URL = u.String()
	return nil
}

// weChatWorkFormatter 產生企業微信群機器人 markdown 訊息。
type weChatWorkFormatter struct{ r *textRenderer }

func (f weChatWorkFormatter) Format(ch notifyDomain.Channel, ev notifyDomain.Event) (Message, error) {
	text := f.r.Text(ch, ev)
	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": fmt.Sprintf("**%s**\n%s", subject(ev), markdownLines(text)),
		},
	}
	return jsonMessage(ch.Transport.URL, payload, text, checkErrcode)
}

// feishuFormatter 產生飛書互動卡片，卡片標頭依等級上色。
type feishuFormatter struct{ r *textRenderer }

func (f feishuFormatter) Format(ch notifyDomain.Channel, ev notifyDomain.Event) (Message, error) {
	text := f.r.Text(ch, ev)
	payload := map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"config": map[string]bool{"wide_screen_mode": true},
			"header": map[string]any{
				"title":    map[string]string{"tag": "plain_text", "content": subject(ev)},
				"template": feishuTemplate(ev.Severity),
			},
			"elements": []any{
				map[string]any{
					"tag":  "div",
					"text": map[string]string{"tag": "lark_md", "content": text},
				},
			},
		},
	}
	return jsonMessage(ch.Transport.URL, payload, text, checkFeishuCode)
}

// Sign 將秒級時間戳與簽章寫入 body。
func (feishuFormatter) Sign(msg *Message, secret string, now time.Time) error {
	var body map[string]any
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		return fmt.Errorf("decode feishu body: %w", err)
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	body["timestamp"] = ts
	body["sign"] = hmacBase64(ts+"\n"+secret, "")
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode feishu body: %w", err)
	}
	msg.Body = raw
	return nil
}

func feishuTemplate(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "red"
	case alert.SeverityHigh:
		return "orange"
	case alert.SeverityMedium:
		return "yellow"
	default:
		return "blue"
	}
}

// telegramFormatter 使用 bot sendMessage API。
type telegramFormatter struct{ r *textRenderer }

func (f telegramFormatter) Format(ch notifyDomain.Channel, ev notifyDomain.Event) (Message, error) {
	text := f.r.Text(ch, ev)
	base := strings.TrimRight(ch.Transport.URL, "/")
	if base == "" {
		base = defaultTelegramBaseURL
	}
	payload := map[string]any{
		"chat_id":    ch.Transport.ChatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	return jsonMessage(fmt.Sprintf("%s/bot%s/sendMessage", base, ch.Transport.Token), payload, text, checkTelegramOK)
}

func markdownLines(text string) string {
	return strings.ReplaceAll(text, "\n", "\n\n")
}

func jsonMessage(target string, payload any, text string, check func([]byte) error) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode payload: %w", err)
	}
	return Message{
		Transport:   TransportHTTP,
		Method:      "POST",
		URL:         target,
		Headers:     map[string]string{},
		ContentType: "application/json",
		Body:        body,
		Check:       check,
		Text:        text,
	}, nil
}

// checkErrcode 適用釘釘與企業微信：errcode 必須為 0。
func checkErrcode(body []byte) error {
	var resp struct {
		ErrCode *int   `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.ErrCode == nil || *resp.ErrCode != 0 {
		code := -1
		if resp.ErrCode != nil {
			code = *resp.ErrCode
		}
		return fmt.Errorf("errcode=%d errmsg=%s", code, resp.ErrMsg)
	}
	return nil
}

func checkFeishuCode(body []byte) error {
	var resp struct {
		Code       *int   `json:"code"`
		StatusCode *int   `json:"StatusCode"`
		Msg        string `json:"msg"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	code := resp.Code
	if code == nil {
		code = resp.StatusCode
	}
	if code == nil || *code != 0 {
		return fmt.Errorf("feishu rejected message: %s", resp.Msg)
	}
	return nil
}

func checkTelegramOK(body []byte) error {
	var resp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram rejected message: %s", resp.Description)
	}
	return nil
}
