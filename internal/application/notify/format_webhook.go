package notify

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	notifyDomain "stock-alert/internal/domain/notify"

	"go.uber.org/zap"
)

// webhookFormatter 送出扁平 JSON，包含結構化欄位與渲染文字。
type webhookFormatter struct{ r *textRenderer }

func (f webhookFormatter) Format(ch notifyDomain.Channel, ev notifyDomain.Event) (Message, error) {
	text := f.r.Text(ch, ev)
	msg, err := jsonMessage(ch.Transport.URL, flatFields(ev, text), text, nil)
	if err != nil {
		return Message{}, err
	}
	applyHeaders(&msg, ch.Transport)
	return msg, nil
}

// customFormatter 依 body 模板組出請求，模板失敗時退回扁平 JSON。
type customFormatter struct{ r *textRenderer }

func (f customFormatter) Format(ch notifyDomain.Channel, ev notifyDomain.Event) (Message, error) {
	text := f.r.Text(ch, ev)
	t := ch.Transport
	method := strings.ToUpper(t.Method)
	if method == "" {
		method = "POST"
	}
	fields := flatFields(ev, text)

	var (
		msg Message
		err error
	)
	if method == "GET" {
		msg = Message{Transport: TransportHTTP, URL: t.URL, Headers: map[string]string{}, Text: text, Query: map[string]string{}}
		for k, v := range fields {
			msg.Query[k] = stringify(v)
		}
	} else if body, ok := f.renderBody(ch, ev, text); ok {
		msg = Message{Transport: TransportHTTP, URL: t.URL, Headers: map[string]string{}, ContentType: "application/json", Body: []byte(body), Text: text}
	} else {
		msg, err = jsonMessage(t.URL, fields, text, nil)
		if err != nil {
			return Message{}, err
		}
	}
	msg.Method = method
	applyHeaders(&msg, t)
	return msg, nil
}

func (f customFormatter) renderBody(ch notifyDomain.Channel, ev notifyDomain.Event, text string) (string, bool) {
	if strings.TrimSpace(ch.Transport.BodyTemplate) == "" {
		return "", false
	}
	vals := placeholders(ev)
	vals["message"] = text
	out, err := renderTemplate(ch.Transport.BodyTemplate, vals, jsonEscape)
	if err != nil {
		f.r.log.Warn("custom body template render failed, sending default payload",
			zap.String("channel_id", ch.ID),
			zap.Error(err),
		)
		return "", false
	}
	return out, true
}

func flatFields(ev notifyDomain.Event, text string) map[string]any {
	return map[string]any{
		"alert_message":   ev.Message,
		"ts_code":         ev.StockCode,
		"stock_name":      ev.StockName,
		"alert_level":     string(ev.Severity),
		"alert_type":      ev.AlertType,
		"current_price":   ev.CurrentPrice,
		"threshold_value": ev.ThresholdValue,
		"rule_name":       ev.RuleName,
		"trigger_time":    ev.TriggeredAt.Format(timeLayout),
		"message":         text,
	}
}

// applyHeaders 套用自訂標頭與驗證方式。
func applyHeaders(msg *Message, t notifyDomain.Transport) {
	for k, v := range t.Headers {
		msg.Headers[k] = v
	}
	switch t.AuthType {
	case notifyDomain.AuthBasic:
		cred := base64.StdEncoding.EncodeToString([]byte(t.Username + ":" + t.Password))
		msg.Headers["Authorization"] = "Basic " + cred
	case notifyDomain.AuthBearer:
		msg.Headers["Authorization"] = "Bearer " + t.Token
	}
}

// jsonEscape 讓代換值可安全放入 JSON 字串常值。
func jsonEscape(s string) string {
	raw, _ := json.Marshal(s)
	return string(raw[1 : len(raw)-1])
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case *float64:
		return formatOptional(x)
	default:
		raw, _ := json.Marshal(x)
		return string(raw)
	}
}
