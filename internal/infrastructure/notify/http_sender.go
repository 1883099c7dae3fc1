package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	notifyApp "stock-alert/internal/application/notify"
)

// maxResponseBody 限制讀取的回應大小。
const maxResponseBody = 64 << 10

// HTTPSender 送出 webhook 類型的訊息。逾時由呼叫端的 ctx 控制。
type HTTPSender struct {
	httpClient *http.Client
}

func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPSender{httpClient: client}
}

// Send 發出請求；狀態碼 >= 300 或 Check 驗證失敗都視為失敗。
func (s *HTTPSender) Send(ctx context.Context, msg notifyApp.Message) error {
	target, err := url.Parse(msg.URL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if len(msg.Query) > 0 {
		q := target.Query()
		for k, v := range msg.Query {
			q.Set(k, v)
		}
		target.RawQuery = q.Encode()
	}

	method := msg.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if len(msg.Body) > 0 {
		body = bytes.NewReader(msg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if msg.ContentType != "" {
		req.Header.Set("Content-Type", msg.ContentType)
	}
	for k, v := range msg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http send failed status=%d body=%s", resp.StatusCode, string(raw))
	}
	if msg.Check != nil {
		if err := msg.Check(raw); err != nil {
			return fmt.Errorf("unexpected response: %w", err)
		}
	}
	return nil
}
