package alert

import (
	"context"
	"time"
)

// DefaultDedupWindow 為同一標的同一類型預警的冷卻時間窗。
const DefaultDedupWindow = 60 * time.Minute

// ActiveAlertChecker 查詢時間窗內是否已有同類型的有效預警。
type ActiveAlertChecker interface {
	HasActiveSince(ctx context.Context, stockCode, alertType string, since time.Time) (bool, error)
}

// Gate 抑制時間窗內重複的預警。
type Gate struct {
	alerts ActiveAlertChecker
	window time.Duration
	now    func() time.Time
}

func NewGate(alerts ActiveAlertChecker, window time.Duration) *Gate {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Gate{alerts: alerts, window: window, now: time.Now}
}

// Window 回傳目前的去重時間窗。
func (g *Gate) Window() time.Duration { return g.window }

// Allow 回傳是否可建立新預警。查詢失敗時仍允許建立並回傳錯誤供呼叫端記錄。
func (g *Gate) Allow(ctx context.Context, stockCode, alertType string) (bool, error) {
	exists, err := g.alerts.HasActiveSince(ctx, stockCode, alertType, g.now().Add(-g.window))
	if err != nil {
		return true, err
	}
	return !exists, nil
}
