package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"stock-alert/internal"
	notifyApp "stock-alert/internal/application/notify"
	alertDomain "stock-alert/internal/domain/alert"
	notifyDomain "stock-alert/internal/domain/notify"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers 為每次檢查平行處理的標的數。
const DefaultWorkers = 4

// DefaultTaskTimeout 為單一標的檢查（含建立預警與通知）的時間上限。
// 已開始的標的不受 RunCheck ctx 取消影響，只受此上限約束。
const DefaultTaskTimeout = 2 * time.Minute

// RuleSource 提供檢查所需的規則讀取與觸發紀錄。
type RuleSource interface {
	ListRules(ctx context.Context, filter alertDomain.RuleFilter) ([]alertDomain.Rule, error)
	RecordTrigger(ctx context.Context, ruleID string, at time.Time) error
}

// AlertWriter 寫入新預警，並供去重閘門查詢。
type AlertWriter interface {
	ActiveAlertChecker
	CreateAlert(ctx context.Context, a alertDomain.RiskAlert) error
}

// SnapshotProvider 回傳標的最新行情快照；沒有資料時回傳 ErrSnapshotNotFound。
type SnapshotProvider interface {
	Snapshot(ctx context.Context, stockCode string) (alertDomain.Snapshot, error)
}

// Dispatcher 將新預警送往通知通道。
type Dispatcher interface {
	Dispatch(ctx context.Context, ev notifyDomain.Event) (notifyApp.Result, error)
}

// Publisher 將新預警發佈給下游推播服務。
type Publisher interface {
	PublishAlert(ctx context.Context, a alertDomain.RiskAlert) error
}

// RunObserver 接收每次檢查的統計。
type RunObserver interface {
	ObserveRun(stats RunStats)
}

// RunFilter 限定本次檢查的標的與規則類型，空值代表全部。
type RunFilter struct {
	StockCodes []string
	Types      []alertDomain.RuleType
}

// RunStats 為一次檢查的彙總計數。
type RunStats struct {
	TotalRules      int
	CheckedRules    int
	TriggeredAlerts int
	NewAlerts       int
	FailedChecks    int
	SkippedChecks   int
	Suppressed      int
	UncheckedRules  int
	Instruments     int
	Partial         bool
	StartedAt       time.Time
	Duration        time.Duration
}

func (s *RunStats) add(o RunStats) {
	s.CheckedRules += o.CheckedRules
	s.TriggeredAlerts += o.TriggeredAlerts
	s.NewAlerts += o.NewAlerts
	s.FailedChecks += o.FailedChecks
	s.SkippedChecks += o.SkippedChecks
	s.Suppressed += o.Suppressed
	s.UncheckedRules += o.UncheckedRules
}

// Engine 執行規則檢查、去重、建立預警並觸發通知。
type Engine struct {
	rules      RuleSource
	alerts     AlertWriter
	snapshots  SnapshotProvider
	gate       *Gate
	dispatcher Dispatcher
	publisher  Publisher
	observer   RunObserver
	workers    int
	taskLimit  time.Duration
	log        *zap.Logger
	now        func() time.Time
}

// EngineOption 調整 Engine。
type EngineOption func(*Engine)

// WithWorkers 設定平行處理的標的數，1 代表循序執行。
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithTaskTimeout 設定單一標的檢查的時間上限。
func WithTaskTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.taskLimit = d
		}
	}
}

// WithDedupWindow 覆寫去重時間窗。
func WithDedupWindow(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.gate.window = d
		}
	}
}

// WithDispatcher 設定通知派送；帶型別的 nil 視為未設定。
func WithDispatcher(d Dispatcher) EngineOption {
	return func(e *Engine) {
		if !internal.IsNil(d) {
			e.dispatcher = d
		}
	}
}

func WithPublisher(p Publisher) EngineOption {
	return func(e *Engine) {
		if !internal.IsNil(p) {
			e.publisher = p
		}
	}
}

func WithRunObserver(o RunObserver) EngineOption {
	return func(e *Engine) {
		if !internal.IsNil(o) {
			e.observer = o
		}
	}
}

func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine 建立預警檢查引擎。
func NewEngine(rules RuleSource, alerts AlertWriter, snapshots SnapshotProvider, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:     rules,
		alerts:    alerts,
		snapshots: snapshots,
		gate:      NewGate(alerts, DefaultDedupWindow),
		workers:   DefaultWorkers,
		taskLimit: DefaultTaskTimeout,
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.gate.now = func() time.Time { return e.now() }
	return e
}

// RunCheck 對所有啟用規則執行一次檢查。
// 單一標的的失敗只計入統計，不會中斷整次檢查；ctx 結束後不再開始新的標的，
// 已開始的標的會執行完畢，並回傳 Partial 統計與 ctx 錯誤。
func (e *Engine) RunCheck(ctx context.Context, filter RunFilter) (RunStats, error) {
	stats := RunStats{StartedAt: e.now()}

	rules, err := e.rules.ListRules(ctx, alertDomain.RuleFilter{
		StockCodes:  filter.StockCodes,
		Types:       filter.Types,
		EnabledOnly: true,
	})
	if err != nil {
		return stats, fmt.Errorf("list rules: %w", err)
	}

	order, groups := groupByStock(rules)
	for _, code := range order {
		stats.TotalRules += len(groups[code])
	}
	stats.Instruments = len(order)
	e.log.Info("alert check started", zap.Int("rules", stats.TotalRules), zap.Int("instruments", stats.Instruments))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(e.workers)
	merge := func(part RunStats) {
		mu.Lock()
		stats.add(part)
		mu.Unlock()
	}

	for _, code := range order {
		code := code
		group := groups[code]
		if ctx.Err() != nil {
			merge(RunStats{UncheckedRules: len(group)})
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				merge(RunStats{UncheckedRules: len(group)})
				return nil
			}
			taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.taskLimit)
			defer cancel()
			merge(e.checkInstrument(taskCtx, code, group))
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = e.now().Sub(stats.StartedAt)
	runErr := ctx.Err()
	if runErr != nil || stats.UncheckedRules > 0 {
		stats.Partial = true
	}
	if e.observer != nil {
		e.observer.ObserveRun(stats)
	}
	e.log.Info("alert check finished",
		zap.Int("total_rules", stats.TotalRules),
		zap.Int("checked_rules", stats.CheckedRules),
		zap.Int("triggered_alerts", stats.TriggeredAlerts),
		zap.Int("new_alerts", stats.NewAlerts),
		zap.Int("failed_checks", stats.FailedChecks),
		zap.Int("skipped_checks", stats.SkippedChecks),
		zap.Bool("partial", stats.Partial),
		zap.Duration("duration", stats.Duration),
	)
	return stats, runErr
}

// groupByStock 依標的分組並保留規則原本的順序。
func groupByStock(rules []alertDomain.Rule) ([]string, map[string][]alertDomain.Rule) {
	var order []string
	groups := make(map[string][]alertDomain.Rule)
	for _, r := range rules {
		if !r.Evaluable() {
			continue
		}
		if _, ok := groups[r.StockCode]; !ok {
			order = append(order, r.StockCode)
		}
		groups[r.StockCode] = append(groups[r.StockCode], r)
	}
	return order, groups
}

func (e *Engine) checkInstrument(ctx context.Context, code string, rules []alertDomain.Rule) RunStats {
	var part RunStats
	log := e.log.With(zap.String("stock_code", code))

	snap, err := e.snapshots.Snapshot(ctx, code)
	switch {
	case errors.Is(err, alertDomain.ErrSnapshotNotFound):
		log.Warn("no snapshot available, skipping instrument", zap.Int("rules", len(rules)))
		part.SkippedChecks += len(rules)
		return part
	case err != nil:
		log.Error("fetch snapshot failed", zap.Error(err))
		part.FailedChecks += len(rules)
		return part
	}
	if snap.StockCode == "" {
		snap.StockCode = code
	}

	for _, rule := range rules {
		part.CheckedRules++
		triggered, observed, ok := rule.Check(snap)
		if !ok {
			log.Warn("snapshot field missing, check skipped",
				zap.String("rule_id", rule.ID),
				zap.String("rule_type", string(rule.Type)),
			)
			part.SkippedChecks++
			continue
		}
		if !triggered {
			continue
		}
		part.TriggeredAlerts++

		allowed, err := e.gate.Allow(ctx, code, string(rule.Type))
		if err != nil {
			log.Warn("dedup check failed, creating alert anyway", zap.String("rule_id", rule.ID), zap.Error(err))
		}
		if !allowed {
			part.Suppressed++
			log.Debug("trigger suppressed by dedup window", zap.String("rule_id", rule.ID))
			continue
		}

		if _, err := e.materialize(ctx, rule, snap, observed); err != nil {
			log.Error("create alert failed", zap.String("rule_id", rule.ID), zap.Error(err))
			part.FailedChecks++
			continue
		}
		part.NewAlerts++
	}
	return part
}

// materialize 建立預警、更新規則觸發計數，並交給下游發佈與通知。
func (e *Engine) materialize(ctx context.Context, rule alertDomain.Rule, snap alertDomain.Snapshot, observed float64) (alertDomain.RiskAlert, error) {
	now := e.now()
	threshold := rule.Threshold.InexactFloat64()
	ruleID := rule.ID
	name := snap.StockName
	if name == "" {
		name = rule.StockName
	}

	a := alertDomain.RiskAlert{
		ID:             uuid.NewString(),
		StockCode:      rule.StockCode,
		StockName:      name,
		AlertType:      string(rule.Type),
		Severity:       rule.Severity,
		Message:        rule.RenderMessage(observed),
		RuleID:         &ruleID,
		Source:         alertDomain.SourceAuto,
		RiskValue:      &observed,
		ThresholdValue: &threshold,
		CurrentPrice:   snap.ClosePrice(),
		Status:         alertDomain.StatusActive,
		ExtraData: map[string]any{
			"rule_name": rule.Name,
			"operator":  string(rule.Operator),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if snap.Bar != nil && !snap.Bar.TradeDate.IsZero() {
		a.ExtraData["trade_date"] = snap.Bar.TradeDate.Format("2006-01-02")
	}
	if err := e.alerts.CreateAlert(ctx, a); err != nil {
		return alertDomain.RiskAlert{}, err
	}

	if err := e.rules.RecordTrigger(ctx, rule.ID, now); err != nil {
		e.log.Error("record rule trigger failed", zap.String("rule_id", rule.ID), zap.Error(err))
	}
	e.log.Info("alert created",
		zap.String("alert_id", a.ID),
		zap.String("stock_code", a.StockCode),
		zap.String("alert_type", a.AlertType),
		zap.String("severity", string(a.Severity)),
		zap.Float64("risk_value", observed),
	)

	if e.publisher != nil {
		if err := e.publisher.PublishAlert(ctx, a); err != nil {
			e.log.Warn("publish alert failed", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	if e.dispatcher != nil {
		// 通知失敗不回滾預警紀錄。
		res, err := e.dispatcher.Dispatch(ctx, notifyDomain.EventFromAlert(a, rule.Name, snap.PctChange()))
		if err != nil {
			e.log.Warn("dispatch alert failed", zap.String("alert_id", a.ID), zap.Error(err))
		} else if len(res.Channels) > 0 && !res.Success {
			e.log.Warn("alert not delivered to any channel", zap.String("alert_id", a.ID), zap.Int("channels", len(res.Channels)))
		}
	}
	return a, nil
}
