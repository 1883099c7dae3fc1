package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	notifyDomain "stock-alert/internal/domain/notify"

	"go.uber.org/zap"
)

// ChannelStore 提供 Dispatcher 需要的通道讀取與計數寫入。
type ChannelStore interface {
	ListEnabled(ctx context.Context) ([]notifyDomain.Channel, error)
	RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error
}

// Sender 負責實際傳輸一則訊息。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryObserver 接收每個通道最終結果，用於監控。
type DeliveryObserver interface {
	ObserveDelivery(channelType notifyDomain.ChannelType, success bool, attempts int, elapsed time.Duration)
}

// ChannelResult 為單一通道的投遞結果。
type ChannelResult struct {
	ChannelID   string
	ChannelName string
	ChannelType notifyDomain.ChannelType
	Success     bool
	Attempts    int
	Skipped     bool
	Error       string
	Duration    time.Duration
}

// Result 彙整一次 Dispatch；只要有一個通道成功即視為成功。
type Result struct {
	Success      bool
	SentCount    int
	SuccessCount int
	Channels     []ChannelResult
}

// Dispatcher 將事件平行送往所有符合的通道。
type Dispatcher struct {
	store      ChannelStore
	formatters Formatters
	senders    map[TransportKind]Sender
	defaults   notifyDomain.DeliveryPolicy
	observer   DeliveryObserver
	log        *zap.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option 調整 Dispatcher。
type Option func(*Dispatcher)

// WithDefaultPolicy 設定通道未指定時使用的投遞策略。
func WithDefaultPolicy(p notifyDomain.DeliveryPolicy) Option {
	return func(d *Dispatcher) { d.defaults = p }
}

func WithObserver(o DeliveryObserver) Option {
	return func(d *Dispatcher) { d.observer = o }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = orNop(l) }
}

// NewDispatcher 建立 Dispatcher。senders 依傳輸類型提供實作。
func NewDispatcher(store ChannelStore, formatters Formatters, senders map[TransportKind]Sender, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      store,
		formatters: formatters,
		senders:    senders,
		defaults: notifyDomain.DeliveryPolicy{
			Timeout:       notifyDomain.DefaultTimeout,
			RetryCount:    notifyDomain.DefaultRetryCount,
			RetryInterval: notifyDomain.DefaultRetryInterval,
		},
		log:   zap.NewNop(),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch 選出啟用且接受此等級的通道並平行投遞。
// 投遞錯誤只反映在結果中；error 僅在無法讀取通道清單時回傳。
func (d *Dispatcher) Dispatch(ctx context.Context, ev notifyDomain.Event) (Result, error) {
	channels, err := d.store.ListEnabled(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list enabled channels: %w", err)
	}

	var selected []notifyDomain.Channel
	for _, ch := range channels {
		if ch.Deliverable() && ch.Accepts(ev.Severity) {
			selected = append(selected, ch)
		}
	}

	results := make([]ChannelResult, len(selected))
	var wg sync.WaitGroup
	for i, ch := range selected {
		if err := ctx.Err(); err != nil {
			results[i] = ChannelResult{ChannelID: ch.ID, ChannelName: ch.Name, ChannelType: ch.Type, Skipped: true, Error: err.Error()}
			continue
		}
		wg.Add(1)
		go func(i int, ch notifyDomain.Channel) {
			defer wg.Done()
			results[i] = d.DeliverTo(ctx, ch, ev)
		}(i, ch)
	}
	wg.Wait()

	res := Result{Channels: results}
	for _, r := range results {
		if r.Skipped {
			continue
		}
		res.SentCount++
		if r.Success {
			res.SuccessCount++
		}
	}
	res.Success = res.SuccessCount > 0
	d.log.Info("alert dispatched",
		zap.String("stock_code", ev.StockCode),
		zap.String("severity", string(ev.Severity)),
		zap.Int("channels", len(selected)),
		zap.Int("succeeded", res.SuccessCount),
	)
	return res, nil
}

// DeliverTo 對單一通道投遞並記錄結果，不檢查啟用狀態與等級。
func (d *Dispatcher) DeliverTo(ctx context.Context, ch notifyDomain.Channel, ev notifyDomain.Event) ChannelResult {
	start := d.now()
	res := ChannelResult{ChannelID: ch.ID, ChannelName: ch.Name, ChannelType: ch.Type}

	attempts, err := d.deliver(ctx, ch, ev)
	res.Attempts = attempts
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
	}
	res.Duration = d.now().Sub(start)

	// 計數寫入不受呼叫端取消影響。
	if ch.ID != "" {
		if rerr := d.store.RecordDelivery(context.WithoutCancel(ctx), ch.ID, res.Success, d.now()); rerr != nil {
			d.log.Error("record delivery failed", zap.String("channel_id", ch.ID), zap.Error(rerr))
		}
	}
	if d.observer != nil {
		d.observer.ObserveDelivery(ch.Type, res.Success, attempts, res.Duration)
	}
	if err != nil {
		d.log.Warn("channel delivery failed",
			zap.String("channel_id", ch.ID),
			zap.String("channel_type", string(ch.Type)),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, ch notifyDomain.Channel, ev notifyDomain.Event) (int, error) {
	formatter, err := d.formatters.For(ch.Type)
	if err != nil {
		return 0, err
	}
	msg, err := formatter.Format(ch, ev)
	if err != nil {
		return 0, fmt.Errorf("format message: %w", err)
	}
	sender, ok := d.senders[msg.Transport]
	if !ok {
		return 0, fmt.Errorf("no sender for transport %q", msg.Transport)
	}
	signer, _ := formatter.(Signer)
	policy := ch.Policy.WithDefaults(d.defaults)

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= policy.Attempts(); attempt++ {
		if attempt > 1 {
			if err := d.sleep(ctx, policy.RetryInterval); err != nil {
				return attempts, errors.Join(lastErr, err)
			}
		}

		out := msg.clone()
		if signer != nil && ch.Transport.Secret != "" {
			if err := signer.Sign(&out, ch.Transport.Secret, d.now()); err != nil {
				return attempts, fmt.Errorf("sign message: %w", err)
			}
		}

		attempts++
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), policy.Timeout)
		lastErr = sender.Send(attemptCtx, out)
		cancel()
		if lastErr == nil {
			return attempts, nil
		}
		d.log.Debug("delivery attempt failed",
			zap.String("channel_id", ch.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}
	return attempts, lastErr
}

// sleepContext 等待 d，期間若 ctx 結束則提前返回。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
