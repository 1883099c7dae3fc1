package notify

import (
	"context"
	"fmt"
	"time"

	notifyDomain "stock-alert/internal/domain/notify"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChannelRepository 為通道設定的持久層。
type ChannelRepository interface {
	ChannelStore
	Create(ctx context.Context, ch notifyDomain.Channel) error
	Update(ctx context.Context, ch notifyDomain.Channel) error
	Get(ctx context.Context, id string) (notifyDomain.Channel, error)
	List(ctx context.Context) ([]notifyDomain.Channel, error)
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// ClearDefault 取消除 exceptID 之外所有通道的預設旗標。
	ClearDefault(ctx context.Context, exceptID string, at time.Time) error
}

// Deliverer 對單一通道送出事件，由 Dispatcher 實作。
type Deliverer interface {
	DeliverTo(ctx context.Context, ch notifyDomain.Channel, ev notifyDomain.Event) ChannelResult
}

// ChannelStats 為單一通道的投遞統計。
type ChannelStats struct {
	ChannelID    string
	SuccessCount int
	FailureCount int
	SuccessRate  float64
	LastSentAt   *time.Time
	LastStatus   string
}

// Registry 管理通知通道設定。
type Registry struct {
	repo      ChannelRepository
	deliverer Deliverer
	defaults  notifyDomain.DeliveryPolicy
	log       *zap.Logger
	now       func() time.Time
}

// NewRegistry 建立通道管理服務。
func NewRegistry(repo ChannelRepository, deliverer Deliverer, defaults notifyDomain.DeliveryPolicy, log *zap.Logger) *Registry {
	return &Registry{
		repo:      repo,
		deliverer: deliverer,
		defaults:  defaults,
		log:       orNop(log),
		now:       time.Now,
	}
}

// Create 驗證並新增通道；若設為預設則取消其他通道的預設。
func (r *Registry) Create(ctx context.Context, ch notifyDomain.Channel) (notifyDomain.Channel, error) {
	if err := ch.Validate(); err != nil {
		return notifyDomain.Channel{}, err
	}
	now := r.now()
	ch.ID = uuid.NewString()
	ch.Active = true
	ch.Policy = ch.Policy.WithDefaults(r.defaults)
	ch.Counters = notifyDomain.Counters{}
	ch.CreatedAt = now
	ch.UpdatedAt = now
	if ch.IsDefault {
		ch.Enabled = true
		if err := r.repo.ClearDefault(ctx, ch.ID, now); err != nil {
			return notifyDomain.Channel{}, fmt.Errorf("clear default channel: %w", err)
		}
	}
	if err := r.repo.Create(ctx, ch); err != nil {
		return notifyDomain.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	r.log.Info("notification channel created", zap.String("channel_id", ch.ID), zap.String("type", string(ch.Type)))
	return ch, nil
}

// Update 更新設定，保留計數與建立時間。
func (r *Registry) Update(ctx context.Context, ch notifyDomain.Channel) (notifyDomain.Channel, error) {
	existing, err := r.Get(ctx, ch.ID)
	if err != nil {
		return notifyDomain.Channel{}, err
	}
	if err := ch.Validate(); err != nil {
		return notifyDomain.Channel{}, err
	}
	if existing.IsDefault && !ch.IsDefault {
		// 預設旗標只能透過 SetDefault 轉移。
		ch.IsDefault = true
	}
	if ch.IsDefault && !ch.Enabled {
		return notifyDomain.Channel{}, defaultChannelError("disable")
	}

	now := r.now()
	ch.Active = true
	ch.Counters = existing.Counters
	ch.CreatedAt = existing.CreatedAt
	ch.UpdatedAt = now
	ch.Policy = ch.Policy.WithDefaults(r.defaults)
	if ch.IsDefault && !existing.IsDefault {
		if err := r.repo.ClearDefault(ctx, ch.ID, now); err != nil {
			return notifyDomain.Channel{}, fmt.Errorf("clear default channel: %w", err)
		}
	}
	if err := r.repo.Update(ctx, ch); err != nil {
		return notifyDomain.Channel{}, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

// Get 讀取單一通道。
func (r *Registry) Get(ctx context.Context, id string) (notifyDomain.Channel, error) {
	ch, err := r.repo.Get(ctx, id)
	if err != nil {
		return notifyDomain.Channel{}, err
	}
	if !ch.Active {
		return notifyDomain.Channel{}, notifyDomain.ErrChannelNotFound
	}
	return ch, nil
}

// List 列出所有未刪除的通道。
func (r *Registry) List(ctx context.Context) ([]notifyDomain.Channel, error) {
	return r.repo.List(ctx)
}

// Delete 軟刪除通道；預設通道不可刪除。
func (r *Registry) Delete(ctx context.Context, id string) error {
	ch, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if ch.IsDefault {
		return defaultChannelError("delete")
	}
	return r.repo.SoftDelete(ctx, id, r.now())
}

func (r *Registry) Enable(ctx context.Context, id string) (notifyDomain.Channel, error) {
	return r.setEnabled(ctx, id, true)
}

// Disable 停用通道；預設通道不可停用。
func (r *Registry) Disable(ctx context.Context, id string) (notifyDomain.Channel, error) {
	return r.setEnabled(ctx, id, false)
}

// Toggle 切換啟用狀態。
func (r *Registry) Toggle(ctx context.Context, id string) (notifyDomain.Channel, error) {
	ch, err := r.Get(ctx, id)
	if err != nil {
		return notifyDomain.Channel{}, err
	}
	return r.setEnabled(ctx, id, !ch.Enabled)
}

func (r *Registry) setEnabled(ctx context.Context, id string, enabled bool) (notifyDomain.Channel, error) {
	ch, err := r.Get(ctx, id)
	if err != nil {
		return notifyDomain.Channel{}, err
	}
	if !enabled && ch.IsDefault {
		return notifyDomain.Channel{}, defaultChannelError("disable")
	}
	if ch.Enabled == enabled {
		return ch, nil
	}
	ch.Enabled = enabled
	ch.UpdatedAt = r.now()
	if err := r.repo.Update(ctx, ch); err != nil {
		return notifyDomain.Channel{}, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

// SetDefault 將通道設為唯一預設，並確保其為啟用狀態。
func (r *Registry) SetDefault(ctx context.Context, id string) (notifyDomain.Channel, error) {
	ch, err := r.Get(ctx, id)
	if err != nil {
		return notifyDomain.Channel{}, err
	}
	now := r.now()
	if err := r.repo.ClearDefault(ctx, id, now); err != nil {
		return notifyDomain.Channel{}, fmt.Errorf("clear default channel: %w", err)
	}
	ch.IsDefault = true
	ch.Enabled = true
	ch.UpdatedAt = now
	if err := r.repo.Update(ctx, ch); err != nil {
		return notifyDomain.Channel{}, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

// Test 送出固定測試事件，用於確認通道設定。
func (r *Registry) Test(ctx context.Context, id string) (ChannelResult, error) {
	ch, err := r.Get(ctx, id)
	if err != nil {
		return ChannelResult{}, err
	}
	res := r.deliverer.DeliverTo(ctx, ch, notifyDomain.TestEvent(r.now()))
	r.log.Info("channel test finished",
		zap.String("channel_id", id),
		zap.Bool("success", res.Success),
		zap.Int("attempts", res.Attempts),
	)
	return res, nil
}

// Stats 回傳通道的投遞統計。
func (r *Registry) Stats(ctx context.Context, id string) (ChannelStats, error) {
	ch, err := r.Get(ctx, id)
	if err != nil {
		return ChannelStats{}, err
	}
	return ChannelStats{
		ChannelID:    ch.ID,
		SuccessCount: ch.Counters.SuccessCount,
		FailureCount: ch.Counters.FailureCount,
		SuccessRate:  ch.Counters.SuccessRate(),
		LastSentAt:   ch.Counters.LastSentAt,
		LastStatus:   ch.Counters.LastStatus,
	}, nil
}

func defaultChannelError(op string) error {
	return fmt.Errorf("%s: %w", op, notifyDomain.ErrDefaultChannel)
}
