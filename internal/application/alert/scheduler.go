package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// DefaultSchedule 於交易時段內每五分鐘檢查一次（含秒欄位）。
	DefaultSchedule = "0 */5 9-15 * * 1-5"
	// DefaultRunTimeout 為單次檢查的執行上限。
	DefaultRunTimeout = 2 * time.Minute
)

// Checker 執行一次預警檢查。
type Checker interface {
	RunCheck(ctx context.Context, filter RunFilter) (RunStats, error)
}

// Scheduler 依 cron 表達式定期觸發檢查，前一次未結束時略過本次。
type Scheduler struct {
	cron    *cron.Cron
	checker Checker
	spec    string
	timeout time.Duration
	log     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler 建立排程器；spec 為空時使用 DefaultSchedule。
func NewScheduler(checker Checker, spec string, timeout time.Duration, log *zap.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		checker: checker,
		spec:    spec,
		timeout: timeout,
		log:     log,
	}
}

// Start 註冊排程並啟動；ctx 結束時進行中的檢查會收到取消。
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("scheduled alert check incomplete", zap.Error(err))
		}
	}); err != nil {
		s.cancel()
		return fmt.Errorf("register schedule %q: %w", s.spec, err)
	}
	s.log.Info("alert scheduler started", zap.String("schedule", s.spec), zap.Duration("run_timeout", s.timeout))
	s.cron.Start()
	return nil
}

// Stop 停止排程並取消進行中的檢查，回傳的 ctx 在所有工作結束後完成。
func (s *Scheduler) Stop() context.Context {
	if s.cancel != nil {
		s.cancel()
	}
	return s.cron.Stop()
}

// RunOnce 以排程逾時執行一次完整檢查。
func (s *Scheduler) RunOnce(ctx context.Context) (RunStats, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.checker.RunCheck(runCtx, RunFilter{})
}
