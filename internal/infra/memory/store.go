package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	alertDomain "stock-alert/internal/domain/alert"
	notifyDomain "stock-alert/internal/domain/notify"
)

// Store 為未設定資料庫時使用的記憶體儲存，實作規則、預警、通道與快照的讀寫。
// 所有計數更新都在同一把鎖內完成。
type Store struct {
	mu        sync.RWMutex
	rules     map[string]alertDomain.Rule
	alerts    map[string]alertDomain.RiskAlert
	channels  map[string]notifyDomain.Channel
	snapshots map[string]alertDomain.Snapshot
}

// NewStore 建立新的記憶體 Store 實例。
func NewStore() *Store {
	return &Store{
		rules:     make(map[string]alertDomain.Rule),
		alerts:    make(map[string]alertDomain.RiskAlert),
		channels:  make(map[string]notifyDomain.Channel),
		snapshots: make(map[string]alertDomain.Snapshot),
	}
}

// PutSnapshot 設定標的的最新快照。
func (s *Store) PutSnapshot(snap alertDomain.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.StockCode] = snap
}

func (s *Store) Snapshot(ctx context.Context, code string) (alertDomain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[code]
	if !ok {
		return alertDomain.Snapshot{}, alertDomain.ErrSnapshotNotFound
	}
	return snap, nil
}

// --- rules ---

func (s *Store) CreateRule(ctx context.Context, r alertDomain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ID] = r
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, r alertDomain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rules[r.ID]
	if !ok || !cur.Active {
		return alertDomain.ErrRuleNotFound
	}
	r.Active = cur.Active
	r.TriggerCount = cur.TriggerCount
	r.LastTriggeredAt = cur.LastTriggeredAt
	r.CreatedAt = cur.CreatedAt
	s.rules[r.ID] = r
	return nil
}

func (s *Store) GetRule(ctx context.Context, id string) (alertDomain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[id]
	if !ok {
		return alertDomain.Rule{}, alertDomain.ErrRuleNotFound
	}
	return r, nil
}

// ListRules 依建立時間新到舊排序。
func (s *Store) ListRules(ctx context.Context, filter alertDomain.RuleFilter) ([]alertDomain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alertDomain.Rule
	for _, r := range s.rules {
		if filter.Match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) SoftDeleteRule(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok || !r.Active {
		return alertDomain.ErrRuleNotFound
	}
	r.Active = false
	r.Enabled = false
	r.UpdatedAt = at
	s.rules[id] = r
	return nil
}

func (s *Store) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return alertDomain.ErrRuleNotFound
	}
	r.TriggerCount++
	r.LastTriggeredAt = &at
	s.rules[id] = r
	return nil
}

// --- alerts ---

func (s *Store) CreateAlert(ctx context.Context, a alertDomain.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ExtraData = maps.Clone(a.ExtraData)
	s.alerts[a.ID] = a
	return nil
}

func (s *Store) GetAlert(ctx context.Context, id string) (alertDomain.RiskAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return alertDomain.RiskAlert{}, alertDomain.ErrAlertNotFound
	}
	a.ExtraData = maps.Clone(a.ExtraData)
	return a, nil
}

func (s *Store) UpdateAlert(ctx context.Context, a alertDomain.RiskAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.alerts[a.ID]
	if !ok {
		return alertDomain.ErrAlertNotFound
	}
	a.CreatedAt = cur.CreatedAt
	a.ExtraData = maps.Clone(a.ExtraData)
	s.alerts[a.ID] = a
	return nil
}

// ListAlerts 依建立時間新到舊排序，未指定 Limit 時最多 200 筆。
func (s *Store) ListAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.RiskAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []alertDomain.RiskAlert
	for _, a := range s.alerts {
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountAlerts 依類型、等級、狀態、來源與日期分組計數，忽略 Limit。
func (s *Store) CountAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.AlertBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[alertDomain.AlertBucket]int)
	for _, a := range s.alerts {
		if filter.Match(a) {
			counts[a.BucketKey()]++
		}
	}
	out := make([]alertDomain.AlertBucket, 0, len(counts))
	for b, n := range counts {
		b.Count = n
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *Store) PurgeAlert(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[id]; !ok {
		return alertDomain.ErrAlertNotFound
	}
	delete(s.alerts, id)
	return nil
}

func (s *Store) HasActiveSince(ctx context.Context, code, alertType string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.alerts {
		if a.StockCode == code && a.AlertType == alertType && a.IsActive() && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// --- channels ---

func (s *Store) Create(ctx context.Context, ch notifyDomain.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels[ch.ID] = cloneChannel(ch)
	return nil
}

// Update 覆寫設定但保留投遞計數。
func (s *Store) Update(ctx context.Context, ch notifyDomain.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.channels[ch.ID]
	if !ok || !cur.Active {
		return notifyDomain.ErrChannelNotFound
	}
	ch.Counters = cur.Counters
	ch.Active = cur.Active
	ch.CreatedAt = cur.CreatedAt
	s.channels[ch.ID] = cloneChannel(ch)
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (notifyDomain.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return notifyDomain.Channel{}, notifyDomain.ErrChannelNotFound
	}
	return cloneChannel(ch), nil
}

func (s *Store) List(ctx context.Context) ([]notifyDomain.Channel, error) {
	return s.listChannels(func(ch notifyDomain.Channel) bool { return ch.Active }), nil
}

func (s *Store) ListEnabled(ctx context.Context) ([]notifyDomain.Channel, error) {
	return s.listChannels(notifyDomain.Channel.Deliverable), nil
}

// listChannels 預設通道排最前，其餘依建立時間。
func (s *Store) listChannels(keep func(notifyDomain.Channel) bool) []notifyDomain.Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []notifyDomain.Channel
	for _, ch := range s.channels {
		if keep(ch) {
			out = append(out, cloneChannel(ch))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *Store) SoftDelete(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok || !ch.Active {
		return notifyDomain.ErrChannelNotFound
	}
	ch.Active = false
	ch.Enabled = false
	ch.IsDefault = false
	ch.UpdatedAt = at
	s.channels[id] = ch
	return nil
}

func (s *Store) ClearDefault(ctx context.Context, exceptID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.channels {
		if id != exceptID && ch.IsDefault {
			ch.IsDefault = false
			ch.UpdatedAt = at
			s.channels[id] = ch
		}
	}
	return nil
}

func (s *Store) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	if !ok {
		return notifyDomain.ErrChannelNotFound
	}
	if success {
		ch.Counters.SuccessCount++
		ch.Counters.LastStatus = notifyDomain.LastStatusSuccess
	} else {
		ch.Counters.FailureCount++
		ch.Counters.LastStatus = notifyDomain.LastStatusFailed
	}
	ch.Counters.LastSentAt = &at
	s.channels[id] = ch
	return nil
}

func cloneChannel(ch notifyDomain.Channel) notifyDomain.Channel {
	ch.Severities = slices.Clone(ch.Severities)
	ch.Transport.Headers = maps.Clone(ch.Transport.Headers)
	ch.Transport.To = slices.Clone(ch.Transport.To)
	return ch
}
