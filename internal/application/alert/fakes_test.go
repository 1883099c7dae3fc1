package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	notifyApp "stock-alert/internal/application/notify"
	alertDomain "stock-alert/internal/domain/alert"
	notifyDomain "stock-alert/internal/domain/notify"

	"github.com/shopspring/decimal"
)

type fakeRuleRepo struct {
	mu    sync.Mutex
	rules map[string]alertDomain.Rule
	order []string
}

func newFakeRuleRepo(rules ...alertDomain.Rule) *fakeRuleRepo {
	f := &fakeRuleRepo{rules: map[string]alertDomain.Rule{}}
	for _, r := range rules {
		f.rules[r.ID] = r
		f.order = append(f.order, r.ID)
	}
	return f
}

func (f *fakeRuleRepo) CreateRule(ctx context.Context, r alertDomain.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[r.ID] = r
	f.order = append(f.order, r.ID)
	return nil
}

func (f *fakeRuleRepo) UpdateRule(ctx context.Context, r alertDomain.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rules[r.ID]
	if !ok {
		return alertDomain.ErrRuleNotFound
	}
	r.TriggerCount = cur.TriggerCount
	r.LastTriggeredAt = cur.LastTriggeredAt
	f.rules[r.ID] = r
	return nil
}

func (f *fakeRuleRepo) GetRule(ctx context.Context, id string) (alertDomain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return alertDomain.Rule{}, alertDomain.ErrRuleNotFound
	}
	return r, nil
}

func (f *fakeRuleRepo) ListRules(ctx context.Context, filter alertDomain.RuleFilter) ([]alertDomain.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alertDomain.Rule
	for _, id := range f.order {
		if r := f.rules[id]; filter.Match(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleRepo) SoftDeleteRule(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return alertDomain.ErrRuleNotFound
	}
	r.Active = false
	r.UpdatedAt = at
	f.rules[id] = r
	return nil
}

func (f *fakeRuleRepo) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return alertDomain.ErrRuleNotFound
	}
	r.TriggerCount++
	r.LastTriggeredAt = &at
	f.rules[id] = r
	return nil
}

type fakeAlertRepo struct {
	mu        sync.Mutex
	alerts    map[string]alertDomain.RiskAlert
	order     []string
	createErr error
	gateErr   error
}

func newFakeAlertRepo(alerts ...alertDomain.RiskAlert) *fakeAlertRepo {
	f := &fakeAlertRepo{alerts: map[string]alertDomain.RiskAlert{}}
	for _, a := range alerts {
		f.alerts[a.ID] = a
		f.order = append(f.order, a.ID)
	}
	return f
}

func (f *fakeAlertRepo) CreateAlert(ctx context.Context, a alertDomain.RiskAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.alerts[a.ID] = a
	f.order = append(f.order, a.ID)
	return nil
}

func (f *fakeAlertRepo) GetAlert(ctx context.Context, id string) (alertDomain.RiskAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.alerts[id]
	if !ok {
		return alertDomain.RiskAlert{}, alertDomain.ErrAlertNotFound
	}
	return a, nil
}

func (f *fakeAlertRepo) UpdateAlert(ctx context.Context, a alertDomain.RiskAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.alerts[a.ID]; !ok {
		return alertDomain.ErrAlertNotFound
	}
	f.alerts[a.ID] = a
	return nil
}

func (f *fakeAlertRepo) ListAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.RiskAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alertDomain.RiskAlert
	for _, id := range f.order {
		a, ok := f.alerts[id]
		if ok && filter.Match(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlertRepo) CountAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.AlertBucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[alertDomain.AlertBucket]int{}
	for _, a := range f.alerts {
		if filter.Match(a) {
			counts[a.BucketKey()]++
		}
	}
	var out []alertDomain.AlertBucket
	for b, n := range counts {
		b.Count = n
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeAlertRepo) PurgeAlert(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.alerts[id]; !ok {
		return alertDomain.ErrAlertNotFound
	}
	delete(f.alerts, id)
	return nil
}

func (f *fakeAlertRepo) HasActiveSince(ctx context.Context, code, alertType string, since time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gateErr != nil {
		return false, f.gateErr
	}
	for _, a := range f.alerts {
		if a.StockCode == code && a.AlertType == alertType && a.IsActive() && !a.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAlertRepo) all() []alertDomain.RiskAlert {
	list, _ := f.ListAlerts(context.Background(), alertDomain.AlertFilter{})
	return list
}

type fakeSnapshots struct {
	mu    sync.Mutex
	snaps map[string]alertDomain.Snapshot
	errs  map[string]error
	calls int
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{snaps: map[string]alertDomain.Snapshot{}, errs: map[string]error{}}
}

func (f *fakeSnapshots) Snapshot(ctx context.Context, code string) (alertDomain.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[code]; ok {
		return alertDomain.Snapshot{}, err
	}
	s, ok := f.snaps[code]
	if !ok {
		return alertDomain.Snapshot{}, alertDomain.ErrSnapshotNotFound
	}
	return s, nil
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []notifyDomain.Event
	err    error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, ev notifyDomain.Event) (notifyApp.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if f.err != nil {
		return notifyApp.Result{}, f.err
	}
	return notifyApp.Result{Success: true, SentCount: 1, SuccessCount: 1}, nil
}

var errBoom = errors.New("boom")

func pctRule(id, code string, threshold string) alertDomain.Rule {
	return alertDomain.Rule{
		ID:        id,
		Name:      "Big move " + code,
		StockCode: code,
		StockName: "平安銀行",
		Type:      alertDomain.RulePercentChange,
		Operator:  alertDomain.OpGTE,
		Threshold: decimal.RequireFromString(threshold),
		Severity:  alertDomain.SeverityHigh,
		Enabled:   true,
		Active:    true,
	}
}

func pctSnapshot(code string, pct, close float64) alertDomain.Snapshot {
	return alertDomain.Snapshot{
		StockCode: code,
		StockName: "平安銀行",
		Bar: &alertDomain.Bar{
			TradeDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Close:     alertDomain.Float(close),
			PctChange: alertDomain.Float(pct),
		},
	}
}
