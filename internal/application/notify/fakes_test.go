package notify

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	notifyDomain "stock-alert/internal/domain/notify"
)

type fakeChannelRepo struct {
	mu       sync.Mutex
	channels map[string]notifyDomain.Channel
	records  []deliveryRecord
	listErr  error
}

type deliveryRecord struct {
	id      string
	success bool
}

func newFakeChannelRepo(chs ...notifyDomain.Channel) *fakeChannelRepo {
	r := &fakeChannelRepo{channels: map[string]notifyDomain.Channel{}}
	for _, ch := range chs {
		r.channels[ch.ID] = ch
	}
	return r
}

func (r *fakeChannelRepo) ListEnabled(ctx context.Context) ([]notifyDomain.Channel, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifyDomain.Channel
	for _, ch := range r.sorted() {
		if ch.Enabled && ch.Active {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (r *fakeChannelRepo) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, deliveryRecord{id: id, success: success})
	ch := r.channels[id]
	if success {
		ch.Counters.SuccessCount++
		ch.Counters.LastStatus = notifyDomain.LastStatusSuccess
	} else {
		ch.Counters.FailureCount++
		ch.Counters.LastStatus = notifyDomain.LastStatusFailed
	}
	ch.Counters.LastSentAt = &at
	r.channels[id] = ch
	return nil
}

func (r *fakeChannelRepo) Create(ctx context.Context, ch notifyDomain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.ID] = ch
	return nil
}

func (r *fakeChannelRepo) Update(ctx context.Context, ch notifyDomain.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.channels[ch.ID]
	if !ok {
		return notifyDomain.ErrChannelNotFound
	}
	ch.Counters = existing.Counters
	r.channels[ch.ID] = ch
	return nil
}

func (r *fakeChannelRepo) Get(ctx context.Context, id string) (notifyDomain.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[id]
	if !ok {
		return notifyDomain.Channel{}, notifyDomain.ErrChannelNotFound
	}
	return ch, nil
}

func (r *fakeChannelRepo) List(ctx context.Context) ([]notifyDomain.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []notifyDomain.Channel
	for _, ch := range r.sorted() {
		if ch.Active {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (r *fakeChannelRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channels[id]
	ch.Active = false
	r.channels[id] = ch
	return nil
}

func (r *fakeChannelRepo) ClearDefault(ctx context.Context, exceptID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ch := range r.channels {
		if id != exceptID && ch.IsDefault {
			ch.IsDefault = false
			r.channels[id] = ch
		}
	}
	return nil
}

func (r *fakeChannelRepo) sorted() []notifyDomain.Channel {
	out := make([]notifyDomain.Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// fakeSender 依 URL 決定回應，並記錄每次呼叫。
type fakeSender struct {
	mu    sync.Mutex
	calls map[string]int
	sent  []Message
	fail  map[string]error
	block map[string]chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: map[string]int{}, fail: map[string]error{}, block: map[string]chan struct{}{}}
}

func (s *fakeSender) Send(ctx context.Context, msg Message) error {
	key := msg.URL
	if msg.Transport == TransportSMTP {
		key = "smtp:" + msg.From
	}
	s.mu.Lock()
	s.calls[baseKey(key)]++
	s.sent = append(s.sent, msg)
	err := s.fail[baseKey(key)]
	wait := s.block[baseKey(key)]
	s.mu.Unlock()
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (s *fakeSender) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func baseKey(u string) string {
	k, _, _ := strings.Cut(u, "?")
	return k
}

func webhookChannel(id, url string) notifyDomain.Channel {
	return notifyDomain.Channel{
		ID:        id,
		Name:      id,
		Type:      notifyDomain.ChannelWebhook,
		Transport: notifyDomain.Transport{URL: url},
		Enabled:   true,
		Active:    true,
		Policy:    notifyDomain.DeliveryPolicy{Timeout: time.Second, RetryCount: 1, RetryInterval: time.Millisecond},
	}
}
