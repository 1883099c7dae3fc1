package notify

import (
	"errors"
	"testing"
	"time"

	"stock-alert/internal/domain/alert"
)

func TestChannel_Accepts(t *testing.T) {
	all := Channel{}
	for _, s := range alert.Severities {
		if !all.Accepts(s) {
			t.Errorf("empty allow-list should accept %s", s)
		}
	}

	ch := Channel{Severities: []alert.Severity{alert.SeverityHigh, alert.SeverityCritical}}
	if ch.Accepts(alert.SeverityLow) {
		t.Error("low should be filtered")
	}
	if !ch.Accepts(alert.SeverityCritical) {
		t.Error("critical should be accepted")
	}
}

func TestChannel_Validate(t *testing.T) {
	tests := []struct {
		name    string
		ch      Channel
		wantErr bool
	}{
		{"webhook_ok", Channel{Name: "hook", Type: ChannelWebhook, Transport: Transport{URL: "https://example.com/hook"}}, false},
		{"bad_type", Channel{Name: "x", Type: "sms"}, true},
		{"missing_name", Channel{Type: ChannelWebhook, Transport: Transport{URL: "https://example.com"}}, true},
		{"bad_url", Channel{Name: "x", Type: ChannelDingTalk, Transport: Transport{URL: "ftp://example.com"}}, true},
		{"email_missing_to", Channel{Name: "mail", Type: ChannelEmail, Transport: Transport{SMTPHost: "smtp.example.com", SMTPPort: 465, From: "a@example.com"}}, true},
		{"email_ok", Channel{Name: "mail", Type: ChannelEmail, Transport: Transport{SMTPHost: "smtp.example.com", SMTPPort: 465, From: "a@example.com", To: []string{"b@example.com"}}}, false},
		{"telegram_missing_chat", Channel{Name: "tg", Type: ChannelTelegram, Transport: Transport{Token: "t"}}, true},
		{"custom_bad_method", Channel{Name: "c", Type: ChannelCustom, Transport: Transport{URL: "http://example.com", Method: "DELETE"}}, true},
		{"custom_bad_auth", Channel{Name: "c", Type: ChannelCustom, Transport: Transport{URL: "http://example.com", AuthType: "oauth"}}, true},
		{"bad_severity", Channel{Name: "c", Type: ChannelWebhook, Transport: Transport{URL: "http://example.com"}, Severities: []alert.Severity{"urgent"}}, true},
		{"negative_retry", Channel{Name: "c", Type: ChannelWebhook, Transport: Transport{URL: "http://example.com"}, Policy: DeliveryPolicy{RetryCount: -1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ch.Validate()
			if tt.wantErr && !errors.Is(err, ErrInvalidChannel) {
				t.Errorf("expected ErrInvalidChannel, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDeliveryPolicy(t *testing.T) {
	if (DeliveryPolicy{}).Attempts() != 1 {
		t.Error("zero retry count should still attempt once")
	}
	p := DeliveryPolicy{RetryCount: 2}.WithDefaults(DeliveryPolicy{Timeout: time.Second, RetryCount: 3, RetryInterval: time.Second})
	if p.RetryCount != 2 || p.Timeout != time.Second || p.RetryInterval != time.Second {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestCounters_SuccessRate(t *testing.T) {
	if (Counters{}).SuccessRate() != 0 {
		t.Error("no deliveries should report 0")
	}
	c := Counters{SuccessCount: 3, FailureCount: 1}
	if c.SuccessRate() != 75 {
		t.Errorf("expected 75, got %v", c.SuccessRate())
	}
}

func TestEvent_DerivedChangePct(t *testing.T) {
	ev := TestEvent(time.Now())
	got, ok := ev.DerivedChangePct()
	if !ok || got < 4.9999 || got > 5.0001 {
		t.Errorf("expected 5%% deviation, got %v ok=%v", got, ok)
	}

	pct := 6.2
	ev.ChangePct = &pct
	if got, _ := ev.DerivedChangePct(); got != 6.2 {
		t.Errorf("explicit change pct should win, got %v", got)
	}

	if _, ok := (Event{}).DerivedChangePct(); ok {
		t.Error("no prices means no derived change")
	}
}
