package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	alertDomain "stock-alert/internal/domain/alert"
	notifyDomain "stock-alert/internal/domain/notify"

	"github.com/DATA-DOG/go-sqlmock"
)

var channelRowColumns = []string{
	"id", "channel_name", "channel_type", "config", "is_enabled", "is_default", "is_active", "alert_levels",
	"message_template", "include_stock_info", "include_rule_info", "timeout_ms", "retry_count", "retry_interval_ms",
	"success_count", "failure_count", "last_sent_at", "last_status", "description", "created_at", "updated_at",
}

func TestChannelRepo_CreateEncodesConfig(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO notification_channels").
		WithArgs(
			"c-1", "ops", "dingtalk",
			`{"url":"https://oapi.example/robot/send?access_token=x","secret":"SEC"}`,
			true, false, true,
			`["high","critical"]`,
			"", true, false,
			int64(10000), 3, int64(5000),
			"", now, now,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewChannelRepo(db).Create(context.Background(), notifyDomain.Channel{
		ID:               "c-1",
		Name:             "ops",
		Type:             notifyDomain.ChannelDingTalk,
		Transport:        notifyDomain.Transport{URL: "https://oapi.example/robot/send?access_token=x", Secret: "SEC"},
		Enabled:          true,
		Active:           true,
		Severities:       []alertDomain.Severity{alertDomain.SeverityHigh, alertDomain.SeverityCritical},
		IncludeStockInfo: true,
		Policy:           notifyDomain.DeliveryPolicy{Timeout: 10 * time.Second, RetryCount: 3, RetryInterval: 5 * time.Second},
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChannelRepo_ListEnabledDecodes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE is_active AND is_enabled")).
		WillReturnRows(sqlmock.NewRows(channelRowColumns).
			AddRow("c-1", "mail", "email", []byte(`{"smtp_host":"smtp.example","smtp_port":465,"from":"a@example.com","to":["b@example.com"],"use_tls":true}`),
				true, true, true, []byte(`[]`), "", true, true, int64(8000), 2, int64(1500),
				4, 1, now, "success", "", now, now))

	list, err := NewChannelRepo(db).ListEnabled(context.Background())
	if err != nil {
		t.Fatalf("list enabled: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(list))
	}
	ch := list[0]
	if ch.Transport.SMTPPort != 465 || !ch.Transport.UseTLS || len(ch.Transport.To) != 1 {
		t.Errorf("transport not decoded: %+v", ch.Transport)
	}
	if ch.Severities != nil {
		t.Errorf("empty level list should decode to nil, got %v", ch.Severities)
	}
	if ch.Policy.Timeout != 8*time.Second || ch.Policy.RetryInterval != 1500*time.Millisecond || ch.Policy.RetryCount != 2 {
		t.Errorf("unexpected policy %+v", ch.Policy)
	}
	if ch.Counters.SuccessCount != 4 || ch.Counters.FailureCount != 1 || ch.Counters.LastSentAt == nil {
		t.Errorf("unexpected counters %+v", ch.Counters)
	}
}

func TestChannelRepo_RecordDeliveryIncrements(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("failure_count = failure_count + CASE WHEN $2 THEN 0 ELSE 1 END")).
		WithArgs("c-1", false, at, "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE notification_channels").
		WithArgs("missing", true, at, "success").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewChannelRepo(db)
	if err := repo.RecordDelivery(context.Background(), "c-1", false, at); err != nil {
		t.Fatalf("record delivery: %v", err)
	}
	if err := repo.RecordDelivery(context.Background(), "missing", true, at); !errors.Is(err, notifyDomain.ErrChannelNotFound) {
		t.Errorf("expected ErrChannelNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChannelRepo_ClearDefaultKeepsException(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("SET is_default = FALSE, updated_at = $2 WHERE is_default AND id::text <> $1")).
		WithArgs("c-2", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewChannelRepo(db).ClearDefault(context.Background(), "c-2", time.Now()); err != nil {
		t.Fatalf("clear default: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChannelRepo_GetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM notification_channels WHERE id").WillReturnRows(sqlmock.NewRows(channelRowColumns))
	if _, err := NewChannelRepo(db).Get(context.Background(), "x"); !errors.Is(err, notifyDomain.ErrChannelNotFound) {
		t.Fatalf("expected ErrChannelNotFound, got %v", err)
	}
}
