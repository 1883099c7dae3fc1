package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	alertDomain "stock-alert/internal/domain/alert"
	notifyDomain "stock-alert/internal/domain/notify"
)

const channelColumns = `id, channel_name, channel_type, config, is_enabled, is_default, is_active, alert_levels,
       message_template, include_stock_info, include_rule_info, timeout_ms, retry_count, retry_interval_ms,
       success_count, failure_count, last_sent_at, last_status, description, created_at, updated_at`

// ChannelRepo 存取 notification_channels，傳輸設定以 JSONB 存於 config 欄位。
type ChannelRepo struct {
	db *sql.DB
}

func NewChannelRepo(db *sql.DB) *ChannelRepo {
	return &ChannelRepo{db: db}
}

func (r *ChannelRepo) Create(ctx context.Context, ch notifyDomain.Channel) error {
	const q = `
INSERT INTO notification_channels (
    id, channel_name, channel_type, config, is_enabled, is_default, is_active, alert_levels,
    message_template, include_stock_info, include_rule_info, timeout_ms, retry_count, retry_interval_ms,
    success_count, failure_count, last_sent_at, last_status, description, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 0, 0, NULL, '', $15, $16, $17);
`
	cfg, levels, err := encodeChannel(ch)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		ch.ID,
		ch.Name,
		string(ch.Type),
		cfg,
		ch.Enabled,
		ch.IsDefault,
		ch.Active,
		levels,
		ch.MessageTemplate,
		ch.IncludeStockInfo,
		ch.IncludeRuleInfo,
		ch.Policy.Timeout.Milliseconds(),
		ch.Policy.RetryCount,
		ch.Policy.RetryInterval.Milliseconds(),
		ch.Description,
		ch.CreatedAt,
		ch.UpdatedAt,
	)
	return err
}

// Update 覆寫設定欄位；投遞計數只由 RecordDelivery 累加。
func (r *ChannelRepo) Update(ctx context.Context, ch notifyDomain.Channel) error {
	const q = `
UPDATE notification_channels
SET channel_name = $2, channel_type = $3, config = $4, is_enabled = $5, is_default = $6, alert_levels = $7,
    message_template = $8, include_stock_info = $9, include_rule_info = $10,
    timeout_ms = $11, retry_count = $12, retry_interval_ms = $13, description = $14, updated_at = $15
WHERE id = $1 AND is_active;
`
	cfg, levels, err := encodeChannel(ch)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q,
		ch.ID,
		ch.Name,
		string(ch.Type),
		cfg,
		ch.Enabled,
		ch.IsDefault,
		levels,
		ch.MessageTemplate,
		ch.IncludeStockInfo,
		ch.IncludeRuleInfo,
		ch.Policy.Timeout.Milliseconds(),
		ch.Policy.RetryCount,
		ch.Policy.RetryInterval.Milliseconds(),
		ch.Description,
		ch.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, notifyDomain.ErrChannelNotFound)
}

func (r *ChannelRepo) Get(ctx context.Context, id string) (notifyDomain.Channel, error) {
	q := `SELECT ` + channelColumns + ` FROM notification_channels WHERE id = $1;`
	ch, err := scanChannel(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return notifyDomain.Channel{}, notifyDomain.ErrChannelNotFound
	}
	return ch, err
}

// List 回傳所有未刪除的通道，預設通道排最前。
func (r *ChannelRepo) List(ctx context.Context) ([]notifyDomain.Channel, error) {
	return r.query(ctx, `SELECT `+channelColumns+` FROM notification_channels WHERE is_active ORDER BY is_default DESC, created_at;`)
}

// ListEnabled 回傳可投遞的通道。
func (r *ChannelRepo) ListEnabled(ctx context.Context) ([]notifyDomain.Channel, error) {
	return r.query(ctx, `SELECT `+channelColumns+` FROM notification_channels WHERE is_active AND is_enabled ORDER BY is_default DESC, created_at;`)
}

func (r *ChannelRepo) query(ctx context.Context, q string) ([]notifyDomain.Channel, error) {
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notifyDomain.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (r *ChannelRepo) SoftDelete(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE notification_channels SET is_active = FALSE, is_enabled = FALSE, is_default = FALSE, updated_at = $2 WHERE id = $1 AND is_active;`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return expectAffected(res, notifyDomain.ErrChannelNotFound)
}

func (r *ChannelRepo) ClearDefault(ctx context.Context, exceptID string, at time.Time) error {
	const q = `UPDATE notification_channels SET is_default = FALSE, updated_at = $2 WHERE is_default AND id::text <> $1;`
	_, err := r.db.ExecContext(ctx, q, exceptID, at)
	return err
}

// RecordDelivery 以單一 UPDATE 累加成功或失敗次數。
func (r *ChannelRepo) RecordDelivery(ctx context.Context, id string, success bool, at time.Time) error {
	const q = `
UPDATE notification_channels
SET success_count = success_count + CASE WHEN $2 THEN 1 ELSE 0 END,
    failure_count = failure_count + CASE WHEN $2 THEN 0 ELSE 1 END,
    last_sent_at = $3, last_status = $4
WHERE id = $1;
`
	status := notifyDomain.LastStatusFailed
	if success {
		status = notifyDomain.LastStatusSuccess
	}
	res, err := r.db.ExecContext(ctx, q, id, success, at, status)
	if err != nil {
		return err
	}
	return expectAffected(res, notifyDomain.ErrChannelNotFound)
}

func encodeChannel(ch notifyDomain.Channel) (string, string, error) {
	cfg, err := json.Marshal(ch.Transport)
	if err != nil {
		return "", "", fmt.Errorf("encode channel config: %w", err)
	}
	levels := ch.Severities
	if levels == nil {
		levels = []alertDomain.Severity{}
	}
	lv, err := json.Marshal(levels)
	if err != nil {
		return "", "", fmt.Errorf("encode alert levels: %w", err)
	}
	return string(cfg), string(lv), nil
}

func scanChannel(row rowScanner) (notifyDomain.Channel, error) {
	var ch notifyDomain.Channel
	var chType string
	var cfg, levels []byte
	var timeoutMS, intervalMS int64
	var lastSent sql.NullTime
	if err := row.Scan(
		&ch.ID, &ch.Name, &chType, &cfg, &ch.Enabled, &ch.IsDefault, &ch.Active, &levels,
		&ch.MessageTemplate, &ch.IncludeStockInfo, &ch.IncludeRuleInfo, &timeoutMS, &ch.Policy.RetryCount, &intervalMS,
		&ch.Counters.SuccessCount, &ch.Counters.FailureCount, &lastSent, &ch.Counters.LastStatus,
		&ch.Description, &ch.CreatedAt, &ch.UpdatedAt,
	); err != nil {
		return notifyDomain.Channel{}, err
	}
	ch.Type = notifyDomain.ChannelType(chType)
	ch.Policy.Timeout = time.Duration(timeoutMS) * time.Millisecond
	ch.Policy.RetryInterval = time.Duration(intervalMS) * time.Millisecond
	ch.Counters.LastSentAt = timePtr(lastSent)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &ch.Transport); err != nil {
			return notifyDomain.Channel{}, fmt.Errorf("decode channel config: %w", err)
		}
	}
	if len(levels) > 0 {
		if err := json.Unmarshal(levels, &ch.Severities); err != nil {
			return notifyDomain.Channel{}, fmt.Errorf("decode alert levels: %w", err)
		}
	}
	if len(ch.Severities) == 0 {
		ch.Severities = nil
	}
	return ch, nil
}
