package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	alertDomain "stock-alert/internal/domain/alert"
)

const alertColumns = `id, ts_code, stock_name, alert_type, alert_level, alert_message, rule_id, trigger_source,
       risk_value, threshold_value, current_price, position_size, portfolio_weight,
       alert_status, resolved_at, resolution_note, ignored_at, ignore_note, extra_data, created_at, updated_at`

// AlertRepo 存取 risk_alerts。
type AlertRepo struct {
	db *sql.DB
}

func NewAlertRepo(db *sql.DB) *AlertRepo {
	return &AlertRepo{db: db}
}

func (r *AlertRepo) CreateAlert(ctx context.Context, a alertDomain.RiskAlert) error {
	const q = `
INSERT INTO risk_alerts (
    id, ts_code, stock_name, alert_type, alert_level, alert_message, rule_id, trigger_source,
    risk_value, threshold_value, current_price, position_size, portfolio_weight,
    alert_status, resolved_at, resolution_note, ignored_at, ignore_note, extra_data, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21);
`
	extra, err := marshalExtra(a.ExtraData)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q,
		a.ID,
		a.StockCode,
		a.StockName,
		a.AlertType,
		string(a.Severity),
		a.Message,
		nullableString(a.RuleID),
		string(a.Source),
		nullFloat(a.RiskValue),
		nullFloat(a.ThresholdValue),
		nullFloat(a.CurrentPrice),
		nullFloat(a.PositionSize),
		nullFloat(a.PortfolioWeight),
		string(a.Status),
		nullTime(a.ResolvedAt),
		a.ResolvedNote,
		nullTime(a.IgnoredAt),
		a.IgnoredNote,
		extra,
		a.CreatedAt,
		a.UpdatedAt,
	)
	return err
}

// UpdateAlert 覆寫可變欄位與處理紀錄。
func (r *AlertRepo) UpdateAlert(ctx context.Context, a alertDomain.RiskAlert) error {
	const q = `
UPDATE risk_alerts
SET stock_name = $2, alert_level = $3, alert_message = $4, alert_status = $5,
    resolved_at = $6, resolution_note = $7, ignored_at = $8, ignore_note = $9,
    extra_data = $10, updated_at = $11
WHERE id = $1;
`
	extra, err := marshalExtra(a.ExtraData)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, q,
		a.ID,
		a.StockName,
		string(a.Severity),
		a.Message,
		string(a.Status),
		nullTime(a.ResolvedAt),
		a.ResolvedNote,
		nullTime(a.IgnoredAt),
		a.IgnoredNote,
		extra,
		a.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, alertDomain.ErrAlertNotFound)
}

func (r *AlertRepo) GetAlert(ctx context.Context, id string) (alertDomain.RiskAlert, error) {
	q := `SELECT ` + alertColumns + ` FROM risk_alerts WHERE id = $1;`
	a, err := scanAlert(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return alertDomain.RiskAlert{}, alertDomain.ErrAlertNotFound
	}
	return a, err
}

// ListAlerts 依條件查詢，依建立時間新到舊排序；未指定 Limit 時最多 200 筆。
func (r *AlertRepo) ListAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.RiskAlert, error) {
	where, args := alertWhere(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	q := `SELECT ` + alertColumns + ` FROM risk_alerts` + where + fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alertDomain.RiskAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAlerts 以 GROUP BY 分組計數，日期以 UTC 切分，不受 Limit 限制。
func (r *AlertRepo) CountAlerts(ctx context.Context, filter alertDomain.AlertFilter) ([]alertDomain.AlertBucket, error) {
	where, args := alertWhere(filter)
	q := `
SELECT alert_type, alert_level, alert_status, trigger_source,
       to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
FROM risk_alerts` + where + `
GROUP BY alert_type, alert_level, alert_status, trigger_source, day
ORDER BY day;
`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alertDomain.AlertBucket
	for rows.Next() {
		var b alertDomain.AlertBucket
		var severity, status, source string
		if err := rows.Scan(&b.AlertType, &severity, &status, &source, &b.Date, &b.Count); err != nil {
			return nil, err
		}
		b.Severity = alertDomain.Severity(severity)
		b.Status = alertDomain.Status(status)
		b.Source = alertDomain.TriggerSource(source)
		out = append(out, b)
	}
	return out, rows.Err()
}

// alertWhere 產生 WHERE 子句與參數，Limit 不在此處理。
func alertWhere(filter alertDomain.AlertFilter) (string, []interface{}) {
	conds := []string{}
	args := []interface{}{}
	add := func(expr string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, len(args)))
	}
	if filter.StockCode != "" {
		add("ts_code = $%d", filter.StockCode)
	}
	if filter.AlertType != "" {
		add("alert_type = $%d", filter.AlertType)
	}
	if filter.Severity != "" {
		add("alert_level = $%d", string(filter.Severity))
	}
	if filter.Status != "" {
		add("alert_status = $%d", string(filter.Status))
	}
	if filter.Source != "" {
		add("trigger_source = $%d", string(filter.Source))
	}
	if filter.RuleID != "" {
		add("rule_id = $%d", filter.RuleID)
	}
	if filter.Start != nil {
		add("created_at >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("created_at <= $%d", *filter.End)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *AlertRepo) PurgeAlert(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM risk_alerts WHERE id = $1;`, id)
	if err != nil {
		return err
	}
	return expectAffected(res, alertDomain.ErrAlertNotFound)
}

// HasActiveSince 供去重閘門使用，pending 也視為有效。
func (r *AlertRepo) HasActiveSince(ctx context.Context, code, alertType string, since time.Time) (bool, error) {
	const q = `
SELECT EXISTS (
    SELECT 1 FROM risk_alerts
    WHERE ts_code = $1 AND alert_type = $2 AND alert_status IN ('active', 'pending') AND created_at >= $3
);
`
	var ok bool
	if err := r.db.QueryRowContext(ctx, q, code, alertType, since).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func scanAlert(row rowScanner) (alertDomain.RiskAlert, error) {
	var a alertDomain.RiskAlert
	var severity, source, status string
	var ruleID sql.NullString
	var risk, threshold, price, size, weight sql.NullFloat64
	var resolvedAt, ignoredAt sql.NullTime
	var extra []byte
	if err := row.Scan(
		&a.ID, &a.StockCode, &a.StockName, &a.AlertType, &severity, &a.Message, &ruleID, &source,
		&risk, &threshold, &price, &size, &weight,
		&status, &resolvedAt, &a.ResolvedNote, &ignoredAt, &a.IgnoredNote, &extra, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return alertDomain.RiskAlert{}, err
	}
	a.Severity = alertDomain.Severity(severity)
	a.Source = alertDomain.TriggerSource(source)
	a.Status = alertDomain.Status(status)
	if ruleID.Valid {
		id := ruleID.String
		a.RuleID = &id
	}
	a.RiskValue, a.ThresholdValue, a.CurrentPrice = floatPtr(risk), floatPtr(threshold), floatPtr(price)
	a.PositionSize, a.PortfolioWeight = floatPtr(size), floatPtr(weight)
	a.ResolvedAt, a.IgnoredAt = timePtr(resolvedAt), timePtr(ignoredAt)
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &a.ExtraData); err != nil {
			return alertDomain.RiskAlert{}, fmt.Errorf("decode extra_data: %w", err)
		}
	}
	return a, nil
}

func marshalExtra(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode extra_data: %w", err)
	}
	return string(b), nil
}
