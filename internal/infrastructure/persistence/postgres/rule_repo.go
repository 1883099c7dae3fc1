package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	alertDomain "stock-alert/internal/domain/alert"

	"github.com/shopspring/decimal"
)

const ruleColumns = `id, rule_name, ts_code, stock_name, rule_type, comparison_operator, threshold_value,
       alert_level, alert_message_template, description, is_enabled, is_active,
       trigger_count, last_triggered_at, created_at, updated_at`

// RuleRepo 存取 alert_rules。
type RuleRepo struct {
	db *sql.DB
}

func NewRuleRepo(db *sql.DB) *RuleRepo {
	return &RuleRepo{db: db}
}

func (r *RuleRepo) CreateRule(ctx context.Context, rule alertDomain.Rule) error {
	const q = `
INSERT INTO alert_rules (
    id, rule_name, ts_code, stock_name, rule_type, comparison_operator, threshold_value,
    alert_level, alert_message_template, description, is_enabled, is_active,
    trigger_count, last_triggered_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, NULL, $13, $14);
`
	_, err := r.db.ExecContext(ctx, q,
		rule.ID,
		rule.Name,
		rule.StockCode,
		rule.StockName,
		string(rule.Type),
		string(rule.Operator),
		rule.Threshold,
		string(rule.Severity),
		rule.MessageTemplate,
		rule.Description,
		rule.Enabled,
		rule.Active,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	return err
}

// UpdateRule 只更新設定欄位，trigger_count 與 last_triggered_at 由 RecordTrigger 維護。
func (r *RuleRepo) UpdateRule(ctx context.Context, rule alertDomain.Rule) error {
	const q = `
UPDATE alert_rules
SET rule_name = $2, ts_code = $3, stock_name = $4, rule_type = $5, comparison_operator = $6,
    threshold_value = $7, alert_level = $8, alert_message_template = $9, description = $10,
    is_enabled = $11, updated_at = $12
WHERE id = $1 AND is_active;
`
	res, err := r.db.ExecContext(ctx, q,
		rule.ID,
		rule.Name,
		rule.StockCode,
		rule.StockName,
		string(rule.Type),
		string(rule.Operator),
		rule.Threshold,
		string(rule.Severity),
		rule.MessageTemplate,
		rule.Description,
		rule.Enabled,
		rule.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return expectAffected(res, alertDomain.ErrRuleNotFound)
}

func (r *RuleRepo) GetRule(ctx context.Context, id string) (alertDomain.Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM alert_rules WHERE id = $1;`
	rule, err := scanRule(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return alertDomain.Rule{}, alertDomain.ErrRuleNotFound
	}
	return rule, err
}

// ListRules 依條件查詢未刪除的規則，依建立時間新到舊排序。
func (r *RuleRepo) ListRules(ctx context.Context, filter alertDomain.RuleFilter) ([]alertDomain.Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM alert_rules`
	conds := []string{"is_active"}
	args := []interface{}{}
	if filter.EnabledOnly {
		conds = append(conds, "is_enabled")
	}
	if filter.Severity != "" {
		args = append(args, string(filter.Severity))
		conds = append(conds, fmt.Sprintf("alert_level = $%d", len(args)))
	}
	if len(filter.StockCodes) > 0 {
		conds = append(conds, inClause("ts_code", filter.StockCodes, &args))
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		conds = append(conds, inClause("rule_type", types, &args))
	}
	q += " WHERE " + strings.Join(conds, " AND ") + " ORDER BY created_at DESC"

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alertDomain.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (r *RuleRepo) SoftDeleteRule(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE alert_rules SET is_active = FALSE, is_enabled = FALSE, updated_at = $2 WHERE id = $1 AND is_active;`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return expectAffected(res, alertDomain.ErrRuleNotFound)
}

// RecordTrigger 以單一 UPDATE 累加觸發次數，並行觸發不會遺失計數。
func (r *RuleRepo) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE alert_rules SET trigger_count = trigger_count + 1, last_triggered_at = $2 WHERE id = $1;`
	res, err := r.db.ExecContext(ctx, q, id, at)
	if err != nil {
		return err
	}
	return expectAffected(res, alertDomain.ErrRuleNotFound)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (alertDomain.Rule, error) {
	var (
		rule                   alertDomain.Rule
		ruleType, op, severity string
		threshold              decimal.Decimal
		lastTriggered          sql.NullTime
	)
	if err := row.Scan(
		&rule.ID, &rule.Name, &rule.StockCode, &rule.StockName, &ruleType, &op, &threshold,
		&severity, &rule.MessageTemplate, &rule.Description, &rule.Enabled, &rule.Active,
		&rule.TriggerCount, &lastTriggered, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return alertDomain.Rule{}, err
	}
	rule.Type = alertDomain.RuleType(ruleType)
	rule.Operator = alertDomain.Operator(op)
	rule.Severity = alertDomain.Severity(severity)
	rule.Threshold = threshold
	rule.LastTriggeredAt = timePtr(lastTriggered)
	return rule, nil
}

func expectAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
