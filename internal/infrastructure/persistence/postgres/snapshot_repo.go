package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	alertDomain "stock-alert/internal/domain/alert"
)

// SnapshotRepo 由行情資料表組出各標的最新快照，僅讀取。
type SnapshotRepo struct {
	db *sql.DB
}

// NewSnapshotRepo 建立快照讀取實例。
func NewSnapshotRepo(db *sql.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Snapshot 取最新一筆日 K、每日指標與資金流向；三者皆無時回傳 ErrSnapshotNotFound。
func (r *SnapshotRepo) Snapshot(ctx context.Context, code string) (alertDomain.Snapshot, error) {
	snap := alertDomain.Snapshot{StockCode: code}

	name, err := r.stockName(ctx, code)
	if err != nil {
		return snap, err
	}
	snap.StockName = name

	if snap.Bar, err = r.latestBar(ctx, code); err != nil {
		return snap, fmt.Errorf("latest daily bar: %w", err)
	}
	if snap.Indicator, err = r.latestIndicator(ctx, code); err != nil {
		return snap, fmt.Errorf("latest daily basic: %w", err)
	}
	if snap.MoneyFlow, err = r.latestMoneyFlow(ctx, code); err != nil {
		return snap, fmt.Errorf("latest moneyflow: %w", err)
	}
	if snap.Bar == nil && snap.Indicator == nil && snap.MoneyFlow == nil {
		return snap, alertDomain.ErrSnapshotNotFound
	}
	return snap, nil
}

func (r *SnapshotRepo) stockName(ctx context.Context, code string) (string, error) {
	const q = `SELECT name FROM stock_basic WHERE ts_code = $1;`
	var name string
	err := r.db.QueryRowContext(ctx, q, code).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("stock basic: %w", err)
	}
	return name, nil
}

func (r *SnapshotRepo) latestBar(ctx context.Context, code string) (*alertDomain.Bar, error) {
	const q = `
SELECT trade_date, open, high, low, close, pre_close, change, pct_chg, vol, amount
FROM stock_daily_history
WHERE ts_code = $1
ORDER BY trade_date DESC
LIMIT 1;
`
	var b alertDomain.Bar
	var open, high, low, closePx, pre, chg, pct, vol, amt sql.NullFloat64
	err := r.db.QueryRowContext(ctx, q, code).Scan(&b.TradeDate, &open, &high, &low, &closePx, &pre, &chg, &pct, &vol, &amt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b.Open, b.High, b.Low, b.Close = floatPtr(open), floatPtr(high), floatPtr(low), floatPtr(closePx)
	b.PrevClose, b.Change, b.PctChange = floatPtr(pre), floatPtr(chg), floatPtr(pct)
	b.Volume, b.Amount = floatPtr(vol), floatPtr(amt)
	return &b, nil
}

func (r *SnapshotRepo) latestIndicator(ctx context.Context, code string) (*alertDomain.Indicator, error) {
	const q = `
SELECT trade_date, turnover_rate, volume_ratio, pe, pb, total_mv
FROM stock_daily_basic
WHERE ts_code = $1
ORDER BY trade_date DESC
LIMIT 1;
`
	var ind alertDomain.Indicator
	var turnover, ratio, pe, pb, mv sql.NullFloat64
	err := r.db.QueryRowContext(ctx, q, code).Scan(&ind.TradeDate, &turnover, &ratio, &pe, &pb, &mv)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ind.TurnoverRate, ind.VolumeRatio = floatPtr(turnover), floatPtr(ratio)
	ind.PE, ind.PB, ind.TotalMV = floatPtr(pe), floatPtr(pb), floatPtr(mv)
	return &ind, nil
}

func (r *SnapshotRepo) latestMoneyFlow(ctx context.Context, code string) (*alertDomain.MoneyFlow, error) {
	const q = `
SELECT trade_date, net_mf_amount
FROM stock_moneyflow
WHERE ts_code = $1
ORDER BY trade_date DESC
LIMIT 1;
`
	var mf alertDomain.MoneyFlow
	var net sql.NullFloat64
	err := r.db.QueryRowContext(ctx, q, code).Scan(&mf.TradeDate, &net)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	mf.NetAmount = floatPtr(net)
	return &mf, nil
}
