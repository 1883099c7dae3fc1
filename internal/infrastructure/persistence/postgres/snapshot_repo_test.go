package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	alertDomain "stock-alert/internal/domain/alert"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSnapshot_ReadsLatestRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT name FROM stock_basic").
		WithArgs("000001.SZ").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("平安銀行"))
	mock.ExpectQuery("FROM stock_daily_history").
		WithArgs("000001.SZ").
		WillReturnRows(sqlmock.NewRows([]string{"trade_date", "open", "high", "low", "close", "pre_close", "change", "pct_chg", "vol", "amount"}).
			AddRow(day, 10.0, 11.5, 9.9, 11.3, 10.64, 0.66, 6.2, 120000.0, nil))
	mock.ExpectQuery("FROM stock_daily_basic").
		WithArgs("000001.SZ").
		WillReturnRows(sqlmock.NewRows([]string{"trade_date", "turnover_rate", "volume_ratio", "pe", "pb", "total_mv"}).
			AddRow(day, 1.2, 2.5, nil, 0.8, 2200000.0))
	mock.ExpectQuery("FROM stock_moneyflow").
		WithArgs("000001.SZ").
		WillReturnRows(sqlmock.NewRows([]string{"trade_date", "net_mf_amount"}))

	snap, err := NewSnapshotRepo(db).Snapshot(context.Background(), "000001.SZ")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.StockName != "平安銀行" {
		t.Errorf("unexpected name %q", snap.StockName)
	}
	if snap.Bar == nil || snap.Bar.PctChange == nil || *snap.Bar.PctChange != 6.2 {
		t.Fatalf("unexpected bar %+v", snap.Bar)
	}
	if snap.Bar.Amount != nil {
		t.Error("NULL amount should stay nil")
	}
	if snap.Indicator == nil || snap.Indicator.PE != nil || *snap.Indicator.VolumeRatio != 2.5 {
		t.Fatalf("unexpected indicator %+v", snap.Indicator)
	}
	if snap.MoneyFlow != nil {
		t.Error("missing moneyflow row should leave MoneyFlow nil")
	}
	if _, ok := snap.Metric(alertDomain.RuleMoneyFlow); ok {
		t.Error("money flow metric should be unavailable")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSnapshot_NoRowsIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT name FROM stock_basic").WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectQuery("FROM stock_daily_history").WillReturnRows(sqlmock.NewRows([]string{"trade_date"}))
	mock.ExpectQuery("FROM stock_daily_basic").WillReturnRows(sqlmock.NewRows([]string{"trade_date"}))
	mock.ExpectQuery("FROM stock_moneyflow").WillReturnRows(sqlmock.NewRows([]string{"trade_date"}))

	_, err = NewSnapshotRepo(db).Snapshot(context.Background(), "999999.SZ")
	if !errors.Is(err, alertDomain.ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestSnapshot_QueryErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("new sqlmock: %v", err)
	}
	defer db.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT name FROM stock_basic").WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("x"))
	mock.ExpectQuery("FROM stock_daily_history").WillReturnError(boom)

	_, err = NewSnapshotRepo(db).Snapshot(context.Background(), "000001.SZ")
	if !errors.Is(err, boom) || errors.Is(err, alertDomain.ErrSnapshotNotFound) {
		t.Fatalf("expected wrapped query error, got %v", err)
	}
}
