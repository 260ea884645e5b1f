package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EquityPoint struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;index:idx_equity_account_time,priority:1"`
	SessionID uint64 `gorm:"index"`

	Equity        decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	CashBalance   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	UnrealizedPnL decimal.Decimal `gorm:"column:unrealized_pnl;type:numeric(30,10);not null"`

	RecordedAt time.Time `gorm:"type:timestamptz;not null;index:idx_equity_account_time,priority:2"`
}

func (EquityPoint) TableName() string {
	return "equity_points"
}
