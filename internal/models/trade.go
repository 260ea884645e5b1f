package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is an immutable execution record.
type Trade struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;index:idx_trades_account_time,priority:1;index:idx_trades_account_market,priority:1"`
	SessionID uint64 `gorm:"index"`
	Market    string `gorm:"type:varchar(40);not null;index:idx_trades_account_market,priority:2"`

	Action string `gorm:"type:varchar(20);not null"`
	Side   string `gorm:"type:varchar(10);not null"`

	Size        decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Price       decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Fee         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	RealizedPnL decimal.Decimal `gorm:"column:realized_pnl;type:numeric(30,10);not null;default:0"`

	VenueOrderID *string `gorm:"type:varchar(100)"`
	Reason       string  `gorm:"type:text"`

	ExecutedAt time.Time `gorm:"type:timestamptz;not null;index:idx_trades_account_time,priority:2"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (Trade) TableName() string {
	return "trades"
}
