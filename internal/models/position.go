package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Position struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	AccountID uint64 `gorm:"not null;uniqueIndex:uq_positions_account_market"`
	Market    string `gorm:"type:varchar(40);not null;uniqueIndex:uq_positions_account_market"`

	Side string `gorm:"type:varchar(10);not null"`

	Size          decimal.Decimal  `gorm:"type:numeric(30,10);not null;default:0"`
	AvgEntryPrice decimal.Decimal  `gorm:"type:numeric(30,10);not null;default:0"`
	UnrealizedPnL decimal.Decimal  `gorm:"column:unrealized_pnl;type:numeric(30,10);not null;default:0"`
	Leverage      *decimal.Decimal `gorm:"type:numeric(10,4)"`
	PeakPrice     *decimal.Decimal `gorm:"type:numeric(30,10)"`

	OpenedAt  time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}

// Notional is size valued at price.
func (p Position) Notional(price decimal.Decimal) decimal.Decimal {
	return p.Size.Mul(price)
}

// MarkPnL is the unrealized PnL of the position at price.
func (p Position) MarkPnL(price decimal.Decimal) decimal.Decimal {
	diff := price.Sub(p.AvgEntryPrice)
	if p.Side == SideShort {
		diff = diff.Neg()
	}
	return diff.Mul(p.Size)
}
