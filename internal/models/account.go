package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Account struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID string `gorm:"type:varchar(100);not null;uniqueIndex:uq_accounts_owner"`
	Mode   string `gorm:"type:varchar(20);not null;uniqueIndex:uq_accounts_owner"`
	Venue  string `gorm:"type:varchar(40);not null;default:'';uniqueIndex:uq_accounts_owner"`

	StartingEquity decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	CashBalance    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	Equity         decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Account) TableName() string {
	return "accounts"
}
