package models

import (
	"time"

	"gorm.io/datatypes"
)

// Decision is written once per evaluated market per tick, whatever the outcome.
type Decision struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	TickID    string `gorm:"type:varchar(40);index"`
	SessionID uint64 `gorm:"not null;index:idx_decisions_session_time,priority:1"`
	AccountID uint64 `gorm:"index"`
	Market    string `gorm:"type:varchar(40);not null"`

	MarketSnapshot     datatypes.JSON `gorm:"type:jsonb"`
	IndicatorsSnapshot datatypes.JSON `gorm:"type:jsonb"`
	Intent             datatypes.JSON `gorm:"type:jsonb"`
	Confidence         float64        `gorm:"not null;default:0"`
	ActionSummary      string         `gorm:"type:text"`
	RiskResult         datatypes.JSON `gorm:"type:jsonb"`
	ProposedOrder      datatypes.JSON `gorm:"type:jsonb"`

	Executed bool    `gorm:"not null;default:false;index"`
	Error    *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index:idx_decisions_session_time,priority:2"`
}

func (Decision) TableName() string {
	return "decisions"
}
