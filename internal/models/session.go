package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Session is one running strategy instance bound to an account.
type Session struct {
	ID         uint64 `gorm:"primaryKey;autoIncrement"`
	UserID     string `gorm:"type:varchar(100);not null;index"`
	Name       string `gorm:"type:varchar(100)"`
	StrategyID uint64 `gorm:"not null;index"`
	AccountID  uint64 `gorm:"index"`

	Mode   string `gorm:"type:varchar(20);not null;default:'simulated';index"`
	Status string `gorm:"type:varchar(20);not null;default:'stopped';index"`
	Venue  string `gorm:"type:varchar(40);not null;default:'hyperliquid'"`

	Markets        datatypes.JSON `gorm:"type:jsonb;not null"`
	CadenceSeconds int            `gorm:"not null;default:300"`

	StartedAt  *time.Time `gorm:"type:timestamptz"`
	LastTickAt *time.Time `gorm:"type:timestamptz;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Session) TableName() string {
	return "sessions"
}

// MarketList decodes the ordered target markets. Malformed JSON yields nil.
func (s Session) MarketList() []string {
	if len(s.Markets) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(s.Markets, &out); err != nil {
		return nil
	}
	return out
}

func (s Session) Cadence() time.Duration {
	return time.Duration(s.CadenceSeconds) * time.Second
}

// AccountVenue is the venue component of the owning account key. Simulated
// and competition books are venue-independent.
func (s Session) AccountVenue() string {
	if IsSimulatedMode(s.Mode) {
		return ""
	}
	return s.Venue
}
