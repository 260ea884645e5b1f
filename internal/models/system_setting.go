package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	SettingKindSwitch = "switch"
	SettingKindValue  = "value"
)

// SystemSetting is a runtime knob read by the scheduler, the market data
// client and the live broker. Switches hold a JSON boolean.
type SystemSetting struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement"`
	Key       string         `gorm:"type:varchar(120);not null;uniqueIndex"`
	Kind      string         `gorm:"type:varchar(20);not null;default:'value'"`
	Value     datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedBy string         `gorm:"type:varchar(100);not null;default:''"`
	CreatedAt time.Time      `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
