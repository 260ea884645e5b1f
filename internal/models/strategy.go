package models

import (
	"time"

	"gorm.io/datatypes"
)

// Strategy holds the reasoning prompt and filter configuration, read fresh every tick.
type Strategy struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	UserID        string `gorm:"type:varchar(100);index"`
	Name          string `gorm:"type:varchar(100);not null"`
	ModelProvider string `gorm:"type:varchar(40);not null"`
	ModelName     string `gorm:"type:varchar(100);not null"`
	Prompt        string `gorm:"type:text"`

	Filters datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Strategy) TableName() string {
	return "strategies"
}
