package models

import "time"

const (
	CollectionStatusSuccess = "success"
	CollectionStatusError   = "error"
)

// CollectionLog is one row per collection attempt. Never updated.
type CollectionLog struct {
	ID           uint      `gorm:"primaryKey"`
	TokenID      uint      `gorm:"not null;index:idx_collection_logs_token_endpoint,priority:1"`
	Marketplace  string    `gorm:"type:varchar(50);not null"`
	Endpoint     string    `gorm:"type:varchar(64);not null;index:idx_collection_logs_token_endpoint,priority:2"`
	Status       string    `gorm:"type:varchar(20);not null"`
	RecordsCount int       `gorm:"not null;default:0"`
	ErrorMessage *string   `gorm:"type:text"`
	StartedAt    time.Time `gorm:"type:timestamptz;not null"`
	FinishedAt   time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt    time.Time `gorm:"type:timestamptz;index"`
}

func (CollectionLog) TableName() string {
	return "collection_logs"
}
