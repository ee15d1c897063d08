package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncState is the resume point of one (credential, endpoint) feed.
// LastSuccessfulSync never moves backwards.
type SyncState struct {
	ID                 uint           `gorm:"primaryKey"`
	TokenID            uint           `gorm:"not null;uniqueIndex:uq_sync_states_token_endpoint,priority:1"`
	Endpoint           string         `gorm:"type:varchar(64);not null;uniqueIndex:uq_sync_states_token_endpoint,priority:2"`
	LastSyncDate       *time.Time     `gorm:"type:timestamptz"`
	LastSuccessfulSync *time.Time     `gorm:"type:timestamptz"`
	NextSyncDate       *time.Time     `gorm:"type:timestamptz"`
	Cursor             *string        `gorm:"type:text"`
	LastError          *string        `gorm:"type:text"`
	StatsJSON          datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt          time.Time      `gorm:"type:timestamptz"`
	UpdatedAt          time.Time      `gorm:"type:timestamptz"`
}

func (SyncState) TableName() string {
	return "sync_states"
}

// HasSucceeded reports whether the feed has ever been collected successfully.
func (s *SyncState) HasSucceeded() bool {
	return s != nil && s.LastSuccessfulSync != nil && !s.LastSuccessfulSync.IsZero()
}
