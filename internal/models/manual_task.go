package models

import "time"

const (
	ManualTaskPending    = "pending"
	ManualTaskProcessing = "processing"
	ManualTaskCompleted  = "completed"
	ManualTaskFailed     = "failed"
)

// ManualTask is an on-demand refresh requested from the dashboard.
type ManualTask struct {
	ID           uint       `gorm:"primaryKey"`
	TokenID      uint       `gorm:"not null;index"`
	TaskType     string     `gorm:"type:varchar(50);not null"`
	Status       string     `gorm:"type:varchar(20);not null;default:pending;index"`
	CreatedAt    time.Time  `gorm:"type:timestamptz"`
	StartedAt    *time.Time `gorm:"type:timestamptz"`
	FinishedAt   *time.Time `gorm:"type:timestamptz"`
	ErrorMessage *string    `gorm:"type:text"`
}

func (ManualTask) TableName() string {
	return "manual_tasks"
}
