package models

import "time"

// UsageModel is the database row for one completed (or failed) request.
type UsageModel struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	RequestID        string `gorm:"uniqueIndex;size:64;not null"`
	Model            string `gorm:"index;size:128;not null"`
	ClientIP         string `gorm:"size:64"`
	Streaming        bool
	FinishReason     string `gorm:"size:32"`
	ErrorCategory    string `gorm:"size:32"`
	PromptTokens     int
	CompletionTokens int
	DurationMs       int64
	CreatedAt        time.Time `gorm:"index"`
}

// TableName pins the table name.
func (UsageModel) TableName() string {
	return "usage_records"
}
