package models

import (
	"time"
)

// Upload records a blob written to storage for a chat media message.
type Upload struct {
	ID              string `gorm:"primaryKey;size:36"`
	UserID          uint   `gorm:"not null;index"`
	ChatID          uint   `gorm:"not null;index"`
	FileType        string `gorm:"size:16"` // image, video, audio, file
	Path            string `gorm:"not null"`
	MimeType        string `gorm:"size:255"`
	Size            int64
	OriginalName    string `gorm:"column:original_name"`
	URL             string `gorm:"column:url"`
	StorageProvider string `gorm:"column:storage_provider;size:32;default:'local'"`
	CreatedAt       time.Time
}

func (Upload) TableName() string {
	return "uploads"
}
