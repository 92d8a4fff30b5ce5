package chat

import "time"

type MessageRead struct {
	ID        uint `gorm:"primaryKey"`
	MessageID uint `gorm:"not null;uniqueIndex:idx_message_read_reader"`
	ReaderID  uint `gorm:"not null;uniqueIndex:idx_message_read_reader;index"`
	ReadAt    time.Time
}

func (MessageRead) TableName() string {
	return "message_reads"
}
