package chat

import "time"

type Participant struct {
	ID        uint `gorm:"primaryKey"`
	ChatID    uint `gorm:"not null;uniqueIndex:idx_participant_chat_profile"`
	ProfileID uint `gorm:"not null;uniqueIndex:idx_participant_chat_profile;index"`
	UserID    uint `gorm:"not null;index"`
	IsAdmin   bool `gorm:"not null;default:false"`
	IsMuted   bool `gorm:"not null;default:false"`
	// LastReadAt only moves forward; see ChatRepository.AdvanceLastRead.
	LastReadAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (Participant) TableName() string {
	return "chat_participants"
}
