package chat

import "time"

// Chat is either a direct conversation between two profiles (DMKey set) or a group.
type Chat struct {
	ID          uint    `gorm:"primaryKey"`
	IsGroup     bool    `gorm:"not null;default:false"`
	Title       *string `gorm:"size:255"`
	Avatar      *string `gorm:"size:500"`
	Description *string `gorm:"size:1000"`
	// DMKey is "<lo>-<hi>" of the two participant profile ids; NULL for groups.
	DMKey     *string `gorm:"column:dm_key;size:64;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Participants []Participant `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
	Messages     []Message     `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE"`
}

func (Chat) TableName() string {
	return "chats"
}
