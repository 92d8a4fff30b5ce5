package chat

import "time"

type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
	MediaTypeAudio MediaType = "audio"
	MediaTypeFile  MediaType = "file"
)

func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeImage, MediaTypeVideo, MediaTypeAudio, MediaTypeFile:
		return true
	}
	return false
}

// DeletedPlaceholder replaces the text of a soft-deleted message.
const DeletedPlaceholder = "Message deleted"

type Message struct {
	ID           uint       `gorm:"primaryKey"`
	ChatID       uint       `gorm:"not null;index:idx_message_chat_created,priority:1"`
	SenderID     uint       `gorm:"not null;index"`
	SenderUserID uint       `gorm:"not null"`
	Text         *string    `gorm:"type:text"`
	MediaURL     *string    `gorm:"size:1000"`
	MediaType    *MediaType `gorm:"size:16"`
	// ReplyToID forms a DAG: a message can only reply to an already existing one.
	ReplyToID   *uint     `gorm:"index"`
	IsForwarded bool      `gorm:"not null;default:false"`
	IsDeleted   bool      `gorm:"not null;default:false"`
	IsEdited    bool      `gorm:"not null;default:false"`
	EditCount   int       `gorm:"not null;default:0"`
	IsDelivered bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"index:idx_message_chat_created,priority:2"`
	UpdatedAt   time.Time
	DeletedAt   *time.Time

	ReplyTo *Message      `gorm:"foreignKey:ReplyToID;constraint:OnDelete:SET NULL"`
	Reads   []MessageRead `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

func (Message) TableName() string {
	return "messages"
}
