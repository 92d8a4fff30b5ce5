package dto

import (
	"time"
)

// Request structures

type CreateChatRequest struct {
	IsGroup        bool    `json:"isGroup"`
	ParticipantIDs []uint  `json:"participantIds" validate:"required,min=1,dive,gt=0"`
	Title          *string `json:"title,omitempty" validate:"omitempty,max=255"`
	Avatar         *string `json:"avatar,omitempty" validate:"omitempty,max=500"`
	Description    *string `json:"description,omitempty" validate:"omitempty,max=1000"`
}

type SendMessageRequest struct {
	Text      *string `json:"text,omitempty" validate:"omitempty,max=5000"`
	ReplyToID *uint   `json:"replyToId,omitempty" validate:"omitempty,gt=0"`
	MediaURL  *string `json:"mediaUrl,omitempty" validate:"omitempty,max=1000"`
	MediaType *string `json:"mediaType,omitempty" validate:"omitempty,is-media-type"`
}

type ReplyMessageRequest struct {
	ReplyToID uint   `json:"replyToId" validate:"required,gt=0"`
	Text      string `json:"text" validate:"required,min=1,max=5000"`
}

type EditMessageRequest struct {
	Text string `json:"text" validate:"required,min=1,max=5000"`
}

type ForwardMessageRequest struct {
	TargetChatID uint `json:"targetChatId" validate:"required,gt=0"`
	MessageID    uint `json:"messageId" validate:"required,gt=0"`
}

type AddParticipantsRequest struct {
	ProfileIDs []uint `json:"profileIds" validate:"required,min=1,dive,gt=0"`
}

type SearchChatsQuery struct {
	Q string `form:"q" validate:"required,min=1,max=100"`
}

// Response structures

type ParticipantResponse struct {
	ProfileID  uint       `json:"profileId"`
	UserID     uint       `json:"userId"`
	Username   string     `json:"username"`
	Avatar     *string    `json:"avatar,omitempty"`
	IsAdmin    bool       `json:"isAdmin"`
	IsMuted    bool       `json:"isMuted"`
	LastReadAt *time.Time `json:"lastReadAt,omitempty"`
	JoinedAt   time.Time  `json:"joinedAt"`
}

type ReplyPreview struct {
	ID         uint    `json:"id"`
	Text       *string `json:"text"`
	SenderID   uint    `json:"senderId"`
	SenderName string  `json:"senderName"`
}

type ReadByEntry struct {
	ID     uint      `json:"id"`
	Name   string    `json:"name"`
	ReadAt time.Time `json:"readAt"`
}

type MessageResponse struct {
	ID           uint          `json:"id"`
	ChatID       uint          `json:"chatId"`
	SenderID     uint          `json:"senderId"`
	SenderUserID uint          `json:"senderUserId"`
	SenderName   string        `json:"senderName"`
	SenderAvatar *string       `json:"senderAvatar,omitempty"`
	Text         *string       `json:"text"`
	MediaURL     *string       `json:"mediaUrl"`
	MediaType    *string       `json:"mediaType"`
	ReplyToID    *uint         `json:"replyToId"`
	ReplyTo      *ReplyPreview `json:"replyTo"`
	IsForwarded  bool          `json:"isForwarded"`
	IsDeleted    bool          `json:"isDeleted"`
	IsEdited     bool          `json:"isEdited"`
	EditCount    int           `json:"editCount"`
	IsDelivered  bool          `json:"isDelivered"`
	ReadBy       []ReadByEntry `json:"readBy"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	DeletedAt    *time.Time    `json:"deletedAt,omitempty"`
}

type ChatResponse struct {
	ID           uint                  `json:"id"`
	IsGroup      bool                  `json:"isGroup"`
	Title        *string               `json:"title"`
	Avatar       *string               `json:"avatar"`
	Description  *string               `json:"description"`
	Participants []ParticipantResponse `json:"participants"`
	LastMessage  *MessageResponse      `json:"lastMessage"`
	UnreadCount  int64                 `json:"unreadCount"`
	IsMuted      bool                  `json:"isMuted"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

type ChatDetailsResponse struct {
	ChatResponse
	MessageCount int64 `json:"messageCount"`
}

// PageResponse is the paginated list envelope.
type PageResponse[T any] struct {
	Data  []T   `json:"data"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// ReadReceipt describes one markRead. Inserted is false when the receipt
// already existed or the message was the reader's own.
type ReadReceipt struct {
	ChatID       uint      `json:"chatId"`
	MessageID    uint      `json:"messageId"`
	ReaderID     uint      `json:"readerProfileId"`
	ReaderUserID uint      `json:"readerId"`
	ReadAt       time.Time `json:"readAt"`
	Inserted     bool      `json:"-"`
}

type ReadAllResult struct {
	ChatID       uint      `json:"chatId"`
	ReaderID     uint      `json:"readerProfileId"`
	ReaderUserID uint      `json:"readerId"`
	Count        int       `json:"count"`
	ReadAt       time.Time `json:"readAt"`
}

type DeliveryReceipt struct {
	ChatID       uint `json:"chatId"`
	MessageID    uint `json:"messageId"`
	SenderUserID uint `json:"senderUserId"`
	UserID       uint `json:"userId"`
}

type UnreadCountResponse struct {
	ChatID uint  `json:"chatId"`
	Count  int64 `json:"count"`
}

type AddParticipantsResponse struct {
	ChatID uint `json:"chatId"`
	Added  int  `json:"added"`
}

type MuteResponse struct {
	ChatID  uint `json:"chatId"`
	IsMuted bool `json:"isMuted"`
}

type PresenceResponse struct {
	UserID   uint       `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

type MessageActionResponse struct {
	Message string `json:"message"`
}
