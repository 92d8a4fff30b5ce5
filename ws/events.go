package ws

import (
	"encoding/json"
	"time"

	"social_backend/internal/services/dto"
	"social_backend/pkg/apperrors"
)

// Client events.
const (
	EventJoinChat      = "join_chat"
	EventLeaveChat     = "leave_chat"
	EventSendMessage   = "send_message"
	EventTyping        = "typing"
	EventMarkRead      = "mark_read"
	EventMarkAllRead   = "mark_all_read"
	EventEditMessage   = "edit_message"
	EventDeleteMessage = "delete_message"
	EventForward       = "forward_message"
	EventSendMedia     = "send_media"
	EventDelivered     = "delivered"
	EventGetUserStatus = "get_user_status"
)

// Server events.
const (
	EventAck              = "ack"
	EventError            = "error"
	EventNewMessage       = "new_message"
	EventChatUpdated      = "chat_updated"
	EventUserTyping       = "user_typing"
	EventMessageRead      = "message_read"
	EventAllMessagesRead  = "all_messages_read"
	EventMessageEdited    = "message_edited"
	EventMessageDeleted   = "message_deleted"
	EventMessageDelivered = "message_delivered"
	EventUserOnline       = "user_online"
	EventUserOffline      = "user_offline"
	EventUserStatus       = "user_status"
)

// inboundFrame is what a client sends. ID is echoed back verbatim, so it may
// be a number or a string.
type inboundFrame struct {
	Event string          `json:"event"`
	ID    json.RawMessage `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string          `json:"event"`
	ID    json.RawMessage `json:"id,omitempty"`
	Data  interface{}     `json:"data"`
}

type ackData struct {
	Event  string      `json:"event"`
	Status string      `json:"status"`
	Result interface{} `json:"result,omitempty"`
}

type errorData struct {
	Event   string              `json:"event"`
	Code    apperrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details interface{}         `json:"details,omitempty"`
}

// --- client payloads ---

type chatPayload struct {
	ChatID uint `json:"chatId" validate:"required,gt=0"`
}

type sendMessagePayload struct {
	ChatID    uint    `json:"chatId" validate:"required,gt=0"`
	Text      *string `json:"text" validate:"omitempty,max=5000"`
	ReplyToID *uint   `json:"replyToId,omitempty" validate:"omitempty,gt=0"`
	SkipSelf  bool    `json:"skipSelf,omitempty"`
}

type typingPayload struct {
	ChatID   uint   `json:"chatId" validate:"required,gt=0"`
	Typing   bool   `json:"typing"`
	UserName string `json:"userName,omitempty" validate:"max=255"`
}

type messagePayload struct {
	ChatID    uint `json:"chatId" validate:"required,gt=0"`
	MessageID uint `json:"messageId" validate:"required,gt=0"`
}

type editMessagePayload struct {
	ChatID    uint   `json:"chatId,omitempty"`
	MessageID uint   `json:"messageId" validate:"required,gt=0"`
	Text      string `json:"text" validate:"required,min=1,max=5000"`
}

type deleteMessagePayload struct {
	ChatID    uint `json:"chatId,omitempty"`
	MessageID uint `json:"messageId" validate:"required,gt=0"`
}

type forwardPayload struct {
	TargetChatID uint `json:"targetChatId" validate:"required,gt=0"`
	MessageID    uint `json:"messageId" validate:"required,gt=0"`
}

type sendMediaPayload struct {
	ChatID    uint    `json:"chatId" validate:"required,gt=0"`
	MediaURL  string  `json:"mediaUrl" validate:"required,max=1000"`
	MediaType string  `json:"mediaType" validate:"required,is-media-type"`
	Text      *string `json:"text,omitempty" validate:"omitempty,max=5000"`
}

type userStatusPayload struct {
	UserID uint `json:"userId" validate:"required,gt=0"`
}

// --- broadcast payloads ---

type userOnlineEvent struct {
	UserID    uint      `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

type userOfflineEvent struct {
	UserID   uint      `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

type chatUpdatedEvent struct {
	ChatID      uint                 `json:"chatId"`
	LastMessage *dto.MessageResponse `json:"lastMessage"`
}

type userTypingEvent struct {
	ChatID   uint   `json:"chatId"`
	UserID   uint   `json:"userId"`
	Typing   bool   `json:"typing"`
	UserName string `json:"userName,omitempty"`
}

type joinedResult struct {
	ChatID uint `json:"chatId"`
}
