package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"social_backend/internal/presence"
	"social_backend/internal/services/dto"
	"social_backend/internal/validator"
	"social_backend/pkg/apperrors"
)

type eventHandler struct {
	// status is the ack status. Empty means the handler's result is sent as
	// a user_status frame instead of an ack.
	status string
	handle func(h *Hub, c *Client, data json.RawMessage) (interface{}, error)
}

var eventHandlers map[string]eventHandler

func init() {
	eventHandlers = map[string]eventHandler{
		EventJoinChat:      {"joined", (*Hub).handleJoinChat},
		EventLeaveChat:     {"left", (*Hub).handleLeaveChat},
		EventSendMessage:   {"sent", (*Hub).handleSendMessage},
		EventTyping:        {"typing_sent", (*Hub).handleTyping},
		EventMarkRead:      {"read_marked", (*Hub).handleMarkRead},
		EventMarkAllRead:   {"read_marked", (*Hub).handleMarkAllRead},
		EventEditMessage:   {"edited", (*Hub).handleEditMessage},
		EventDeleteMessage: {"deleted", (*Hub).handleDeleteMessage},
		EventForward:       {"forwarded", (*Hub).handleForward},
		EventSendMedia:     {"media_sent", (*Hub).handleSendMedia},
		EventDelivered:     {"delivered", (*Hub).handleDelivered},
		EventGetUserStatus: {"", (*Hub).handleGetUserStatus},
	}
}

// dispatch handles one inbound frame. Errors go back to the sender as an
// error frame and never end the read loop.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
		c.fail(in.ID, in.Event, apperrors.NewBadRequestError("Malformed frame: expected {\"event\",\"id\",\"data\"}"))
		return
	}

	eh, ok := eventHandlers[in.Event]
	if !ok {
		c.fail(in.ID, in.Event, apperrors.NewBadRequestError("Unknown event: "+in.Event))
		return
	}

	result, err := h.safeHandle(eh, c, in.Data)
	if err != nil {
		appErr := toAppError(err)
		if appErr.HTTPCode >= http.StatusInternalServerError {
			c.log.Error("Realtime event failed", "event", in.Event, "error", appErr.Error())
		} else {
			c.log.Debug("Realtime event rejected", "event", in.Event, "code", appErr.Code, "message", appErr.Message)
		}
		c.fail(in.ID, in.Event, appErr)
		return
	}

	if eh.status == "" {
		c.reply(EventUserStatus, in.ID, result)
		return
	}
	c.ack(in.ID, in.Event, eh.status, result)
}

func (h *Hub) safeHandle(eh eventHandler, c *Client, data json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperrors.InternalError(fmt.Errorf("panic in realtime handler: %v", r))
		}
	}()
	return eh.handle(h, c, data)
}

func toAppError(err error) *apperrors.AppError {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}
	return apperrors.InternalError(err)
}

// decode unmarshals and validates an event payload.
func decode[T any](h *Hub, data json.RawMessage) (*T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, apperrors.NewBadRequestError("Invalid payload: " + err.Error())
	}
	if err := h.validate.Validate(&v); err != nil {
		var vErr *validator.ValidationError
		if errors.As(err, &vErr) {
			return nil, apperrors.ValidationError(vErr.Errors)
		}
		return nil, apperrors.InternalError(err)
	}
	return &v, nil
}

// inMessageChat locks the message's own chat. A chatId sent by the client
// must agree with it.
func (h *Hub) inMessageChat(claimedChatID, messageID uint, fn func() error) error {
	return h.InMessageChat(messageID, func(chatID uint) error {
		if claimedChatID != 0 && claimedChatID != chatID {
			return apperrors.ErrMessageNotFound
		}
		return fn()
	})
}

func (h *Hub) handleJoinChat(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[chatPayload](h, data)
	if err != nil {
		return nil, err
	}
	db := h.session()
	if err := h.chats.CheckParticipant(db, c.UserID, p.ChatID); err != nil {
		return nil, err
	}
	h.joinRoom(p.ChatID, c)

	err = h.InChat(p.ChatID, func() error {
		receipt, err := h.chats.MarkLatestRead(db, c.UserID, p.ChatID)
		if err != nil {
			return err
		}
		if receipt != nil {
			h.NotifyMessageRead(receipt)
		}
		return nil
	})
	if err != nil {
		c.log.Warn("Failed to mark latest message read on join", "chat_id", p.ChatID, "error", err)
	}
	return joinedResult{ChatID: p.ChatID}, nil
}

func (h *Hub) handleLeaveChat(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[chatPayload](h, data)
	if err != nil {
		return nil, err
	}
	h.stopTyping(c, p.ChatID)
	h.leaveRoom(p.ChatID, c)
	return joinedResult{ChatID: p.ChatID}, nil
}

func (h *Hub) handleSendMessage(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[sendMessagePayload](h, data)
	if err != nil {
		return nil, err
	}
	req := &dto.SendMessageRequest{Text: p.Text, ReplyToID: p.ReplyToID}

	var msg *dto.MessageResponse
	err = h.InChat(p.ChatID, func() error {
		var err error
		if msg, err = h.chats.SendMessage(h.session(), c.UserID, p.ChatID, req); err != nil {
			return err
		}
		exclude := ""
		if p.SkipSelf {
			exclude = c.ID
		}
		h.NotifyNewMessage(msg, exclude)
		return nil
	})
	if err != nil {
		return nil, err
	}
	h.stopTyping(c, p.ChatID)
	return msg, nil
}

func (h *Hub) handleTyping(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[typingPayload](h, data)
	if err != nil {
		return nil, err
	}
	if !h.inRoom(p.ChatID, c) {
		if err := h.chats.CheckParticipant(h.session(), c.UserID, p.ChatID); err != nil {
			return nil, err
		}
	}

	room := Envelope{Target: TargetRoom, ChatID: p.ChatID, ExcludeConn: c.ID}
	event := userTypingEvent{ChatID: p.ChatID, UserID: c.UserID, Typing: p.Typing, UserName: p.UserName}

	if p.Typing {
		h.typing.Start(c.UserID, p.ChatID, func() {
			stopped := event
			stopped.Typing = false
			h.publish(room, EventUserTyping, stopped)
		})
	} else {
		h.typing.Stop(c.UserID, p.ChatID)
	}
	h.publish(room, EventUserTyping, event)
	return event, nil
}

// stopTyping clears a running typing indicator and tells the room.
func (h *Hub) stopTyping(c *Client, chatID uint) {
	if !h.typing.Stop(c.UserID, chatID) {
		return
	}
	h.publish(Envelope{Target: TargetRoom, ChatID: chatID, ExcludeConn: c.ID}, EventUserTyping, userTypingEvent{
		ChatID: chatID,
		UserID: c.UserID,
		Typing: false,
	})
}

func (h *Hub) handleMarkRead(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[messagePayload](h, data)
	if err != nil {
		return nil, err
	}
	var receipt *dto.ReadReceipt
	err = h.InChat(p.ChatID, func() error {
		var err error
		if receipt, err = h.chats.MarkRead(h.session(), c.UserID, p.ChatID, p.MessageID); err != nil {
			return err
		}
		h.NotifyMessageRead(receipt)
		return nil
	})
	return receipt, err
}

func (h *Hub) handleMarkAllRead(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[chatPayload](h, data)
	if err != nil {
		return nil, err
	}
	var result *dto.ReadAllResult
	err = h.InChat(p.ChatID, func() error {
		var err error
		if result, err = h.chats.MarkAllRead(h.session(), c.UserID, p.ChatID); err != nil {
			return err
		}
		h.NotifyAllRead(result)
		return nil
	})
	return result, err
}

func (h *Hub) handleEditMessage(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[editMessagePayload](h, data)
	if err != nil {
		return nil, err
	}
	var msg *dto.MessageResponse
	err = h.inMessageChat(p.ChatID, p.MessageID, func() error {
		var err error
		if msg, err = h.chats.EditMessage(h.session(), c.UserID, p.MessageID, p.Text); err != nil {
			return err
		}
		h.NotifyMessageEdited(msg)
		return nil
	})
	return msg, err
}

func (h *Hub) handleDeleteMessage(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[deleteMessagePayload](h, data)
	if err != nil {
		return nil, err
	}
	var msg *dto.MessageResponse
	err = h.inMessageChat(p.ChatID, p.MessageID, func() error {
		var err error
		if msg, err = h.chats.DeleteMessage(h.session(), c.UserID, p.MessageID); err != nil {
			return err
		}
		h.NotifyMessageDeleted(msg)
		return nil
	})
	return msg, err
}

func (h *Hub) handleForward(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[forwardPayload](h, data)
	if err != nil {
		return nil, err
	}
	var msg *dto.MessageResponse
	err = h.InChat(p.TargetChatID, func() error {
		var err error
		if msg, err = h.chats.ForwardMessage(h.session(), c.UserID, p.TargetChatID, p.MessageID); err != nil {
			return err
		}
		h.NotifyForwarded(msg)
		return nil
	})
	return msg, err
}

func (h *Hub) handleSendMedia(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[sendMediaPayload](h, data)
	if err != nil {
		return nil, err
	}
	req := &dto.SendMessageRequest{Text: p.Text, MediaURL: &p.MediaURL, MediaType: &p.MediaType}

	var msg *dto.MessageResponse
	err = h.InChat(p.ChatID, func() error {
		var err error
		if msg, err = h.chats.SendMessage(h.session(), c.UserID, p.ChatID, req); err != nil {
			return err
		}
		h.NotifyNewMessage(msg, "")
		return nil
	})
	return msg, err
}

func (h *Hub) handleDelivered(c *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[messagePayload](h, data)
	if err != nil {
		return nil, err
	}
	var receipt *dto.DeliveryReceipt
	err = h.InChat(p.ChatID, func() error {
		var err error
		if receipt, err = h.chats.MarkDelivered(h.session(), c.UserID, p.ChatID, p.MessageID); err != nil {
			return err
		}
		h.NotifyDelivered(receipt)
		return nil
	})
	return receipt, err
}

func (h *Hub) handleGetUserStatus(_ *Client, data json.RawMessage) (interface{}, error) {
	p, err := decode[userStatusPayload](h, data)
	if err != nil {
		return nil, err
	}
	return h.UserStatus(p.UserID)
}

// UserStatus reads presence for one user.
func (h *Hub) UserStatus(userID uint) (*dto.PresenceResponse, error) {
	status, err := presence.StatusOf(h.ctx, h.tracker, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeExternalServiceError, "presence", "Failed to read presence", http.StatusBadGateway)
	}
	return &dto.PresenceResponse{
		UserID:   status.UserID,
		IsOnline: status.IsOnline,
		LastSeen: status.LastSeen,
	}, nil
}
