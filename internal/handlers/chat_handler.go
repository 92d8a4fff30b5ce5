package handlers

import (
	"net/http"

	"social_backend/internal/logger"
	"social_backend/internal/services"
	"social_backend/internal/services/dto"
	"social_backend/pkg/apperrors"

	"github.com/gin-gonic/gin"
)

// RealtimeNotifier pushes REST mutations to websocket listeners. InChat
// holds the chat's ordering lock around fn.
type RealtimeNotifier interface {
	InChat(chatID uint, fn func() error) error
	InMessageChat(messageID uint, fn func(chatID uint) error) error
	NotifyNewMessage(msg *dto.MessageResponse, excludeConn string)
	NotifyForwarded(msg *dto.MessageResponse)
	NotifyMessageEdited(msg *dto.MessageResponse)
	NotifyMessageDeleted(msg *dto.MessageResponse)
	NotifyMessageRead(receipt *dto.ReadReceipt)
	NotifyAllRead(result *dto.ReadAllResult)
}

type ChatHandler struct {
	*BaseHandler
	chatService services.ChatService
	realtime    RealtimeNotifier
}

func NewChatHandler(base *BaseHandler, chatService services.ChatService, realtime RealtimeNotifier) *ChatHandler {
	return &ChatHandler{
		BaseHandler: base,
		chatService: chatService,
		realtime:    realtime,
	}
}

// RegisterRoutes expects r to be behind AuthMiddleware.
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	chats := r.Group("/chats")
	{
		chats.POST("", h.CreateChat)
		chats.GET("", h.GetUserChats)
		chats.GET("/search", h.SearchChats)
		chats.POST("/forward", h.ForwardMessage)
		chats.PUT("/messages/:messageId", h.EditMessage)
		chats.DELETE("/messages/:messageId", h.DeleteMessage)

		chats.GET("/:chatId", h.GetChatDetails)
		chats.DELETE("/:chatId", h.DeleteChat)
		chats.GET("/:chatId/messages", h.GetChatMessages)
		chats.POST("/:chatId/messages", h.SendMessage)
		chats.POST("/:chatId/media", h.SendMediaMessage)
		chats.POST("/:chatId/reply", h.ReplyMessage)
		chats.GET("/:chatId/participants", h.GetParticipants)
		chats.POST("/:chatId/participants", h.AddParticipants)
		chats.GET("/:chatId/unread-count", h.GetUnreadCount)
		chats.POST("/:chatId/read/:messageId", h.MarkRead)
		chats.POST("/:chatId/read-all", h.MarkAllRead)
		chats.POST("/:chatId/mute", h.MuteChat)
		chats.POST("/:chatId/unmute", h.UnmuteChat)
		chats.POST("/:chatId/leave", h.LeaveChat)
	}
}

// --- chats ---

// CreateChat godoc
// @Summary      Create a chat
// @Description  Direct chats are idempotent per pair of profiles; an existing one is returned.
// @Tags         chats
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      dto.CreateChatRequest  true  "Chat"
// @Success      201      {object}  dto.ChatResponse
// @Failure      400      {object}  apperrors.ErrorResponse
// @Failure      404      {object}  apperrors.ErrorResponse
// @Router       /chats [post]
func (h *ChatHandler) CreateChat(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}
	var req dto.CreateChatRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	chat, err := h.chatService.CreateChat(h.GetDB(c), userID, &req)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, chat)
}

// GetUserChats godoc
// @Summary      List my chats
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        page   query     int  false  "Page (1-based)"
// @Param        limit  query     int  false  "Page size"
// @Success      200    {object}  dto.PageResponse[dto.ChatResponse]
// @Router       /chats [get]
func (h *ChatHandler) GetUserChats(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}
	page, limit := ParsePagination(c)

	chats, err := h.chatService.GetUserChats(h.GetDB(c), userID, page, limit)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// SearchChats godoc
// @Summary      Search my chats by title or participant name
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        q    query     string  true  "Search text"
// @Success      200  {array}   dto.ChatResponse
// @Failure      400  {object}  apperrors.ErrorResponse
// @Router       /chats/search [get]
func (h *ChatHandler) SearchChats(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}
	var query dto.SearchChatsQuery
	if !h.BindAndValidate_Query(c, &query) {
		return
	}

	chats, err := h.chatService.SearchChats(h.GetDB(c), userID, query.Q)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

// GetChatDetails godoc
// @Summary      Chat with participants and message count
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true  "Chat ID"
// @Success      200     {object}  dto.ChatDetailsResponse
// @Failure      403     {object}  apperrors.ErrorResponse
// @Failure      404     {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId} [get]
func (h *ChatHandler) GetChatDetails(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	details, err := h.chatService.GetChatDetails(h.GetDB(c), userID, chatID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// DeleteChat godoc
// @Summary      Delete a chat
// @Description  Group chats: admins only. Direct chats: either participant.
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true  "Chat ID"
// @Success      200     {object}  dto.MessageActionResponse
// @Failure      403     {object}  apperrors.ErrorResponse
// @Failure      404     {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId} [delete]
func (h *ChatHandler) DeleteChat(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	if err := h.chatService.DeleteChat(h.GetDB(c), userID, chatID); err != nil {
		h.HandleServiceError(c, err)
		return
	}
	logger.CtxInfo(c.Request.Context(), "Chat deleted", "chat_id", chatID)
	c.JSON(http.StatusOK, dto.MessageActionResponse{Message: "Chat deleted"})
}

// --- participants ---

// GetParticipants godoc
// @Summary      List chat participants
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true  "Chat ID"
// @Success      200     {array}   dto.ParticipantResponse
// @Failure      403     {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId}/participants [get]
func (h *ChatHandler) GetParticipants(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	participants, err := h.chatService.GetParticipants(h.GetDB(c), userID, chatID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, participants)
}

// AddParticipants godoc
// @Summary      Add profiles to a group chat
// @Tags         chats
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        chatId   path      int                         true  "Chat ID"
// @Param        request  body      dto.AddParticipantsRequest  true  "Profiles"
// @Success      200      {object}  dto.AddParticipantsResponse
// @Failure      403      {object}  apperrors.ErrorResponse
// @Failure      404      {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId}/participants [post]
func (h *ChatHandler) AddParticipants(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}
	var req dto.AddParticipantsRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	added, err := h.chatService.AddParticipants(h.GetDB(c), userID, chatID, req.ProfileIDs)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	logger.CtxInfo(c.Request.Context(), "Participants added", "chat_id", chatID, "added", added)
	c.JSON(http.StatusOK, dto.AddParticipantsResponse{ChatID: chatID, Added: added})
}

// LeaveChat godoc
// @Summary      Leave a chat
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true  "Chat ID"
// @Success      200     {object}  dto.MessageActionResponse
// @Router       /chats/{chatId}/leave [post]
func (h *ChatHandler) LeaveChat(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	if err := h.chatService.LeaveChat(h.GetDB(c), userID, chatID); err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MessageActionResponse{Message: "Left chat"})
}

// MuteChat godoc
// @Summary      Mute a chat for me
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true  "Chat ID"
// @Success      200     {object}  dto.MuteResponse
// @Router       /chats/{chatId}/mute [post]
func (h *ChatHandler) MuteChat(c *gin.Context) {
	h.setMuted(c, true)
}

// UnmuteChat godoc
// @Summary      Unmute a chat for me
// @Tags         chats
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true  "Chat ID"
// @Success      200     {object}  dto.MuteResponse
// @Router       /chats/{chatId}/unmute [post]
func (h *ChatHandler) UnmuteChat(c *gin.Context) {
	h.setMuted(c, false)
}

func (h *ChatHandler) setMuted(c *gin.Context, muted bool) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	var err error
	if muted {
		err = h.chatService.MuteChat(h.GetDB(c), userID, chatID)
	} else {
		err = h.chatService.UnmuteChat(h.GetDB(c), userID, chatID)
	}
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.MuteResponse{ChatID: chatID, IsMuted: muted})
}

// --- messages ---

// GetChatMessages godoc
// @Summary      Page through a chat's messages
// @Description  Pages run newest first; each page is in chronological order.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true   "Chat ID"
// @Param        page    query     int  false  "Page (1-based)"
// @Param        limit   query     int  false  "Page size"
// @Success      200     {object}  dto.PageResponse[dto.MessageResponse]
// @Failure      403     {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId}/messages [get]
func (h *ChatHandler) GetChatMessages(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}
	page, limit := ParsePagination(c)

	messages, err := h.chatService.GetChatMessages(h.GetDB(c), userID, chatID, page, limit)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// SendMessage godoc
// @Summary      Send a message
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        chatId   path      int                     true  "Chat ID"
// @Param        request  body      dto.SendMessageRequest  true  "Message"
// @Success      201      {object}  dto.MessageResponse
// @Failure      400      {object}  apperrors.ErrorResponse
// @Failure      403      {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId}/messages [post]
func (h *ChatHandler) SendMessage(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}
	var req dto.SendMessageRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	h.post(c, chatID, func() (*dto.MessageResponse, error) {
		return h.chatService.SendMessage(h.GetDB(c), userID, chatID, &req)
	})
}

// SendMediaMessage godoc
// @Summary      Upload a file and send it as a message
// @Tags         messages
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int     true   "Chat ID"
// @Param        file    formData  file    true   "Media file"
// @Param        text    formData  string  false  "Caption"
// @Success      201     {object}  dto.MessageResponse
// @Failure      400     {object}  apperrors.ErrorResponse
// @Failure      413     {object}  apperrors.ErrorResponse
// @Failure      415     {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId}/media [post]
func (h *ChatHandler) SendMediaMessage(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		apperrors.HandleError(c, apperrors.NewBadRequestError("Multipart field 'file' is required"))
		return
	}
	var text *string
	if v, ok := c.GetPostForm("text"); ok {
		text = &v
	}

	// The blob upload stays outside the chat lock.
	upload, err := h.chatService.StoreMedia(c.Request.Context(), h.GetDB(c), userID, chatID, file)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	h.post(c, chatID, func() (*dto.MessageResponse, error) {
		return h.chatService.SendMediaMessage(c.Request.Context(), h.GetDB(c), userID, chatID, upload, text)
	})
}

// ReplyMessage godoc
// @Summary      Reply to a message
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        chatId   path      int                      true  "Chat ID"
// @Param        request  body      dto.ReplyMessageRequest  true  "Reply"
// @Success      201      {object}  dto.MessageResponse
// @Failure      404      {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId}/reply [post]
func (h *ChatHandler) ReplyMessage(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}
	var req dto.ReplyMessageRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	h.post(c, chatID, func() (*dto.MessageResponse, error) {
		return h.chatService.ReplyMessage(h.GetDB(c), userID, chatID, req.ReplyToID, req.Text)
	})
}

// ForwardMessage godoc
// @Summary      Forward a message into another chat
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      dto.ForwardMessageRequest  true  "Forward"
// @Success      201      {object}  dto.MessageResponse
// @Failure      403      {object}  apperrors.ErrorResponse
// @Failure      404      {object}  apperrors.ErrorResponse
// @Router       /chats/forward [post]
func (h *ChatHandler) ForwardMessage(c *gin.Context) {
	userID, ok := h.GetAndAuthorizeUserID(c)
	if !ok {
		return
	}
	var req dto.ForwardMessageRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	var msg *dto.MessageResponse
	err := h.realtime.InChat(req.TargetChatID, func() error {
		var err error
		if msg, err = h.chatService.ForwardMessage(h.GetDB(c), userID, req.TargetChatID, req.MessageID); err != nil {
			return err
		}
		h.realtime.NotifyForwarded(msg)
		return nil
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// EditMessage godoc
// @Summary      Edit my message
// @Tags         messages
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        messageId  path      int                     true  "Message ID"
// @Param        request    body      dto.EditMessageRequest  true  "New text"
// @Success      200        {object}  dto.MessageResponse
// @Failure      400        {object}  apperrors.ErrorResponse
// @Failure      403        {object}  apperrors.ErrorResponse
// @Router       /chats/messages/{messageId} [put]
func (h *ChatHandler) EditMessage(c *gin.Context) {
	userID, messageID, ok := h.messageParams(c)
	if !ok {
		return
	}
	var req dto.EditMessageRequest
	if !h.BindAndValidate_JSON(c, &req) {
		return
	}

	var msg *dto.MessageResponse
	err := h.realtime.InMessageChat(messageID, func(uint) error {
		var err error
		if msg, err = h.chatService.EditMessage(h.GetDB(c), userID, messageID, req.Text); err != nil {
			return err
		}
		h.realtime.NotifyMessageEdited(msg)
		return nil
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage godoc
// @Summary      Delete my message
// @Description  Soft delete: the text is replaced and the row is kept.
// @Tags         messages
// @Produce      json
// @Security     BearerAuth
// @Param        messageId  path      int  true  "Message ID"
// @Success      200        {object}  dto.MessageResponse
// @Failure      403        {object}  apperrors.ErrorResponse
// @Failure      404        {object}  apperrors.ErrorResponse
// @Router       /chats/messages/{messageId} [delete]
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	userID, messageID, ok := h.messageParams(c)
	if !ok {
		return
	}

	var msg *dto.MessageResponse
	err := h.realtime.InMessageChat(messageID, func(uint) error {
		var err error
		if msg, err = h.chatService.DeleteMessage(h.GetDB(c), userID, messageID); err != nil {
			return err
		}
		h.realtime.NotifyMessageDeleted(msg)
		return nil
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// --- receipts ---

// MarkRead godoc
// @Summary      Mark one message read
// @Tags         receipts
// @Produce      json
// @Security     BearerAuth
// @Param        chatId     path      int  true  "Chat ID"
// @Param        messageId  path      int  true  "Message ID"
// @Success      200        {object}  dto.ReadReceipt
// @Failure      403        {object}  apperrors.ErrorResponse
// @Failure      404        {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId}/read/{messageId} [post]
func (h *ChatHandler) MarkRead(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}
	messageID, err := ParseParamUint(c, "messageId")
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}

	var receipt *dto.ReadReceipt
	err = h.realtime.InChat(chatID, func() error {
		var err error
		if receipt, err = h.chatService.MarkRead(h.GetDB(c), userID, chatID, messageID); err != nil {
			return err
		}
		h.realtime.NotifyMessageRead(receipt)
		return nil
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// MarkAllRead godoc
// @Summary      Mark every unread message in the chat read
// @Tags         receipts
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true  "Chat ID"
// @Success      200     {object}  dto.ReadAllResult
// @Failure      403     {object}  apperrors.ErrorResponse
// @Router       /chats/{chatId}/read-all [post]
func (h *ChatHandler) MarkAllRead(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	var result *dto.ReadAllResult
	err := h.realtime.InChat(chatID, func() error {
		var err error
		if result, err = h.chatService.MarkAllRead(h.GetDB(c), userID, chatID); err != nil {
			return err
		}
		h.realtime.NotifyAllRead(result)
		return nil
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetUnreadCount godoc
// @Summary      Unread messages for me in a chat
// @Tags         receipts
// @Produce      json
// @Security     BearerAuth
// @Param        chatId  path      int  true  "Chat ID"
// @Success      200     {object}  dto.UnreadCountResponse
// @Router       /chats/{chatId}/unread-count [get]
func (h *ChatHandler) GetUnreadCount(c *gin.Context) {
	userID, chatID, ok := h.chatParams(c)
	if !ok {
		return
	}

	count, err := h.chatService.GetUnreadCount(h.GetDB(c), userID, chatID)
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.UnreadCountResponse{ChatID: chatID, Count: count})
}

// --- helpers ---

// post runs a message-creating call under the chat lock, pushes the result
// and answers 201.
func (h *ChatHandler) post(c *gin.Context, chatID uint, create func() (*dto.MessageResponse, error)) {
	var msg *dto.MessageResponse
	err := h.realtime.InChat(chatID, func() error {
		var err error
		if msg, err = create(); err != nil {
			return err
		}
		h.realtime.NotifyNewMessage(msg, "")
		return nil
	})
	if err != nil {
		h.HandleServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func (h *ChatHandler) chatParams(c *gin.Context) (userID, chatID uint, ok bool) {
	if userID, ok = h.GetAndAuthorizeUserID(c); !ok {
		return 0, 0, false
	}
	chatID, err := ParseParamUint(c, "chatId")
	if err != nil {
		h.HandleServiceError(c, err)
		return 0, 0, false
	}
	return userID, chatID, true
}

func (h *ChatHandler) messageParams(c *gin.Context) (userID, messageID uint, ok bool) {
	if userID, ok = h.GetAndAuthorizeUserID(c); !ok {
		return 0, 0, false
	}
	messageID, err := ParseParamUint(c, "messageId")
	if err != nil {
		h.HandleServiceError(c, err)
		return 0, 0, false
	}
	return userID, messageID, true
}
