package services

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"sort"
	"strings"
	"time"

	"social_backend/internal/logger"
	"social_backend/internal/models"
	"social_backend/internal/models/chat"
	"social_backend/internal/repositories"
	"social_backend/internal/services/dto"
	"social_backend/pkg/apperrors"

	"gorm.io/gorm"
)

const maxPageSize = 100

// ChatService holds every chat business rule. All methods take the
// connection pool (or a request-scoped session) as their first argument;
// mutating methods open their own transaction on it.
type ChatService interface {
	// Chats
	CreateChat(db *gorm.DB, userID uint, req *dto.CreateChatRequest) (*dto.ChatResponse, error)
	GetUserChats(db *gorm.DB, userID uint, page, limit int) (*dto.PageResponse[dto.ChatResponse], error)
	GetChatDetails(db *gorm.DB, userID, chatID uint) (*dto.ChatDetailsResponse, error)
	SearchChats(db *gorm.DB, userID uint, query string) ([]dto.ChatResponse, error)
	DeleteChat(db *gorm.DB, userID, chatID uint) error

	// Participants
	GetParticipants(db *gorm.DB, userID, chatID uint) ([]dto.ParticipantResponse, error)
	AddParticipants(db *gorm.DB, userID, chatID uint, profileIDs []uint) (int, error)
	LeaveChat(db *gorm.DB, userID, chatID uint) error
	MuteChat(db *gorm.DB, userID, chatID uint) error
	UnmuteChat(db *gorm.DB, userID, chatID uint) error
	CheckParticipant(db *gorm.DB, userID, chatID uint) error
	ChatAudience(db *gorm.DB, chatID uint) ([]uint, error)

	// Messages
	GetChatMessages(db *gorm.DB, userID, chatID uint, page, limit int) (*dto.PageResponse[dto.MessageResponse], error)
	SendMessage(db *gorm.DB, userID, chatID uint, req *dto.SendMessageRequest) (*dto.MessageResponse, error)
	StoreMedia(ctx context.Context, db *gorm.DB, userID, chatID uint, file *multipart.FileHeader) (*models.Upload, error)
	SendMediaMessage(ctx context.Context, db *gorm.DB, userID, chatID uint, upload *models.Upload, text *string) (*dto.MessageResponse, error)
	ReplyMessage(db *gorm.DB, userID, chatID, replyToID uint, text string) (*dto.MessageResponse, error)
	ForwardMessage(db *gorm.DB, userID, targetChatID, messageID uint) (*dto.MessageResponse, error)
	EditMessage(db *gorm.DB, userID, messageID uint, text string) (*dto.MessageResponse, error)
	DeleteMessage(db *gorm.DB, userID, messageID uint) (*dto.MessageResponse, error)
	MessageChatID(db *gorm.DB, messageID uint) (uint, error)

	// Receipts
	MarkRead(db *gorm.DB, userID, chatID, messageID uint) (*dto.ReadReceipt, error)
	MarkAllRead(db *gorm.DB, userID, chatID uint) (*dto.ReadAllResult, error)
	MarkLatestRead(db *gorm.DB, userID, chatID uint) (*dto.ReadReceipt, error)
	MarkDelivered(db *gorm.DB, userID, chatID, messageID uint) (*dto.DeliveryReceipt, error)
	GetUnreadCount(db *gorm.DB, userID, chatID uint) (int64, error)
}

type ChatConfig struct {
	// AllowAutoJoin lets a non-participant posting into a group become a member.
	AllowAutoJoin   bool
	DefaultPageSize int
	MessagePageSize int
	// Now is the clock for every timestamp the service writes.
	Now func() time.Time
}

type chatService struct {
	chatRepo    repositories.ChatRepository
	profileRepo repositories.ProfileRepository
	uploads     UploadService
	cfg         ChatConfig
}

func NewChatService(
	chatRepo repositories.ChatRepository,
	profileRepo repositories.ProfileRepository,
	uploads UploadService,
	cfg ChatConfig,
) ChatService {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 20
	}
	if cfg.MessagePageSize <= 0 {
		cfg.MessagePageSize = 50
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }
	}
	return &chatService{
		chatRepo:    chatRepo,
		profileRepo: profileRepo,
		uploads:     uploads,
		cfg:         cfg,
	}
}

func (s *chatService) now() time.Time {
	return s.cfg.Now()
}

// requester resolves the authenticated user to their profile.
func (s *chatService) requester(db *gorm.DB, userID uint) (*models.Profile, error) {
	profile, err := s.profileRepo.FindByUserID(db, userID)
	if err != nil {
		return nil, handleChatError(err)
	}
	return profile, nil
}

// --- Chats ---

func (s *chatService) CreateChat(db *gorm.DB, userID uint, req *dto.CreateChatRequest) (*dto.ChatResponse, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}

	ids := uniqueIDs(req.ParticipantIDs)
	var c *chat.Chat
	if req.IsGroup {
		c, err = s.createGroupChat(db, me, ids, req)
	} else {
		c, err = s.createDirectChat(db, me, ids)
	}
	if err != nil {
		return nil, err
	}

	chats, err := s.buildChatResponses(db, []chat.Chat{*c}, me, profileIndex{})
	if err != nil {
		return nil, err
	}
	return &chats[0], nil
}

func (s *chatService) createDirectChat(db *gorm.DB, me *models.Profile, ids []uint) (*chat.Chat, error) {
	if len(ids) != 1 {
		return nil, apperrors.ErrDirectChatCardinality
	}
	if ids[0] == me.ID {
		return nil, apperrors.ErrDirectChatWithSelf
	}
	target, err := s.profileRepo.FindByID(db, ids[0])
	if err != nil {
		return nil, handleChatError(err)
	}

	key := dmKey(me.ID, target.ID)
	existing, err := s.chatRepo.FindChatByDMKey(db, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repositories.ErrChatNotFound) {
		return nil, apperrors.InternalError(err)
	}

	c, err := s.insertDirectChat(db, key, me, target)
	if errors.Is(err, repositories.ErrDuplicateKey) {
		// A concurrent request created the pair first.
		existing, ferr := s.chatRepo.FindChatByDMKey(db, key)
		if ferr != nil {
			return nil, apperrors.ErrConflict(ferr, "chat", "Direct chat could not be created")
		}
		return existing, nil
	}
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	return c, nil
}

func (s *chatService) insertDirectChat(db *gorm.DB, key string, me, target *models.Profile) (*chat.Chat, error) {
	tx := db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	defer tx.Rollback()

	now := s.now()
	c := &chat.Chat{DMKey: &key, CreatedAt: now, UpdatedAt: now}
	if err := s.chatRepo.CreateChat(tx, c); err != nil {
		return nil, err
	}
	participants := []*chat.Participant{
		newParticipant(c.ID, me, false, now),
		newParticipant(c.ID, target, false, now),
	}
	if err := s.chatRepo.AddParticipants(tx, participants); err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return c, nil
}

func (s *chatService) createGroupChat(db *gorm.DB, me *models.Profile, ids []uint, req *dto.CreateChatRequest) (*chat.Chat, error) {
	others := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != me.ID {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return nil, apperrors.ErrGroupChatTooSmall
	}

	tx := db.Begin()
	if tx.Error != nil {
		return nil, apperrors.InternalError(tx.Error)
	}
	defer tx.Rollback()

	profiles, err := s.resolveProfiles(tx, others)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &chat.Chat{
		IsGroup:     true,
		Title:       req.Title,
		Avatar:      req.Avatar,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.chatRepo.CreateChat(tx, c); err != nil {
		return nil, apperrors.InternalError(err)
	}

	participants := make([]*chat.Participant, 0, len(profiles)+1)
	participants = append(participants, newParticipant(c.ID, me, true, now))
	for i := range profiles {
		participants = append(participants, newParticipant(c.ID, &profiles[i], false, now))
	}
	if err := s.chatRepo.AddParticipants(tx, participants); err != nil {
		return nil, handleChatError(err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, apperrors.InternalError(err)
	}
	return c, nil
}

func (s *chatService) GetUserChats(db *gorm.DB, userID uint, page, limit int) (*dto.PageResponse[dto.ChatResponse], error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	page, limit = normalizePage(page, limit, s.cfg.DefaultPageSize)

	chats, total, err := s.chatRepo.FindUserChats(db, me.ID, repositories.PageCriteria{Page: page, Limit: limit})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	data, err := s.buildChatResponses(db, chats, me, profileIndex{})
	if err != nil {
		return nil, err
	}
	return &dto.PageResponse[dto.ChatResponse]{Data: data, Total: total, Page: page, Limit: limit}, nil
}

func (s *chatService) GetChatDetails(db *gorm.DB, userID, chatID uint) (*dto.ChatDetailsResponse, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	c, err := s.chatRepo.FindChatByID(db, chatID)
	if err != nil {
		return nil, handleChatError(err)
	}
	if _, err := s.chatRepo.FindParticipant(db, chatID, me.ID); err != nil {
		return nil, handleChatError(err)
	}

	chats, err := s.buildChatResponses(db, []chat.Chat{*c}, me, profileIndex{})
	if err != nil {
		return nil, err
	}
	count, err := s.chatRepo.CountMessages(db, chatID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	return &dto.ChatDetailsResponse{ChatResponse: chats[0], MessageCount: count}, nil
}

// SearchChats matches the query against chat titles and participant
// usernames, case-insensitively, among the requester's own chats.
func (s *chatService) SearchChats(db *gorm.DB, userID uint, query string) ([]dto.ChatResponse, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil, apperrors.NewBadRequestError("search query must not be empty")
	}
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}

	chats, err := s.chatRepo.FindAllUserChats(db, me.ID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	idx := profileIndex{}
	var ids []uint
	for _, c := range chats {
		for _, p := range c.Participants {
			ids = append(ids, p.ProfileID)
		}
	}
	if err := s.loadProfiles(db, idx, ids...); err != nil {
		return nil, err
	}

	matched := make([]chat.Chat, 0)
	for _, c := range chats {
		if chatMatches(c, idx, needle) {
			matched = append(matched, c)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		ti, tj := strings.ToLower(deref(matched[i].Title)), strings.ToLower(deref(matched[j].Title))
		if ti != tj {
			return ti < tj
		}
		return matched[i].ID < matched[j].ID
	})

	return s.buildChatResponses(db, matched, me, idx)
}

func chatMatches(c chat.Chat, idx profileIndex, needle string) bool {
	if strings.Contains(strings.ToLower(deref(c.Title)), needle) {
		return true
	}
	for _, p := range c.Participants {
		if strings.Contains(strings.ToLower(idx[p.ProfileID].Username), needle) {
			return true
		}
	}
	return false
}

// DeleteChat lets an admin delete a group and either member delete a
// direct chat.
func (s *chatService) DeleteChat(db *gorm.DB, userID, chatID uint) error {
	me, err := s.requester(db, userID)
	if err != nil {
		return err
	}

	tx := db.Begin()
	if tx.Error != nil {
		return apperrors.InternalError(tx.Error)
	}
	defer tx.Rollback()

	c, err := s.chatRepo.FindChatByID(tx, chatID)
	if err != nil {
		return handleChatError(err)
	}
	participant, err := s.chatRepo.FindParticipant(tx, chatID, me.ID)
	if err != nil {
		return handleChatError(err)
	}
	if c.IsGroup && !participant.IsAdmin {
		return apperrors.ErrNotChatAdmin
	}

	if err := s.chatRepo.DeleteChat(tx, chatID); err != nil {
		return handleChatError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return apperrors.InternalError(err)
	}
	return nil
}

// --- Participants ---

func (s *chatService) GetParticipants(db *gorm.DB, userID, chatID uint) ([]dto.ParticipantResponse, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	if _, err := s.chatRepo.FindParticipant(db, chatID, me.ID); err != nil {
		return nil, handleChatError(err)
	}

	participants, err := s.chatRepo.FindParticipantsByChat(db, chatID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	idx := profileIndex{}
	if err := s.loadProfiles(db, idx, participantProfileIDs(participants)...); err != nil {
		return nil, err
	}
	return toParticipantResponses(participants, idx), nil
}

// AddParticipants adds profiles to a group; ids that are already members
// are skipped. It returns how many rows were added.
func (s *chatService) AddParticipants(db *gorm.DB, userID, chatID uint, profileIDs []uint) (int, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return 0, err
	}

	tx := db.Begin()
	if tx.Error != nil {
		return 0, apperrors.InternalError(tx.Error)
	}
	defer tx.Rollback()

	c, err := s.chatRepo.FindChatByID(tx, chatID)
	if err != nil {
		if errors.Is(err, repositories.ErrChatNotFound) {
			return 0, apperrors.ErrGroupChatNotFound
		}
		return 0, apperrors.InternalError(err)
	}
	if !c.IsGroup {
		return 0, apperrors.ErrGroupChatNotFound
	}

	mine, err := s.chatRepo.FindParticipant(tx, chatID, me.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return 0, apperrors.ErrNotChatAdmin
		}
		return 0, apperrors.InternalError(err)
	}
	if !mine.IsAdmin {
		return 0, apperrors.ErrNotChatAdmin
	}

	profiles, err := s.resolveProfiles(tx, uniqueIDs(profileIDs))
	if err != nil {
		return 0, err
	}
	existing, err := s.chatRepo.FindParticipantsByChat(tx, chatID)
	if err != nil {
		return 0, apperrors.InternalError(err)
	}
	members := make(map[uint]bool, len(existing))
	for _, p := range existing {
		members[p.ProfileID] = true
	}

	now := s.now()
	var toAdd []*chat.Participant
	for i := range profiles {
		if !members[profiles[i].ID] {
			toAdd = append(toAdd, newParticipant(chatID, &profiles[i], false, now))
		}
	}
	if err := s.chatRepo.AddParticipants(tx, toAdd); err != nil {
		return 0, handleChatError(err)
	}

	if err := tx.Commit().Error; err != nil {
		return 0, apperrors.InternalError(err)
	}
	return len(toAdd), nil
}

func (s *chatService) LeaveChat(db *gorm.DB, userID, chatID uint) error {
	me, err := s.requester(db, userID)
	if err != nil {
		return err
	}
	c, err := s.chatRepo.FindChatByID(db, chatID)
	if err != nil {
		return handleChatError(err)
	}
	if !c.IsGroup {
		// Direct chats keep both members for as long as they exist.
		if _, err := s.chatRepo.FindParticipant(db, chatID, me.ID); err != nil {
			return handleChatError(err)
		}
		return apperrors.ErrLeaveDirectChat
	}
	if err := s.chatRepo.RemoveParticipant(db, chatID, me.ID); err != nil {
		return handleChatError(err)
	}
	return nil
}

func (s *chatService) MuteChat(db *gorm.DB, userID, chatID uint) error {
	return s.setMuted(db, userID, chatID, true)
}

func (s *chatService) UnmuteChat(db *gorm.DB, userID, chatID uint) error {
	return s.setMuted(db, userID, chatID, false)
}

func (s *chatService) setMuted(db *gorm.DB, userID, chatID uint, muted bool) error {
	me, err := s.requester(db, userID)
	if err != nil {
		return err
	}
	if err := s.chatRepo.SetMuted(db, chatID, me.ID, muted); err != nil {
		return handleChatError(err)
	}
	return nil
}

func (s *chatService) CheckParticipant(db *gorm.DB, userID, chatID uint) error {
	me, err := s.requester(db, userID)
	if err != nil {
		return err
	}
	ok, err := s.chatRepo.IsParticipant(db, chatID, me.ID)
	if err != nil {
		return apperrors.InternalError(err)
	}
	if !ok {
		return apperrors.ErrNotParticipant
	}
	return nil
}

// ChatAudience lists the user ids of everyone in the chat.
func (s *chatService) ChatAudience(db *gorm.DB, chatID uint) ([]uint, error) {
	participants, err := s.chatRepo.FindParticipantsByChat(db, chatID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	userIDs := make([]uint, 0, len(participants))
	for _, p := range participants {
		userIDs = append(userIDs, p.UserID)
	}
	return uniqueIDs(userIDs), nil
}

// --- Messages ---

// GetChatMessages pages newest-first and returns each page in
// chronological order.
func (s *chatService) GetChatMessages(db *gorm.DB, userID, chatID uint, page, limit int) (*dto.PageResponse[dto.MessageResponse], error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(db, chatID, me.ID); err != nil {
		return nil, err
	}
	page, limit = normalizePage(page, limit, s.cfg.MessagePageSize)

	messages, total, err := s.chatRepo.FindMessagesByChat(db, chatID, repositories.PageCriteria{Page: page, Limit: limit})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	idx := profileIndex{}
	var ids []uint
	for i := range messages {
		ids = append(ids, messageProfileIDs(&messages[i])...)
	}
	if err := s.loadProfiles(db, idx, ids...); err != nil {
		return nil, err
	}

	data := make([]dto.MessageResponse, 0, len(messages))
	for i := range messages {
		data = append(data, toMessageResponse(&messages[i], idx))
	}
	return &dto.PageResponse[dto.MessageResponse]{Data: data, Total: total, Page: page, Limit: limit}, nil
}

func (s *chatService) SendMessage(db *gorm.DB, userID, chatID uint, req *dto.SendMessageRequest) (*dto.MessageResponse, error) {
	text := nonBlank(req.Text)
	mediaURL := nonBlank(req.MediaURL)
	if text == nil && mediaURL == nil {
		return nil, apperrors.ErrEmptyMessage
	}

	var mediaType *chat.MediaType
	if mediaURL != nil {
		mt := chat.MediaTypeFile
		if req.MediaType != nil {
			mt = chat.MediaType(*req.MediaType)
			if !mt.Valid() {
				return nil, apperrors.ErrInvalidMediaType
			}
		}
		mediaType = &mt
	}

	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	return s.postMessage(db, me, chatID, &chat.Message{
		Text:      text,
		MediaURL:  mediaURL,
		MediaType: mediaType,
		ReplyToID: req.ReplyToID,
	})
}

// StoreMedia checks that the requester may post into the chat and stores
// the file. It takes no chat lock, so callers run it before InChat.
func (s *chatService) StoreMedia(ctx context.Context, db *gorm.DB, userID, chatID uint, file *multipart.FileHeader) (*models.Upload, error) {
	if s.uploads == nil {
		return nil, apperrors.InternalError(errors.New("media uploads are not configured"))
	}
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	c, err := s.chatRepo.FindChatByID(db, chatID)
	if err != nil {
		return nil, handleChatError(err)
	}
	member, err := s.chatRepo.IsParticipant(db, chatID, me.ID)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if !member && !s.canAutoJoin(c) {
		return nil, apperrors.ErrNotParticipant
	}
	return s.uploads.UploadChatMedia(ctx, db, userID, chatID, file)
}

// SendMediaMessage posts a message pointing at a stored upload. The upload
// is removed again if the message cannot be created.
func (s *chatService) SendMediaMessage(ctx context.Context, db *gorm.DB, userID, chatID uint, upload *models.Upload, text *string) (*dto.MessageResponse, error) {
	msg, err := s.postMedia(db, userID, chatID, upload, text)
	if err != nil {
		if s.uploads != nil {
			if derr := s.uploads.DeleteUpload(ctx, db, upload.ID); derr != nil {
				logger.Warn("Failed to clean up orphaned upload", "upload_id", upload.ID, "error", derr)
			}
		}
		return nil, err
	}
	return msg, nil
}

func (s *chatService) postMedia(db *gorm.DB, userID, chatID uint, upload *models.Upload, text *string) (*dto.MessageResponse, error) {
	if upload.ChatID != chatID || upload.UserID != userID {
		return nil, apperrors.ErrInvalidOperation("chat", "Upload does not belong to this message")
	}
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	mediaType := chat.MediaType(upload.FileType)
	mediaURL := upload.URL
	return s.postMessage(db, me, chatID, &chat.Message{
		Text:      nonBlank(text),
		MediaURL:  &mediaURL,
		MediaType: &mediaType,
	})
}

func (s *chatService) ReplyMessage(db *gorm.DB, userID, chatID, replyToID uint, text string) (*dto.MessageResponse, error) {
	return s.SendMessage(db, userID, chatID, &dto.SendMessageRequest{Text: &text, ReplyToID: &replyToID})
}

// ForwardMessage copies the content of a message the requester can see into
// the target chat.
func (s *chatService) ForwardMessage(db *gorm.DB, userID, targetChatID, messageID uint) (*dto.MessageResponse, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	src, err := s.chatRepo.FindMessageByID(db, messageID)
	if err != nil {
		return nil, handleChatError(err)
	}
	if err := s.requireParticipant(db, src.ChatID, me.ID); err != nil {
		return nil, err
	}
	if src.IsDeleted {
		return nil, apperrors.ErrInvalidOperation("chat", "Cannot forward a deleted message")
	}

	return s.postMessage(db, me, targetChatID, &chat.Message{
		Text:        src.Text,
		MediaURL:    src.MediaURL,
		MediaType:   src.MediaType,
		IsForwarded: true,
	})
}

// postMessage applies the send membership policy, validates the reply
// target and stores the message together with the sender's own read.
func (s *chatService) postMessage(db *gorm.DB, me *models.Profile, chatID uint, msg *chat.Message) (*dto.MessageResponse, error) {
	tx := db.Begin()
	if tx.Error != nil {
		return nil, apperrors.InternalError(tx.Error)
	}
	defer tx.Rollback()

	c, err := s.chatRepo.FindChatByID(tx, chatID)
	if err != nil {
		return nil, handleChatError(err)
	}
	if err := s.ensureMember(tx, c, me); err != nil {
		return nil, err
	}
	if msg.ReplyToID != nil {
		if _, err := s.chatRepo.FindMessageByID(tx, *msg.ReplyToID); err != nil {
			if errors.Is(err, repositories.ErrMessageNotFound) {
				return nil, apperrors.ErrReplyTargetNotFound
			}
			return nil, apperrors.InternalError(err)
		}
	}

	now := s.now()
	msg.ChatID = c.ID
	msg.SenderID = me.ID
	msg.SenderUserID = me.UserID
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if err := s.chatRepo.CreateMessage(tx, msg); err != nil {
		return nil, apperrors.InternalError(err)
	}
	if _, err := s.chatRepo.CreateRead(tx, &chat.MessageRead{MessageID: msg.ID, ReaderID: me.ID, ReadAt: now}); err != nil {
		return nil, apperrors.InternalError(err)
	}
	if err := s.chatRepo.AdvanceLastRead(tx, c.ID, me.ID, now); err != nil {
		return nil, apperrors.InternalError(err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, apperrors.InternalError(err)
	}
	return s.messageResponse(db, msg.ID)
}

func (s *chatService) canAutoJoin(c *chat.Chat) bool {
	return c.IsGroup && s.cfg.AllowAutoJoin
}

func (s *chatService) ensureMember(tx *gorm.DB, c *chat.Chat, me *models.Profile) error {
	ok, err := s.chatRepo.IsParticipant(tx, c.ID, me.ID)
	if err != nil {
		return apperrors.InternalError(err)
	}
	if ok {
		return nil
	}
	if !s.canAutoJoin(c) {
		return apperrors.ErrNotParticipant
	}
	if err := s.chatRepo.AddParticipants(tx, []*chat.Participant{newParticipant(c.ID, me, false, s.now())}); err != nil {
		return handleChatError(err)
	}
	return nil
}

func (s *chatService) EditMessage(db *gorm.DB, userID, messageID uint, text string) (*dto.MessageResponse, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.ErrEmptyMessage
	}
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}

	tx := db.Begin()
	if tx.Error != nil {
		return nil, apperrors.InternalError(tx.Error)
	}
	defer tx.Rollback()

	msg, err := s.chatRepo.FindMessageByID(tx, messageID)
	if err != nil {
		return nil, handleChatError(err)
	}
	if msg.SenderID != me.ID {
		return nil, apperrors.ErrNotMessageOwner
	}
	if msg.IsDeleted {
		return nil, apperrors.ErrMessageDeleted
	}

	msg.Text = &text
	msg.IsEdited = true
	msg.EditCount++
	msg.UpdatedAt = s.now()
	if err := s.chatRepo.UpdateMessage(tx, msg); err != nil {
		return nil, handleChatError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, apperrors.InternalError(err)
	}
	return s.messageResponse(db, msg.ID)
}

// MessageChatID resolves the chat a message was posted in. A message never
// moves between chats.
func (s *chatService) MessageChatID(db *gorm.DB, messageID uint) (uint, error) {
	msg, err := s.chatRepo.FindMessageByID(db, messageID)
	if err != nil {
		return 0, handleChatError(err)
	}
	return msg.ChatID, nil
}

// DeleteMessage soft-deletes: the row and its id stay, the content is
// replaced by a placeholder. Deleting twice is a no-op.
func (s *chatService) DeleteMessage(db *gorm.DB, userID, messageID uint) (*dto.MessageResponse, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}

	tx := db.Begin()
	if tx.Error != nil {
		return nil, apperrors.InternalError(tx.Error)
	}
	defer tx.Rollback()

	msg, err := s.chatRepo.FindMessageByID(tx, messageID)
	if err != nil {
		return nil, handleChatError(err)
	}
	if msg.SenderID != me.ID {
		return nil, apperrors.ErrNotMessageOwner
	}

	if !msg.IsDeleted {
		now := s.now()
		placeholder := chat.DeletedPlaceholder
		msg.Text = &placeholder
		msg.MediaURL = nil
		msg.IsDeleted = true
		msg.DeletedAt = &now
		msg.UpdatedAt = now
		if err := s.chatRepo.UpdateMessage(tx, msg); err != nil {
			return nil, handleChatError(err)
		}
		if err := tx.Commit().Error; err != nil {
			return nil, apperrors.InternalError(err)
		}
	}
	return s.messageResponse(db, msg.ID)
}

// --- Receipts ---

// MarkRead records that the requester read a message from someone else and
// moves their cursor up to it. Own messages are ignored.
func (s *chatService) MarkRead(db *gorm.DB, userID, chatID, messageID uint) (*dto.ReadReceipt, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	msg, err := s.chatRepo.FindMessageByID(db, messageID)
	if err != nil {
		return nil, handleChatError(err)
	}
	if msg.ChatID != chatID {
		return nil, apperrors.ErrMessageNotFound
	}
	if err := s.requireParticipant(db, chatID, me.ID); err != nil {
		return nil, err
	}

	now := s.now()
	receipt := &dto.ReadReceipt{
		ChatID:       chatID,
		MessageID:    messageID,
		ReaderID:     me.ID,
		ReaderUserID: me.UserID,
		ReadAt:       now,
	}
	if msg.SenderID == me.ID {
		return receipt, nil
	}

	tx := db.Begin()
	if tx.Error != nil {
		return nil, apperrors.InternalError(tx.Error)
	}
	defer tx.Rollback()

	inserted, err := s.chatRepo.CreateRead(tx, &chat.MessageRead{MessageID: messageID, ReaderID: me.ID, ReadAt: now})
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	if err := s.chatRepo.AdvanceLastRead(tx, chatID, me.ID, msg.CreatedAt); err != nil {
		return nil, apperrors.InternalError(err)
	}
	if err := tx.Commit().Error; err != nil {
		return nil, apperrors.InternalError(err)
	}
	receipt.Inserted = inserted
	return receipt, nil
}

func (s *chatService) MarkAllRead(db *gorm.DB, userID, chatID uint) (*dto.ReadAllResult, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}

	tx := db.Begin()
	if tx.Error != nil {
		return nil, apperrors.InternalError(tx.Error)
	}
	defer tx.Rollback()

	participant, err := s.chatRepo.FindParticipant(tx, chatID, me.ID)
	if err != nil {
		return nil, handleChatError(err)
	}
	unread, err := s.chatRepo.FindUnreadMessages(tx, chatID, me.ID, participant.LastReadAt)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}

	now := s.now()
	if len(unread) > 0 {
		reads := make([]chat.MessageRead, 0, len(unread))
		for _, m := range unread {
			reads = append(reads, chat.MessageRead{MessageID: m.ID, ReaderID: me.ID, ReadAt: now})
		}
		if _, err := s.chatRepo.CreateReads(tx, reads); err != nil {
			return nil, apperrors.InternalError(err)
		}
		if err := s.chatRepo.AdvanceLastRead(tx, chatID, me.ID, unread[len(unread)-1].CreatedAt); err != nil {
			return nil, apperrors.InternalError(err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, apperrors.InternalError(err)
	}

	return &dto.ReadAllResult{
		ChatID:       chatID,
		ReaderID:     me.ID,
		ReaderUserID: me.UserID,
		Count:        len(unread),
		ReadAt:       now,
	}, nil
}

// MarkLatestRead marks the newest message read when someone else wrote it.
// It returns nil when there is nothing to mark.
func (s *chatService) MarkLatestRead(db *gorm.DB, userID, chatID uint) (*dto.ReadReceipt, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParticipant(db, chatID, me.ID); err != nil {
		return nil, err
	}
	last, err := s.chatRepo.FindLastMessage(db, chatID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return nil, nil
		}
		return nil, apperrors.InternalError(err)
	}
	if last.SenderID == me.ID {
		return nil, nil
	}
	return s.MarkRead(db, userID, chatID, last.ID)
}

func (s *chatService) MarkDelivered(db *gorm.DB, userID, chatID, messageID uint) (*dto.DeliveryReceipt, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return nil, err
	}
	msg, err := s.chatRepo.FindMessageByID(db, messageID)
	if err != nil {
		return nil, handleChatError(err)
	}
	if msg.ChatID != chatID {
		return nil, apperrors.ErrMessageNotFound
	}
	if err := s.requireParticipant(db, chatID, me.ID); err != nil {
		return nil, err
	}

	if msg.SenderID != me.ID && !msg.IsDelivered {
		if err := s.chatRepo.MarkDelivered(db, messageID); err != nil {
			return nil, apperrors.InternalError(err)
		}
	}
	return &dto.DeliveryReceipt{
		ChatID:       chatID,
		MessageID:    messageID,
		SenderUserID: msg.SenderUserID,
		UserID:       me.UserID,
	}, nil
}

// GetUnreadCount is zero for non-participants.
func (s *chatService) GetUnreadCount(db *gorm.DB, userID, chatID uint) (int64, error) {
	me, err := s.requester(db, userID)
	if err != nil {
		return 0, err
	}
	participant, err := s.chatRepo.FindParticipant(db, chatID, me.ID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			return 0, nil
		}
		return 0, apperrors.InternalError(err)
	}
	count, err := s.chatRepo.CountUnread(db, chatID, me.ID, participant.LastReadAt)
	if err != nil {
		return 0, apperrors.InternalError(err)
	}
	return count, nil
}

// --- helpers ---

func (s *chatService) requireParticipant(db *gorm.DB, chatID, profileID uint) error {
	ok, err := s.chatRepo.IsParticipant(db, chatID, profileID)
	if err != nil {
		return apperrors.InternalError(err)
	}
	if !ok {
		return apperrors.ErrNotParticipant
	}
	return nil
}

// resolveProfiles returns the profiles in the order of ids, or NotFound
// naming every id that does not exist.
func (s *chatService) resolveProfiles(db *gorm.DB, ids []uint) ([]models.Profile, error) {
	found, err := s.profileRepo.FindByIDs(db, ids)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	byID := make(map[uint]models.Profile, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	profiles := make([]models.Profile, 0, len(ids))
	var missing []uint
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		profiles = append(profiles, p)
	}
	if len(missing) > 0 {
		return nil, apperrors.NewNotFoundError("profile", fmt.Sprintf("Profiles not found: %v", missing)).
			WithDetails(map[string][]uint{"missingIds": missing})
	}
	return profiles, nil
}

// profileIndex caches profiles by id while a response is assembled.
type profileIndex map[uint]models.Profile

func (s *chatService) loadProfiles(db *gorm.DB, idx profileIndex, ids ...uint) error {
	var missing []uint
	for _, id := range uniqueIDs(ids) {
		if _, ok := idx[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	profiles, err := s.profileRepo.FindByIDs(db, missing)
	if err != nil {
		return apperrors.InternalError(err)
	}
	for _, p := range profiles {
		idx[p.ID] = p
	}
	return nil
}

func (s *chatService) messageResponse(db *gorm.DB, messageID uint) (*dto.MessageResponse, error) {
	msg, err := s.chatRepo.FindMessageDetails(db, messageID)
	if err != nil {
		return nil, handleChatError(err)
	}
	idx := profileIndex{}
	if err := s.loadProfiles(db, idx, messageProfileIDs(msg)...); err != nil {
		return nil, err
	}
	resp := toMessageResponse(msg, idx)
	return &resp, nil
}

// buildChatResponses decorates chats with participants, last message,
// unread count and mute flag as seen by me.
func (s *chatService) buildChatResponses(db *gorm.DB, chats []chat.Chat, me *models.Profile, idx profileIndex) ([]dto.ChatResponse, error) {
	lastMessages := make(map[uint]*chat.Message, len(chats))
	var ids []uint
	for i := range chats {
		c := &chats[i]
		if len(c.Participants) == 0 {
			participants, err := s.chatRepo.FindParticipantsByChat(db, c.ID)
			if err != nil {
				return nil, apperrors.InternalError(err)
			}
			c.Participants = participants
		}
		ids = append(ids, participantProfileIDs(c.Participants)...)

		last, err := s.chatRepo.FindLastMessage(db, c.ID)
		switch {
		case err == nil:
			lastMessages[c.ID] = last
			ids = append(ids, last.SenderID)
		case !errors.Is(err, repositories.ErrMessageNotFound):
			return nil, apperrors.InternalError(err)
		}
	}
	if err := s.loadProfiles(db, idx, ids...); err != nil {
		return nil, err
	}

	out := make([]dto.ChatResponse, 0, len(chats))
	for i := range chats {
		c := &chats[i]
		resp := dto.ChatResponse{
			ID:           c.ID,
			IsGroup:      c.IsGroup,
			Title:        c.Title,
			Avatar:       c.Avatar,
			Description:  c.Description,
			Participants: toParticipantResponses(c.Participants, idx),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		}
		if last, ok := lastMessages[c.ID]; ok {
			m := toMessageResponse(last, idx)
			resp.LastMessage = &m
		}
		for _, p := range c.Participants {
			if p.ProfileID != me.ID {
				continue
			}
			resp.IsMuted = p.IsMuted
			unread, err := s.chatRepo.CountUnread(db, c.ID, me.ID, p.LastReadAt)
			if err != nil {
				return nil, apperrors.InternalError(err)
			}
			resp.UnreadCount = unread
		}
		out = append(out, resp)
	}
	return out, nil
}

func toParticipantResponses(participants []chat.Participant, idx profileIndex) []dto.ParticipantResponse {
	out := make([]dto.ParticipantResponse, 0, len(participants))
	for _, p := range participants {
		profile := idx[p.ProfileID]
		out = append(out, dto.ParticipantResponse{
			ProfileID:  p.ProfileID,
			UserID:     p.UserID,
			Username:   profile.Username,
			Avatar:     profile.Avatar,
			IsAdmin:    p.IsAdmin,
			IsMuted:    p.IsMuted,
			LastReadAt: p.LastReadAt,
			JoinedAt:   p.CreatedAt,
		})
	}
	return out
}

func toMessageResponse(m *chat.Message, idx profileIndex) dto.MessageResponse {
	sender := idx[m.SenderID]
	resp := dto.MessageResponse{
		ID:           m.ID,
		ChatID:       m.ChatID,
		SenderID:     m.SenderID,
		SenderUserID: m.SenderUserID,
		SenderName:   sender.Username,
		SenderAvatar: sender.Avatar,
		Text:         m.Text,
		MediaURL:     m.MediaURL,
		ReplyToID:    m.ReplyToID,
		IsForwarded:  m.IsForwarded,
		IsDeleted:    m.IsDeleted,
		IsEdited:     m.IsEdited,
		EditCount:    m.EditCount,
		IsDelivered:  m.IsDelivered,
		ReadBy:       make([]dto.ReadByEntry, 0, len(m.Reads)),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		DeletedAt:    m.DeletedAt,
	}
	if m.MediaType != nil {
		mt := string(*m.MediaType)
		resp.MediaType = &mt
	}
	if m.ReplyTo != nil {
		resp.ReplyTo = &dto.ReplyPreview{
			ID:         m.ReplyTo.ID,
			Text:       m.ReplyTo.Text,
			SenderID:   m.ReplyTo.SenderID,
			SenderName: idx[m.ReplyTo.SenderID].Username,
		}
	}
	for _, r := range m.Reads {
		resp.ReadBy = append(resp.ReadBy, dto.ReadByEntry{
			ID:     r.ReaderID,
			Name:   idx[r.ReaderID].Username,
			ReadAt: r.ReadAt,
		})
	}
	return resp
}

func messageProfileIDs(m *chat.Message) []uint {
	ids := []uint{m.SenderID}
	if m.ReplyTo != nil {
		ids = append(ids, m.ReplyTo.SenderID)
	}
	for _, r := range m.Reads {
		ids = append(ids, r.ReaderID)
	}
	return ids
}

func participantProfileIDs(participants []chat.Participant) []uint {
	ids := make([]uint, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.ProfileID)
	}
	return ids
}

func newParticipant(chatID uint, p *models.Profile, admin bool, now time.Time) *chat.Participant {
	return &chat.Participant{
		ChatID:    chatID,
		ProfileID: p.ID,
		UserID:    p.UserID,
		IsAdmin:   admin,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// dmKey identifies the unordered pair of a direct chat.
func dmKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d-%d", a, b)
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func normalizePage(page, limit, def int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = def
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func nonBlank(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func handleChatError(err error) error {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}
	switch {
	case errors.Is(err, repositories.ErrProfileNotFound):
		return apperrors.ErrProfileNotFound
	case errors.Is(err, repositories.ErrChatNotFound):
		return apperrors.ErrChatNotFound
	case errors.Is(err, repositories.ErrMessageNotFound):
		return apperrors.ErrMessageNotFound
	case errors.Is(err, repositories.ErrParticipantNotFound):
		return apperrors.ErrNotParticipant
	case errors.Is(err, repositories.ErrDuplicateKey):
		return apperrors.ErrConflict(err, "chat", "Concurrent update, please retry")
	default:
		return apperrors.InternalError(err)
	}
}
