package repositories

import (
	"errors"
	"strings"
	"time"

	"social_backend/internal/models/chat"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrDuplicateKey        = errors.New("duplicate key")
)

type ChatRepository interface {
	// Chat operations
	CreateChat(db *gorm.DB, c *chat.Chat) error
	FindChatByID(db *gorm.DB, id uint) (*chat.Chat, error)
	FindChatByDMKey(db *gorm.DB, dmKey string) (*chat.Chat, error)
	FindUserChats(db *gorm.DB, profileID uint, criteria PageCriteria) ([]chat.Chat, int64, error)
	FindAllUserChats(db *gorm.DB, profileID uint) ([]chat.Chat, error)
	DeleteChat(db *gorm.DB, id uint) error

	// Participant operations
	AddParticipants(db *gorm.DB, participants []*chat.Participant) error
	FindParticipant(db *gorm.DB, chatID, profileID uint) (*chat.Participant, error)
	FindParticipantsByChat(db *gorm.DB, chatID uint) ([]chat.Participant, error)
	IsParticipant(db *gorm.DB, chatID, profileID uint) (bool, error)
	SetMuted(db *gorm.DB, chatID, profileID uint, muted bool) error
	RemoveParticipant(db *gorm.DB, chatID, profileID uint) error
	AdvanceLastRead(db *gorm.DB, chatID, profileID uint, at time.Time) error

	// Message operations
	CreateMessage(db *gorm.DB, m *chat.Message) error
	FindMessageByID(db *gorm.DB, id uint) (*chat.Message, error)
	FindMessageDetails(db *gorm.DB, id uint) (*chat.Message, error)
	FindMessagesByChat(db *gorm.DB, chatID uint, criteria PageCriteria) ([]chat.Message, int64, error)
	FindLastMessage(db *gorm.DB, chatID uint) (*chat.Message, error)
	FindUnreadMessages(db *gorm.DB, chatID, profileID uint, since *time.Time) ([]chat.Message, error)
	CountUnread(db *gorm.DB, chatID, profileID uint, since *time.Time) (int64, error)
	CountMessages(db *gorm.DB, chatID uint) (int64, error)
	UpdateMessage(db *gorm.DB, m *chat.Message) error
	MarkDelivered(db *gorm.DB, messageID uint) error

	// Read receipts
	CreateRead(db *gorm.DB, read *chat.MessageRead) (bool, error)
	CreateReads(db *gorm.DB, reads []chat.MessageRead) (int64, error)
}

// PageCriteria is an offset page; Limit <= 0 means no limit.
type PageCriteria struct {
	Page  int `form:"page"`
	Limit int `form:"limit"`
}

func (p PageCriteria) Offset() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	return (p.Page - 1) * p.Limit
}

type ChatRepositoryImpl struct{}

func NewChatRepository() ChatRepository {
	return &ChatRepositoryImpl{}
}

// --- Chats ---

func (r *ChatRepositoryImpl) CreateChat(db *gorm.DB, c *chat.Chat) error {
	if err := db.Omit(clause.Associations).Create(c).Error; err != nil {
		if IsDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *ChatRepositoryImpl) FindChatByID(db *gorm.DB, id uint) (*chat.Chat, error) {
	var c chat.Chat
	if err := db.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ChatRepositoryImpl) FindChatByDMKey(db *gorm.DB, dmKey string) (*chat.Chat, error) {
	var c chat.Chat
	if err := db.Where("dm_key = ?", dmKey).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &c, nil
}

// lastActivity orders chats by their newest message, falling back to creation time.
const lastActivity = "COALESCE((SELECT MAX(m.created_at) FROM messages m WHERE m.chat_id = chats.id), chats.created_at) DESC"

func (r *ChatRepositoryImpl) FindUserChats(db *gorm.DB, profileID uint, criteria PageCriteria) ([]chat.Chat, int64, error) {
	memberOf := func() *gorm.DB {
		return db.Model(&chat.Chat{}).
			Joins("JOIN chat_participants cp ON cp.chat_id = chats.id AND cp.profile_id = ?", profileID)
	}

	var total int64
	if err := memberOf().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := memberOf().Select("chats.*").Order(lastActivity).Order("chats.id DESC")
	if criteria.Limit > 0 {
		query = query.Offset(criteria.Offset()).Limit(criteria.Limit)
	}

	var chats []chat.Chat
	if err := query.Preload("Participants").Find(&chats).Error; err != nil {
		return nil, 0, err
	}
	return chats, total, nil
}

func (r *ChatRepositoryImpl) FindAllUserChats(db *gorm.DB, profileID uint) ([]chat.Chat, error) {
	chats, _, err := r.FindUserChats(db, profileID, PageCriteria{})
	return chats, err
}

// DeleteChat removes the chat with its participants, messages and reads. The
// same cascade is declared on the foreign keys; doing it explicitly keeps
// engines without FK enforcement consistent.
func (r *ChatRepositoryImpl) DeleteChat(db *gorm.DB, id uint) error {
	var messageIDs []uint
	if err := db.Model(&chat.Message{}).Where("chat_id = ?", id).Pluck("id", &messageIDs).Error; err != nil {
		return err
	}

	if len(messageIDs) > 0 {
		if err := db.Model(&chat.Message{}).
			Where("reply_to_id IN ? AND chat_id <> ?", messageIDs, id).
			Update("reply_to_id", nil).Error; err != nil {
			return err
		}
		if err := db.Where("message_id IN ?", messageIDs).Delete(&chat.MessageRead{}).Error; err != nil {
			return err
		}
		if err := db.Where("chat_id = ?", id).Delete(&chat.Message{}).Error; err != nil {
			return err
		}
	}
	if err := db.Where("chat_id = ?", id).Delete(&chat.Participant{}).Error; err != nil {
		return err
	}

	result := db.Delete(&chat.Chat{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrChatNotFound
	}
	return nil
}

// --- Participants ---

func (r *ChatRepositoryImpl) AddParticipants(db *gorm.DB, participants []*chat.Participant) error {
	if len(participants) == 0 {
		return nil
	}
	if err := db.CreateInBatches(participants, 50).Error; err != nil {
		if IsDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return nil
}

func (r *ChatRepositoryImpl) FindParticipant(db *gorm.DB, chatID, profileID uint) (*chat.Participant, error) {
	var p chat.Participant
	err := db.Where("chat_id = ? AND profile_id = ?", chatID, profileID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *ChatRepositoryImpl) FindParticipantsByChat(db *gorm.DB, chatID uint) ([]chat.Participant, error) {
	var participants []chat.Participant
	err := db.Where("chat_id = ?", chatID).Order("id ASC").Find(&participants).Error
	return participants, err
}

func (r *ChatRepositoryImpl) IsParticipant(db *gorm.DB, chatID, profileID uint) (bool, error) {
	var count int64
	err := db.Model(&chat.Participant{}).
		Where("chat_id = ? AND profile_id = ?", chatID, profileID).
		Count(&count).Error
	return count > 0, err
}

func (r *ChatRepositoryImpl) SetMuted(db *gorm.DB, chatID, profileID uint, muted bool) error {
	result := db.Model(&chat.Participant{}).
		Where("chat_id = ? AND profile_id = ?", chatID, profileID).
		Update("is_muted", muted)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

func (r *ChatRepositoryImpl) RemoveParticipant(db *gorm.DB, chatID, profileID uint) error {
	result := db.Where("chat_id = ? AND profile_id = ?", chatID, profileID).Delete(&chat.Participant{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// AdvanceLastRead sets the cursor to at unless it already points later.
// The comparison happens in the UPDATE so concurrent callers cannot move it back.
func (r *ChatRepositoryImpl) AdvanceLastRead(db *gorm.DB, chatID, profileID uint, at time.Time) error {
	return db.Model(&chat.Participant{}).
		Where("chat_id = ? AND profile_id = ?", chatID, profileID).
		Where("(last_read_at IS NULL OR last_read_at < ?)", at).
		Update("last_read_at", at).Error
}

// --- Messages ---

func (r *ChatRepositoryImpl) CreateMessage(db *gorm.DB, m *chat.Message) error {
	return db.Omit(clause.Associations).Create(m).Error
}

func (r *ChatRepositoryImpl) FindMessageByID(db *gorm.DB, id uint) (*chat.Message, error) {
	var m chat.Message
	if err := db.First(&m, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindMessageDetails loads the message with its reply target and reads.
func (r *ChatRepositoryImpl) FindMessageDetails(db *gorm.DB, id uint) (*chat.Message, error) {
	var m chat.Message
	err := db.Preload("ReplyTo").
		Preload("Reads", func(tx *gorm.DB) *gorm.DB { return tx.Order("read_at ASC") }).
		First(&m, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

// FindMessagesByChat returns one page newest-first with reply targets and reads preloaded.
func (r *ChatRepositoryImpl) FindMessagesByChat(db *gorm.DB, chatID uint, criteria PageCriteria) ([]chat.Message, int64, error) {
	var total int64
	if err := db.Model(&chat.Message{}).Where("chat_id = ?", chatID).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	query := db.Where("chat_id = ?", chatID).
		Order("created_at DESC").Order("id DESC").
		Preload("ReplyTo").
		Preload("Reads", func(tx *gorm.DB) *gorm.DB { return tx.Order("read_at ASC") })
	if criteria.Limit > 0 {
		query = query.Offset(criteria.Offset()).Limit(criteria.Limit)
	}

	var messages []chat.Message
	if err := query.Find(&messages).Error; err != nil {
		return nil, 0, err
	}
	return messages, total, nil
}

func (r *ChatRepositoryImpl) FindLastMessage(db *gorm.DB, chatID uint) (*chat.Message, error) {
	var m chat.Message
	err := db.Where("chat_id = ?", chatID).Order("created_at DESC").Order("id DESC").First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &m, nil
}

func unreadScope(db *gorm.DB, chatID, profileID uint, since *time.Time) *gorm.DB {
	query := db.Model(&chat.Message{}).Where("chat_id = ? AND sender_id <> ?", chatID, profileID)
	if since != nil {
		query = query.Where("created_at > ?", *since)
	}
	return query
}

// FindUnreadMessages lists messages from others newer than since, oldest first.
func (r *ChatRepositoryImpl) FindUnreadMessages(db *gorm.DB, chatID, profileID uint, since *time.Time) ([]chat.Message, error) {
	var messages []chat.Message
	err := unreadScope(db, chatID, profileID, since).Order("created_at ASC").Order("id ASC").Find(&messages).Error
	return messages, err
}

func (r *ChatRepositoryImpl) CountUnread(db *gorm.DB, chatID, profileID uint, since *time.Time) (int64, error) {
	var count int64
	err := unreadScope(db, chatID, profileID, since).Count(&count).Error
	return count, err
}

func (r *ChatRepositoryImpl) CountMessages(db *gorm.DB, chatID uint) (int64, error) {
	var count int64
	err := db.Model(&chat.Message{}).Where("chat_id = ?", chatID).Count(&count).Error
	return count, err
}

func (r *ChatRepositoryImpl) UpdateMessage(db *gorm.DB, m *chat.Message) error {
	result := db.Model(m).Select(
		"text", "media_url", "media_type", "is_deleted", "is_edited", "edit_count", "deleted_at", "updated_at",
	).Updates(m)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *ChatRepositoryImpl) MarkDelivered(db *gorm.DB, messageID uint) error {
	return db.Model(&chat.Message{}).
		Where("id = ? AND is_delivered = ?", messageID, false).
		Update("is_delivered", true).Error
}

// --- Reads ---

// CreateRead inserts the receipt unless one exists for (message, reader);
// it reports whether a row was written.
func (r *ChatRepositoryImpl) CreateRead(db *gorm.DB, read *chat.MessageRead) (bool, error) {
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "reader_id"}},
		DoNothing: true,
	}).Create(read)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *ChatRepositoryImpl) CreateReads(db *gorm.DB, reads []chat.MessageRead) (int64, error) {
	if len(reads) == 0 {
		return 0, nil
	}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "reader_id"}},
		DoNothing: true,
	}).CreateInBatches(reads, 100)
	return result.RowsAffected, result.Error
}

// IsDuplicateKey recognises unique violations from every supported driver,
// with or without gorm's TranslateError.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
