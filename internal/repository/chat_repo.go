package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/goalchat/internal/models"
)

// ChatRepository persists chats, participants and messages.
type ChatRepository interface {
	GetChat(ctx context.Context, id string) (models.Chat, error)
	FindPrivateChat(ctx context.Context, pairKey string) (models.Chat, error)
	CreateChat(ctx context.Context, chat *models.Chat) error
	AppendMessage(ctx context.Context, message *models.ChatMessage, recipients []string) (bool, error)
	GetMessage(ctx context.Context, id string) (models.ChatMessage, error)
	UpdateMessage(ctx context.Context, id string, text string, status models.MessageStatus) (models.ChatMessage, error)
	ResetUnread(ctx context.Context, chatID, userID string) error
	ListMessages(ctx context.Context, chatID string, offset, limit int) ([]models.ChatMessage, int64, error)
	ListAllMessages(ctx context.Context, chatID string) ([]models.ChatMessage, error)
	ListParticipations(ctx context.Context, userID string) ([]models.ChatParticipant, error)
}

// ErrMessageDeleted is returned when a non-delete update targets a message
// that has already been deleted.
var ErrMessageDeleted = errors.New("message was deleted")

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) GetChat(ctx context.Context, id string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).Preload("Participants").Where("id = ?", id).First(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

func (r *chatRepository) FindPrivateChat(ctx context.Context, pairKey string) (models.Chat, error) {
	var chat models.Chat
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("type = ? AND pair_key = ?", models.ChatTypePrivate, pairKey).
		First(&chat).Error
	if err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// CreateChat inserts the chat and its participants in one transaction. A
// second private chat for the same pair is rejected with gorm.ErrDuplicatedKey.
func (r *chatRepository) CreateChat(ctx context.Context, chat *models.Chat) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(chat).Error
	})
	if isUniqueViolation(err) {
		return gorm.ErrDuplicatedKey
	}
	return err
}

// AppendMessage stores the message and bumps the unread counters of the
// recipients atomically. When a message with the same id already exists the
// stored copy is loaded into message and false is returned.
func (r *chatRepository) AppendMessage(ctx context.Context, message *models.ChatMessage, recipients []string) (bool, error) {
	created := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ChatMessage
		err := tx.Where("id = ?", message.ID).Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}
		if existing.ID != "" {
			*message = existing
			return nil
		}

		if err := tx.Create(message).Error; err != nil {
			return err
		}

		if len(recipients) > 0 {
			err = tx.Model(&models.ChatParticipant{}).
				Where("chat_id = ? AND user_id IN ?", message.ChatID, recipients).
				Updates(map[string]interface{}{
					"unread_count": gorm.Expr("unread_count + ?", 1),
					"updated_at":   time.Now().UTC(),
				}).Error
			if err != nil {
				return err
			}
		}

		if err := tx.Model(&models.Chat{}).Where("id = ?", message.ChatID).Update("updated_at", message.CreatedAt).Error; err != nil {
			return err
		}

		created = true
		return nil
	})
	if err != nil && isUniqueViolation(err) {
		// A concurrent retry committed the same message id first.
		stored, getErr := r.GetMessage(ctx, message.ID)
		if getErr != nil {
			return false, err
		}
		*message = stored
		return false, nil
	}
	return created, err
}

func (r *chatRepository) GetMessage(ctx context.Context, id string) (models.ChatMessage, error) {
	var message models.ChatMessage
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&message).Error; err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

func (r *chatRepository) UpdateMessage(ctx context.Context, id string, text string, status models.MessageStatus) (models.ChatMessage, error) {
	var message models.ChatMessage
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		update := tx.Model(&models.ChatMessage{}).Where("id = ?", id)
		if status != models.MessageStatusDeleted {
			update = update.Where("status <> ?", models.MessageStatusDeleted)
		}
		result := update.Updates(map[string]interface{}{
			"text":       text,
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
		if result.Error != nil {
			return result.Error
		}

		if err := tx.Where("id = ?", id).First(&message).Error; err != nil {
			return err
		}
		if result.RowsAffected == 0 {
			return ErrMessageDeleted
		}
		return nil
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	return message, nil
}

func (r *chatRepository) ResetUnread(ctx context.Context, chatID, userID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ChatParticipant{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{
			"unread_count": 0,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *chatRepository) ListMessages(ctx context.Context, chatID string, offset, limit int) ([]models.ChatMessage, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := r.db.WithContext(ctx).Model(&models.ChatMessage{}).Where("chat_id = ?", chatID)

	countQuery := query.Session(&gorm.Session{})
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var messages []models.ChatMessage
	if err := query.Order("created_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&messages).Error; err != nil {
		return nil, 0, err
	}

	return messages, total, nil
}

func (r *chatRepository) ListAllMessages(ctx context.Context, chatID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *chatRepository) ListParticipations(ctx context.Context, userID string) ([]models.ChatParticipant, error) {
	var participants []models.ChatParticipant
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&participants).Error; err != nil {
		return nil, err
	}
	return participants, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
