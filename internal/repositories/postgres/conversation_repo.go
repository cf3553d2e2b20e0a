package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/shini559/Gaming-advisor/internal/models"
	"github.com/shini559/Gaming-advisor/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ConversationRepository interface {
	InsertConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	ListByGame(ctx context.Context, gameID, userID string, limit, offset int) ([]models.Conversation, error)
	Touch(ctx context.Context, id string, at time.Time) error
	SetTitleIfEmpty(ctx context.Context, id, title string) error

	InsertMessage(ctx context.Context, m *models.ChatMessage) error
	GetMessage(ctx context.Context, id string) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.ChatMessage, int64, error)

	UpsertFeedback(ctx context.Context, f *models.MessageFeedback) error
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepository {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) InsertConversation(ctx context.Context, c *models.Conversation) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *conversationRepo) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &c, err
}

func (r *conversationRepo) ListByGame(ctx context.Context, gameID, userID string, limit, offset int) ([]models.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []models.Conversation
	err := r.db.WithContext(ctx).
		Where("game_id = ? AND user_id = ?", gameID, userID).
		Order("updated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

func (r *conversationRepo) Touch(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("updated_at", at).Error
}

func (r *conversationRepo) SetTitleIfEmpty(ctx context.Context, id, title string) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND title = ''", id).
		Update("title", title).Error
}

func (r *conversationRepo) InsertMessage(ctx context.Context, m *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *conversationRepo) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	var m models.ChatMessage
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &m, err
}

func (r *conversationRepo) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]models.ChatMessage, int64, error) {
	if limit <= 0 {
		limit = 20
	}

	var total int64
	if err := r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, total, err
}

// UpsertFeedback keeps at most one feedback row per message; a later
// submission overwrites the earlier one. The message's usefulness flag
// is kept in step inside the same transaction.
func (r *conversationRepo) UpsertFeedback(ctx context.Context, f *models.MessageFeedback) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_useful", "comment", "created_at"}),
		}).Create(f).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChatMessage{}).
			Where("id = ?", f.MessageID).
			Update("is_useful", f.IsUseful).Error
	})
}
