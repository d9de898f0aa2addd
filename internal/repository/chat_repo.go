package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/teamhub-realtime/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
)

// ChatRepository persists chat messages for history replay.
type ChatRepository interface {
	Save(ctx context.Context, message *models.ChatMessage) error
	ListByRoom(ctx context.Context, roomType models.RoomType, roomID string, limit, offset int) ([]models.ChatMessage, error)
	CountByRoom(ctx context.Context, roomType models.RoomType, roomID string) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository constructs a chat repository backed by GORM.
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) Save(ctx context.Context, message *models.ChatMessage) error {
	return r.db.WithContext(ctx).Create(message).Error
}

// ListByRoom reads a window counted back from the newest message and returns it
// oldest first. Ties on created_at are broken by id so adjacent pages never
// overlap or skip.
func (r *chatRepository) ListByRoom(ctx context.Context, roomType models.RoomType, roomID string, limit, offset int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	var messages []models.ChatMessage
	if err := r.db.WithContext(ctx).
		Where("room_type = ? AND room_id = ?", roomType, roomID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&messages).Error; err != nil {
		return nil, err
	}

	// Reverse to chronological order ascending for clients.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (r *chatRepository) CountByRoom(ctx context.Context, roomType models.RoomType, roomID string) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.ChatMessage{}).
		Where("room_type = ? AND room_id = ?", roomType, roomID).
		Count(&total).Error
	return total, err
}

func (r *chatRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ChatMessage{})
	return result.RowsAffected, result.Error
}
