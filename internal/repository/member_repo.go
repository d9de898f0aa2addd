package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/teamhub-realtime/internal/models"
)

// MemberRepository reads the room membership projection used to resolve mentions.
type MemberRepository interface {
	ListByRoom(ctx context.Context, roomType models.RoomType, roomID string) ([]models.RoomMember, error)
	Upsert(ctx context.Context, member *models.RoomMember) error
}

type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository constructs a membership repository backed by GORM.
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) ListByRoom(ctx context.Context, roomType models.RoomType, roomID string) ([]models.RoomMember, error) {
	var members []models.RoomMember
	if err := r.db.WithContext(ctx).
		Where("room_type = ? AND room_id = ?", roomType, roomID).
		Order("position ASC").
		Order("id ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// Upsert stores a member keyed by (room_type, room_id, user_id), refreshing its
// name, email and position when the row already exists.
func (r *memberRepository) Upsert(ctx context.Context, member *models.RoomMember) error {
	var existing models.RoomMember
	err := r.db.WithContext(ctx).
		Where("room_type = ? AND room_id = ? AND user_id = ?", member.RoomType, member.RoomID, member.UserID).
		Limit(1).
		Find(&existing).Error
	if err != nil {
		return err
	}
	if existing.ID == 0 {
		return r.db.WithContext(ctx).Create(member).Error
	}

	member.ID = existing.ID
	return r.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
		"name":     member.Name,
		"email":    member.Email,
		"position": member.Position,
	}).Error
}
