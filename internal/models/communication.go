package models

import (
	"time"

	"gorm.io/datatypes"
)

// RoomType identifies the kind of conversation a chat room belongs to.
type RoomType string

const (
	RoomTypeTeam RoomType = "TEAM"
	RoomTypeTask RoomType = "TASK"
)

// Valid reports whether the room type is one of the supported conversation kinds.
func (t RoomType) Valid() bool {
	return t == RoomTypeTeam || t == RoomTypeTask
}

// MessageType distinguishes user-authored chat messages from system announcements.
type MessageType string

const (
	MessageTypeMessage MessageType = "MESSAGE"
	MessageTypeSystem  MessageType = "SYSTEM"
)

// ChatMessage is a persisted chat entry. Rows are never updated after creation.
type ChatMessage struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	Content     string      `gorm:"type:text;not null" json:"content"`
	RoomID      string      `gorm:"size:64;not null;index:idx_chat_room_created,priority:2" json:"room_id"`
	RoomType    RoomType    `gorm:"size:16;not null;index:idx_chat_room_created,priority:1" json:"room_type"`
	MessageType MessageType `gorm:"size:16;not null;default:MESSAGE" json:"message_type"`
	AuthorID    string      `gorm:"size:64;index" json:"author_id"`
	AuthorName  string      `gorm:"size:255" json:"author_name"`
	AuthorEmail string      `gorm:"size:255" json:"author_email"`
	CreatedAt   time.Time   `gorm:"index:idx_chat_room_created,priority:3" json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Notification represents a message targeted to a specific user.
type Notification struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	Type         string            `gorm:"size:64;not null" json:"type"`
	Title        string            `gorm:"size:255;not null" json:"title"`
	Message      string            `gorm:"type:text" json:"message"`
	Data         datatypes.JSONMap `gorm:"type:json" json:"data,omitempty"`
	TargetUserID string            `gorm:"size:64;not null;index:idx_notification_target_read,priority:1" json:"target_user_id"`
	Read         bool              `gorm:"not null;default:false;index:idx_notification_target_read,priority:2" json:"read"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// RoomMember is a read projection of who belongs to a team or task conversation.
// The CRUD layer owns its lifecycle; the realtime layer only reads it to resolve mentions.
type RoomMember struct {
	ID       uint     `gorm:"primaryKey" json:"id"`
	RoomType RoomType `gorm:"size:16;not null;uniqueIndex:idx_room_member,priority:1" json:"room_type"`
	RoomID   string   `gorm:"size:64;not null;uniqueIndex:idx_room_member,priority:2" json:"room_id"`
	UserID   string   `gorm:"size:64;not null;uniqueIndex:idx_room_member,priority:3" json:"user_id"`
	Name     string   `gorm:"size:255" json:"name"`
	Email    string   `gorm:"size:255" json:"email"`
	// Position keeps resolution order stable; lower positions are matched first.
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
