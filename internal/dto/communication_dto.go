package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/teamhub-realtime/internal/models"
)

// Inbound websocket event names.
const (
	EventJoinChat       = "join_chat"
	EventLeaveChat      = "leave_chat"
	EventSendMessage    = "send_message"
	EventGetChatHistory = "get_chat_history"
)

// Outbound websocket event names.
const (
	EventOnlineUsers  = "online_users"
	EventUserJoined   = "user_joined"
	EventUserLeft     = "user_left"
	EventNewMessage   = "new_message"
	EventChatHistory  = "chat_history"
	EventNotification = "notification"
	EventError        = "error"
)

// SocketEvent is the envelope used for every outbound websocket frame.
type SocketEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// InboundEvent is the envelope decoded from client frames. Data is decoded lazily
// once the event name is known.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// RoomRef identifies a chat room by its composite key.
type RoomRef struct {
	RoomID   string `json:"roomId" validate:"required,max=64"`
	RoomType string `json:"roomType" validate:"required,oneof=TEAM TASK"`
}

// JoinChatRequest binds a connection to a room.
type JoinChatRequest struct {
	RoomRef
	UserID   string `json:"userId" validate:"omitempty,max=64"`
	UserName string `json:"userName" validate:"omitempty,max=255"`
}

// LeaveChatRequest removes a connection from a room.
type LeaveChatRequest struct {
	RoomRef
	UserID string `json:"userId" validate:"omitempty,max=64"`
}

// SendMessageRequest carries a chat message authored by the connection's user.
type SendMessageRequest struct {
	RoomRef
	// Content length is checked on the trimmed text by the chat service.
	Content string `json:"content" validate:"required"`
}

// ChatHistoryQuery pages backwards through a room's history; larger offsets are older.
type ChatHistoryQuery struct {
	RoomRef
	Limit  int `json:"limit" query:"limit" validate:"omitempty,min=1,max=100"`
	Offset int `json:"offset" query:"offset" validate:"omitempty,min=0"`
}

// OnlineUser is a single entry of a room's presence list.
type OnlineUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// OnlineUsersEvent carries the full presence list of a room.
type OnlineUsersEvent struct {
	RoomID   string       `json:"roomId"`
	RoomType string       `json:"roomType"`
	Users    []OnlineUser `json:"users"`
}

// PresenceChangeEvent is emitted for user_joined and user_left.
type PresenceChangeEvent struct {
	RoomID   string `json:"roomId"`
	RoomType string `json:"roomType"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// ChatHistoryEvent answers a get_chat_history request.
type ChatHistoryEvent struct {
	RoomID   string                `json:"roomId"`
	RoomType string                `json:"roomType"`
	Messages []ChatMessageResponse `json:"messages"`
}

// ErrorEvent reports a failed request back to the connection that issued it.
type ErrorEvent struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// ChatMessageResponse is the serialized representation of a chat message.
type ChatMessageResponse struct {
	ID          uint      `json:"id"`
	Content     string    `json:"content"`
	RoomID      string    `json:"roomId"`
	RoomType    string    `json:"roomType"`
	MessageType string    `json:"messageType"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName"`
	AuthorEmail string    `json:"authorEmail,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:          message.ID,
		Content:     message.Content,
		RoomID:      message.RoomID,
		RoomType:    string(message.RoomType),
		MessageType: string(message.MessageType),
		AuthorID:    message.AuthorID,
		AuthorName:  message.AuthorName,
		AuthorEmail: message.AuthorEmail,
		CreatedAt:   message.CreatedAt,
		UpdatedAt:   message.UpdatedAt,
	}
}

// NewChatMessageResponseSlice converts a slice of models into DTOs.
func NewChatMessageResponseSlice(messages []models.ChatMessage) []ChatMessageResponse {
	out := make([]ChatMessageResponse, 0, len(messages))
	for _, message := range messages {
		out = append(out, NewChatMessageResponse(message))
	}
	return out
}

// RoomMessageCount is returned by the message count endpoint.
type RoomMessageCount struct {
	RoomID   string `json:"roomId"`
	RoomType string `json:"roomType"`
	Count    int64  `json:"count"`
}

// NotificationCreateRequest describes the payload to create a notification.
type NotificationCreateRequest struct {
	Type         string                 `json:"type" validate:"required,max=64"`
	Title        string                 `json:"title" validate:"required,max=255"`
	Message      string                 `json:"message" validate:"required,min=1,max=2000"`
	Data         map[string]interface{} `json:"data,omitempty"`
	TargetUserID string                 `json:"targetUserId" validate:"required,max=64"`
}

// NotificationResponse represents notification data returned to clients.
type NotificationResponse struct {
	ID           uint                   `json:"id"`
	Type         string                 `json:"type"`
	Title        string                 `json:"title"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data,omitempty"`
	TargetUserID string                 `json:"targetUserId"`
	Read         bool                   `json:"read"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// NewNotificationResponse converts a notification model to DTO.
func NewNotificationResponse(model models.Notification) NotificationResponse {
	return NotificationResponse{
		ID:           model.ID,
		Type:         model.Type,
		Title:        model.Title,
		Message:      model.Message,
		Data:         map[string]interface{}(model.Data),
		TargetUserID: model.TargetUserID,
		Read:         model.Read,
		CreatedAt:    model.CreatedAt,
		UpdatedAt:    model.UpdatedAt,
	}
}

// NewNotificationResponseSlice converts a slice to DTOs.
func NewNotificationResponseSlice(items []models.Notification) []NotificationResponse {
	out := make([]NotificationResponse, 0, len(items))
	for _, item := range items {
		out = append(out, NewNotificationResponse(item))
	}
	return out
}

// NotificationListQuery filters a user's notifications.
type NotificationListQuery struct {
	Page       int  `query:"page" validate:"omitempty,min=1"`
	PageSize   int  `query:"pageSize" validate:"omitempty,min=1,max=100"`
	UnreadOnly bool `query:"unreadOnly"`
}

// PageMeta captures pagination metadata for list responses.
type PageMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// NewPageMeta computes total pages for the given page window.
func NewPageMeta(page, pageSize int, total int64) PageMeta {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return PageMeta{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages}
}

// NotificationPage is a single page of a user's notifications.
type NotificationPage struct {
	Data       []NotificationResponse `json:"data"`
	Pagination PageMeta               `json:"pagination"`
}

// UnreadCountResponse reports how many notifications are unread.
type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

// MarkAllReadResponse reports how many rows flipped to read.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// RoomMemberRequest upserts a member of the room membership projection.
type RoomMemberRequest struct {
	UserID   string `json:"userId" validate:"required,max=64"`
	Name     string `json:"name" validate:"omitempty,max=255"`
	Email    string `json:"email" validate:"omitempty,email,max=255"`
	Position int    `json:"position" validate:"omitempty,min=0"`
}
