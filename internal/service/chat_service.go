package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/teamhub-realtime/internal/dto"
	"github.com/noah-isme/teamhub-realtime/internal/models"
	"github.com/noah-isme/teamhub-realtime/internal/observability"
	"github.com/noah-isme/teamhub-realtime/internal/presence"
	"github.com/noah-isme/teamhub-realtime/internal/repository"
)

const (
	maxMessageLength      = 1000
	defaultMentionTimeout = 10 * time.Second
)

var (
	// ErrEmptyContent indicates a message had no content left after sanitisation.
	ErrEmptyContent = errors.New("message content is empty")
	// ErrContentTooLong indicates a message exceeded the maximum length.
	ErrContentTooLong = fmt.Errorf("message content exceeds %d characters", maxMessageLength)
	// ErrPersistFailed wraps storage failures on the send path.
	ErrPersistFailed = errors.New("failed to store message")
)

// AuthContext is the already-authenticated caller identity supplied by the transport layer.
type AuthContext struct {
	UserID   string
	UserName string
	Email    string
}

func (a AuthContext) identity() presence.Identity {
	return presence.Identity{UserID: a.UserID, UserName: a.UserName}
}

// ChatService orchestrates room membership, message delivery and history replay
// for live connections.
type ChatService interface {
	Join(ctx context.Context, conn presence.Conn, auth AuthContext, req dto.JoinChatRequest) error
	Leave(ctx context.Context, conn presence.Conn, req dto.LeaveChatRequest) error
	SendMessage(ctx context.Context, conn presence.Conn, auth AuthContext, req dto.SendMessageRequest) (dto.ChatMessageResponse, error)
	History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error)
	Disconnect(ctx context.Context, conn presence.Conn)

	BroadcastToRoom(key presence.RoomKey, event string, payload interface{}) int
	OnlineUsers(key presence.RoomKey) []dto.OnlineUser
	MessageCount(ctx context.Context, key presence.RoomKey) (int64, error)
	SendSystemMessage(ctx context.Context, key presence.RoomKey, content string) (dto.ChatMessageResponse, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	UpsertMember(ctx context.Context, key presence.RoomKey, member dto.RoomMemberRequest) error
	Drain(ctx context.Context) error
}

// ChatOptions wires the optional collaborators of the chat service.
type ChatOptions struct {
	// Notifications receives mention notifications. A nil sink disables the mention pipeline.
	Notifications    NotificationSink
	Members          repository.MemberRepository
	AnnouncePresence bool
	MentionTimeout   time.Duration
}

type chatService struct {
	repo             repository.ChatRepository
	members          repository.MemberRepository
	registry         *presence.Registry
	mentions         *mentionPipeline
	announcePresence bool
	validator        *validator.Validate
	logger           zerolog.Logger
	tracer           trace.Tracer
	sanitizer        *bluemonday.Policy
	now              func() time.Time
}

// NewChatService creates the chat session manager.
func NewChatService(repo repository.ChatRepository, registry *presence.Registry, opts ChatOptions, validate *validator.Validate, logger zerolog.Logger) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	svc := &chatService{
		repo:             repo,
		members:          opts.Members,
		registry:         registry,
		announcePresence: opts.AnnouncePresence,
		validator:        validate,
		logger:           logger.With().Str("component", "chat_service").Logger(),
		tracer:           otel.Tracer("github.com/noah-isme/teamhub-realtime/internal/service/chat"),
		sanitizer:        sanitizer,
		now:              time.Now,
	}

	if opts.Notifications != nil {
		timeout := opts.MentionTimeout
		if timeout <= 0 {
			timeout = defaultMentionTimeout
		}
		svc.mentions = newMentionPipeline(opts.Members, opts.Notifications, timeout, logger)
	}

	return svc
}

func (s *chatService) Join(ctx context.Context, conn presence.Conn, auth AuthContext, req dto.JoinChatRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}
	key, err := presence.NewRoomKey(req.RoomType, req.RoomID)
	if err != nil {
		return err
	}

	identity := presence.Identity{UserID: strings.TrimSpace(req.UserID), UserName: strings.TrimSpace(req.UserName)}
	if auth.UserID != "" {
		name := auth.UserName
		if name == "" {
			name = identity.UserName
		}
		identity = presence.Identity{UserID: auth.UserID, UserName: name}
	}

	users, bound, err := s.registry.Join(conn, identity, key)
	if err != nil {
		return err
	}

	s.logger.Debug().Str("conn_id", conn.ID()).Str("user_id", bound.UserID).Str("room", key.String()).Msg("joined chat room")

	joined := dto.SocketEvent{Event: dto.EventUserJoined, Data: dto.PresenceChangeEvent{
		RoomID:   key.ID,
		RoomType: string(key.Type),
		UserID:   bound.UserID,
		UserName: bound.UserName,
	}}
	for _, target := range s.registry.Conns(key) {
		if target.ID() == conn.ID() {
			continue
		}
		target.Deliver(joined)
	}

	online := dto.SocketEvent{Event: dto.EventOnlineUsers, Data: onlineUsersEvent(key, users)}
	conn.Deliver(online)
	s.BroadcastToRoom(key, online.Event, online.Data)

	if s.announcePresence {
		s.announce(ctx, key, fmt.Sprintf("%s joined the chat", displayName(bound)))
	}

	return nil
}

// Leave is a successful no-op when the connection never joined the room.
func (s *chatService) Leave(ctx context.Context, conn presence.Conn, req dto.LeaveChatRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}
	key, err := presence.NewRoomKey(req.RoomType, req.RoomID)
	if err != nil {
		return err
	}

	s.leave(ctx, conn, key)
	return nil
}

func (s *chatService) leave(ctx context.Context, conn presence.Conn, key presence.RoomKey) {
	users, identity, left := s.registry.Leave(conn, key)
	if !left {
		return
	}

	s.logger.Debug().Str("conn_id", conn.ID()).Str("user_id", identity.UserID).Str("room", key.String()).Msg("left chat room")

	stillPresent := false
	for _, user := range users {
		if user.UserID == identity.UserID {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		s.BroadcastToRoom(key, dto.EventUserLeft, dto.PresenceChangeEvent{
			RoomID:   key.ID,
			RoomType: string(key.Type),
			UserID:   identity.UserID,
			UserName: identity.UserName,
		})
	}
	s.BroadcastToRoom(key, dto.EventOnlineUsers, onlineUsersEvent(key, users))

	if s.announcePresence && !stillPresent {
		s.announce(ctx, key, fmt.Sprintf("%s left the chat", displayName(identity)))
	}
}

func (s *chatService) SendMessage(ctx context.Context, conn presence.Conn, auth AuthContext, req dto.SendMessageRequest) (dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatMessageResponse{}, err
	}
	key, err := presence.NewRoomKey(req.RoomType, req.RoomID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	content, err := s.cleanContent(req.Content)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	author, ok := s.registry.IdentityOf(conn)
	if !ok {
		author = auth.identity()
	}
	if author.UserID == "" {
		return dto.ChatMessageResponse{}, presence.ErrIdentityRequired
	}

	message := models.ChatMessage{
		Content:     content,
		RoomID:      key.ID,
		RoomType:    key.Type,
		MessageType: models.MessageTypeMessage,
		AuthorID:    author.UserID,
		AuthorName:  author.UserName,
		AuthorEmail: auth.Email,
	}

	response, err := s.persistAndBroadcast(ctx, key, &message)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	if s.mentions != nil {
		s.mentions.dispatch(message)
	}

	return response, nil
}

func (s *chatService) SendSystemMessage(ctx context.Context, key presence.RoomKey, content string) (dto.ChatMessageResponse, error) {
	clean, err := s.cleanContent(content)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}

	message := models.ChatMessage{
		Content:     clean,
		RoomID:      key.ID,
		RoomType:    key.Type,
		MessageType: models.MessageTypeSystem,
		AuthorID:    "system",
		AuthorName:  "System",
	}
	return s.persistAndBroadcast(ctx, key, &message)
}

// persistAndBroadcast stores the message before any delivery. Broadcast targets
// are resolved from the registry after the write, not from the sender.
func (s *chatService) persistAndBroadcast(ctx context.Context, key presence.RoomKey, message *models.ChatMessage) (dto.ChatMessageResponse, error) {
	spanCtx, span := s.tracer.Start(ctx, "chat.send", trace.WithAttributes(
		attribute.String("chat.room", key.String()),
		attribute.String("chat.author_id", message.AuthorID),
		attribute.String("chat.message_type", string(message.MessageType)),
	))
	defer span.End()

	if err := s.repo.Save(spanCtx, message); err != nil {
		span.RecordError(err)
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	response := dto.NewChatMessageResponse(*message)
	delivered := s.BroadcastToRoom(key, dto.EventNewMessage, response)
	span.SetAttributes(attribute.Int("chat.delivered", delivered))
	observability.ChatMessagesSent().WithLabelValues(string(key.Type), string(message.MessageType)).Inc()

	return response, nil
}

func (s *chatService) History(ctx context.Context, query dto.ChatHistoryQuery) ([]dto.ChatMessageResponse, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, err
	}
	key, err := presence.NewRoomKey(query.RoomType, query.RoomID)
	if err != nil {
		return nil, err
	}

	messages, err := s.repo.ListByRoom(ctx, key.Type, key.ID, query.Limit, query.Offset)
	if err != nil {
		return nil, fmt.Errorf("load chat history: %w", err)
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

// Disconnect runs the leave path for every joined room, then drops the connection.
func (s *chatService) Disconnect(ctx context.Context, conn presence.Conn) {
	for _, key := range s.registry.Rooms(conn) {
		s.leave(ctx, conn, key)
	}
	identity, _ := s.registry.Drop(conn)
	s.logger.Debug().Str("conn_id", conn.ID()).Str("user_id", identity.UserID).Msg("connection dropped from presence")
}

func (s *chatService) BroadcastToRoom(key presence.RoomKey, event string, payload interface{}) int {
	envelope := dto.SocketEvent{Event: event, Data: payload}
	delivered := 0
	for _, conn := range s.registry.Conns(key) {
		if conn.Deliver(envelope) {
			delivered++
		}
	}
	return delivered
}

func (s *chatService) OnlineUsers(key presence.RoomKey) []dto.OnlineUser {
	return onlineUsers(s.registry.Users(key))
}

func (s *chatService) MessageCount(ctx context.Context, key presence.RoomKey) (int64, error) {
	return s.repo.CountByRoom(ctx, key.Type, key.ID)
}

func (s *chatService) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, cutoff)
}

func (s *chatService) UpsertMember(ctx context.Context, key presence.RoomKey, member dto.RoomMemberRequest) error {
	if s.members == nil {
		return errors.New("member directory not configured")
	}
	if err := s.validator.Struct(member); err != nil {
		return err
	}
	return s.members.Upsert(ctx, &models.RoomMember{
		RoomType: key.Type,
		RoomID:   key.ID,
		UserID:   member.UserID,
		Name:     strings.TrimSpace(member.Name),
		Email:    strings.TrimSpace(member.Email),
		Position: member.Position,
	})
}

// Drain waits for in-flight mention jobs to finish or for ctx to expire.
func (s *chatService) Drain(ctx context.Context) error {
	if s.mentions == nil {
		return nil
	}
	return s.mentions.wait(ctx)
}

// cleanContent measures the content as typed, then strips markup from it.
func (s *chatService) cleanContent(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) > maxMessageLength {
		return "", ErrContentTooLong
	}
	clean := plainText(s.sanitizer, trimmed)
	if clean == "" {
		return "", ErrEmptyContent
	}
	return clean, nil
}

func (s *chatService) announce(ctx context.Context, key presence.RoomKey, content string) {
	if _, err := s.SendSystemMessage(ctx, key, content); err != nil {
		s.logger.Warn().Err(err).Str("room", key.String()).Msg("failed to store presence announcement")
	}
}

func onlineUsersEvent(key presence.RoomKey, users []presence.Identity) dto.OnlineUsersEvent {
	return dto.OnlineUsersEvent{
		RoomID:   key.ID,
		RoomType: string(key.Type),
		Users:    onlineUsers(users),
	}
}

func onlineUsers(users []presence.Identity) []dto.OnlineUser {
	out := make([]dto.OnlineUser, 0, len(users))
	for _, user := range users {
		out = append(out, dto.OnlineUser{UserID: user.UserID, UserName: user.UserName})
	}
	return out
}

func displayName(identity presence.Identity) string {
	if identity.UserName != "" {
		return identity.UserName
	}
	return identity.UserID
}
