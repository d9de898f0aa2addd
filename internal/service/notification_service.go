package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/noah-isme/teamhub-realtime/internal/dto"
	"github.com/noah-isme/teamhub-realtime/internal/models"
	"github.com/noah-isme/teamhub-realtime/internal/observability"
	"github.com/noah-isme/teamhub-realtime/internal/repository"
)

const (
	notificationBufferSize  = 16
	defaultNotificationPage = 20
	unreadCacheKeyPrefix    = "notifications:unread:"
	unreadVersionKeyPrefix  = "notifications:unread_version:"
	unreadVersionTTL        = 24 * time.Hour
)

// ErrUserRequired is returned when a notification operation has no target user.
var ErrUserRequired = errors.New("user id is required")

// UserPusher delivers an event to every live connection of a user and reports how
// many connections accepted it.
type UserPusher interface {
	PushToUser(userID string, event dto.SocketEvent) int
}

// NotificationSink is the subset of the notification service the chat pipeline needs.
type NotificationSink interface {
	CreateMany(ctx context.Context, payloads []dto.NotificationCreateRequest) ([]dto.NotificationResponse, error)
}

// NotificationService stores notifications, tracks read state and pushes new
// notifications to live websocket and SSE clients.
type NotificationService interface {
	NotificationSink
	Create(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error)
	List(ctx context.Context, userID string, query dto.NotificationListQuery) (dto.NotificationPage, error)
	MarkRead(ctx context.Context, id uint, userID string) (*dto.NotificationResponse, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
	Subscribe(userID string) (<-chan dto.NotificationResponse, func())
}

// NotificationOptions tunes optional collaborators of the notification service.
type NotificationOptions struct {
	Redis          *redis.Client
	UnreadCacheTTL time.Duration
	Pusher         UserPusher
}

type notificationService struct {
	repo      repository.NotificationRepository
	redis     *redis.Client
	cacheTTL  time.Duration
	pusher    UserPusher
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	sanitizer *bluemonday.Policy
	broker    *notificationBroker
	sf        singleflight.Group
}

type notificationBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.NotificationResponse]struct{}
}

// NewNotificationService constructs a notification service.
func NewNotificationService(repo repository.NotificationRepository, opts NotificationOptions, validate *validator.Validate, logger zerolog.Logger) NotificationService {
	ttl := opts.UnreadCacheTTL
	if ttl <= 0 {
		ttl = time.Minute
	}

	return &notificationService{
		repo:      repo,
		redis:     opts.Redis,
		cacheTTL:  ttl,
		pusher:    opts.Pusher,
		validator: validate,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/teamhub-realtime/internal/service/notification"),
		sanitizer: bluemonday.StrictPolicy(),
		broker: &notificationBroker{
			subscribers: make(map[string]map[chan dto.NotificationResponse]struct{}),
		},
	}
}

func (s *notificationService) Create(ctx context.Context, payload dto.NotificationCreateRequest) (dto.NotificationResponse, error) {
	created, err := s.CreateMany(ctx, []dto.NotificationCreateRequest{payload})
	if err != nil {
		return dto.NotificationResponse{}, err
	}
	return created[0], nil
}

func (s *notificationService) CreateMany(ctx context.Context, payloads []dto.NotificationCreateRequest) ([]dto.NotificationResponse, error) {
	if len(payloads) == 0 {
		return []dto.NotificationResponse{}, nil
	}

	rows := make([]models.Notification, 0, len(payloads))
	for _, payload := range payloads {
		if err := s.validator.Struct(payload); err != nil {
			return nil, err
		}

		message := plainText(s.sanitizer, payload.Message)
		if message == "" {
			return nil, errors.New("notification message empty after sanitization")
		}

		rows = append(rows, models.Notification{
			Type:         payload.Type,
			Title:        plainText(s.sanitizer, payload.Title),
			Message:      message,
			Data:         datatypes.JSONMap(payload.Data),
			TargetUserID: payload.TargetUserID,
		})
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.create", trace.WithAttributes(
		attribute.Int("notification.count", len(rows)),
	))
	defer span.End()

	if err := s.repo.CreateBatch(spanCtx, rows); err != nil {
		span.RecordError(err)
		return nil, err
	}

	responses := dto.NewNotificationResponseSlice(rows)
	for _, response := range responses {
		s.invalidateUnread(spanCtx, response.TargetUserID)
		s.deliver(response)
		observability.NotificationsCreated().WithLabelValues(response.Type).Inc()
	}

	return responses, nil
}

func (s *notificationService) List(ctx context.Context, userID string, query dto.NotificationListQuery) (dto.NotificationPage, error) {
	if strings.TrimSpace(userID) == "" {
		return dto.NotificationPage{}, ErrUserRequired
	}
	if err := s.validator.Struct(query); err != nil {
		return dto.NotificationPage{}, err
	}

	page := query.Page
	if page <= 0 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = defaultNotificationPage
	}

	items, total, err := s.repo.FindPage(ctx, repository.NotificationFilter{
		UserID:     userID,
		Page:       page,
		PageSize:   pageSize,
		UnreadOnly: query.UnreadOnly,
	})
	if err != nil {
		return dto.NotificationPage{}, fmt.Errorf("list notifications: %w", err)
	}

	return dto.NotificationPage{
		Data:       dto.NewNotificationResponseSlice(items),
		Pagination: dto.NewPageMeta(page, pageSize, total),
	}, nil
}

// MarkRead returns nil without an error when the notification does not exist for the user.
func (s *notificationService) MarkRead(ctx context.Context, id uint, userID string) (*dto.NotificationResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrUserRequired
	}

	spanCtx, span := s.tracer.Start(ctx, "notifications.mark_read", trace.WithAttributes(
		attribute.String("notification.user_id", userID),
	))
	defer span.End()

	notification, err := s.repo.MarkRead(spanCtx, id, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if notification == nil {
		return nil, nil
	}

	s.invalidateUnread(spanCtx, userID)
	response := dto.NewNotificationResponse(*notification)
	return &response, nil
}

func (s *notificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUserRequired
	}

	updated, err := s.repo.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.invalidateUnread(ctx, userID)
	return updated, nil
}

func (s *notificationService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrUserRequired
	}
	if s.redis == nil {
		return s.repo.UnreadCount(ctx, userID)
	}

	key := unreadCacheKeyPrefix + userID
	if cached, err := s.redis.Get(ctx, key).Result(); err == nil {
		if count, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
			return count, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		s.logger.Warn().Err(err).Msg("failed to read unread count cache")
	}

	value, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.fillUnread(ctx, userID)
	})
	if err != nil {
		return 0, err
	}
	return value.(int64), nil
}

func (s *notificationService) Subscribe(userID string) (<-chan dto.NotificationResponse, func()) {
	channel := make(chan dto.NotificationResponse, notificationBufferSize)

	s.broker.subscribe(userID, channel)
	observability.SSEClientsActive().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(userID, channel)
			observability.SSEClientsActive().Dec()
		})
	}

	return channel, cleanup
}

func (s *notificationService) deliver(notification dto.NotificationResponse) {
	s.broker.broadcast(notification.TargetUserID, notification)
	if s.pusher != nil {
		s.pusher.PushToUser(notification.TargetUserID, dto.SocketEvent{
			Event: dto.EventNotification,
			Data:  notification,
		})
	}
}

// fillUnread reads the count from the database and caches it, unless the
// user's cache version moved while the count was read. A count read before a
// concurrent write committed is returned but never cached.
func (s *notificationService) fillUnread(ctx context.Context, userID string) (int64, error) {
	key := unreadCacheKeyPrefix + userID

	var (
		count int64
		read  bool
		dbErr error
	)
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		count, dbErr = s.repo.UnreadCount(ctx, userID)
		read = true
		if dbErr != nil {
			return dbErr
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, count, s.cacheTTL)
			return nil
		})
		return err
	}, unreadVersionKeyPrefix+userID)

	if !read {
		s.logger.Warn().Err(err).Msg("unread count cache unavailable")
		return s.repo.UnreadCount(ctx, userID)
	}
	if dbErr != nil {
		return 0, dbErr
	}
	switch {
	case errors.Is(err, redis.TxFailedErr):
		s.logger.Debug().Str("user_id", userID).Msg("unread count changed during fill, not cached")
	case err != nil:
		s.logger.Warn().Err(err).Msg("failed to cache unread count")
	}
	return count, nil
}

// invalidateUnread bumps the user's cache version and drops the cached count,
// so fills that started earlier cannot write back.
func (s *notificationService) invalidateUnread(ctx context.Context, userID string) {
	if s.redis == nil {
		return
	}
	versionKey := unreadVersionKeyPrefix + userID
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Expire(ctx, versionKey, unreadVersionTTL)
		pipe.Del(ctx, unreadCacheKeyPrefix+userID)
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate unread count cache")
	}
}

func (b *notificationBroker) subscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[userID]; !exists {
		b.subscribers[userID] = make(map[chan dto.NotificationResponse]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *notificationBroker) unsubscribe(userID string, ch chan dto.NotificationResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *notificationBroker) broadcast(userID string, notification dto.NotificationResponse) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subscribers := b.subscribers[userID]
	for ch := range subscribers {
		select {
		case ch <- notification:
		default:
		}
	}
}
