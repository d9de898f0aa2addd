package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/teamhub-realtime/internal/dto"
	"github.com/noah-isme/teamhub-realtime/internal/middleware"
	"github.com/noah-isme/teamhub-realtime/internal/presence"
	"github.com/noah-isme/teamhub-realtime/internal/realtime"
	"github.com/noah-isme/teamhub-realtime/internal/service"
	"github.com/noah-isme/teamhub-realtime/internal/utils"
)

// ChatHandler wires chat endpoints including the websocket upgrade.
type ChatHandler struct {
	gateway   *realtime.Gateway
	service   service.ChatService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(gateway *realtime.Gateway, service service.ChatService, validator *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		gateway:   gateway,
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group.
func (h *ChatHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))

	rooms := router.Group("/rooms/:roomType/:roomId")
	rooms.Get("/messages", h.history)
	rooms.Get("/count", h.count)
	rooms.Get("/online", h.online)
	rooms.Put("/members", h.upsertMember)
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	auth := service.AuthContext{
		UserID:   localString(conn.Locals(middleware.LocalUserID)),
		UserName: localString(conn.Locals(middleware.LocalUserName)),
		Email:    localString(conn.Locals(middleware.LocalUserEmail)),
	}
	if auth.UserID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user id missing"))
		_ = conn.Close()
		return
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	h.gateway.ServeConnection(baseCtx, conn, auth)
}

func (h *ChatHandler) history(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}
	offset, err := parseQueryInt(c, "offset")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid offset")
	}

	query := dto.ChatHistoryQuery{RoomRef: roomRefFromParams(c), Limit: limit, Offset: offset}
	messages, err := h.service.History(requestContext(c), query)
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SendSuccess(c, "chat history", messages)
}

func (h *ChatHandler) count(c *fiber.Ctx) error {
	key, err := h.roomKey(c)
	if err != nil {
		return h.fail(c, err)
	}

	total, err := h.service.MessageCount(requestContext(c), key)
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SendSuccess(c, "chat message count", dto.RoomMessageCount{
		RoomID:   key.ID,
		RoomType: string(key.Type),
		Count:    total,
	})
}

func (h *ChatHandler) online(c *fiber.Ctx) error {
	key, err := h.roomKey(c)
	if err != nil {
		return h.fail(c, err)
	}

	return utils.SendSuccess(c, "online users", dto.OnlineUsersEvent{
		RoomID:   key.ID,
		RoomType: string(key.Type),
		Users:    h.service.OnlineUsers(key),
	})
}

func (h *ChatHandler) upsertMember(c *fiber.Ctx) error {
	key, err := h.roomKey(c)
	if err != nil {
		return h.fail(c, err)
	}

	var payload dto.RoomMemberRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.service.UpsertMember(requestContext(c), key, payload); err != nil {
		return h.fail(c, err)
	}

	return utils.SendSuccess(c, "room member saved", payload)
}

func (h *ChatHandler) roomKey(c *fiber.Ctx) (presence.RoomKey, error) {
	ref := roomRefFromParams(c)
	if err := h.validator.Struct(ref); err != nil {
		return presence.RoomKey{}, err
	}
	return presence.NewRoomKey(ref.RoomType, ref.RoomID)
}

func (h *ChatHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.Is(err, presence.ErrInvalidRoom):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("chat request failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal error")
	}
}

func roomRefFromParams(c *fiber.Ctx) dto.RoomRef {
	return dto.RoomRef{
		RoomID:   c.Params("roomId"),
		RoomType: normalizeRoomType(c.Params("roomType")),
	}
}
