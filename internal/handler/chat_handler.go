package handler

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/goalchat/internal/dto"
	"github.com/noah-isme/goalchat/internal/middleware"
	"github.com/noah-isme/goalchat/internal/ratelimit"
	"github.com/noah-isme/goalchat/internal/service"
	"github.com/noah-isme/goalchat/internal/utils"
)

// ChatHandler wires chat endpoints including the websocket upgrade.
type ChatHandler struct {
	chat      service.ChatService
	gateway   service.ChatGateway
	limiter   middleware.Admitter
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// ChatRouteAuth carries the authentication middlewares for chat routes.
type ChatRouteAuth struct {
	Required fiber.Handler
	Optional fiber.Handler
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(chat service.ChatService, gateway service.ChatGateway, limiter middleware.Admitter, validate *validator.Validate, logger zerolog.Logger) *ChatHandler {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &ChatHandler{
		chat:      chat,
		gateway:   gateway,
		limiter:   limiter,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router group. Static paths
// are registered before the :chatId routes.
func (h *ChatHandler) Register(router fiber.Router, auth ChatRouteAuth) {
	required := passThrough(auth.Required)
	optional := passThrough(auth.Optional)

	if h.gateway != nil {
		router.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				ctx := c.UserContext()
				if ctx == nil {
					ctx = context.Background()
				}
				ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
				c.Locals("request_ctx", ctx)
				c.Locals("remote_addr", c.IP())
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		router.Get("/ws", optional, websocket.New(h.handleConnection))
	}

	router.Get("/unread", required, userOnly(h.unread))
	router.Post("/groups", required, userOnly(h.createGroup))
	router.Get("/private/:userId/history", required, h.rateLimit(ratelimit.EventFetchHistory), userOnly(h.privateHistory))
	router.Post("/private/:userId", required, userOnly(h.openPrivateChat))
	router.Get("/:chatId/messages", required, h.rateLimit(ratelimit.EventFetchHistory), userOnly(h.messages))
	router.Post("/:chatId/read", required, h.rateLimit(ratelimit.EventMarkRead), userOnly(h.markRead))
}

// userOnly keeps REST routes closed to anonymous callers even when the
// router was assembled without a JWT middleware.
func userOnly(handler fiber.Handler) fiber.Handler {
	return middleware.WithAuth(handler, middleware.AuthOptions{RequireUser: true})
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	remoteAddr, _ := conn.Locals("remote_addr").(string)

	opts := service.ChatConnectionOptions{
		UserID:        websocketUserID(conn),
		SessionID:     strings.TrimSpace(conn.Query("session_id")),
		DisplayName:   conn.Query("display_name"),
		RemoteAddr:    remoteAddr,
		CorrelationID: middleware.CorrelationIDFromContext(baseCtx),
		Context:       baseCtx,
	}

	logger := h.logger.With().Str("user_id", opts.UserID).Str("correlation_id", opts.CorrelationID).Logger()
	logger.Info().Bool("anonymous", opts.UserID == "").Msg("chat websocket connected")
	h.gateway.ServeConnection(conn, opts)
	logger.Info().Msg("chat websocket disconnected")
}

func (h *ChatHandler) unread(c *fiber.Ctx) error {
	counts, err := h.chat.UnreadCounts(requestContext(c), middleware.UserID(c))
	if err != nil {
		return h.writeError(c, err)
	}
	return utils.SendSuccess(c, "unread counts", counts)
}

func (h *ChatHandler) createGroup(c *fiber.Ctx) error {
	var req dto.GroupChatCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}
	req.Title = strings.TrimSpace(h.sanitizer.Sanitize(req.Title))
	req.CreatorID = middleware.UserID(c)

	if err := h.validator.Struct(req); err != nil {
		return utils.Fail(c, fiber.StatusBadRequest, "invalid payload", validationDetails(err))
	}

	chat, err := h.chat.CreateGroupChat(requestContext(c), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "group chat created", chat)
}

func (h *ChatHandler) openPrivateChat(c *fiber.Ctx) error {
	chat, err := h.chat.GetOrCreatePrivateChat(requestContext(c), middleware.UserID(c), c.Params("userId"))
	if err != nil {
		return h.writeError(c, err)
	}
	return utils.SendSuccess(c, "private chat ready", chat)
}

func (h *ChatHandler) privateHistory(c *fiber.Ctx) error {
	messages, err := h.chat.FetchPrivateHistory(requestContext(c), middleware.UserID(c), c.Params("userId"))
	if err != nil {
		return h.writeError(c, err)
	}
	return utils.SendSuccess(c, "private history", messages)
}

func (h *ChatHandler) messages(c *fiber.Ctx) error {
	page, err := parseQueryInt(c, "page")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid page")
	}
	limit, err := parseQueryInt(c, "limit")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	ctx := requestContext(c)
	chatID := c.Params("chatId")
	if err := h.requireParticipant(ctx, chatID, middleware.UserID(c)); err != nil {
		return h.writeError(c, err)
	}

	result, err := h.chat.FetchMessages(ctx, chatID, page, limit)
	if err != nil {
		return h.writeError(c, err)
	}

	return utils.OK(c, result.Messages, "chat messages", fiber.Map{
		"page":        result.CurrentPage,
		"total_pages": result.TotalPages,
		"total_items": result.TotalMessages,
	})
}

func (h *ChatHandler) markRead(c *fiber.Ctx) error {
	ctx := requestContext(c)
	chatID := c.Params("chatId")
	userID := middleware.UserID(c)
	if err := h.requireParticipant(ctx, chatID, userID); err != nil {
		return h.writeError(c, err)
	}

	if err := h.chat.MarkRead(ctx, chatID, userID); err != nil {
		return h.writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) requireParticipant(ctx context.Context, chatID, userID string) error {
	chat, err := h.chat.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	for _, participant := range chat.Participants {
		if participant == userID {
			return nil
		}
	}
	return errForbidden
}

func (h *ChatHandler) rateLimit(event string) fiber.Handler {
	if h.limiter == nil {
		return passThrough(nil)
	}
	return middleware.RateLimit(h.limiter, event)
}

func (h *ChatHandler) writeError(c *fiber.Ctx, err error) error {
	status, message := statusForError(err)
	if status >= fiber.StatusInternalServerError {
		requestLogger(h.logger, c).Error().Err(err).Str("route", c.Route().Path).Msg("chat request failed")
	}
	return utils.SendError(c, status, message)
}

func websocketUserID(conn *websocket.Conn) string {
	if value, ok := conn.Locals("user_id").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}
