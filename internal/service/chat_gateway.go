package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/noah-isme/goalchat/internal/dto"
	"github.com/noah-isme/goalchat/internal/middleware"
	"github.com/noah-isme/goalchat/internal/models"
	"github.com/noah-isme/goalchat/internal/observability"
	"github.com/noah-isme/goalchat/internal/ratelimit"
)

const (
	chatSendBufferSize   = 32
	anonymousRoomPrefix  = "anon:"
	joinHistoryPageSize  = 30
	maxDisplayNameLength = 48

	fanoutRedis = "redis"
	fanoutNATS  = "nats"
)

const chatEventSchemaSource = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"enum": ["join", "leave", "send", "edit", "delete", "read", "history"]},
		"room_id": {"type": "string", "minLength": 1, "maxLength": 128},
		"message_id": {"type": "string", "maxLength": 64},
		"receiver_id": {"type": "string", "maxLength": 64},
		"peer_id": {"type": "string", "maxLength": 64},
		"text": {"type": "string", "maxLength": 20000},
		"flagged": {"type": "boolean"},
		"page": {"type": "integer", "minimum": 0},
		"limit": {"type": "integer", "minimum": 0, "maximum": 100}
	},
	"allOf": [
		{
			"if": {"properties": {"type": {"enum": ["join", "leave", "send", "read"]}}},
			"then": {"required": ["room_id"]}
		},
		{
			"if": {"properties": {"type": {"const": "send"}}},
			"then": {"required": ["text"]}
		},
		{
			"if": {"properties": {"type": {"const": "edit"}}},
			"then": {"required": ["message_id", "text"]}
		},
		{
			"if": {"properties": {"type": {"const": "delete"}}},
			"then": {"required": ["message_id"]}
		}
	]
}`

var chatEventSchema = jsonschema.MustCompileString("chat_event.schema.json", chatEventSchemaSource)

// rateLimitedEvents maps inbound event types onto rate limit policies.
var rateLimitedEvents = map[string]string{
	dto.ChatEventJoin:    ratelimit.EventJoinRoom,
	dto.ChatEventSend:    ratelimit.EventSendMessage,
	dto.ChatEventEdit:    ratelimit.EventEditMessage,
	dto.ChatEventDelete:  ratelimit.EventDeleteMessage,
	dto.ChatEventRead:    ratelimit.EventMarkRead,
	dto.ChatEventHistory: ratelimit.EventFetchHistory,
}

var errRoomForbidden = errors.New("not a member of this room")

// Admitter decides whether a subject may emit an event.
type Admitter interface {
	AdmitEvent(ctx context.Context, event, subject string) (ratelimit.Decision, error)
}

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        string
	SessionID     string
	DisplayName   string
	RemoteAddr    string
	CorrelationID string
	Context       context.Context
}

// ChatGateway serves websocket chat connections on top of the chat core.
type ChatGateway interface {
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	Start(ctx context.Context)
}

// ChatGatewayConfig groups the optional cross-node fan-out transports.
type ChatGatewayConfig struct {
	Redis       *redis.Client
	ChannelBase string
	NATS        *nats.Conn
}

type chatGateway struct {
	chat        ChatService
	presence    PresenceService
	limiter     Admitter
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	fanout      string
	sanitizer   *bluemonday.Policy
	hub         *chatHub
	nodeID      string
	logger      zerolog.Logger
	now         func() time.Time
}

// chatHub keeps track of local websocket clients per room.
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*chatClient]struct{}
	log   zerolog.Logger
}

type chatClient struct {
	conn        *websocket.Conn
	send        chan dto.ChatOutboundEvent
	closed      chan struct{}
	once        sync.Once
	memberID    string
	presenceKey string
	userID      string
	displayName string
	correlation string
	gateway     *chatGateway
}

type gatewayEnvelope struct {
	Source string                `json:"source"`
	RoomID string                `json:"room_id"`
	Event  dto.ChatOutboundEvent `json:"event"`
}

// NewChatGateway creates the websocket gateway. When both Redis and NATS are
// configured, events fan out over NATS only.
func NewChatGateway(chat ChatService, presence PresenceService, limiter Admitter, cfg ChatGatewayConfig, logger zerolog.Logger) ChatGateway {
	return newChatGateway(chat, presence, limiter, cfg, logger)
}

func newChatGateway(chat ChatService, presence PresenceService, limiter Admitter, cfg ChatGatewayConfig, logger zerolog.Logger) *chatGateway {
	streamChannel := ""
	natsSubject := ""
	if cfg.ChannelBase != "" {
		streamChannel = cfg.ChannelBase + ":chat"
		natsSubject = strings.ReplaceAll(cfg.ChannelBase, ":", ".") + ".chat"
	}

	fanout := ""
	switch {
	case cfg.NATS != nil && natsSubject != "":
		fanout = fanoutNATS
	case cfg.Redis != nil && streamChannel != "":
		fanout = fanoutRedis
	}

	return &chatGateway{
		chat:        chat,
		presence:    presence,
		limiter:     limiter,
		redis:       cfg.Redis,
		redisStream: streamChannel,
		nats:        cfg.NATS,
		natsSubject: natsSubject,
		fanout:      fanout,
		sanitizer:   bluemonday.StrictPolicy(),
		hub: &chatHub{
			rooms: make(map[string]map[*chatClient]struct{}),
			log:   logger.With().Str("component", "chat_hub").Logger(),
		},
		nodeID: uuid.NewString(),
		logger: logger.With().Str("component", "chat_gateway").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *chatGateway) Start(ctx context.Context) {
	switch g.fanout {
	case fanoutNATS:
		go g.consumeNATS(ctx)
	case fanoutRedis:
		go g.consumeRedis(ctx)
	default:
		return
	}
	g.logger.Info().Str("transport", g.fanout).Msg("chat fan-out started")
}

func (g *chatGateway) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.CorrelationID == "" {
		opts.CorrelationID = middleware.CorrelationIDFromContext(ctx)
	}

	client, ok := g.connect(ctx, conn, opts)
	if !ok {
		client.flush()
		_ = conn.Close()
		return
	}

	go client.writer()
	client.reader(ctx)
}

// connect resolves the identity of a new connection. Minting a new anonymous
// identity is rate limited by remote address; presenting a known one is not.
// Presence is keyed per connection so one identity may hold several sockets.
func (g *chatGateway) connect(ctx context.Context, conn *websocket.Conn, opts ChatConnectionOptions) (*chatClient, bool) {
	client := &chatClient{
		conn:        conn,
		send:        make(chan dto.ChatOutboundEvent, chatSendBufferSize),
		closed:      make(chan struct{}),
		correlation: opts.CorrelationID,
		gateway:     g,
	}

	if userID := strings.TrimSpace(opts.UserID); userID != "" {
		client.userID = userID
		client.memberID = "user:" + userID
		client.presenceKey = client.memberID + "#" + uuid.NewString()
		client.displayName = userID
		observability.ChatConnectionsTotal().WithLabelValues("authenticated").Inc()
		return client, true
	}

	sessionID := strings.TrimSpace(opts.SessionID)
	displayName := g.cleanDisplayName(opts.DisplayName)
	if sessionID == "" || displayName == "" {
		subject := strings.TrimSpace(opts.RemoteAddr)
		if subject == "" {
			subject = "unknown"
		}
		decision, err := g.limiter.AdmitEvent(ctx, ratelimit.EventMintIdentity, subject)
		if err != nil {
			client.push(g.errorEvent("", "identity unavailable"))
			return client, false
		}
		if !decision.Admitted {
			client.push(dto.ChatOutboundEvent{Type: dto.ChatEventSlowDown, Action: "connect", Reason: decision.RetryReason, SentAt: g.now()})
			return client, false
		}
	}

	identity := g.presence.MintOrRecognizeIdentity(sessionID, displayName)
	client.memberID = anonymousRoomPrefix + identity.SessionID
	client.presenceKey = client.memberID + "#" + uuid.NewString()
	client.displayName = identity.DisplayName
	client.push(dto.ChatOutboundEvent{Type: dto.ChatEventIdentity, Identity: &identity, SentAt: g.now()})

	observability.ChatConnectionsTotal().WithLabelValues("anonymous").Inc()
	return client, true
}

func (g *chatGateway) cleanDisplayName(name string) string {
	clean := strings.TrimSpace(g.sanitizer.Sanitize(name))
	runes := []rune(clean)
	if len(runes) > maxDisplayNameLength {
		clean = strings.TrimSpace(string(runes[:maxDisplayNameLength]))
	}
	return clean
}

// handleFrame runs one inbound frame through admission, room checks and the
// chat store, then replies to the client or broadcasts to the room.
func (g *chatGateway) handleFrame(ctx context.Context, client *chatClient, raw []byte) {
	event, err := decodeChatEvent(raw)
	if err != nil {
		client.push(g.errorEvent("", "invalid event"))
		return
	}
	event.RoomID = strings.TrimSpace(event.RoomID)

	if policy, ok := rateLimitedEvents[event.Type]; ok {
		decision, err := g.limiter.AdmitEvent(ctx, policy, client.memberID)
		if err != nil {
			g.logger.Error().Err(err).Str("event", event.Type).Msg("rate limit admission failed")
			client.push(g.errorEvent(event.RoomID, "event rejected"))
			return
		}
		if !decision.Admitted {
			client.push(dto.ChatOutboundEvent{
				Type:   dto.ChatEventSlowDown,
				RoomID: event.RoomID,
				Action: event.Type,
				Reason: decision.RetryReason,
				SentAt: g.now(),
			})
			return
		}
	}

	switch event.Type {
	case dto.ChatEventJoin:
		g.join(ctx, client, event)
	case dto.ChatEventLeave:
		g.leave(ctx, client, event.RoomID)
	case dto.ChatEventSend:
		g.sendMessage(ctx, client, event)
	case dto.ChatEventEdit, dto.ChatEventDelete:
		g.mutateMessage(ctx, client, event)
	case dto.ChatEventRead:
		g.markRead(ctx, client, event)
	case dto.ChatEventHistory:
		g.history(ctx, client, event)
	}
}

func decodeChatEvent(raw []byte) (dto.ChatInboundEvent, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return dto.ChatInboundEvent{}, err
	}
	if err := chatEventSchema.Validate(generic); err != nil {
		return dto.ChatInboundEvent{}, err
	}

	var event dto.ChatInboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return dto.ChatInboundEvent{}, err
	}
	return event, nil
}

func (g *chatGateway) join(ctx context.Context, client *chatClient, event dto.ChatInboundEvent) {
	roomID := event.RoomID
	if err := g.authoriseRoom(ctx, client, roomID); err != nil {
		client.push(g.failureEvent(roomID, "", err))
		return
	}

	added := g.presence.JoinRoom(roomID, client.presenceKey)
	g.hub.subscribe(roomID, client)
	count := g.presence.MemberCount(roomID)

	client.push(dto.ChatOutboundEvent{Type: dto.ChatEventJoined, RoomID: roomID, MemberCount: count, SentAt: g.now()})
	if added {
		g.broadcast(ctx, roomID, dto.ChatOutboundEvent{Type: dto.ChatEventPresence, RoomID: roomID, MemberCount: count, SentAt: g.now()})
	}

	if isAnonymousRoom(roomID) {
		return
	}
	page, err := g.chat.FetchMessages(ctx, roomID, 1, joinHistoryPageSize)
	if err != nil {
		g.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to load room history on join")
		return
	}
	client.push(dto.ChatOutboundEvent{Type: dto.ChatEventHistory, RoomID: roomID, Page: &page, SentAt: g.now()})
}

func (g *chatGateway) leave(ctx context.Context, client *chatClient, roomID string) {
	removed := g.presence.LeaveRoom(roomID, client.presenceKey)
	g.hub.unsubscribe(roomID, client)
	client.push(dto.ChatOutboundEvent{Type: dto.ChatEventLeft, RoomID: roomID, SentAt: g.now()})
	if removed {
		g.broadcast(ctx, roomID, dto.ChatOutboundEvent{Type: dto.ChatEventPresence, RoomID: roomID, MemberCount: g.presence.MemberCount(roomID), SentAt: g.now()})
	}
}

func (g *chatGateway) sendMessage(ctx context.Context, client *chatClient, event dto.ChatInboundEvent) {
	roomID := event.RoomID
	if !g.presence.IsMember(roomID, client.presenceKey) {
		client.push(g.errorEvent(roomID, "join the room first"))
		return
	}

	if isAnonymousRoom(roomID) {
		messageID := strings.TrimSpace(event.MessageID)
		if messageID == "" {
			messageID = uuid.NewString()
		}
		now := g.now()
		message := dto.ChatMessageResponse{
			ID:        messageID,
			ChatID:    roomID,
			Text:      event.Text,
			Status:    string(models.MessageStatusSent),
			Flagged:   event.Flagged,
			CreatedAt: now,
			UpdatedAt: now,
		}
		g.broadcast(ctx, roomID, dto.ChatOutboundEvent{Type: dto.ChatEventMessage, RoomID: roomID, SenderName: client.displayName, Message: &message, SentAt: now})
		return
	}

	if client.userID == "" {
		client.push(g.errorEvent(roomID, "authentication required"))
		return
	}

	message, err := g.chat.SendMessage(ctx, dto.ChatMessageSendRequest{
		MessageID:  event.MessageID,
		ChatID:     roomID,
		SenderID:   client.userID,
		ReceiverID: event.ReceiverID,
		Text:       event.Text,
		Flagged:    event.Flagged,
	})
	if err != nil {
		g.logFailure(client, "send", err)
		client.push(g.failureEvent(roomID, event.MessageID, err))
		return
	}

	g.broadcast(ctx, roomID, dto.ChatOutboundEvent{Type: dto.ChatEventMessage, RoomID: roomID, SenderName: client.displayName, Message: &message, SentAt: g.now()})
}

func (g *chatGateway) mutateMessage(ctx context.Context, client *chatClient, event dto.ChatInboundEvent) {
	if client.userID == "" {
		client.push(g.errorEvent(event.RoomID, "authentication required"))
		return
	}

	current, err := g.chat.GetMessage(ctx, event.MessageID)
	if err != nil {
		client.push(g.failureEvent(event.RoomID, event.MessageID, err))
		return
	}
	if current.SenderID != client.userID {
		client.push(g.errorEvent(current.ChatID, "only the sender can change this message"))
		return
	}

	var updated dto.ChatMessageResponse
	if event.Type == dto.ChatEventEdit {
		updated, err = g.chat.EditMessage(ctx, event.MessageID, event.Text)
	} else {
		updated, err = g.chat.DeleteMessage(ctx, event.MessageID)
	}
	if err != nil {
		g.logFailure(client, event.Type, err)
		client.push(g.failureEvent(current.ChatID, event.MessageID, err))
		return
	}

	g.broadcast(ctx, updated.ChatID, dto.ChatOutboundEvent{Type: dto.ChatEventMessageUpdated, RoomID: updated.ChatID, Message: &updated, SentAt: g.now()})
}

func (g *chatGateway) markRead(ctx context.Context, client *chatClient, event dto.ChatInboundEvent) {
	if client.userID == "" {
		client.push(g.errorEvent(event.RoomID, "authentication required"))
		return
	}
	if err := g.chat.MarkRead(ctx, event.RoomID, client.userID); err != nil {
		client.push(g.failureEvent(event.RoomID, "", err))
		return
	}
	client.push(dto.ChatOutboundEvent{Type: dto.ChatEventRead, RoomID: event.RoomID, SentAt: g.now()})
}

func (g *chatGateway) history(ctx context.Context, client *chatClient, event dto.ChatInboundEvent) {
	if client.userID == "" {
		client.push(g.errorEvent(event.RoomID, "authentication required"))
		return
	}

	if peer := strings.TrimSpace(event.PeerID); peer != "" {
		messages, err := g.chat.FetchPrivateHistory(ctx, client.userID, peer)
		if err != nil {
			client.push(g.failureEvent("", "", err))
			return
		}
		client.push(dto.ChatOutboundEvent{Type: dto.ChatEventHistory, History: messages, SentAt: g.now()})
		return
	}

	if err := g.authoriseRoom(ctx, client, event.RoomID); err != nil {
		client.push(g.failureEvent(event.RoomID, "", err))
		return
	}
	page, err := g.chat.FetchMessages(ctx, event.RoomID, event.Page, event.Limit)
	if err != nil {
		client.push(g.failureEvent(event.RoomID, "", err))
		return
	}
	client.push(dto.ChatOutboundEvent{Type: dto.ChatEventHistory, RoomID: event.RoomID, Page: &page, SentAt: g.now()})
}

// authoriseRoom admits anyone to anonymous rooms and only participants to
// rooms backed by a chat.
func (g *chatGateway) authoriseRoom(ctx context.Context, client *chatClient, roomID string) error {
	if roomID == "" {
		return ErrInvalidIdentifier
	}
	if isAnonymousRoom(roomID) {
		return nil
	}
	if client.userID == "" {
		return errRoomForbidden
	}

	chat, err := g.chat.GetChat(ctx, roomID)
	if err != nil {
		return err
	}
	for _, participant := range chat.Participants {
		if participant == client.userID {
			return nil
		}
	}
	return errRoomForbidden
}

func (g *chatGateway) disconnect(ctx context.Context, client *chatClient) {
	rooms := g.presence.LeaveAll(client.presenceKey)
	g.hub.unregister(client)
	for _, roomID := range rooms {
		g.broadcast(ctx, roomID, dto.ChatOutboundEvent{Type: dto.ChatEventPresence, RoomID: roomID, MemberCount: g.presence.MemberCount(roomID), SentAt: g.now()})
	}
}

func (g *chatGateway) errorEvent(roomID, reason string) dto.ChatOutboundEvent {
	return dto.ChatOutboundEvent{Type: dto.ChatEventError, RoomID: roomID, Reason: reason, SentAt: g.now()}
}

// failureEvent turns a core error into a client event. Persistence failures
// never leak internal detail.
func (g *chatGateway) failureEvent(roomID, messageID string, err error) dto.ChatOutboundEvent {
	switch {
	case errors.Is(err, errRoomForbidden):
		return g.errorEvent(roomID, errRoomForbidden.Error())
	case errors.Is(err, ErrInvalidIdentifier):
		return g.errorEvent(roomID, "invalid identifier")
	case errors.Is(err, ErrMessageDeleted):
		return g.errorEvent(roomID, "message was deleted")
	case errors.Is(err, ErrValidation):
		return g.errorEvent(roomID, "invalid request")
	case errors.Is(err, ErrNotFound):
		return g.errorEvent(roomID, "not found")
	default:
		return dto.ChatOutboundEvent{Type: dto.ChatEventNotDelivered, RoomID: roomID, MessageID: messageID, SentAt: g.now()}
	}
}

func (g *chatGateway) logFailure(client *chatClient, action string, err error) {
	event := g.logger.Warn()
	if errors.Is(err, ErrBackendUnavailable) {
		event = g.logger.Error()
	}
	event.Err(err).Str("action", action).Str("member_id", client.memberID).Str("correlation_id", client.correlation).Msg("chat event failed")
}

func (g *chatGateway) broadcast(ctx context.Context, roomID string, event dto.ChatOutboundEvent) {
	g.hub.broadcast(roomID, event)
	observability.ChatEventsBroadcast().WithLabelValues(event.Type).Inc()
	if err := g.publish(ctx, roomID, event); err != nil {
		g.logger.Warn().Err(err).Msg("failed to publish chat event")
	}
}

func (g *chatGateway) publish(ctx context.Context, roomID string, event dto.ChatOutboundEvent) error {
	if g.fanout == "" {
		return nil
	}

	payload, err := json.Marshal(gatewayEnvelope{Source: g.nodeID, RoomID: roomID, Event: event})
	if err != nil {
		return err
	}

	if g.fanout == fanoutNATS {
		return g.nats.Publish(g.natsSubject, payload)
	}
	return g.redis.Publish(ctx, g.redisStream, payload).Err()
}

func (g *chatGateway) consumeRedis(ctx context.Context) {
	pubsub := g.redis.Subscribe(ctx, g.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			g.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		g.handleRemote([]byte(msg.Payload))
	}
}

func (g *chatGateway) consumeNATS(ctx context.Context) {
	sub, err := g.nats.Subscribe(g.natsSubject, func(msg *nats.Msg) {
		g.handleRemote(msg.Data)
	})
	if err != nil {
		g.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			g.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

// handleRemote delivers an event published by another node to local clients.
func (g *chatGateway) handleRemote(data []byte) {
	var envelope gatewayEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		g.logger.Warn().Err(err).Msg("invalid chat envelope")
		return
	}
	if envelope.Source == g.nodeID || envelope.RoomID == "" {
		return
	}
	g.hub.broadcast(envelope.RoomID, envelope.Event)
}

func isAnonymousRoom(roomID string) bool {
	return strings.HasPrefix(roomID, anonymousRoomPrefix)
}

func (h *chatHub) subscribe(roomID string, client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rooms[roomID]; !exists {
		h.rooms[roomID] = make(map[*chatClient]struct{})
	}
	h.rooms[roomID][client] = struct{}{}
	h.log.Debug().Str("room_id", roomID).Str("member_id", client.memberID).Msg("chat client subscribed")
}

func (h *chatHub) unsubscribe(roomID string, client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(roomID, client)
}

func (h *chatHub) unregister(client *chatClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID := range h.rooms {
		h.removeLocked(roomID, client)
	}
	h.log.Debug().Str("member_id", client.memberID).Msg("chat client disconnected")
}

func (h *chatHub) removeLocked(roomID string, client *chatClient) {
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
}

func (h *chatHub) broadcast(roomID string, event dto.ChatOutboundEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[roomID] {
		select {
		case client.send <- event:
		default:
			h.log.Warn().Str("room_id", roomID).Str("member_id", client.memberID).Msg("dropping chat event for slow client")
		}
	}
}

func (c *chatClient) push(event dto.ChatOutboundEvent) {
	select {
	case <-c.closed:
		return
	default:
	}

	select {
	case c.send <- event:
	default:
		c.gateway.logger.Warn().Str("member_id", c.memberID).Msg("client queue full, dropping event")
	}
}

// flush writes whatever is queued without starting the writer loop.
func (c *chatClient) flush() {
	for {
		select {
		case event := <-c.send:
			if err := c.conn.WriteJSON(event); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *chatClient) reader(ctx context.Context) {
	defer c.close(ctx)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.gateway.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		c.gateway.handleFrame(ctx, c, raw)

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *chatClient) writer() {
	defer c.close(context.Background())

	for {
		select {
		case event := <-c.send:
			if err := c.conn.WriteJSON(event); err != nil {
				c.gateway.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(30 * time.Second):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.gateway.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close(ctx context.Context) {
	c.once.Do(func() {
		close(c.closed)
		c.gateway.disconnect(ctx, c)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}
