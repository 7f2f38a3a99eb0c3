package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/goalchat/internal/dto"
	"github.com/noah-isme/goalchat/internal/ratelimit"
)

func newTestGateway(t *testing.T, chat ChatService, policies map[string]ratelimit.Policy) *chatGateway {
	t.Helper()
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(0), policies, zerolog.Nop())
	return newChatGateway(chat, NewPresenceService(zerolog.Nop()), limiter, ChatGatewayConfig{}, zerolog.Nop())
}

func connectTestClient(t *testing.T, g *chatGateway, opts ChatConnectionOptions) *chatClient {
	t.Helper()
	client, ok := g.connect(context.Background(), nil, opts)
	require.True(t, ok)
	return client
}

func sendFrame(t *testing.T, g *chatGateway, client *chatClient, event dto.ChatInboundEvent) {
	t.Helper()
	raw, err := json.Marshal(event)
	require.NoError(t, err)
	g.handleFrame(context.Background(), client, raw)
}

// expectEvent skips unrelated events until one of the wanted type arrives.
func expectEvent(t *testing.T, client *chatClient, eventType string) dto.ChatOutboundEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case event := <-client.send:
			if event.Type == eventType {
				return event
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
		}
	}
}

func drainEvents(client *chatClient) {
	for {
		select {
		case <-client.send:
		default:
			return
		}
	}
}

func TestGatewayAnonymousRoomFlow(t *testing.T) {
	g := newTestGateway(t, nil, nil)

	first := connectTestClient(t, g, ChatConnectionOptions{RemoteAddr: "10.0.0.1"})
	identity := expectEvent(t, first, dto.ChatEventIdentity)
	require.NotNil(t, identity.Identity)
	require.NotEmpty(t, identity.Identity.SessionID)
	require.NotEmpty(t, identity.Identity.DisplayName)

	second := connectTestClient(t, g, ChatConnectionOptions{RemoteAddr: "10.0.0.2", SessionID: "s-2", DisplayName: "<b>Quiet Otter</b>"})
	recognized := expectEvent(t, second, dto.ChatEventIdentity)
	require.Equal(t, "s-2", recognized.Identity.SessionID)
	require.Equal(t, "Quiet Otter", recognized.Identity.DisplayName)

	sendFrame(t, g, first, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: "anon:lobby"})
	joined := expectEvent(t, first, dto.ChatEventJoined)
	require.Equal(t, 1, joined.MemberCount)
	drainEvents(first)

	sendFrame(t, g, second, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: "anon:lobby"})
	joined = expectEvent(t, second, dto.ChatEventJoined)
	require.Equal(t, 2, joined.MemberCount)
	require.Equal(t, 2, expectEvent(t, first, dto.ChatEventPresence).MemberCount)

	sendFrame(t, g, second, dto.ChatInboundEvent{Type: dto.ChatEventSend, RoomID: "anon:lobby", Text: "hi all"})
	received := expectEvent(t, first, dto.ChatEventMessage)
	require.Equal(t, "Quiet Otter", received.SenderName)
	require.Equal(t, "hi all", received.Message.Text)
	require.Empty(t, received.Message.SenderID)
	drainEvents(first)

	second.close(context.Background())
	require.Equal(t, 1, expectEvent(t, first, dto.ChatEventPresence).MemberCount)
	require.Equal(t, 1, g.presence.MemberCount("anon:lobby"))
}

func TestGatewayPersistedChatFlow(t *testing.T) {
	db := setupChatTestDB(t)
	chat := newTestChatService(t, db)
	g := newTestGateway(t, chat, nil)
	ctx := context.Background()

	private, err := chat.GetOrCreatePrivateChat(ctx, "alice", "bob")
	require.NoError(t, err)

	alice := connectTestClient(t, g, ChatConnectionOptions{UserID: "alice"})
	bob := connectTestClient(t, g, ChatConnectionOptions{UserID: "bob"})
	mallory := connectTestClient(t, g, ChatConnectionOptions{UserID: "mallory"})

	sendFrame(t, g, alice, dto.ChatInboundEvent{Type: dto.ChatEventSend, RoomID: private.ID, Text: "too early"})
	require.Equal(t, "join the room first", expectEvent(t, alice, dto.ChatEventError).Reason)

	sendFrame(t, g, mallory, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: private.ID})
	require.Equal(t, "not a member of this room", expectEvent(t, mallory, dto.ChatEventError).Reason)

	sendFrame(t, g, alice, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: private.ID})
	history := expectEvent(t, alice, dto.ChatEventHistory)
	require.NotNil(t, history.Page)
	require.Equal(t, int64(0), history.Page.TotalMessages)

	sendFrame(t, g, bob, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: private.ID})
	expectEvent(t, bob, dto.ChatEventJoined)

	sendFrame(t, g, alice, dto.ChatInboundEvent{Type: dto.ChatEventSend, RoomID: private.ID, Text: "c2VjcmV0"})
	delivered := expectEvent(t, bob, dto.ChatEventMessage)
	require.Equal(t, "alice", delivered.Message.SenderID)
	require.Equal(t, "bob", delivered.Message.ReceiverID)
	require.Equal(t, "c2VjcmV0", delivered.Message.Text)
	expectEvent(t, alice, dto.ChatEventMessage)

	sendFrame(t, g, bob, dto.ChatInboundEvent{Type: dto.ChatEventEdit, MessageID: delivered.Message.ID, Text: "hijack"})
	require.Equal(t, "only the sender can change this message", expectEvent(t, bob, dto.ChatEventError).Reason)

	sendFrame(t, g, alice, dto.ChatInboundEvent{Type: dto.ChatEventDelete, MessageID: delivered.Message.ID})
	updated := expectEvent(t, bob, dto.ChatEventMessageUpdated)
	require.Equal(t, "deleted", updated.Message.Status)

	sendFrame(t, g, bob, dto.ChatInboundEvent{Type: dto.ChatEventRead, RoomID: private.ID})
	expectEvent(t, bob, dto.ChatEventRead)

	reloaded, err := chat.GetChat(ctx, private.ID)
	require.NoError(t, err)
	require.Equal(t, 0, reloaded.UnreadCounts["bob"])

	sendFrame(t, g, bob, dto.ChatInboundEvent{Type: dto.ChatEventHistory, PeerID: "alice"})
	full := expectEvent(t, bob, dto.ChatEventHistory)
	require.Len(t, full.History, 1)
}

func TestGatewayRejectsWithSlowDown(t *testing.T) {
	g := newTestGateway(t, nil, map[string]ratelimit.Policy{
		ratelimit.EventSendMessage: {Max: 1, Window: time.Minute},
	})

	client := connectTestClient(t, g, ChatConnectionOptions{RemoteAddr: "10.0.0.9"})
	sendFrame(t, g, client, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: "anon:quiet"})
	expectEvent(t, client, dto.ChatEventJoined)

	sendFrame(t, g, client, dto.ChatInboundEvent{Type: dto.ChatEventSend, RoomID: "anon:quiet", Text: "one"})
	expectEvent(t, client, dto.ChatEventMessage)

	sendFrame(t, g, client, dto.ChatInboundEvent{Type: dto.ChatEventSend, RoomID: "anon:quiet", Text: "two"})
	slow := expectEvent(t, client, dto.ChatEventSlowDown)
	require.Equal(t, "send", slow.Action)
	require.NotEmpty(t, slow.Reason)
}

func TestGatewayRejectsMalformedFrames(t *testing.T) {
	g := newTestGateway(t, nil, nil)
	client := connectTestClient(t, g, ChatConnectionOptions{UserID: "alice"})

	g.handleFrame(context.Background(), client, []byte(`{"type":"dance"}`))
	require.Equal(t, "invalid event", expectEvent(t, client, dto.ChatEventError).Reason)

	g.handleFrame(context.Background(), client, []byte(`{"type":"send","text":"no room"}`))
	require.Equal(t, "invalid event", expectEvent(t, client, dto.ChatEventError).Reason)

	g.handleFrame(context.Background(), client, []byte(`not json`))
	require.Equal(t, "invalid event", expectEvent(t, client, dto.ChatEventError).Reason)
}

type unavailableChatService struct {
	ChatService
	chat dto.ChatResponse
}

func (s unavailableChatService) GetChat(context.Context, string) (dto.ChatResponse, error) {
	return s.chat, nil
}

func (s unavailableChatService) FetchMessages(context.Context, string, int, int) (dto.ChatMessagePage, error) {
	return dto.ChatMessagePage{}, nil
}

func (s unavailableChatService) SendMessage(context.Context, dto.ChatMessageSendRequest) (dto.ChatMessageResponse, error) {
	return dto.ChatMessageResponse{}, ErrBackendUnavailable
}

func TestGatewayReportsUndeliveredMessagesWithoutDetail(t *testing.T) {
	chatID := "4a0f7a6e-2d7c-4d36-9a5a-0c2b0c1b7f11"
	chat := unavailableChatService{chat: dto.ChatResponse{ID: chatID, Type: "private", Participants: []string{"alice", "bob"}}}
	g := newTestGateway(t, chat, nil)

	client := connectTestClient(t, g, ChatConnectionOptions{UserID: "alice"})
	sendFrame(t, g, client, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: chatID})
	expectEvent(t, client, dto.ChatEventJoined)
	drainEvents(client)

	sendFrame(t, g, client, dto.ChatInboundEvent{Type: dto.ChatEventSend, RoomID: chatID, MessageID: "b8a1c1a2-8f62-4f6b-8a55-3a8f3c1f9e10", Text: "lost"})
	failed := expectEvent(t, client, dto.ChatEventNotDelivered)
	require.Equal(t, "b8a1c1a2-8f62-4f6b-8a55-3a8f3c1f9e10", failed.MessageID)
	require.Empty(t, failed.Reason)
}

func TestGatewayRateLimitsAnonymousConnects(t *testing.T) {
	g := newTestGateway(t, nil, map[string]ratelimit.Policy{
		ratelimit.EventMintIdentity: {Max: 1, Window: time.Minute},
	})

	_, ok := g.connect(context.Background(), nil, ChatConnectionOptions{RemoteAddr: "10.1.1.1"})
	require.True(t, ok)

	client, ok := g.connect(context.Background(), nil, ChatConnectionOptions{RemoteAddr: "10.1.1.1"})
	require.False(t, ok)
	slow := expectEvent(t, client, dto.ChatEventSlowDown)
	require.Equal(t, "connect", slow.Action)
}

func TestGatewayKeepsPresencePerConnection(t *testing.T) {
	db := setupChatTestDB(t)
	chat := newTestChatService(t, db)
	g := newTestGateway(t, chat, nil)
	ctx := context.Background()

	private, err := chat.GetOrCreatePrivateChat(ctx, "alice", "bob")
	require.NoError(t, err)

	laptop := connectTestClient(t, g, ChatConnectionOptions{UserID: "alice"})
	phone := connectTestClient(t, g, ChatConnectionOptions{UserID: "alice"})
	bob := connectTestClient(t, g, ChatConnectionOptions{UserID: "bob"})

	for _, client := range []*chatClient{laptop, phone, bob} {
		sendFrame(t, g, client, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: private.ID})
		expectEvent(t, client, dto.ChatEventJoined)
	}
	require.Equal(t, 3, g.presence.MemberCount(private.ID))
	drainEvents(phone)
	drainEvents(bob)

	laptop.close(ctx)
	require.Equal(t, 2, expectEvent(t, bob, dto.ChatEventPresence).MemberCount)
	require.Equal(t, 2, g.presence.MemberCount(private.ID))
	drainEvents(phone)

	sendFrame(t, g, phone, dto.ChatInboundEvent{Type: dto.ChatEventSend, RoomID: private.ID, Text: "still here"})
	delivered := expectEvent(t, bob, dto.ChatEventMessage)
	require.Equal(t, "still here", delivered.Message.Text)

	anonA := connectTestClient(t, g, ChatConnectionOptions{SessionID: "s-7", DisplayName: "Calm Fox"})
	anonB := connectTestClient(t, g, ChatConnectionOptions{SessionID: "s-7", DisplayName: "Calm Fox"})
	for _, client := range []*chatClient{anonA, anonB} {
		sendFrame(t, g, client, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: "anon:lobby"})
		expectEvent(t, client, dto.ChatEventJoined)
	}
	anonA.close(ctx)
	require.Equal(t, 1, g.presence.MemberCount("anon:lobby"))
}

func TestGatewayRecognizedIdentitySkipsMintLimit(t *testing.T) {
	g := newTestGateway(t, nil, map[string]ratelimit.Policy{
		ratelimit.EventMintIdentity: {Max: 1, Window: time.Minute},
	})

	minted := connectTestClient(t, g, ChatConnectionOptions{RemoteAddr: "10.2.2.2"})
	identity := expectEvent(t, minted, dto.ChatEventIdentity).Identity
	require.NotNil(t, identity)

	for i := 0; i < 3; i++ {
		client := connectTestClient(t, g, ChatConnectionOptions{RemoteAddr: "10.2.2.2", SessionID: identity.SessionID, DisplayName: identity.DisplayName})
		require.Equal(t, identity.SessionID, expectEvent(t, client, dto.ChatEventIdentity).Identity.SessionID)
	}

	client, ok := g.connect(context.Background(), nil, ChatConnectionOptions{RemoteAddr: "10.2.2.2"})
	require.False(t, ok)
	require.Equal(t, "connect", expectEvent(t, client, dto.ChatEventSlowDown).Action)
}

func TestGatewayPicksSingleFanoutTransport(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	none := newChatGateway(nil, NewPresenceService(zerolog.Nop()), nil, ChatGatewayConfig{ChannelBase: "chat:events"}, zerolog.Nop())
	require.Empty(t, none.fanout)

	viaRedis := newChatGateway(nil, NewPresenceService(zerolog.Nop()), nil, ChatGatewayConfig{Redis: client, ChannelBase: "chat:events"}, zerolog.Nop())
	require.Equal(t, fanoutRedis, viaRedis.fanout)

	both := newChatGateway(nil, NewPresenceService(zerolog.Nop()), nil, ChatGatewayConfig{Redis: client, NATS: &nats.Conn{}, ChannelBase: "chat:events"}, zerolog.Nop())
	require.Equal(t, fanoutNATS, both.fanout)
	require.Equal(t, "chat.events.chat", both.natsSubject)
}

func TestGatewayDeliversRemoteEventsOnce(t *testing.T) {
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	defer client.Close()

	cfg := ChatGatewayConfig{Redis: client, ChannelBase: "chat:events"}
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(0), nil, zerolog.Nop())
	nodeA := newChatGateway(nil, NewPresenceService(zerolog.Nop()), limiter, cfg, zerolog.Nop())
	nodeB := newChatGateway(nil, NewPresenceService(zerolog.Nop()), limiter, cfg, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	nodeB.Start(ctx)
	require.Eventually(t, func() bool {
		return client.PubSubNumSub(ctx, "chat:events:chat").Val()["chat:events:chat"] == 1
	}, time.Second, 10*time.Millisecond)

	listener := connectTestClient(t, nodeB, ChatConnectionOptions{SessionID: "s-b", DisplayName: "Keen Hawk"})
	sendFrame(t, nodeB, listener, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: "anon:mesh"})
	expectEvent(t, listener, dto.ChatEventJoined)
	drainEvents(listener)

	speaker := connectTestClient(t, nodeA, ChatConnectionOptions{SessionID: "s-a", DisplayName: "Swift Otter"})
	sendFrame(t, nodeA, speaker, dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: "anon:mesh"})
	expectEvent(t, speaker, dto.ChatEventJoined)
	sendFrame(t, nodeA, speaker, dto.ChatInboundEvent{Type: dto.ChatEventSend, RoomID: "anon:mesh", Text: "across nodes"})

	received := expectEvent(t, listener, dto.ChatEventMessage)
	require.Equal(t, "across nodes", received.Message.Text)

	require.Never(t, func() bool {
		select {
		case event := <-listener.send:
			return event.Type == dto.ChatEventMessage
		default:
			return false
		}
	}, 200*time.Millisecond, 20*time.Millisecond)
}
