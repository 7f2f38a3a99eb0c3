package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/goalchat/internal/dto"
	"github.com/noah-isme/goalchat/internal/models"
	"github.com/noah-isme/goalchat/internal/observability"
	"github.com/noah-isme/goalchat/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var (
	// ErrValidation marks malformed input. Callers translate it into a user-visible rejection.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidIdentifier indicates a chat or message id that is not well formed.
	ErrInvalidIdentifier = fmt.Errorf("%w: invalid identifier", ErrValidation)
	// ErrNotFound indicates a well-formed id with no matching record.
	ErrNotFound = errors.New("record not found")
	// ErrConflictOnCreate indicates a private chat creation lost a race and the
	// follow-up lookup still found nothing.
	ErrConflictOnCreate = errors.New("conflicting private chat creation")
	// ErrBackendUnavailable wraps persistence failures. Chat writes never fail open.
	ErrBackendUnavailable = errors.New("chat backend unavailable")
	// ErrMessageDeleted prevents edits from resurrecting a deleted message.
	ErrMessageDeleted = fmt.Errorf("%w: message was deleted", ErrValidation)
)

// ChatService owns chat and message persistence.
type ChatService interface {
	GetOrCreatePrivateChat(ctx context.Context, userA, userB string) (dto.ChatResponse, error)
	CreateGroupChat(ctx context.Context, req dto.GroupChatCreateRequest) (dto.ChatResponse, error)
	GetChat(ctx context.Context, chatID string) (dto.ChatResponse, error)
	SendMessage(ctx context.Context, req dto.ChatMessageSendRequest) (dto.ChatMessageResponse, error)
	GetMessage(ctx context.Context, messageID string) (dto.ChatMessageResponse, error)
	EditMessage(ctx context.Context, messageID, text string) (dto.ChatMessageResponse, error)
	DeleteMessage(ctx context.Context, messageID string) (dto.ChatMessageResponse, error)
	MarkRead(ctx context.Context, chatID, userID string) error
	FetchMessages(ctx context.Context, chatID string, page, limit int) (dto.ChatMessagePage, error)
	FetchPrivateHistory(ctx context.Context, userA, userB string) ([]dto.ChatMessageResponse, error)
	UnreadCounts(ctx context.Context, userID string) ([]dto.ChatUnreadResponse, error)
}

type chatService struct {
	repo      repository.ChatRepository
	validator *validator.Validate
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

// NewChatService creates the chat message store.
func NewChatService(repo repository.ChatRepository, validate *validator.Validate, logger zerolog.Logger) ChatService {
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}

	return &chatService{
		repo:      repo,
		validator: validate,
		logger:    logger.With().Str("component", "chat_service").Logger(),
		tracer:    otel.Tracer("github.com/noah-isme/goalchat/internal/service/chat"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *chatService) GetOrCreatePrivateChat(ctx context.Context, userA, userB string) (dto.ChatResponse, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return dto.ChatResponse{}, fmt.Errorf("%w: both participants are required", ErrValidation)
	}
	if userA == userB {
		return dto.ChatResponse{}, fmt.Errorf("%w: cannot open a private chat with yourself", ErrValidation)
	}

	ctx, span := s.startSpan(ctx, "chat.get_or_create_private", attribute.String("chat.user_a", userA), attribute.String("chat.user_b", userB))
	defer span.End()

	key := models.PrivatePairKey(userA, userB)
	chat, err := s.repo.FindPrivateChat(ctx, key)
	if err == nil {
		return dto.NewChatResponse(chat), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return dto.ChatResponse{}, s.storageError(span, "find_private_chat", err)
	}

	members := []string{userA, userB}
	chat = models.Chat{
		ID:           uuid.NewString(),
		Type:         models.ChatTypePrivate,
		PairKey:      &key,
		Participants: participantsFor(members),
	}

	err = s.repo.CreateChat(ctx, &chat)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		s.logger.Debug().Str("pair_key", key).Msg("private chat created concurrently, retrying lookup")
		chat, err = s.repo.FindPrivateChat(ctx, key)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.ChatResponse{}, ErrConflictOnCreate
		}
		if err != nil {
			return dto.ChatResponse{}, s.storageError(span, "find_private_chat", err)
		}
		return dto.NewChatResponse(chat), nil
	}
	if err != nil {
		return dto.ChatResponse{}, s.storageError(span, "create_private_chat", err)
	}

	s.logger.Info().Str("chat_id", chat.ID).Msg("private chat created")
	return dto.NewChatResponse(chat), nil
}

func (s *chatService) CreateGroupChat(ctx context.Context, req dto.GroupChatCreateRequest) (dto.ChatResponse, error) {
	req.Title = strings.TrimSpace(req.Title)
	req.CreatorID = strings.TrimSpace(req.CreatorID)
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatResponse{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	members := lo.Uniq(lo.FilterMap(append([]string{req.CreatorID}, req.Participants...), func(id string, _ int) (string, bool) {
		id = strings.TrimSpace(id)
		return id, id != ""
	}))

	ctx, span := s.startSpan(ctx, "chat.create_group", attribute.Int("chat.participants", len(members)))
	defer span.End()

	chat := models.Chat{
		ID:           uuid.NewString(),
		Type:         models.ChatTypeGroup,
		Title:        req.Title,
		Metadata:     datatypes.JSONMap{"created_by": req.CreatorID},
		Participants: participantsFor(members),
	}

	if err := s.repo.CreateChat(ctx, &chat); err != nil {
		return dto.ChatResponse{}, s.storageError(span, "create_group_chat", err)
	}

	s.logger.Info().Str("chat_id", chat.ID).Int("participants", len(members)).Msg("group chat created")
	return dto.NewChatResponse(chat), nil
}

func (s *chatService) GetChat(ctx context.Context, chatID string) (dto.ChatResponse, error) {
	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatResponse{}, err
	}
	return dto.NewChatResponse(chat), nil
}

// SendMessage persists the message and the receiver's unread increment as a
// single unit. Retrying with the same MessageID returns the stored message.
func (s *chatService) SendMessage(ctx context.Context, req dto.ChatMessageSendRequest) (dto.ChatMessageResponse, error) {
	req.ChatID = strings.TrimSpace(req.ChatID)
	req.SenderID = strings.TrimSpace(req.SenderID)
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	req.MessageID = strings.TrimSpace(req.MessageID)

	if err := validateID(req.ChatID); err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if req.MessageID != "" {
		if err := validateID(req.MessageID); err != nil {
			return dto.ChatMessageResponse{}, err
		}
	}
	if err := s.validator.Struct(req); err != nil {
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ctx, span := s.startSpan(ctx, "chat.send_message",
		attribute.String("chat.id", req.ChatID),
		attribute.String("chat.sender_id", req.SenderID),
	)
	defer span.End()
	started := time.Now()

	chat, err := s.repo.GetChat(ctx, req.ChatID)
	if err != nil {
		return dto.ChatMessageResponse{}, s.storageError(span, "get_chat", err)
	}

	recipients, err := recipientsFor(chat, req.SenderID, req.ReceiverID)
	if err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if chat.Type == models.ChatTypePrivate && req.ReceiverID == "" && len(recipients) == 1 {
		req.ReceiverID = recipients[0]
	}

	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	now := s.now()
	message := models.ChatMessage{
		ID:         messageID,
		ChatID:     chat.ID,
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Text:       req.Text,
		Status:     models.MessageStatusSent,
		Flagged:    req.Flagged,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.repo.AppendMessage(ctx, &message, recipients)
	if err != nil {
		return dto.ChatMessageResponse{}, s.storageError(span, "append_message", err)
	}
	if message.ChatID != chat.ID {
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: message id already used in another chat", ErrValidation)
	}

	observability.ChatOperationDurations().WithLabelValues("send_message").Observe(time.Since(started).Seconds())
	if created {
		observability.ChatMessagesPersisted().WithLabelValues("send").Inc()
	} else {
		s.logger.Debug().Str("message_id", message.ID).Msg("duplicate send ignored")
	}

	return dto.NewChatMessageResponse(message), nil
}

func (s *chatService) GetMessage(ctx context.Context, messageID string) (dto.ChatMessageResponse, error) {
	messageID = strings.TrimSpace(messageID)
	if err := validateID(messageID); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	message, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return dto.ChatMessageResponse{}, s.storageError(nil, "get_message", err)
	}
	return dto.NewChatMessageResponse(message), nil
}

func (s *chatService) EditMessage(ctx context.Context, messageID, text string) (dto.ChatMessageResponse, error) {
	messageID = strings.TrimSpace(messageID)
	if err := validateID(messageID); err != nil {
		return dto.ChatMessageResponse{}, err
	}
	if err := s.validator.Struct(dto.ChatMessageEditRequest{Text: text}); err != nil {
		return dto.ChatMessageResponse{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	ctx, span := s.startSpan(ctx, "chat.edit_message", attribute.String("chat.message_id", messageID))
	defer span.End()

	message, err := s.repo.UpdateMessage(ctx, messageID, text, models.MessageStatusEdited)
	if errors.Is(err, repository.ErrMessageDeleted) {
		return dto.ChatMessageResponse{}, ErrMessageDeleted
	}
	if err != nil {
		return dto.ChatMessageResponse{}, s.storageError(span, "edit_message", err)
	}

	observability.ChatMessagesPersisted().WithLabelValues("edit").Inc()
	return dto.NewChatMessageResponse(message), nil
}

func (s *chatService) DeleteMessage(ctx context.Context, messageID string) (dto.ChatMessageResponse, error) {
	messageID = strings.TrimSpace(messageID)
	if err := validateID(messageID); err != nil {
		return dto.ChatMessageResponse{}, err
	}

	ctx, span := s.startSpan(ctx, "chat.delete_message", attribute.String("chat.message_id", messageID))
	defer span.End()

	message, err := s.repo.UpdateMessage(ctx, messageID, models.DeletedMessageText, models.MessageStatusDeleted)
	if err != nil {
		return dto.ChatMessageResponse{}, s.storageError(span, "delete_message", err)
	}

	observability.ChatMessagesPersisted().WithLabelValues("delete").Inc()
	return dto.NewChatMessageResponse(message), nil
}

func (s *chatService) MarkRead(ctx context.Context, chatID, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return err
	}

	if err := s.repo.ResetUnread(ctx, chat.ID, userID); err != nil {
		return s.storageError(nil, "mark_read", err)
	}
	return nil
}

func (s *chatService) FetchMessages(ctx context.Context, chatID string, page, limit int) (dto.ChatMessagePage, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	chat, err := s.loadChat(ctx, chatID)
	if err != nil {
		return dto.ChatMessagePage{}, err
	}

	started := time.Now()
	messages, total, err := s.repo.ListMessages(ctx, chat.ID, (page-1)*limit, limit)
	if err != nil {
		return dto.ChatMessagePage{}, s.storageError(nil, "list_messages", err)
	}
	observability.ChatOperationDurations().WithLabelValues("fetch_messages").Observe(time.Since(started).Seconds())

	return dto.ChatMessagePage{
		Messages:      dto.NewChatMessageResponseSlice(messages),
		TotalMessages: total,
		TotalPages:    int((total + int64(limit) - 1) / int64(limit)),
		CurrentPage:   page,
	}, nil
}

func (s *chatService) FetchPrivateHistory(ctx context.Context, userA, userB string) ([]dto.ChatMessageResponse, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, fmt.Errorf("%w: both participants are required", ErrValidation)
	}

	ctx, span := s.startSpan(ctx, "chat.private_history")
	defer span.End()

	chat, err := s.repo.FindPrivateChat(ctx, models.PrivatePairKey(userA, userB))
	if err != nil {
		return nil, s.storageError(span, "find_private_chat", err)
	}

	messages, err := s.repo.ListAllMessages(ctx, chat.ID)
	if err != nil {
		return nil, s.storageError(span, "list_all_messages", err)
	}

	return dto.NewChatMessageResponseSlice(messages), nil
}

func (s *chatService) UnreadCounts(ctx context.Context, userID string) ([]dto.ChatUnreadResponse, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	participations, err := s.repo.ListParticipations(ctx, userID)
	if err != nil {
		return nil, s.storageError(nil, "list_participations", err)
	}

	return lo.Map(participations, func(p models.ChatParticipant, _ int) dto.ChatUnreadResponse {
		return dto.ChatUnreadResponse{ChatID: p.ChatID, UnreadCount: p.UnreadCount}
	}), nil
}

func (s *chatService) loadChat(ctx context.Context, chatID string) (models.Chat, error) {
	chatID = strings.TrimSpace(chatID)
	if err := validateID(chatID); err != nil {
		return models.Chat{}, err
	}

	chat, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, s.storageError(nil, "get_chat", err)
	}
	return chat, nil
}

func (s *chatService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// storageError maps repository failures onto the chat error taxonomy.
func (s *chatService) storageError(span trace.Span, operation string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}

	observability.ChatPersistenceErrors().WithLabelValues(operation).Inc()
	s.logger.Error().Err(err).Str("operation", operation).Msg("chat persistence failed")
	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, operation)
	}
	return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, operation, err)
}

func validateID(id string) error {
	if id == "" {
		return ErrInvalidIdentifier
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrInvalidIdentifier
	}
	return nil
}

func participantsFor(userIDs []string) []models.ChatParticipant {
	participants := make([]models.ChatParticipant, 0, len(userIDs))
	for _, userID := range userIDs {
		participants = append(participants, models.ChatParticipant{UserID: userID})
	}
	return participants
}

// recipientsFor resolves whose unread counter a new message bumps. Private
// chats target the explicit receiver or the other participant; group chats
// target everyone except the sender unless a receiver is named.
func recipientsFor(chat models.Chat, senderID, receiverID string) ([]string, error) {
	if receiverID != "" {
		if !chat.HasParticipant(receiverID) {
			return nil, fmt.Errorf("%w: receiver is not a participant of the chat", ErrValidation)
		}
		return []string{receiverID}, nil
	}

	others := lo.Filter(chat.ParticipantIDs(), func(id string, _ int) bool {
		return id != senderID
	})
	if chat.Type == models.ChatTypePrivate && len(others) != 1 {
		return nil, fmt.Errorf("%w: receiver is required", ErrValidation)
	}
	return others, nil
}
