package dto

import (
	"sort"
	"time"

	"github.com/noah-isme/goalchat/internal/models"
)

// ChatMessageSendRequest carries a new message into the chat store. MessageID
// is optional; when supplied it makes retries of the same send idempotent.
type ChatMessageSendRequest struct {
	MessageID  string `json:"message_id" validate:"omitempty,uuid"`
	ChatID     string `json:"chat_id" validate:"required"`
	SenderID   string `json:"sender_id" validate:"required,max=64"`
	ReceiverID string `json:"receiver_id" validate:"omitempty,max=64"`
	Text       string `json:"text" validate:"required,max=20000"`
	Flagged    bool   `json:"flagged"`
}

// ChatMessageEditRequest replaces the text of an existing message.
type ChatMessageEditRequest struct {
	Text string `json:"text" validate:"required,max=20000"`
}

// GroupChatCreateRequest creates a group chat with an explicit member list.
type GroupChatCreateRequest struct {
	Title        string   `json:"title" validate:"required,min=1,max=255"`
	CreatorID    string   `json:"-" validate:"required,max=64"`
	Participants []string `json:"participants" validate:"required,min=1,max=256,dive,required,max=64"`
}

// ChatMessageResponse is the serialized representation of a chat message.
type ChatMessageResponse struct {
	ID         string    `json:"id"`
	ChatID     string    `json:"chat_id"`
	SenderID   string    `json:"sender_id"`
	ReceiverID string    `json:"receiver_id,omitempty"`
	Text       string    `json:"text"`
	Status     string    `json:"status"`
	Flagged    bool      `json:"flagged"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChatResponse describes a chat and its per-participant unread counters.
type ChatResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Title        string         `json:"title,omitempty"`
	Participants []string       `json:"participants"`
	UnreadCounts map[string]int `json:"unread_counts"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ChatMessagePage is one page of a chat's messages, newest first.
type ChatMessagePage struct {
	Messages      []ChatMessageResponse `json:"messages"`
	TotalMessages int64                 `json:"total_messages"`
	TotalPages    int                   `json:"total_pages"`
	CurrentPage   int                   `json:"current_page"`
}

// ChatUnreadResponse reports the unread counter of one chat for a user.
type ChatUnreadResponse struct {
	ChatID      string `json:"chat_id"`
	UnreadCount int    `json:"unread_count"`
}

// AnonymousIdentity is a pseudo-user identified by a client-held session id.
type AnonymousIdentity struct {
	SessionID   string `json:"session_id"`
	DisplayName string `json:"display_name"`
}

// NewChatMessageResponse converts a model into a DTO.
func NewChatMessageResponse(message models.ChatMessage) ChatMessageResponse {
	return ChatMessageResponse{
		ID:         message.ID,
		ChatID:     message.ChatID,
		SenderID:   message.SenderID,
		ReceiverID: message.ReceiverID,
		Text:       message.Text,
		Status:     string(message.Status),
		Flagged:    message.Flagged,
		CreatedAt:  message.CreatedAt,
		UpdatedAt:  message.UpdatedAt,
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

// NewChatResponse converts a chat with preloaded participants into a DTO.
func NewChatResponse(chat models.Chat) ChatResponse {
	participants := chat.ParticipantIDs()
	sort.Strings(participants)

	unread := make(map[string]int, len(chat.Participants))
	for _, participant := range chat.Participants {
		unread[participant.UserID] = participant.UnreadCount
	}

	return ChatResponse{
		ID:           chat.ID,
		Type:         string(chat.Type),
		Title:        chat.Title,
		Participants: participants,
		UnreadCounts: unread,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}
}

// Gateway event types exchanged over the chat websocket.
const (
	ChatEventJoin    = "join"
	ChatEventLeave   = "leave"
	ChatEventSend    = "send"
	ChatEventEdit    = "edit"
	ChatEventDelete  = "delete"
	ChatEventRead    = "read"
	ChatEventHistory = "history"

	ChatEventIdentity       = "identity"
	ChatEventJoined         = "joined"
	ChatEventLeft           = "left"
	ChatEventPresence       = "presence"
	ChatEventMessage        = "message"
	ChatEventMessageUpdated = "message_updated"
	ChatEventSlowDown       = "slow_down"
	ChatEventNotDelivered   = "message_not_delivered"
	ChatEventError          = "error"
)

// ChatInboundEvent is a frame sent by a websocket client.
type ChatInboundEvent struct {
	Type       string `json:"type"`
	RoomID     string `json:"room_id,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	ReceiverID string `json:"receiver_id,omitempty"`
	PeerID     string `json:"peer_id,omitempty"`
	Text       string `json:"text,omitempty"`
	Flagged    bool   `json:"flagged,omitempty"`
	Page       int    `json:"page,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ChatOutboundEvent is a frame pushed to websocket clients.
type ChatOutboundEvent struct {
	Type        string                `json:"type"`
	RoomID      string                `json:"room_id,omitempty"`
	Action      string                `json:"action,omitempty"`
	Reason      string                `json:"reason,omitempty"`
	MessageID   string                `json:"message_id,omitempty"`
	SenderName  string                `json:"sender_name,omitempty"`
	Identity    *AnonymousIdentity    `json:"identity,omitempty"`
	Message     *ChatMessageResponse  `json:"message,omitempty"`
	Page        *ChatMessagePage      `json:"page,omitempty"`
	History     []ChatMessageResponse `json:"history,omitempty"`
	MemberCount int                   `json:"member_count,omitempty"`
	SentAt      time.Time             `json:"sent_at"`
}
