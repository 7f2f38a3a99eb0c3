package models

import (
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// ChatType distinguishes one-to-one conversations from group rooms.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// MessageStatus tracks the lifecycle of a message.
type MessageStatus string

const (
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusEdited  MessageStatus = "edited"
	MessageStatusDeleted MessageStatus = "deleted"
)

// DeletedMessageText replaces the payload of soft-deleted messages.
const DeletedMessageText = "This message was deleted"

// Chat represents a conversation. Private chats carry a pair key so the
// database can reject a second chat for the same two users.
type Chat struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	Type         ChatType          `gorm:"size:16;not null;index" json:"type"`
	PairKey      *string           `gorm:"size:160;uniqueIndex" json:"-"`
	Title        string            `gorm:"size:255" json:"title,omitempty"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata,omitempty"`
	Participants []ChatParticipant `gorm:"foreignKey:ChatID;constraint:OnDelete:CASCADE" json:"participants"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ChatParticipant links a user to a chat and holds their unread counter.
type ChatParticipant struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	ChatID      string    `gorm:"size:36;not null;uniqueIndex:idx_chat_participant" json:"chat_id"`
	UserID      string    `gorm:"size:64;not null;uniqueIndex:idx_chat_participant;index" json:"user_id"`
	UnreadCount int       `gorm:"not null;default:0" json:"unread_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatMessage is a single persisted utterance within a chat. Text is stored
// as received and never inspected.
type ChatMessage struct {
	ID         string        `gorm:"primaryKey;size:36" json:"id"`
	ChatID     string        `gorm:"size:36;not null;index:idx_chat_messages_chat_created,priority:1" json:"chat_id"`
	SenderID   string        `gorm:"size:64;index" json:"sender_id"`
	ReceiverID string        `gorm:"size:64;index" json:"receiver_id"`
	Text       string        `gorm:"type:text" json:"text"`
	Status     MessageStatus `gorm:"size:16;not null;default:sent" json:"status"`
	Flagged    bool          `gorm:"not null;default:false" json:"flagged"`
	CreatedAt  time.Time     `gorm:"index:idx_chat_messages_chat_created,priority:2" json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// UnreadFor returns the unread counter for userID, or zero when the user is
// not a participant.
func (c Chat) UnreadFor(userID string) int {
	for _, participant := range c.Participants {
		if participant.UserID == userID {
			return participant.UnreadCount
		}
	}
	return 0
}

// HasParticipant reports whether userID belongs to the chat.
func (c Chat) HasParticipant(userID string) bool {
	for _, participant := range c.Participants {
		if participant.UserID == userID {
			return true
		}
	}
	return false
}

// ParticipantIDs lists the user ids of the chat members.
func (c Chat) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, participant := range c.Participants {
		ids = append(ids, participant.UserID)
	}
	return ids
}

// PrivatePairKey builds the order-independent key identifying a private chat.
func PrivatePairKey(userA, userB string) string {
	pair := []string{strings.TrimSpace(userA), strings.TrimSpace(userB)}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}
