package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation represents a chat conversation/room in MongoDB
type Conversation struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationType string             `json:"conversationType" bson:"conversation_type"`
	Name             string             `json:"name" bson:"name"`
	Avatar           string             `json:"avatar" bson:"avatar"`
	Participants     []Participant      `json:"participants" bson:"participants"`
	ParticipantIDs   []string           `json:"participantIds" bson:"participant_ids"`
	CreatedBy        string             `json:"createdBy" bson:"created_by"`
	CreatedAt        time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt        time.Time          `json:"updatedAt" bson:"updated_at"`
	LastMessageAt    time.Time          `json:"lastMessageAt" bson:"last_message_at"`
	LastMessage      *LastMessage       `json:"lastMessage" bson:"last_message"`
	IsActive         bool               `json:"isActive" bson:"is_active"`
}

// Participant is a user embedded in a conversation document. The unread
// counter and last-read pointer live here; the relay never owns them.
type Participant struct {
	UserID            string    `json:"userId" bson:"user_id"`
	Username          string    `json:"username" bson:"username"`
	Role              string    `json:"role" bson:"role"`
	JoinedAt          time.Time `json:"joinedAt" bson:"joined_at"`
	UnreadCount       int64     `json:"unreadCount" bson:"unread_count"`
	LastReadMessageID string    `json:"lastReadMessageId" bson:"last_read_message_id"`
	IsActive          bool      `json:"isActive" bson:"is_active"`
}

// LastMessage stores the most recent message preview on the conversation.
type LastMessage struct {
	MessageID  string    `json:"messageId" bson:"message_id"`
	Preview    string    `json:"preview" bson:"preview"`
	SenderID   string    `json:"senderId" bson:"sender_id"`
	SenderName string    `json:"senderName" bson:"sender_name"`
	SentAt     time.Time `json:"sentAt" bson:"sent_at"`
}
