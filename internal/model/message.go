package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Message types
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeVoice = "voice"
)

// Message statuses
const (
	MessageStatusSent    = 1
	MessageStatusEdited  = 2
	MessageStatusDeleted = 3
)

// MaxContentLength is the upper bound on message body size.
const MaxContentLength = 4000

// TypeAllowsEmptyContent reports whether a message of the given type may
// carry an empty body (attachment and voice messages do).
func TypeAllowsEmptyContent(messageType string) bool {
	switch messageType {
	case MessageTypeImage, MessageTypeFile, MessageTypeVoice:
		return true
	default:
		return false
	}
}

// ValidMessageType reports whether the type is one the relay accepts.
func ValidMessageType(messageType string) bool {
	switch messageType {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypeVoice:
		return true
	default:
		return false
	}
}

// Message represents a chat message in MongoDB. The relay only holds it
// transiently while building broadcast payloads; the stored copy is
// authoritative.
type Message struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MessageID      string             `json:"messageId" bson:"message_id"`
	ConversationID string             `json:"conversationId" bson:"conversation_id"`
	SenderID       string             `json:"senderId" bson:"sender_id"`
	SenderName     string             `json:"senderName" bson:"-"`
	Type           string             `json:"type" bson:"type"`
	Content        string             `json:"content" bson:"content"`
	FileURL        *string            `json:"fileUrl,omitempty" bson:"file_url,omitempty"`
	ReplyTo        *string            `json:"replyTo,omitempty" bson:"reply_to,omitempty"`
	Status         int                `json:"status" bson:"status"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	EditedAt       *time.Time         `json:"editedAt,omitempty" bson:"edited_at,omitempty"`
}

// ReadReceipt records that a user has read a message. At most one
// document exists per (message_id, user_id).
type ReadReceipt struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	MessageID string             `json:"messageId" bson:"message_id"`
	UserID    string             `json:"userId" bson:"user_id"`
	ReadAt    time.Time          `json:"readAt" bson:"read_at"`
}

// -----------------------------------------------------------------
// WebSocket Payloads - Client to Server
// -----------------------------------------------------------------

// SendMessagePayload initiates a message send.
type SendMessagePayload struct {
	ConversationID string  `json:"conversationId"`
	Type           string  `json:"type"`
	Content        string  `json:"content"`
	FileURL        *string `json:"fileUrl,omitempty"`
	ReplyTo        *string `json:"replyTo,omitempty"`
}

// UpdateStatusPayload changes a message status (sender only).
type UpdateStatusPayload struct {
	MessageID string `json:"messageId"`
	Status    int    `json:"status"`
}

// MarkReadPayload records a read receipt and resets the unread counter.
type MarkReadPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// -----------------------------------------------------------------
// WebSocket Payloads - Server to Client
// -----------------------------------------------------------------

// MessageStatusEvent is broadcast to the room after a status change.
type MessageStatusEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	Status         int    `json:"status"`
	Timestamp      int64  `json:"timestamp"`
}

// MessageReadEvent is sent to the message sender on a new read receipt.
type MessageReadEvent struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	ReadBy         string `json:"readBy"`
	ReadAt         int64  `json:"readAt"`
}

// UnreadCountEvent carries a user's refreshed unread counter for one
// conversation. Delivered to the user's presence group only; offline
// users pick the count up on their next fetch.
type UnreadCountEvent struct {
	ConversationID string `json:"conversationId"`
	UnreadCount    int64  `json:"unreadCount"`
}
