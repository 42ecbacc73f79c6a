package hub

import (
	"context"
	"errors"

	"Palaver/internal/event"
	"Palaver/internal/model"
)

// Sentinel errors collaborator implementations wrap so the hub can map
// failures onto the wire taxonomy without knowing the storage engine.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrConflict     = errors.New("conflict")
)

// Authorizer answers participant membership questions. The relay never
// decides authorization itself; it only gates on these answers.
type Authorizer interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	IsCallParticipant(ctx context.Context, callID, userID string) (bool, error)
}

// MessageStore is the persistence collaborator for messages, unread
// counters, and read receipts. Each call is transactional: it either
// fully applies or leaves storage untouched.
type MessageStore interface {
	// CreateMessage inserts the message, refreshes the conversation's
	// last-message metadata, and increments unread counters for every
	// participant except the sender. Returns the stored message and the
	// refreshed participant list.
	CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, []model.Participant, error)

	UpdateMessageStatus(ctx context.Context, messageID string, status int) (*model.Message, error)
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)

	// CreateReadReceiptIfAbsent records the receipt and reports whether a
	// new one was created. Calling it twice for the same pair is a no-op.
	CreateReadReceiptIfAbsent(ctx context.Context, messageID, userID string) (bool, error)

	// MarkConversationRead resets the user's unread counter and advances
	// their last-read pointer.
	MarkConversationRead(ctx context.Context, conversationID, userID, messageID string) error

	ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)
	ListUserConversationIDs(ctx context.Context, userID string) ([]string, error)
}

// CallDirectory is the Call Service collaborator. It owns call records,
// invitations, and ring timeouts; the relay only runs the live
// signaling room.
type CallDirectory interface {
	GetCall(ctx context.Context, callID, userID string) (*model.Call, error)
	AcceptCall(ctx context.Context, callID, userID string) (*model.Call, error)
	RejectCall(ctx context.Context, callID, userID, reason string) (*model.Call, error)
	UpdateCallStatus(ctx context.Context, callID string, status event.CallStatus) (*model.Call, error)
	InviteParticipants(ctx context.Context, callID, inviterID string, userIDs []string) (*model.Call, error)
}

// UserDirectory resolves user profiles for payload hydration.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
}
