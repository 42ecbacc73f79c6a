package service

import (
	"context"

	"Palaver/internal/db"
	"Palaver/internal/model"
	"Palaver/internal/repo"
)

// ChatService backs the REST surface: conversation lists, message
// history, and the contact directory. Live traffic goes through the
// hub, not here.
type ChatService interface {
	GetUserConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	GetConversationMessages(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error)
	GetContacts(ctx context.Context, excludeUserID string) ([]model.User, error)
}

type chatService struct {
	conversations repo.ConversationRepository
	messages      repo.MessageRepository
	users         repo.UserRepository
}

func NewChatService(conversations repo.ConversationRepository, messages repo.MessageRepository, users repo.UserRepository) ChatService {
	return &chatService{
		conversations: conversations,
		messages:      messages,
		users:         users,
	}
}

func (s *chatService) GetUserConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	return s.conversations.ListUserConversations(ctx, userID)
}

func (s *chatService) GetConversationMessages(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	return s.messages.FilterMessages(ctx, conversationID, page)
}

func (s *chatService) GetContacts(ctx context.Context, excludeUserID string) ([]model.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return Filter(users, func(u model.User) bool {
		return u.UserID != excludeUserID
	}), nil
}
