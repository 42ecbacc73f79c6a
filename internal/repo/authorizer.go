package repo

import (
	"context"

	"Palaver/internal/hub"
)

// authorizer stitches the conversation and call repositories into the
// single membership oracle the hub consumes.
type authorizer struct {
	conversations ConversationRepository
	calls         CallRepository
}

func NewAuthorizer(conversations ConversationRepository, calls CallRepository) hub.Authorizer {
	return &authorizer{conversations: conversations, calls: calls}
}

func (a *authorizer) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return a.conversations.IsParticipant(ctx, conversationID, userID)
}

func (a *authorizer) IsCallParticipant(ctx context.Context, callID, userID string) (bool, error) {
	return a.calls.IsCallParticipant(ctx, callID, userID)
}
