package repo

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"Palaver/internal/db"
	"Palaver/internal/hub"
	"Palaver/internal/model"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	// Participant-set cache: IsParticipant sits on the typing/send hot
	// path and must not hit Mongo per keystroke.
	participantCacheSize = 1024
	participantCacheTTL  = 30 * time.Second

	// lastMessagePreviewLimit caps the preview stored on the
	// conversation document.
	lastMessagePreviewLimit = 200
)

type ConversationRepository interface {
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	ListUserConversations(ctx context.Context, userID string) ([]model.Conversation, error)
	ListUserConversationIDs(ctx context.Context, userID string) ([]string, error)
	ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// ApplyLastMessage refreshes the preview metadata and increments
	// unread counters for everyone but the sender. Runs inside the
	// CreateMessage transaction.
	ApplyLastMessage(ctx context.Context, msg *model.Message) error

	// ResetUnread zeroes the user's counter and advances their
	// last-read pointer.
	ResetUnread(ctx context.Context, conversationID, userID, messageID string) error
}

type conversationRepository struct {
	conversations *db.Repository[model.Conversation]
	participants  *expirable.LRU[string, []string]
	logger        *zap.Logger
}

func NewConversationRepository(database *mongo.Database, logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		conversations: db.NewRepository[model.Conversation](database, "conversations"),
		participants:  expirable.NewLRU[string, []string](participantCacheSize, nil, participantCacheTTL),
		logger:        logger,
	}
}

func (r *conversationRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conversation, err := r.conversations.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("conversation %s: %w", conversationID, hub.ErrNotFound)
		}
		r.logger.Error("failed to fetch conversation", zap.String("conversation_id", conversationID), zap.Error(err))
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	return conversation, nil
}

func (r *conversationRepository) ListUserConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Contains("participant_ids", userID).
		Eq("is_active", true).
		Build()

	cursor, err := r.conversations.Collection().Find(ctx, filter, options.Find().SetSort(bson.M{"last_message_at": -1}))
	if err != nil {
		r.logger.Error("failed to query conversations", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var conversations []model.Conversation
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}

func (r *conversationRepository) ListUserConversationIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Contains("participant_ids", userID).
		Eq("is_active", true).
		Build()

	cursor, err := r.conversations.Collection().Find(ctx, filter,
		options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("failed to list conversation ids: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversation ids: %w", err)
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID.Hex())
	}
	return ids, nil
}

func (r *conversationRepository) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	conversation, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conversation.Participants, nil
}

func (r *conversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	if ids, ok := r.participants.Get(conversationID); ok {
		return containsID(ids, userID), nil
	}

	conversation, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, hub.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	r.participants.Add(conversationID, conversation.ParticipantIDs)
	return containsID(conversation.ParticipantIDs, userID), nil
}

func (r *conversationRepository) ApplyLastMessage(ctx context.Context, msg *model.Message) error {
	filter := db.NewFilter().ObjectID("_id", msg.ConversationID).Build()

	update := bson.M{
		"$set": bson.M{
			"last_message": model.LastMessage{
				MessageID:  msg.MessageID,
				Preview:    truncatePreview(msg.Content),
				SenderID:   msg.SenderID,
				SenderName: msg.SenderName,
				SentAt:     msg.CreatedAt,
			},
			"last_message_at": msg.CreatedAt,
			"updated_at":      msg.CreatedAt,
		},
		"$inc": bson.M{
			"participants.$[other].unread_count": 1,
		},
	}

	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"other.user_id": bson.M{"$ne": msg.SenderID}}},
	})

	result, err := r.conversations.UpdateRaw(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("failed to apply last message: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, hub.ErrNotFound)
	}
	return nil
}

func (r *conversationRepository) ResetUnread(ctx context.Context, conversationID, userID, messageID string) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	// $elemMatch drives the positional $ operator at the matched
	// participant entry.
	filter := db.NewFilter().
		ObjectID("_id", conversationID).
		ElemMatch("participants", bson.M{"user_id": userID}).
		Build()

	update := bson.M{
		"$set": bson.M{
			"participants.$.unread_count":         0,
			"participants.$.last_read_message_id": messageID,
		},
	}

	result, err := r.conversations.UpdateRaw(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to reset unread count: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("participant %s in conversation %s: %w", userID, conversationID, hub.ErrNotFound)
	}
	return nil
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

// truncatePreview bounds the stored preview at the rune level so a
// multi-byte character is never split.
func truncatePreview(content string) string {
	if utf8.RuneCountInString(content) <= lastMessagePreviewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:lastMessagePreviewLimit])
}
