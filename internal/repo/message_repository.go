package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Palaver/internal/db"
	"Palaver/internal/hub"
	"Palaver/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	ErrInvalidMessage        = errors.New("invalid message: message cannot be nil")
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

// MessageRepository implements hub.MessageStore on MongoDB and adds the
// paginated history read used by the REST surface.
type MessageRepository interface {
	hub.MessageStore
	EnsureIndexes(ctx context.Context) error
	FilterMessages(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error)
}

type messageRepository struct {
	database      *mongo.Database
	messages      *db.Repository[model.Message]
	receipts      *db.Repository[model.ReadReceipt]
	conversations ConversationRepository
	logger        *zap.Logger
}

func NewMessageRepository(database *mongo.Database, conversations ConversationRepository, logger *zap.Logger) MessageRepository {
	return &messageRepository{
		database:      database,
		messages:      db.NewRepository[model.Message](database, "messages"),
		receipts:      db.NewRepository[model.ReadReceipt](database, "read_receipts"),
		conversations: conversations,
		logger:        logger,
	}
}

// EnsureIndexes creates the unique index backing read-receipt
// idempotency. Called once at startup.
func (m *messageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := m.receipts.Collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create read receipt index: %w", err)
	}

	_, err = m.messages.Collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create message index: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// CreateMessage - transactional insert + metadata + unread counters
// -----------------------------------------------------------------------------

func (m *messageRepository) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, []model.Participant, error) {
	if msg == nil {
		return nil, nil, ErrInvalidMessage
	}
	if msg.ConversationID == "" {
		return nil, nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return nil, nil, err
			}
			m.logger.Warn("retrying message create",
				zap.String("conversation_id", msg.ConversationID),
				zap.Int("attempt", attempt+1),
			)
		}

		_, err := db.WithTransaction(ctx, m.database, func(sc mongo.SessionContext) (interface{}, error) {
			if _, err := m.messages.Create(sc, *msg); err != nil {
				return nil, err
			}
			if err := m.conversations.ApplyLastMessage(sc, msg); err != nil {
				return nil, err
			}
			return nil, nil
		})
		if err == nil {
			participants, err := m.conversations.ListParticipants(ctx, msg.ConversationID)
			if err != nil {
				return nil, nil, err
			}
			m.logger.Info("message persisted",
				zap.String("message_id", msg.MessageID),
				zap.String("conversation_id", msg.ConversationID),
			)
			return msg, participants, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	m.logger.Error("failed to persist message after retries",
		zap.String("conversation_id", msg.ConversationID),
		zap.Error(lastErr),
	)
	return nil, nil, fmt.Errorf("create message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// Status, lookup, read receipts
// -----------------------------------------------------------------------------

func (m *messageRepository) UpdateMessageStatus(ctx context.Context, messageID string, status int) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("message_id", messageID).Build()

	update := bson.M{"$set": bson.M{"status": status}}
	if status == model.MessageStatusEdited {
		update["$set"].(bson.M)["edited_at"] = time.Now().UTC()
	}

	result, err := m.messages.UpdateRaw(ctx, filter, update)
	if err != nil {
		return nil, fmt.Errorf("failed to update message status: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, hub.ErrNotFound)
	}

	return m.GetMessage(ctx, messageID)
}

func (m *messageRepository) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	msg, err := m.messages.FindOne(ctx, db.NewFilter().Eq("message_id", messageID).Build())
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("message %s: %w", messageID, hub.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

func (m *messageRepository) CreateReadReceiptIfAbsent(ctx context.Context, messageID, userID string) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	_, err := m.receipts.Create(ctx, model.ReadReceipt{
		MessageID: messageID,
		UserID:    userID,
		ReadAt:    time.Now().UTC(),
	})
	if err != nil {
		// The unique (message_id, user_id) index makes repeats a no-op.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to create read receipt: %w", err)
	}
	return true, nil
}

func (m *messageRepository) MarkConversationRead(ctx context.Context, conversationID, userID, messageID string) error {
	return m.conversations.ResetUnread(ctx, conversationID, userID, messageID)
}

func (m *messageRepository) ListParticipants(ctx context.Context, conversationID string) ([]model.Participant, error) {
	return m.conversations.ListParticipants(ctx, conversationID)
}

func (m *messageRepository) ListUserConversationIDs(ctx context.Context, userID string) ([]string, error) {
	return m.conversations.ListUserConversationIDs(ctx, userID)
}

// -----------------------------------------------------------------------------
// FilterMessages - paginated history read for the REST surface
// -----------------------------------------------------------------------------

func (m *messageRepository) FilterMessages(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
		}

		result, err := m.messages.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: 15,
			SortBy:   "created_at",
			SortDesc: false,
		})
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	m.logger.Error("failed to filter messages", zap.String("conversation_id", conversationID), zap.Error(lastErr))
	return nil, fmt.Errorf("filter messages failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// Shared helpers
// -----------------------------------------------------------------------------

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
