package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	defaultTypingTTL           = 120 * time.Second
	defaultTypingSweepInterval = 60 * time.Second
)

// TypingStore keeps per-conversation, per-user typing timestamps. At
// most one entry exists per (conversation, user); repeated starts are
// upserts. A background sweep evicts entries past the TTL without
// broadcasting — clients run their own display timeout, and expiry must
// stay invisible to them.
type TypingStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]time.Time

	clock         clock.Clock
	ttl           time.Duration
	sweepInterval time.Duration
}

func NewTypingStore(clk clock.Clock, ttl, sweepInterval time.Duration) *TypingStore {
	return &TypingStore{
		entries:       make(map[string]map[string]time.Time),
		clock:         clk,
		ttl:           ttl,
		sweepInterval: sweepInterval,
	}
}

// Set upserts the user's typing timestamp for the conversation.
func (s *TypingStore) Set(conversationID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.entries[conversationID]
	if !ok {
		users = make(map[string]time.Time)
		s.entries[conversationID] = users
	}
	users[userID] = s.clock.Now()
}

// Clear removes the entry and reports whether one existed. An emptied
// conversation map is pruned.
func (s *TypingStore) Clear(conversationID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.entries[conversationID]
	if !ok {
		return false
	}
	if _, exists := users[userID]; !exists {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.entries, conversationID)
	}
	return true
}

// IsTyping reports whether a live entry exists.
func (s *TypingStore) IsTyping(conversationID, userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[conversationID][userID]
	return ok
}

// Run sweeps expired entries at a fixed interval until ctx is done.
func (s *TypingStore) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep evicts entries older than the TTL. Eviction is silent.
func (s *TypingStore) Sweep() {
	cutoff := s.clock.Now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()

	for conversationID, users := range s.entries {
		for userID, at := range users {
			if at.Before(cutoff) {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(s.entries, conversationID)
		}
	}
}

// Stats counts live conversations and entries for the monitor API.
func (s *TypingStore) Stats() model.TypingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := model.TypingStats{Conversations: len(s.entries)}
	for _, users := range s.entries {
		stats.Entries += len(users)
	}
	return stats
}

// -----------------------------------------------------------------
// Hub-side typing operations
// -----------------------------------------------------------------

func (h *Hub) handleSetTyping(ev event.WsEvent, c *Client) {
	var payload model.TypingPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ConversationID == "" {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeValidationFailed, "invalid typing payload"), sendTimeout)
		return
	}

	ctx, cancel := h.opContext()
	defer cancel()

	ok, err := h.authorizer.IsParticipant(ctx, payload.ConversationID, c.userID)
	if err != nil {
		h.logger.Error("participant check failed", zap.String("conversation_id", payload.ConversationID), zap.Error(err))
		c.SafeSend(event.NewError(event.EventChatError, event.CodePersistenceFailure, "could not verify membership"), sendTimeout)
		return
	}
	if !ok {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeAuthorizationDenied, "access denied"), sendTimeout)
		return
	}

	if payload.IsTyping {
		h.typing.Set(payload.ConversationID, c.userID)
		// Re-broadcast on every call; receivers dedupe absence->presence.
		h.broadcastTyping(event.EventUserStartedTyping, payload.ConversationID, c.userID)
		return
	}

	h.typing.Clear(payload.ConversationID, c.userID)
	h.broadcastTyping(event.EventUserStoppedTyping, payload.ConversationID, c.userID)
}

func (h *Hub) broadcastTyping(eventName, conversationID, userID string) {
	payload, _ := json.Marshal(model.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		Timestamp:      time.Now().Unix(),
	})
	h.broadcastTopic(event.ConversationTopic(conversationID), event.WsEvent{Event: eventName, Payload: payload}, userID)
}

func (h *Hub) broadcastStoppedTyping(conversationID, userID string) {
	h.broadcastTyping(event.EventUserStoppedTyping, conversationID, userID)
}
