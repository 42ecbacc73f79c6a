package hub

import (
	"encoding/json"
	"time"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"go.uber.org/zap"
)

// The connection registry. A user is online iff their connection set is
// non-empty; only the empty<->non-empty transitions are observable.

// registerConnection adds the connection to the user's presence set.
// First/last detection happens under the shard lock, so near-simultaneous
// register/deregister cannot double-fire or miss a transition.
func (h *Hub) registerConnection(c *Client) {
	b := h.presence[userShard(c.userID)]

	b.Lock()
	conns, ok := b.users[c.userID]
	if !ok {
		conns = make(map[string]*Client)
		b.users[c.userID] = conns
	}
	conns[c.ID] = c
	first := len(conns) == 1
	b.Unlock()

	// Per-user delivery goes through the topic registry.
	h.addToTopic(event.UserTopic(c.userID), c)

	if first {
		h.notifyPresence(c.userID, event.EventUserOnline)
	}
}

// deregisterConnection removes the connection; the user's entry is
// pruned when the set empties, which is also the offline transition.
func (h *Hub) deregisterConnection(c *Client) {
	h.removeFromTopic(event.UserTopic(c.userID), c)

	b := h.presence[userShard(c.userID)]

	b.Lock()
	conns, ok := b.users[c.userID]
	if !ok {
		b.Unlock()
		return
	}
	if _, exists := conns[c.ID]; !exists {
		b.Unlock()
		return
	}
	delete(conns, c.ID)
	last := len(conns) == 0
	if last {
		delete(b.users, c.userID)
	}
	b.Unlock()

	if last {
		h.notifyPresence(c.userID, event.EventUserOffline)
	}
}

// IsOnline reports whether the user has at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	b := h.presence[userShard(userID)]
	b.RLock()
	defer b.RUnlock()
	return len(b.users[userID]) > 0
}

// sendToUser delivers an event to every live connection of the user via
// their user topic. Returns false when the user is offline; callers that
// tolerate offline recipients simply drop the event.
func (h *Hub) sendToUser(userID string, ev event.WsEvent) bool {
	clients := h.snapshotTopic(event.UserTopic(userID))
	if len(clients) == 0 {
		return false
	}
	for _, c := range clients {
		if !c.SafeSend(ev, sendTimeout) {
			h.logger.Debug("failed to deliver to connection",
				zap.String("user_id", userID),
				zap.String("client_id", c.ID),
			)
		}
	}
	return true
}

// notifyPresence broadcasts the online/offline transition to every
// conversation the user participates in, resolved via storage.
func (h *Hub) notifyPresence(userID, eventName string) {
	ctx, cancel := h.opContext()
	defer cancel()

	conversationIDs, err := h.messages.ListUserConversationIDs(ctx, userID)
	if err != nil {
		h.logger.Error("failed to resolve conversations for presence fan-out",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}

	payload, _ := json.Marshal(model.PresenceEvent{
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	})
	ev := event.WsEvent{Event: eventName, Payload: payload}

	for _, conversationID := range conversationIDs {
		h.broadcastTopic(event.ConversationTopic(conversationID), ev, userID)
	}
}
