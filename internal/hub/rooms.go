package hub

import (
	"encoding/json"
	"time"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"go.uber.org/zap"
)

// The room membership manager. Joins are gated by the authorization
// collaborator; membership is per connection, not per user.

func (h *Hub) handleJoinRoom(ev event.WsEvent, c *Client) {
	var payload model.JoinRoomPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ConversationID == "" {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeValidationFailed, "invalid join payload"), sendTimeout)
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

	h.addToTopic(event.ConversationTopic(payload.ConversationID), c)
	c.trackRoom(payload.ConversationID)

	reply, _ := json.Marshal(model.RoomEvent{
		ConversationID: payload.ConversationID,
		UserID:         c.userID,
		Timestamp:      time.Now().Unix(),
	})
	c.SafeSend(event.WsEvent{Event: event.EventJoinedConversation, Payload: reply}, sendTimeout)
}

func (h *Hub) handleLeaveRoom(ev event.WsEvent, c *Client) {
	var payload model.LeaveRoomPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ConversationID == "" {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeValidationFailed, "invalid leave payload"), sendTimeout)
		return
	}

	h.removeFromTopic(event.ConversationTopic(payload.ConversationID), c)
	c.untrackRoom(payload.ConversationID)

	// Stopped-typing goes out before the leave confirmation.
	if h.typing.Clear(payload.ConversationID, c.userID) {
		h.broadcastStoppedTyping(payload.ConversationID, c.userID)
	}

	reply, _ := json.Marshal(model.RoomEvent{
		ConversationID: payload.ConversationID,
		UserID:         c.userID,
		Timestamp:      time.Now().Unix(),
	})
	c.SafeSend(event.WsEvent{Event: event.EventLeftConversation, Payload: reply}, sendTimeout)
}
