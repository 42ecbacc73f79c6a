package hub

import (
	"encoding/json"
	"time"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// The message relay. Ordering is fixed: validate, persist, mutate
// in-memory state, broadcast. A persistence failure aborts before any
// registry or subscriber observes the message.

// errorKindFor routes validation failures to the error channel of the
// message's domain.
func errorKindFor(messageType string) string {
	if messageType == model.MessageTypeVoice {
		return event.EventVoiceError
	}
	return event.EventChatError
}

func (h *Hub) handleSendMessage(ev event.WsEvent, c *Client) {
	var payload model.SendMessagePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ConversationID == "" {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeValidationFailed, "invalid message payload"), sendTimeout)
		return
	}

	errKind := errorKindFor(payload.Type)

	if !model.ValidMessageType(payload.Type) {
		c.SafeSend(event.NewError(errKind, event.CodeValidationFailed, "unknown message type"), sendTimeout)
		return
	}
	if payload.Content == "" && !model.TypeAllowsEmptyContent(payload.Type) {
		c.SafeSend(event.NewError(errKind, event.CodeValidationFailed, "message content is empty"), sendTimeout)
		return
	}
	if len(payload.Content) > model.MaxContentLength {
		c.SafeSend(event.NewError(errKind, event.CodeValidationFailed, "message content too long"), sendTimeout)
		return
	}

	ctx, cancel := h.opContext()
	defer cancel()

	ok, err := h.authorizer.IsParticipant(ctx, payload.ConversationID, c.userID)
	if err != nil {
		h.logger.Error("participant check failed", zap.String("conversation_id", payload.ConversationID), zap.Error(err))
		c.SafeSend(event.NewError(errKind, event.CodePersistenceFailure, "could not verify membership"), sendTimeout)
		return
	}
	if !ok {
		c.SafeSend(event.NewError(errKind, event.CodeAuthorizationDenied, "access denied"), sendTimeout)
		return
	}

	msg := &model.Message{
		MessageID:      uuid.New().String(),
		ConversationID: payload.ConversationID,
		SenderID:       c.userID,
		Type:           payload.Type,
		Content:        payload.Content,
		FileURL:        payload.FileURL,
		ReplyTo:        payload.ReplyTo,
		Status:         model.MessageStatusSent,
		CreatedAt:      time.Now().UTC(),
	}

	// One transactional call: insert + last-message metadata + unread
	// increments. Failure here means nothing was persisted and nothing
	// gets broadcast.
	created, participants, err := h.messages.CreateMessage(ctx, msg)
	if err != nil {
		h.logger.Error("failed to persist message",
			zap.String("conversation_id", payload.ConversationID),
			zap.Error(err),
		)
		c.SafeSend(event.NewError(errKind, event.CodePersistenceFailure, "message could not be saved"), sendTimeout)
		return
	}

	// Sending overrides any in-progress typing state for the sender.
	if h.typing.Clear(payload.ConversationID, c.userID) {
		h.broadcastStoppedTyping(payload.ConversationID, c.userID)
	}

	created.SenderName = h.displayName(c.userID)

	body, _ := json.Marshal(created)
	h.broadcastTopic(event.ConversationTopic(payload.ConversationID), event.WsEvent{
		Event:   event.EventMessageReceived,
		Payload: body,
	})

	// Refreshed unread counters go to each other participant's presence
	// group; offline participants are skipped silently and pick the
	// count up on their next fetch.
	for _, p := range participants {
		if p.UserID == c.userID {
			continue
		}
		h.sendUnreadCount(p.UserID, payload.ConversationID, p.UnreadCount)
	}
}

func (h *Hub) handleUpdateStatus(ev event.WsEvent, c *Client) {
	var payload model.UpdateStatusPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.MessageID == "" {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeValidationFailed, "invalid status payload"), sendTimeout)
		return
	}

	ctx, cancel := h.opContext()
	defer cancel()

	msg, err := h.messages.GetMessage(ctx, payload.MessageID)
	if err != nil {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeNotFound, "message not found"), sendTimeout)
		return
	}

	// Only the original sender may change a message's status.
	if msg.SenderID != c.userID {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeAuthorizationDenied, "not the message sender"), sendTimeout)
		return
	}

	updated, err := h.messages.UpdateMessageStatus(ctx, payload.MessageID, payload.Status)
	if err != nil {
		h.logger.Error("failed to update message status", zap.String("message_id", payload.MessageID), zap.Error(err))
		c.SafeSend(event.NewError(event.EventChatError, event.CodePersistenceFailure, "status could not be saved"), sendTimeout)
		return
	}

	body, _ := json.Marshal(model.MessageStatusEvent{
		MessageID:      updated.MessageID,
		ConversationID: updated.ConversationID,
		Status:         updated.Status,
		Timestamp:      time.Now().Unix(),
	})
	h.broadcastTopic(event.ConversationTopic(updated.ConversationID), event.WsEvent{
		Event:   event.EventMessageStatus,
		Payload: body,
	})
}

func (h *Hub) handleMarkRead(ev event.WsEvent, c *Client) {
	var payload model.MarkReadPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.MessageID == "" || payload.ConversationID == "" {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeValidationFailed, "invalid mark-read payload"), sendTimeout)
		return
	}

	ctx, cancel := h.opContext()
	defer cancel()

	msg, err := h.messages.GetMessage(ctx, payload.MessageID)
	if err != nil {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeNotFound, "message not found"), sendTimeout)
		return
	}
	if msg.ConversationID != payload.ConversationID {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeValidationFailed, "message does not belong to conversation"), sendTimeout)
		return
	}

	ok, err := h.authorizer.IsParticipant(ctx, payload.ConversationID, c.userID)
	if err != nil {
		c.SafeSend(event.NewError(event.EventChatError, event.CodePersistenceFailure, "could not verify membership"), sendTimeout)
		return
	}
	if !ok {
		c.SafeSend(event.NewError(event.EventChatError, event.CodeAuthorizationDenied, "access denied"), sendTimeout)
		return
	}

	if err := h.messages.MarkConversationRead(ctx, payload.ConversationID, c.userID, payload.MessageID); err != nil {
		h.logger.Error("failed to mark conversation read",
			zap.String("conversation_id", payload.ConversationID),
			zap.Error(err),
		)
		c.SafeSend(event.NewError(event.EventChatError, event.CodePersistenceFailure, "read state could not be saved"), sendTimeout)
		return
	}

	created, err := h.messages.CreateReadReceiptIfAbsent(ctx, payload.MessageID, c.userID)
	if err != nil {
		h.logger.Error("failed to create read receipt", zap.String("message_id", payload.MessageID), zap.Error(err))
		c.SafeSend(event.NewError(event.EventChatError, event.CodePersistenceFailure, "receipt could not be saved"), sendTimeout)
		return
	}

	// The sender hears about each reader once, on receipt creation.
	if created && msg.SenderID != c.userID {
		body, _ := json.Marshal(model.MessageReadEvent{
			MessageID:      payload.MessageID,
			ConversationID: payload.ConversationID,
			ReadBy:         c.userID,
			ReadAt:         time.Now().Unix(),
		})
		h.sendToUser(msg.SenderID, event.WsEvent{Event: event.EventMessageRead, Payload: body})
	}

	h.sendUnreadCount(c.userID, payload.ConversationID, 0)
}

func (h *Hub) sendUnreadCount(userID, conversationID string, count int64) {
	body, _ := json.Marshal(model.UnreadCountEvent{
		ConversationID: conversationID,
		UnreadCount:    count,
	})
	h.sendToUser(userID, event.WsEvent{Event: event.EventUnreadCount, Payload: body})
}

// displayName hydrates broadcast payloads; a lookup failure degrades to
// the raw user id rather than failing the operation.
func (h *Hub) displayName(userID string) string {
	ctx, cancel := h.opContext()
	defer cancel()

	user, err := h.users.GetUser(ctx, userID)
	if err != nil || user == nil {
		h.logger.Debug("failed to resolve display name", zap.String("user_id", userID), zap.Error(err))
		return userID
	}
	return user.DisplayName()
}
