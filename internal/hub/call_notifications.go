package hub

import (
	"encoding/json"
	"time"

	"Palaver/internal/event"
	"Palaver/internal/model"
)

// -----------------------------------------------------------------
// Notification Methods - Send Events to Clients
// -----------------------------------------------------------------

// Call-room fan-out rides the shared topic registry: every connection
// in a room is subscribed to the call's topic, so broadcasts reuse the
// hub's best-effort delivery path.

func (ch *CallHandler) notifyParticipantJoined(room *callRoom, userID string) {
	payload, _ := json.Marshal(model.CallParticipantEvent{
		CallID:    room.callID,
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	})
	ch.hub.broadcastTopic(event.CallTopic(room.callID), event.WsEvent{
		Event:   event.EventParticipantJoined,
		Payload: payload,
	}, userID)
}

func (ch *CallHandler) notifyParticipantLeft(room *callRoom, userID string) {
	payload, _ := json.Marshal(model.CallParticipantEvent{
		CallID:    room.callID,
		UserID:    userID,
		Timestamp: time.Now().Unix(),
	})
	ch.hub.broadcastTopic(event.CallTopic(room.callID), event.WsEvent{
		Event:   event.EventParticipantLeft,
		Payload: payload,
	}, userID)
}

func (ch *CallHandler) notifyCallStatus(room *callRoom, status event.CallStatus, updatedBy string) {
	payload, _ := json.Marshal(model.CallStatusEvent{
		CallID:    room.callID,
		Status:    int(status),
		StatusTag: status.String(),
		UpdatedBy: updatedBy,
		Timestamp: time.Now().Unix(),
	})
	// Status changes go to the whole room, the updater included.
	ch.hub.broadcastTopic(event.CallTopic(room.callID), event.WsEvent{
		Event:   event.EventCallStatusUpdated,
		Payload: payload,
	})
}

// notifyCallResponse tells the room (and the initiator, if they are not
// connected to the room) how an invitee responded.
func (ch *CallHandler) notifyCallResponse(call *model.Call, userID string, accepted bool, reason string) {
	payload, _ := json.Marshal(model.CallResponseEvent{
		CallID:    call.CallID,
		UserID:    userID,
		Accepted:  accepted,
		Reason:    reason,
		Timestamp: time.Now().Unix(),
	})
	ev := event.WsEvent{Event: event.EventCallResponseReceived, Payload: payload}

	room := ch.getRoom(call.CallID)
	initiatorInRoom := false
	if room != nil {
		room.mu.RLock()
		_, initiatorInRoom = room.participants[call.InitiatorID]
		room.mu.RUnlock()
		ch.hub.broadcastTopic(event.CallTopic(call.CallID), ev, userID)
	}
	if !initiatorInRoom && call.InitiatorID != userID {
		ch.hub.sendToUser(call.InitiatorID, ev)
	}
}

func (ch *CallHandler) sendCallError(c *Client, code, message string) {
	c.SafeSend(event.NewError(event.EventCallError, code, message), sendTimeout)
}
