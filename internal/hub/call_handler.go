package hub

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"go.uber.org/zap"
)

// CallHandler is the call signaling relay: it runs the live signaling
// room per call and a point-to-point channel for WebRTC negotiation.
// Call records, invitations, and ring timeouts belong to the Call
// Service collaborator, not here.
type CallHandler struct {
	hub       *Hub
	directory CallDirectory
	livekit   LiveKitConfig
	logger    *zap.Logger

	rooms   map[string]*callRoom
	roomsMu sync.RWMutex
}

func NewCallHandler(hub *Hub, directory CallDirectory, livekit LiveKitConfig) *CallHandler {
	return &CallHandler{
		hub:       hub,
		directory: directory,
		livekit:   livekit,
		logger:    hub.logger.Named("calls"),
		rooms:     make(map[string]*callRoom),
	}
}

// directoryErrorCode maps a Call Service failure onto the wire taxonomy.
func directoryErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return event.CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return event.CodeAuthorizationDenied
	case errors.Is(err, ErrConflict):
		return event.CodeConflict
	default:
		return event.CodePersistenceFailure
	}
}

func (ch *CallHandler) handleJoinCall(ev event.WsEvent, c *Client) {
	var payload model.CallJoinPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.CallID == "" {
		ch.sendCallError(c, event.CodeValidationFailed, "invalid call join payload")
		return
	}

	ctx, cancel := ch.hub.opContext()
	defer cancel()

	call, err := ch.directory.GetCall(ctx, payload.CallID, c.userID)
	if err != nil {
		ch.sendCallError(c, directoryErrorCode(err), "call not found")
		return
	}
	if !call.HasParticipant(c.userID) {
		ch.sendCallError(c, event.CodeAuthorizationDenied, "not a call participant")
		return
	}

	room := ch.getOrCreateRoom(call)

	room.mu.Lock()
	prior, rejoining := room.participants[c.userID]
	var superseded *Client
	room.conns[c.ID] = c
	room.participants[c.userID] = c.ID
	if rejoining && prior != c.ID {
		// Rejoin overwrites; the superseded connection leaves the room.
		superseded = room.conns[prior]
		delete(room.conns, prior)
	}
	room.mu.Unlock()

	topic := event.CallTopic(payload.CallID)
	if superseded != nil {
		ch.hub.removeFromTopic(topic, superseded)
	}
	ch.hub.addToTopic(topic, c)
	c.trackCall(payload.CallID)

	if !rejoining {
		ch.notifyParticipantJoined(room, c.userID)
	}

	token, err := ch.mintToken(payload.CallID, c.userID)
	if err != nil {
		ch.logger.Warn("failed to mint room token", zap.String("call_id", payload.CallID), zap.Error(err))
	}

	reply, _ := json.Marshal(model.CallJoinedEvent{
		CallID:       payload.CallID,
		CallType:     room.callType,
		Participants: room.roster(),
		RoomName:     payload.CallID,
		Token:        token,
		Timestamp:    time.Now().Unix(),
	})
	c.SafeSend(event.WsEvent{Event: event.EventVideoCallJoined, Payload: reply}, sendTimeout)
}

func (ch *CallHandler) handleLeaveCall(ev event.WsEvent, c *Client) {
	var payload model.CallLeavePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.CallID == "" {
		ch.sendCallError(c, event.CodeValidationFailed, "invalid call leave payload")
		return
	}

	c.untrackCall(payload.CallID)
	ch.dropConnection(payload.CallID, c)
}

func (ch *CallHandler) handleSignal(ev event.WsEvent, c *Client) {
	var payload model.SignalPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.CallID == "" || payload.TargetUserID == "" {
		ch.sendCallError(c, event.CodeValidationFailed, "invalid signaling payload")
		return
	}

	ctx, cancel := ch.hub.opContext()
	defer cancel()

	// Both ends must be on the call roster before anything is relayed.
	ok, err := ch.hub.authorizer.IsCallParticipant(ctx, payload.CallID, c.userID)
	if err != nil {
		ch.sendCallError(c, event.CodePersistenceFailure, "could not verify call membership")
		return
	}
	if !ok {
		ch.sendCallError(c, event.CodeAuthorizationDenied, "not a call participant")
		return
	}

	ok, err = ch.hub.authorizer.IsCallParticipant(ctx, payload.CallID, payload.TargetUserID)
	if err != nil {
		ch.sendCallError(c, event.CodePersistenceFailure, "could not verify call membership")
		return
	}
	if !ok {
		ch.sendCallError(c, event.CodeAuthorizationDenied, "target is not a call participant")
		return
	}

	room := ch.getRoom(payload.CallID)
	if room == nil {
		ch.sendCallError(c, event.CodeDeliveryUnreachable, "target not connected")
		return
	}

	room.mu.RLock()
	target := room.conns[room.participants[payload.TargetUserID]]
	room.mu.RUnlock()

	// Signaling payloads are never queued or replayed: no live mapping
	// means the send fails now.
	if target == nil {
		ch.sendCallError(c, event.CodeDeliveryUnreachable, "target not connected")
		return
	}

	body, _ := json.Marshal(model.SignalEvent{
		CallID:     payload.CallID,
		FromUserID: c.userID,
		Data:       payload.Data,
		Timestamp:  time.Now().Unix(),
	})
	target.SafeSend(event.WsEvent{Event: event.EventSignalingMessage, Payload: body}, sendTimeout)
}

func (ch *CallHandler) handleCallStatus(ev event.WsEvent, c *Client) {
	var payload model.CallStatusPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.CallID == "" {
		ch.sendCallError(c, event.CodeValidationFailed, "invalid call status payload")
		return
	}

	room := ch.getRoom(payload.CallID)
	if room == nil {
		ch.sendCallError(c, event.CodeNotFound, "call room not found")
		return
	}
	if room.initiatorID != c.userID {
		ch.sendCallError(c, event.CodeAuthorizationDenied, "only the initiator can update call status")
		return
	}

	next := event.CallStatus(payload.Status)

	room.mu.RLock()
	legal := room.status.CanTransition(next)
	room.mu.RUnlock()
	if !legal {
		ch.sendCallError(c, event.CodeConflict, "invalid call state transition")
		return
	}

	ctx, cancel := ch.hub.opContext()
	defer cancel()

	// Persist first; a storage failure must leave the room state machine
	// untouched so the caller can retry the same transition.
	if _, err := ch.directory.UpdateCallStatus(ctx, payload.CallID, next); err != nil {
		ch.logger.Error("failed to persist call status", zap.String("call_id", payload.CallID), zap.Error(err))
		ch.sendCallError(c, directoryErrorCode(err), "call status could not be saved")
		return
	}

	room.mu.Lock()
	if room.status.CanTransition(next) {
		room.status = next
	}
	room.mu.Unlock()

	ch.notifyCallStatus(room, next, c.userID)

	if next.Terminal() {
		ch.teardownRoom(payload.CallID)
	}
}

func (ch *CallHandler) handleInvite(ev event.WsEvent, c *Client) {
	var payload model.CallInvitePayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.CallID == "" || len(payload.UserIDs) == 0 {
		ch.sendCallError(c, event.CodeValidationFailed, "invalid invite payload")
		return
	}

	ctx, cancel := ch.hub.opContext()
	defer cancel()

	call, err := ch.directory.InviteParticipants(ctx, payload.CallID, c.userID, payload.UserIDs)
	if err != nil {
		ch.sendCallError(c, directoryErrorCode(err), "invitation failed")
		return
	}

	body, _ := json.Marshal(model.CallInvitationEvent{
		CallID:    call.CallID,
		CallType:  call.CallType,
		InviterID: c.userID,
		Timestamp: time.Now().Unix(),
	})
	invitation := event.WsEvent{Event: event.EventCallInvitationReceived, Payload: body}

	for _, userID := range payload.UserIDs {
		if !ch.hub.sendToUser(userID, invitation) {
			ch.logger.Info("invitee offline, invitation dropped",
				zap.String("call_id", call.CallID),
				zap.String("user_id", userID),
			)
		}
	}
}

func (ch *CallHandler) handleRespond(ev event.WsEvent, c *Client) {
	var payload model.CallRespondPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.CallID == "" {
		ch.sendCallError(c, event.CodeValidationFailed, "invalid response payload")
		return
	}

	ctx, cancel := ch.hub.opContext()
	defer cancel()

	var (
		call *model.Call
		err  error
	)
	if payload.Accept {
		call, err = ch.directory.AcceptCall(ctx, payload.CallID, c.userID)
	} else {
		call, err = ch.directory.RejectCall(ctx, payload.CallID, c.userID, payload.Reason)
	}
	if err != nil {
		ch.sendCallError(c, directoryErrorCode(err), "call response failed")
		return
	}

	ch.notifyCallResponse(call, c.userID, payload.Accept, payload.Reason)
}

// dropConnection removes one connection from a call room. The
// participant mapping is only cleared when it still points at this
// connection, so a rejoin that already overwrote it is untouched.
func (ch *CallHandler) dropConnection(callID string, c *Client) {
	room := ch.getRoom(callID)
	if room == nil {
		return
	}

	ch.hub.removeFromTopic(event.CallTopic(callID), c)

	room.mu.Lock()
	delete(room.conns, c.ID)
	left := false
	if room.participants[c.userID] == c.ID {
		delete(room.participants, c.userID)
		left = true
	}
	empty := len(room.participants) == 0
	room.mu.Unlock()

	if left {
		ch.notifyParticipantLeft(room, c.userID)
	}
	if empty {
		ch.teardownRoom(callID)
	}
}
