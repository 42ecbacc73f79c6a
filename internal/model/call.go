package model

import (
	"encoding/json"
	"time"

	"Palaver/internal/event"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Call represents a call session document. The Call Service owns the
// authoritative record; the relay reads participants and initiator from
// it and keeps only the live signaling room in memory.
type Call struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	CallID         string             `json:"callId" bson:"call_id"`
	ConversationID string             `json:"conversationId" bson:"conversation_id"`
	InitiatorID    string             `json:"initiatorId" bson:"initiator_id"`
	ParticipantIDs []string           `json:"participantIds" bson:"participant_ids"`
	CallType       string             `json:"callType" bson:"call_type"`
	Status         event.CallStatus   `json:"status" bson:"status"`
	StartedAt      *time.Time         `json:"startedAt,omitempty" bson:"started_at,omitempty"`
	EndedAt        *time.Time         `json:"endedAt,omitempty" bson:"ended_at,omitempty"`
	CreatedAt      time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updated_at"`
}

// HasParticipant reports whether userID is on the call roster.
func (c *Call) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------
// WebSocket Payloads - Client to Server
// -----------------------------------------------------------------

// CallJoinPayload is sent to enter a call's signaling room.
type CallJoinPayload struct {
	CallID string `json:"callId"`
}

// CallLeavePayload is sent to leave a call's signaling room.
type CallLeavePayload struct {
	CallID string `json:"callId"`
}

// SignalPayload carries opaque WebRTC negotiation data to one peer.
// Data is never inspected, persisted, or replayed.
type SignalPayload struct {
	CallID       string          `json:"callId"`
	TargetUserID string          `json:"targetUserId"`
	Data         json.RawMessage `json:"data"`
}

// CallStatusPayload moves the call state machine (initiator only).
type CallStatusPayload struct {
	CallID string `json:"callId"`
	Status int    `json:"status"`
}

// CallInvitePayload adds users to a call via the Call Service.
type CallInvitePayload struct {
	CallID  string   `json:"callId"`
	UserIDs []string `json:"userIds"`
}

// CallRespondPayload accepts or rejects an invitation.
type CallRespondPayload struct {
	CallID string `json:"callId"`
	Accept bool   `json:"accept"`
	Reason string `json:"reason,omitempty"`
}

// -----------------------------------------------------------------
// WebSocket Payloads - Server to Client
// -----------------------------------------------------------------

// CallJoinedEvent is the reply to the connection that joined a call room.
type CallJoinedEvent struct {
	CallID       string   `json:"callId"`
	CallType     string   `json:"callType"`
	Participants []string `json:"participants"`
	RoomName     string   `json:"roomName,omitempty"`
	Token        string   `json:"token,omitempty"`
	Timestamp    int64    `json:"timestamp"`
}

// CallParticipantEvent announces a join or leave inside a call room.
type CallParticipantEvent struct {
	CallID    string `json:"callId"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// SignalEvent wraps a relayed signaling payload for the target peer.
type SignalEvent struct {
	CallID     string          `json:"callId"`
	FromUserID string          `json:"fromUserId"`
	Data       json.RawMessage `json:"data"`
	Timestamp  int64           `json:"timestamp"`
}

// CallStatusEvent broadcasts a state machine transition to the room.
type CallStatusEvent struct {
	CallID    string `json:"callId"`
	Status    int    `json:"status"`
	StatusTag string `json:"statusTag"`
	UpdatedBy string `json:"updatedBy"`
	Timestamp int64  `json:"timestamp"`
}

// CallInvitationEvent is delivered to each newly invited user.
type CallInvitationEvent struct {
	CallID    string `json:"callId"`
	CallType  string `json:"callType"`
	InviterID string `json:"inviterId"`
	Timestamp int64  `json:"timestamp"`
}

// CallResponseEvent tells the room how an invitee responded.
type CallResponseEvent struct {
	CallID    string `json:"callId"`
	UserID    string `json:"userId"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}
