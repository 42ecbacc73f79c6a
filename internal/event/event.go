package event

import "encoding/json"

// Client to server operations
const (
	OpJoinConversation  = "conversation:join"
	OpLeaveConversation = "conversation:leave"
	OpSendMessage       = "message:send"
	OpUpdateStatus      = "message:update_status"
	OpMarkRead          = "message:mark_read"
	OpSetTyping         = "typing:set"
	OpJoinCall          = "call:join"
	OpLeaveCall         = "call:leave"
	OpSignal            = "call:signal"
	OpCallStatus        = "call:status"
	OpInvite            = "call:invite"
	OpRespond           = "call:respond"
)

// Server to client events
const (
	EventJoinedConversation = "conversation:joined"
	EventLeftConversation   = "conversation:left"
	EventMessageReceived    = "message:received"
	EventMessageStatus      = "message:status_updated"
	EventMessageRead        = "message:read"
	EventUnreadCount        = "message:unread_count"
	EventUserStartedTyping  = "typing:started"
	EventUserStoppedTyping  = "typing:stopped"
	EventUserOnline         = "presence:online"
	EventUserOffline        = "presence:offline"
)

// WsEvent is the wire envelope for every frame in both directions.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Error event kinds, one per domain so clients can route failures
// to the right surface.
const (
	EventChatError  = "chat:error"
	EventCallError  = "call:error"
	EventVoiceError = "voice:error"
)

// Error codes carried inside an error event payload.
const (
	CodeAuthenticationRequired = "authentication_required"
	CodeAuthorizationDenied    = "authorization_denied"
	CodeNotFound               = "not_found"
	CodeValidationFailed       = "validation_failed"
	CodeConflict               = "conflict"
	CodePersistenceFailure     = "persistence_failure"
	CodeDeliveryUnreachable    = "delivery_unreachable"
)

// ErrorPayload is the body of every error-kind event. Exactly one is
// emitted to the invoking connection per failed operation.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError builds a ready-to-send error event of the given kind.
func NewError(kind, code, message string) WsEvent {
	payload, _ := json.Marshal(ErrorPayload{Code: code, Message: message})
	return WsEvent{Event: kind, Payload: payload}
}
