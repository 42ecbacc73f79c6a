package model

// -----------------------------------------------------------------
// Room / typing / presence payloads
// -----------------------------------------------------------------

// JoinRoomPayload subscribes the connection to a conversation.
type JoinRoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// LeaveRoomPayload unsubscribes the connection from a conversation.
type LeaveRoomPayload struct {
	ConversationID string `json:"conversationId"`
}

// TypingPayload toggles the caller's typing indicator.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// RoomEvent confirms a join or leave to the caller.
type RoomEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Timestamp      int64  `json:"timestamp"`
}

// TypingEvent is broadcast to a room when a member starts or stops typing.
type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	Timestamp      int64  `json:"timestamp"`
}

// PresenceEvent announces a user's online/offline transition to the
// conversations they participate in.
type PresenceEvent struct {
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}
