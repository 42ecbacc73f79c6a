package model

// -----------------------------------------------------------------
// Monitor API Response Models
// -----------------------------------------------------------------

// MonitorResponse is the main response for the monitor API
type MonitorResponse struct {
	Status      string          `json:"status"` // "healthy", "idle"
	Connections ConnectionStats `json:"connections"`
	Rooms       RoomStats       `json:"rooms"`
	Typing      TypingStats     `json:"typing"`
	Calls       CallStats       `json:"calls"`
}

// ConnectionStats holds presence statistics
type ConnectionStats struct {
	TotalConnections int `json:"totalConnections"` // Live websocket connections
	OnlineUsers      int `json:"onlineUsers"`      // Users with at least one connection
}

// RoomStats holds room/conversation statistics
type RoomStats struct {
	TotalRooms  int        `json:"totalRooms"`
	RoomDetails []RoomInfo `json:"roomDetails"`
}

// RoomInfo contains information about a single room
type RoomInfo struct {
	ConversationID string `json:"conversationId"`
	Connections    int    `json:"connections"`
}

// TypingStats holds typing indicator statistics
type TypingStats struct {
	Conversations int `json:"conversations"` // Conversations with at least one typist
	Entries       int `json:"entries"`       // Total live typing entries
}

// CallStats holds active call statistics
type CallStats struct {
	TotalActiveCalls int        `json:"totalActiveCalls"`
	CallDetails      []CallInfo `json:"callDetails"`
}

// CallInfo contains information about a single active call room
type CallInfo struct {
	CallID       string   `json:"callId"`
	Participants []string `json:"participants"`
	Connections  int      `json:"connections"`
	Status       string   `json:"status"`
}
