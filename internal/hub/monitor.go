package hub

import (
	"Palaver/internal/event"
	"Palaver/internal/model"
)

// MonitorService gathers live hub statistics for the monitor API.
type MonitorService struct {
	hub *Hub
}

func NewMonitorService(hub *Hub) *MonitorService {
	return &MonitorService{hub: hub}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connectionStats := ms.getConnectionStats()
	roomStats := ms.getRoomStats()
	callStats := ms.getCallStats()
	typingStats := ms.hub.typing.Stats()

	status := "healthy"
	if connectionStats.TotalConnections == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connectionStats,
		Rooms:       roomStats,
		Typing:      typingStats,
		Calls:       callStats,
	}
}

func (ms *MonitorService) getConnectionStats() model.ConnectionStats {
	stats := model.ConnectionStats{}
	for _, bucket := range ms.hub.presence {
		bucket.RLock()
		stats.OnlineUsers += len(bucket.users)
		for _, conns := range bucket.users {
			stats.TotalConnections += len(conns)
		}
		bucket.RUnlock()
	}
	return stats
}

func (ms *MonitorService) getRoomStats() model.RoomStats {
	stats := model.RoomStats{
		RoomDetails: make([]model.RoomInfo, 0),
	}

	for _, bucket := range ms.hub.shards {
		bucket.RLock()
		for topic, room := range bucket.rooms {
			if topic.Kind != event.TopicConversation {
				continue
			}
			stats.RoomDetails = append(stats.RoomDetails, model.RoomInfo{
				ConversationID: topic.ID,
				Connections:    len(room),
			})
			stats.TotalRooms++
		}
		bucket.RUnlock()
	}

	return stats
}

func (ms *MonitorService) getCallStats() model.CallStats {
	stats := model.CallStats{
		CallDetails: make([]model.CallInfo, 0),
	}

	ch := ms.hub.callHandler
	if ch == nil {
		return stats
	}

	ch.roomsMu.RLock()
	rooms := make([]*callRoom, 0, len(ch.rooms))
	for _, room := range ch.rooms {
		rooms = append(rooms, room)
	}
	ch.roomsMu.RUnlock()

	for _, room := range rooms {
		room.mu.RLock()
		info := model.CallInfo{
			CallID:      room.callID,
			Connections: len(room.conns),
			Status:      room.status.String(),
		}
		for userID := range room.participants {
			info.Participants = append(info.Participants, userID)
		}
		room.mu.RUnlock()

		stats.CallDetails = append(stats.CallDetails, info)
		stats.TotalActiveCalls++
	}

	return stats
}
