package hub

import (
	"sync"
	"time"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"github.com/livekit/protocol/auth"
)

// -----------------------------------------------------------------
// Call Room State - Registration and Lifecycle
// -----------------------------------------------------------------

// callRoom is the live signaling room for one call: the connection set
// plus the user -> connection participant map. A user holds at most one
// connection per call; a rejoin overwrites the mapping.
type callRoom struct {
	mu           sync.RWMutex
	callID       string
	callType     string
	initiatorID  string
	status       event.CallStatus
	conns        map[string]*Client // connection id -> client
	participants map[string]string  // user id -> connection id
}

func (ch *CallHandler) getRoom(callID string) *callRoom {
	ch.roomsMu.RLock()
	room := ch.rooms[callID]
	ch.roomsMu.RUnlock()
	return room
}

// getOrCreateRoom materializes the signaling room from the Call Service
// record on first join.
func (ch *CallHandler) getOrCreateRoom(call *model.Call) *callRoom {
	ch.roomsMu.Lock()
	defer ch.roomsMu.Unlock()

	if room, ok := ch.rooms[call.CallID]; ok {
		return room
	}
	room := &callRoom{
		callID:       call.CallID,
		callType:     call.CallType,
		initiatorID:  call.InitiatorID,
		status:       call.Status,
		conns:        make(map[string]*Client),
		participants: make(map[string]string),
	}
	ch.rooms[call.CallID] = room
	return room
}

// teardownRoom drops the room and clears every remaining connection's
// call subscription, topic membership included. Idempotent.
func (ch *CallHandler) teardownRoom(callID string) {
	ch.roomsMu.Lock()
	room, ok := ch.rooms[callID]
	if ok {
		delete(ch.rooms, callID)
	}
	ch.roomsMu.Unlock()

	if !ok {
		return
	}

	room.mu.Lock()
	remaining := make([]*Client, 0, len(room.conns))
	for _, c := range room.conns {
		remaining = append(remaining, c)
	}
	room.conns = make(map[string]*Client)
	room.participants = make(map[string]string)
	room.mu.Unlock()

	topic := event.CallTopic(callID)
	for _, c := range remaining {
		ch.hub.removeFromTopic(topic, c)
		c.untrackCall(callID)
	}
}

// roster snapshots the participant user ids.
func (r *callRoom) roster() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.participants))
	for userID := range r.participants {
		out = append(out, userID)
	}
	return out
}

// -----------------------------------------------------------------
// LiveKit Integration
// -----------------------------------------------------------------

// LiveKitConfig holds the media-server credentials used to mint room
// access tokens. Empty key disables token issuance.
type LiveKitConfig struct {
	APIKey    string
	APISecret string
	URL       string
}

// mintToken generates a LiveKit access token scoped to the call's room.
func (ch *CallHandler) mintToken(callID, userID string) (string, error) {
	if ch.livekit.APIKey == "" {
		return "", nil
	}

	at := auth.NewAccessToken(ch.livekit.APIKey, ch.livekit.APISecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     callID,
	}
	at.AddGrant(grant).
		SetIdentity(userID).
		SetValidFor(time.Hour)

	return at.ToJWT()
}
