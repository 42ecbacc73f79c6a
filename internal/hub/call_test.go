package hub

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedCall(f *hubFixture, callID, initiatorID string, status event.CallStatus, participants ...string) {
	f.calls.calls[callID] = &model.Call{
		CallID:         callID,
		InitiatorID:    initiatorID,
		ParticipantIDs: participants,
		CallType:       event.CallTypeVideo,
		Status:         status,
	}
	f.auth.callRosters[callID] = participants
}

func (f *hubFixture) joinCall(t *testing.T, c *Client, callID string) {
	t.Helper()
	f.dispatch(c, event.OpJoinCall, model.CallJoinPayload{CallID: callID})
	findEvent(t, drain(c), event.EventVideoCallJoined)
}

func TestJoinCallRepliesWithRoster(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusRinging, "alice", "bob")

	alice := f.newTestClient("alice")
	f.dispatch(alice, event.OpJoinCall, model.CallJoinPayload{CallID: "call-1"})

	var joined model.CallJoinedEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(alice), event.EventVideoCallJoined).Payload, &joined))
	assert.Equal(t, "call-1", joined.CallID)
	assert.Equal(t, event.CallTypeVideo, joined.CallType)
	assert.ElementsMatch(t, []string{"alice"}, joined.Participants)

	bob := f.newTestClient("bob")
	f.dispatch(bob, event.OpJoinCall, model.CallJoinPayload{CallID: "call-1"})

	var bobJoined model.CallJoinedEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(bob), event.EventVideoCallJoined).Payload, &bobJoined))
	assert.ElementsMatch(t, []string{"alice", "bob"}, bobJoined.Participants)

	// Alice hears about the new participant.
	var participant model.CallParticipantEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(alice), event.EventParticipantJoined).Payload, &participant))
	assert.Equal(t, "bob", participant.UserID)
}

func TestJoinCallDeniedForNonParticipant(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusRinging, "alice", "bob")

	mallory := f.newTestClient("mallory")
	f.dispatch(mallory, event.OpJoinCall, model.CallJoinPayload{CallID: "call-1"})

	events := drain(mallory)
	require.Len(t, events, 1)
	assert.Equal(t, event.EventCallError, events[0].Event)
	assert.Equal(t, event.CodeAuthorizationDenied, decodeError(t, events[0]).Code)
	assert.Nil(t, f.hub.callHandler.getRoom("call-1"))
}

func TestSignalDelivered(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusActive, "alice", "bob")

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")
	f.joinCall(t, alice, "call-1")
	f.joinCall(t, bob, "call-1")
	drain(alice)

	offer := json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	f.dispatch(alice, event.OpSignal, model.SignalPayload{
		CallID:       "call-1",
		TargetUserID: "bob",
		Data:         offer,
	})

	var signal model.SignalEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(bob), event.EventSignalingMessage).Payload, &signal))
	assert.Equal(t, "alice", signal.FromUserID)
	assert.JSONEq(t, string(offer), string(signal.Data))

	// Unicast only: nothing came back to the sender.
	assert.Equal(t, 0, countEvents(drain(alice), event.EventSignalingMessage))
}

func TestSignalDeniedForNonParticipant(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusActive, "alice", "bob")

	bob := f.newTestClient("bob")
	f.joinCall(t, bob, "call-1")

	mallory := f.newTestClient("mallory")
	f.dispatch(mallory, event.OpSignal, model.SignalPayload{
		CallID:       "call-1",
		TargetUserID: "bob",
		Data:         json.RawMessage(`{}`),
	})

	events := drain(mallory)
	require.Len(t, events, 1)
	assert.Equal(t, event.CodeAuthorizationDenied, decodeError(t, events[0]).Code)
	assert.Empty(t, drain(bob))
}

func TestSignalTargetNotConnected(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusActive, "alice", "bob")

	alice := f.newTestClient("alice")
	f.joinCall(t, alice, "call-1")

	// Bob is on the roster but holds no live connection in the room.
	f.dispatch(alice, event.OpSignal, model.SignalPayload{
		CallID:       "call-1",
		TargetUserID: "bob",
		Data:         json.RawMessage(`{}`),
	})

	events := drain(alice)
	require.Len(t, events, 1)
	assert.Equal(t, event.CodeDeliveryUnreachable, decodeError(t, events[0]).Code)
}

func TestRejoinSupersedesOldConnection(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusActive, "alice", "bob")

	bob := f.newTestClient("bob")
	f.joinCall(t, bob, "call-1")

	stale := f.newTestClient("alice")
	f.joinCall(t, stale, "call-1")
	drain(bob)

	// Alice reconnects before the old connection's cleanup runs.
	fresh := f.newTestClient("alice")
	f.joinCall(t, fresh, "call-1")

	room := f.hub.callHandler.getRoom("call-1")
	require.NotNil(t, room)

	room.mu.RLock()
	assert.Equal(t, fresh.ID, room.participants["alice"])
	_, staleConnected := room.conns[stale.ID]
	room.mu.RUnlock()
	assert.False(t, staleConnected)

	// The stale connection's cleanup must not evict the fresh mapping.
	f.hub.callHandler.dropConnection("call-1", stale)

	room.mu.RLock()
	assert.Equal(t, fresh.ID, room.participants["alice"])
	room.mu.RUnlock()

	// No one was told alice left, and her signaling still works.
	assert.Equal(t, 0, countEvents(drain(bob), event.EventParticipantLeft))

	f.dispatch(bob, event.OpSignal, model.SignalPayload{
		CallID:       "call-1",
		TargetUserID: "alice",
		Data:         json.RawMessage(`{"type":"answer"}`),
	})
	assert.Equal(t, 1, countEvents(drain(fresh), event.EventSignalingMessage))
}

func TestCallStatusInitiatorOnly(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusRinging, "alice", "bob")

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")
	f.joinCall(t, alice, "call-1")
	f.joinCall(t, bob, "call-1")
	drain(alice)

	f.dispatch(bob, event.OpCallStatus, model.CallStatusPayload{CallID: "call-1", Status: int(event.CallStatusActive)})
	events := drain(bob)
	require.Len(t, events, 1)
	assert.Equal(t, event.CodeAuthorizationDenied, decodeError(t, events[0]).Code)
	assert.Empty(t, f.calls.statusUpdates)

	f.dispatch(alice, event.OpCallStatus, model.CallStatusPayload{CallID: "call-1", Status: int(event.CallStatusActive)})

	var status model.CallStatusEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(bob), event.EventCallStatusUpdated).Payload, &status))
	assert.Equal(t, int(event.CallStatusActive), status.Status)
	assert.Equal(t, "active", status.StatusTag)
	assert.Equal(t, []event.CallStatus{event.CallStatusActive}, f.calls.statusUpdates)
}

func TestCallStatusSurvivesPersistenceFailure(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusRinging, "alice", "bob")

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")
	f.joinCall(t, alice, "call-1")
	f.joinCall(t, bob, "call-1")
	drain(alice)

	f.calls.failUpdates(errors.New("write concern timeout"))
	f.dispatch(alice, event.OpCallStatus, model.CallStatusPayload{CallID: "call-1", Status: int(event.CallStatusActive)})

	events := drain(alice)
	require.Len(t, events, 1)
	assert.Equal(t, event.CodePersistenceFailure, decodeError(t, events[0]).Code)
	assert.Empty(t, drain(bob))

	// The in-memory state machine must not run ahead of the directory,
	// or the retry below would be rejected as a conflict.
	room := f.hub.callHandler.getRoom("call-1")
	require.NotNil(t, room)
	room.mu.RLock()
	assert.Equal(t, event.CallStatusRinging, room.status)
	room.mu.RUnlock()

	f.calls.failUpdates(nil)
	f.dispatch(alice, event.OpCallStatus, model.CallStatusPayload{CallID: "call-1", Status: int(event.CallStatusActive)})

	var status model.CallStatusEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(bob), event.EventCallStatusUpdated).Payload, &status))
	assert.Equal(t, int(event.CallStatusActive), status.Status)
	assert.Equal(t, []event.CallStatus{event.CallStatusActive}, f.calls.statusUpdates)

	room.mu.RLock()
	assert.Equal(t, event.CallStatusActive, room.status)
	room.mu.RUnlock()
}

func TestCallStatusRejectsIllegalTransition(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusRinging, "alice", "bob")

	alice := f.newTestClient("alice")
	f.joinCall(t, alice, "call-1")

	// Ringing cannot jump back to pending.
	f.dispatch(alice, event.OpCallStatus, model.CallStatusPayload{CallID: "call-1", Status: int(event.CallStatusPending)})

	events := drain(alice)
	require.Len(t, events, 1)
	assert.Equal(t, event.CodeConflict, decodeError(t, events[0]).Code)
	assert.Empty(t, f.calls.statusUpdates)
}

func TestTerminalStatusTearsDownRoom(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusActive, "alice", "bob")

	alice := f.newTestClient("alice")
	f.joinCall(t, alice, "call-1")

	f.dispatch(alice, event.OpCallStatus, model.CallStatusPayload{CallID: "call-1", Status: int(event.CallStatusEnded)})

	assert.Nil(t, f.hub.callHandler.getRoom("call-1"))
	assert.Empty(t, alice.snapshotCalls())
}

func TestLeaveCallNotifiesRoom(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusActive, "alice", "bob")

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")
	f.joinCall(t, alice, "call-1")
	f.joinCall(t, bob, "call-1")
	drain(alice)

	f.dispatch(bob, event.OpLeaveCall, model.CallLeavePayload{CallID: "call-1"})

	var left model.CallParticipantEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(alice), event.EventParticipantLeft).Payload, &left))
	assert.Equal(t, "bob", left.UserID)
	assert.Empty(t, bob.snapshotCalls())
}

func TestLastLeaveTearsDownRoom(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusActive, "alice", "bob")

	alice := f.newTestClient("alice")
	f.joinCall(t, alice, "call-1")

	f.dispatch(alice, event.OpLeaveCall, model.CallLeavePayload{CallID: "call-1"})

	assert.Nil(t, f.hub.callHandler.getRoom("call-1"))
}

func TestInviteDeliveredOnlineDroppedOffline(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusRinging, "alice")

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")

	f.dispatch(alice, event.OpInvite, model.CallInvitePayload{CallID: "call-1", UserIDs: []string{"bob", "carol"}})

	var invitation model.CallInvitationEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(bob), event.EventCallInvitationReceived).Payload, &invitation))
	assert.Equal(t, "alice", invitation.InviterID)

	// Carol is offline; the invitation is dropped, not queued, and the
	// directory still records both invitees.
	assert.ElementsMatch(t, []string{"bob", "carol"}, f.calls.invited["call-1"])
	assert.Empty(t, drain(alice))
}

func TestRespondReachesInitiatorOutsideRoom(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusRinging, "alice", "bob")

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")

	f.dispatch(bob, event.OpRespond, model.CallRespondPayload{CallID: "call-1", Accept: true})

	var response model.CallResponseEvent
	require.NoError(t, json.Unmarshal(findEvent(t, drain(alice), event.EventCallResponseReceived).Payload, &response))
	assert.Equal(t, "bob", response.UserID)
	assert.True(t, response.Accepted)
}

func TestCallTopicFollowsRoomLifecycle(t *testing.T) {
	f := newHubFixture(t)
	seedCall(f, "call-1", "alice", event.CallStatusActive, "alice", "bob")
	topic := event.CallTopic("call-1")

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")
	f.joinCall(t, alice, "call-1")
	f.joinCall(t, bob, "call-1")
	drain(alice)
	assert.Len(t, f.hub.snapshotTopic(topic), 2)

	// A rejoin swaps the subscribed connection, it never doubles it.
	stale := bob
	fresh := f.newTestClient("bob")
	f.joinCall(t, fresh, "call-1")
	members := f.hub.snapshotTopic(topic)
	require.Len(t, members, 2)
	for _, m := range members {
		assert.NotEqual(t, stale.ID, m.ID)
	}

	f.dispatch(fresh, event.OpLeaveCall, model.CallLeavePayload{CallID: "call-1"})
	require.Len(t, f.hub.snapshotTopic(topic), 1)

	// The room's last leave prunes the topic with it.
	f.dispatch(alice, event.OpLeaveCall, model.CallLeavePayload{CallID: "call-1"})
	assert.Empty(t, f.hub.snapshotTopic(topic))
}

func TestMintTokenScopedToCallRoom(t *testing.T) {
	f := newHubFixture(t)
	f.hub.callHandler.livekit = LiveKitConfig{
		APIKey:    "APIabcdef",
		APISecret: "0123456789abcdef0123456789abcdef",
	}

	token, err := f.hub.callHandler.mintToken("call-1", "alice")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	body, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var claims struct {
		Subject string `json:"sub"`
		Issuer  string `json:"iss"`
		Video   struct {
			Room     string `json:"room"`
			RoomJoin bool   `json:"roomJoin"`
		} `json:"video"`
	}
	require.NoError(t, json.Unmarshal(body, &claims))
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "APIabcdef", claims.Issuer)
	assert.Equal(t, "call-1", claims.Video.Room)
	assert.True(t, claims.Video.RoomJoin)
}

func TestMintTokenDisabledWithoutCredentials(t *testing.T) {
	f := newHubFixture(t)

	token, err := f.hub.callHandler.mintToken("call-1", "alice")
	require.NoError(t, err)
	assert.Empty(t, token)
}
