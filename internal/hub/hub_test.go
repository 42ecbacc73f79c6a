package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// -----------------------------------------------------------------
// Fake collaborators
// -----------------------------------------------------------------

type fakeAuthorizer struct {
	mu            sync.Mutex
	conversations map[string][]string // conversation id -> participant user ids
	callRosters   map[string][]string // call id -> participant user ids
	err           error
}

func (f *fakeAuthorizer) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return containsUser(f.conversations[conversationID], userID), nil
}

func (f *fakeAuthorizer) IsCallParticipant(_ context.Context, callID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return containsUser(f.callRosters[callID], userID), nil
}

type fakeMessageStore struct {
	mu                  sync.Mutex
	created             []*model.Message
	messages            map[string]*model.Message
	receipts            map[string]map[string]bool // message id -> reader set
	participants        map[string][]model.Participant
	conversationsByUser map[string][]string
	markReadCalls       int
	createErr           error
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{
		messages:            make(map[string]*model.Message),
		receipts:            make(map[string]map[string]bool),
		participants:        make(map[string][]model.Participant),
		conversationsByUser: make(map[string][]string),
	}
}

func (f *fakeMessageStore) CreateMessage(_ context.Context, msg *model.Message) (*model.Message, []model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	stored := *msg
	f.created = append(f.created, &stored)
	f.messages[msg.MessageID] = &stored
	return msg, f.participants[msg.ConversationID], nil
}

func (f *fakeMessageStore) UpdateMessageStatus(_ context.Context, messageID string, status int) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	msg.Status = status
	out := *msg
	return &out, nil
}

func (f *fakeMessageStore) GetMessage(_ context.Context, messageID string) (*model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}
	out := *msg
	return &out, nil
}

func (f *fakeMessageStore) CreateReadReceiptIfAbsent(_ context.Context, messageID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	readers, ok := f.receipts[messageID]
	if !ok {
		readers = make(map[string]bool)
		f.receipts[messageID] = readers
	}
	if readers[userID] {
		return false, nil
	}
	readers[userID] = true
	return true, nil
}

func (f *fakeMessageStore) MarkConversationRead(_ context.Context, _, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markReadCalls++
	return nil
}

func (f *fakeMessageStore) ListParticipants(_ context.Context, conversationID string) ([]model.Participant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.participants[conversationID], nil
}

func (f *fakeMessageStore) ListUserConversationIDs(_ context.Context, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conversationsByUser[userID], nil
}

func (f *fakeMessageStore) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeMessageStore) receiptCount(messageID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.receipts[messageID])
}

type fakeCallDirectory struct {
	mu            sync.Mutex
	calls         map[string]*model.Call
	statusUpdates []event.CallStatus
	invited       map[string][]string
	updateErr     error
}

func (f *fakeCallDirectory) failUpdates(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErr = err
}

func newFakeCallDirectory() *fakeCallDirectory {
	return &fakeCallDirectory{
		calls:   make(map[string]*model.Call),
		invited: make(map[string][]string),
	}
}

func (f *fakeCallDirectory) GetCall(_ context.Context, callID, userID string) (*model.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	if !call.HasParticipant(userID) {
		return nil, fmt.Errorf("user %s on call %s: %w", userID, callID, ErrUnauthorized)
	}
	out := *call
	return &out, nil
}

func (f *fakeCallDirectory) AcceptCall(_ context.Context, callID, userID string) (*model.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	if call.Status.Terminal() {
		return nil, fmt.Errorf("call %s already over: %w", callID, ErrConflict)
	}
	call.Status = event.CallStatusActive
	out := *call
	return &out, nil
}

func (f *fakeCallDirectory) RejectCall(_ context.Context, callID, _, _ string) (*model.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	call.Status = event.CallStatusRejected
	out := *call
	return &out, nil
}

func (f *fakeCallDirectory) UpdateCallStatus(_ context.Context, callID string, status event.CallStatus) (*model.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	call, ok := f.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	call.Status = status
	f.statusUpdates = append(f.statusUpdates, status)
	out := *call
	return &out, nil
}

func (f *fakeCallDirectory) InviteParticipants(_ context.Context, callID, _ string, userIDs []string) (*model.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call, ok := f.calls[callID]
	if !ok {
		return nil, fmt.Errorf("call %s: %w", callID, ErrNotFound)
	}
	call.ParticipantIDs = append(call.ParticipantIDs, userIDs...)
	f.invited[callID] = append(f.invited[callID], userIDs...)
	out := *call
	return &out, nil
}

type fakeUserDirectory struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func (f *fakeUserDirectory) GetUser(_ context.Context, userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	out := *user
	return &out, nil
}

// -----------------------------------------------------------------
// Test scaffolding
// -----------------------------------------------------------------

type hubFixture struct {
	hub   *Hub
	auth  *fakeAuthorizer
	store *fakeMessageStore
	calls *fakeCallDirectory
	users *fakeUserDirectory
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()

	auth := &fakeAuthorizer{
		conversations: make(map[string][]string),
		callRosters:   make(map[string][]string),
	}
	store := newFakeMessageStore()
	calls := newFakeCallDirectory()
	users := &fakeUserDirectory{users: make(map[string]*model.User)}

	h := NewHub(Options{
		Authorizer: auth,
		Messages:   store,
		Calls:      calls,
		Users:      users,
	})
	t.Cleanup(h.Stop)

	return &hubFixture{hub: h, auth: auth, store: store, calls: calls, users: users}
}

// newTestClient builds a connectionless client and registers it
// synchronously, bypassing the register channel so tests stay
// deterministic. The pumps never run; events accumulate on egress.
func (f *hubFixture) newTestClient(userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		ID:         uuid.New().String(),
		userID:     userID,
		hub:        f.hub,
		egress:     make(chan event.WsEvent, sendBufSize),
		logger:     zap.NewNop(),
		rooms:      make(map[string]struct{}),
		calls:      make(map[string]struct{}),
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}
	// No write pump runs in tests, so mark the conn teardown already
	// done before Close can wait on it.
	c.connClosedOnce.Do(func() { close(c.connClosed) })
	f.hub.registerConnection(c)
	return c
}

func (f *hubFixture) dispatch(c *Client, op string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	f.hub.handleEvent(event.WsEvent{Event: op, Payload: body}, c)
}

// drain empties the client's egress buffer.
func drain(c *Client) []event.WsEvent {
	var out []event.WsEvent
	for {
		select {
		case ev, ok := <-c.egress:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventNames(events []event.WsEvent) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	return names
}

func countEvents(events []event.WsEvent, name string) int {
	n := 0
	for _, ev := range events {
		if ev.Event == name {
			n++
		}
	}
	return n
}

func findEvent(t *testing.T, events []event.WsEvent, name string) event.WsEvent {
	t.Helper()
	for _, ev := range events {
		if ev.Event == name {
			return ev
		}
	}
	t.Fatalf("event %q not found in %v", name, eventNames(events))
	return event.WsEvent{}
}

func decodeError(t *testing.T, ev event.WsEvent) event.ErrorPayload {
	t.Helper()
	var payload event.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	return payload
}

// joinRoom subscribes the client and asserts the confirmation reply.
func (f *hubFixture) joinRoom(t *testing.T, c *Client, conversationID string) {
	t.Helper()
	f.dispatch(c, event.OpJoinConversation, model.JoinRoomPayload{ConversationID: conversationID})
	events := drain(c)
	findEvent(t, events, event.EventJoinedConversation)
}

// -----------------------------------------------------------------
// Connection registry / presence
// -----------------------------------------------------------------

func TestPresenceOnlineOnlyOnFirstConnection(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}
	f.store.conversationsByUser["alice"] = []string{"conv-1"}

	bob := f.newTestClient("bob")
	f.joinRoom(t, bob, "conv-1")
	drain(bob)

	first := f.newTestClient("alice")
	events := drain(bob)
	assert.Equal(t, 1, countEvents(events, event.EventUserOnline))
	assert.True(t, f.hub.IsOnline("alice"))

	// A second connection is not a presence transition.
	second := f.newTestClient("alice")
	assert.Empty(t, drain(bob))

	// Dropping one of two connections is not a transition either.
	f.hub.removeClient(first)
	assert.Empty(t, drain(bob))
	assert.True(t, f.hub.IsOnline("alice"))

	// Dropping the last one is.
	f.hub.removeClient(second)
	events = drain(bob)
	assert.Equal(t, 1, countEvents(events, event.EventUserOffline))
	assert.False(t, f.hub.IsOnline("alice"))
}

func TestPresenceFanOutExcludesSelf(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}
	f.store.conversationsByUser["bob"] = []string{"conv-1"}

	alice := f.newTestClient("alice")
	f.joinRoom(t, alice, "conv-1")
	drain(alice)

	// Bob is already subscribed to the room on another connection when
	// his second connection arrives; he must not hear about himself.
	bobFirst := f.newTestClient("bob")
	f.joinRoom(t, bobFirst, "conv-1")
	drain(alice)
	drain(bobFirst)

	f.hub.removeClient(bobFirst)
	events := drain(alice)
	assert.Equal(t, 1, countEvents(events, event.EventUserOffline))

	var presence model.PresenceEvent
	require.NoError(t, json.Unmarshal(findEvent(t, events, event.EventUserOffline).Payload, &presence))
	assert.Equal(t, "bob", presence.UserID)
}

func TestOfflineNotifiedOncePerConversation(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}
	f.auth.conversations["conv-2"] = []string{"alice", "bob"}
	f.store.conversationsByUser["alice"] = []string{"conv-1", "conv-2"}

	bob := f.newTestClient("bob")
	f.joinRoom(t, bob, "conv-1")
	f.joinRoom(t, bob, "conv-2")
	drain(bob)

	alice := f.newTestClient("alice")
	drain(bob)

	f.hub.removeClient(alice)
	events := drain(bob)
	assert.Equal(t, 2, countEvents(events, event.EventUserOffline))
}

func TestUserTopicFollowsConnectionLifecycle(t *testing.T) {
	f := newHubFixture(t)

	first := f.newTestClient("alice")
	second := f.newTestClient("alice")

	// Every live connection of a user is subscribed to their topic, so
	// direct delivery reaches all of them.
	require.Len(t, f.hub.snapshotTopic(event.UserTopic("alice")), 2)

	ev := event.WsEvent{Event: event.EventUserOnline, Payload: json.RawMessage(`{}`)}
	assert.True(t, f.hub.sendToUser("alice", ev))
	assert.Len(t, drain(first), 1)
	assert.Len(t, drain(second), 1)

	f.hub.removeClient(first)
	require.Len(t, f.hub.snapshotTopic(event.UserTopic("alice")), 1)

	f.hub.removeClient(second)
	assert.Empty(t, f.hub.snapshotTopic(event.UserTopic("alice")))
	assert.False(t, f.hub.sendToUser("alice", ev))
}

// -----------------------------------------------------------------
// Room membership
// -----------------------------------------------------------------

func TestJoinRoomDeniedForNonParticipant(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}

	mallory := f.newTestClient("mallory")
	f.dispatch(mallory, event.OpJoinConversation, model.JoinRoomPayload{ConversationID: "conv-1"})

	events := drain(mallory)
	require.Len(t, events, 1)
	assert.Equal(t, event.EventChatError, events[0].Event)
	assert.Equal(t, event.CodeAuthorizationDenied, decodeError(t, events[0]).Code)

	// A denied join must leave no membership behind.
	assert.Empty(t, f.hub.snapshotTopic(event.ConversationTopic("conv-1")))
	assert.Empty(t, mallory.snapshotRooms())
}

func TestJoinRoomIsPerConnection(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}

	first := f.newTestClient("alice")
	second := f.newTestClient("alice")
	f.joinRoom(t, first, "conv-1")

	// Only the joined connection is subscribed.
	members := f.hub.snapshotTopic(event.ConversationTopic("conv-1"))
	require.Len(t, members, 1)
	assert.Equal(t, first.ID, members[0].ID)
	assert.Empty(t, second.snapshotRooms())
}

func TestLeaveRoomBroadcastsStoppedTypingFirst(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")
	f.joinRoom(t, alice, "conv-1")
	f.joinRoom(t, bob, "conv-1")

	f.dispatch(alice, event.OpSetTyping, model.TypingPayload{ConversationID: "conv-1", IsTyping: true})
	drain(bob)

	f.dispatch(alice, event.OpLeaveConversation, model.LeaveRoomPayload{ConversationID: "conv-1"})

	bobEvents := drain(bob)
	assert.Equal(t, 1, countEvents(bobEvents, event.EventUserStoppedTyping))

	aliceEvents := drain(alice)
	findEvent(t, aliceEvents, event.EventLeftConversation)

	assert.False(t, f.hub.typing.IsTyping("conv-1", "alice"))
	assert.Empty(t, alice.snapshotRooms())
}

func TestDisconnectCascadeCleansEverything(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}
	f.store.conversationsByUser["alice"] = []string{"conv-1"}

	bob := f.newTestClient("bob")
	f.joinRoom(t, bob, "conv-1")

	alice := f.newTestClient("alice")
	f.joinRoom(t, alice, "conv-1")
	f.dispatch(alice, event.OpSetTyping, model.TypingPayload{ConversationID: "conv-1", IsTyping: true})
	drain(bob)

	f.hub.removeClient(alice)

	events := drain(bob)
	assert.Equal(t, 1, countEvents(events, event.EventUserStoppedTyping))
	assert.Equal(t, 1, countEvents(events, event.EventUserOffline))

	assert.False(t, f.hub.typing.IsTyping("conv-1", "alice"))
	assert.False(t, f.hub.IsOnline("alice"))

	members := f.hub.snapshotTopic(event.ConversationTopic("conv-1"))
	require.Len(t, members, 1)
	assert.Equal(t, bob.ID, members[0].ID)
}

func TestUnknownEventRejected(t *testing.T) {
	f := newHubFixture(t)

	c := f.newTestClient("alice")
	f.hub.handleEvent(event.WsEvent{Event: "no:such_op"}, c)

	events := drain(c)
	require.Len(t, events, 1)
	assert.Equal(t, event.CodeValidationFailed, decodeError(t, events[0]).Code)
}

func TestMonitorStats(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}

	alice := f.newTestClient("alice")
	f.newTestClient("alice")
	bob := f.newTestClient("bob")
	f.joinRoom(t, alice, "conv-1")
	f.joinRoom(t, bob, "conv-1")
	f.dispatch(alice, event.OpSetTyping, model.TypingPayload{ConversationID: "conv-1", IsTyping: true})

	stats := NewMonitorService(f.hub).GetStats()
	assert.Equal(t, "healthy", stats.Status)
	assert.Equal(t, 3, stats.Connections.TotalConnections)
	assert.Equal(t, 2, stats.Connections.OnlineUsers)
	assert.Equal(t, 1, stats.Rooms.TotalRooms)
	assert.Equal(t, 1, stats.Typing.Entries)
}
