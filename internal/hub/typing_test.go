package hub

import (
	"testing"
	"time"

	"Palaver/internal/event"
	"Palaver/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestTypingStoreSetAndClear(t *testing.T) {
	s := NewTypingStore(clock.NewMock(), defaultTypingTTL, defaultTypingSweepInterval)

	assert.False(t, s.IsTyping("conv-1", "alice"))
	assert.False(t, s.Clear("conv-1", "alice"))

	s.Set("conv-1", "alice")
	s.Set("conv-1", "alice") // upsert, still one entry
	s.Set("conv-1", "bob")
	assert.True(t, s.IsTyping("conv-1", "alice"))

	stats := s.Stats()
	assert.Equal(t, 1, stats.Conversations)
	assert.Equal(t, 2, stats.Entries)

	assert.True(t, s.Clear("conv-1", "alice"))
	assert.False(t, s.Clear("conv-1", "alice"))
	assert.True(t, s.Clear("conv-1", "bob"))

	// Emptied conversations are pruned.
	assert.Equal(t, 0, s.Stats().Conversations)
}

func TestTypingSweepEvictsExpiredEntries(t *testing.T) {
	clk := clock.NewMock()
	s := NewTypingStore(clk, 120*time.Second, 60*time.Second)

	s.Set("conv-1", "alice")
	clk.Add(90 * time.Second)
	s.Set("conv-1", "bob")

	// Alice's entry is now past the TTL, Bob's is not.
	clk.Add(45 * time.Second)
	s.Sweep()

	assert.False(t, s.IsTyping("conv-1", "alice"))
	assert.True(t, s.IsTyping("conv-1", "bob"))
}

func TestTypingSweepPrunesEmptyConversations(t *testing.T) {
	clk := clock.NewMock()
	s := NewTypingStore(clk, time.Second, time.Second)

	s.Set("conv-1", "alice")
	clk.Add(2 * time.Second)
	s.Sweep()

	assert.Equal(t, 0, s.Stats().Conversations)
}

func TestTypingRestartRefreshesTTL(t *testing.T) {
	clk := clock.NewMock()
	s := NewTypingStore(clk, 120*time.Second, 60*time.Second)

	s.Set("conv-1", "alice")
	clk.Add(90 * time.Second)
	s.Set("conv-1", "alice")
	clk.Add(90 * time.Second)
	s.Sweep()

	// The upsert reset the timestamp, so the entry survives.
	assert.True(t, s.IsTyping("conv-1", "alice"))
}

func TestTypingBroadcastExcludesTypist(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}

	alice := f.newTestClient("alice")
	bob := f.newTestClient("bob")
	f.joinRoom(t, alice, "conv-1")
	f.joinRoom(t, bob, "conv-1")

	// Two starts re-broadcast; one stop follows.
	f.dispatch(alice, event.OpSetTyping, model.TypingPayload{ConversationID: "conv-1", IsTyping: true})
	f.dispatch(alice, event.OpSetTyping, model.TypingPayload{ConversationID: "conv-1", IsTyping: true})
	f.dispatch(alice, event.OpSetTyping, model.TypingPayload{ConversationID: "conv-1", IsTyping: false})

	bobEvents := drain(bob)
	assert.Equal(t, 2, countEvents(bobEvents, event.EventUserStartedTyping))
	assert.Equal(t, 1, countEvents(bobEvents, event.EventUserStoppedTyping))

	// The typist never hears their own indicator.
	aliceEvents := drain(alice)
	assert.Equal(t, 0, countEvents(aliceEvents, event.EventUserStartedTyping))
	assert.Equal(t, 0, countEvents(aliceEvents, event.EventUserStoppedTyping))
}

func TestTypingDeniedForNonParticipant(t *testing.T) {
	f := newHubFixture(t)
	f.auth.conversations["conv-1"] = []string{"alice", "bob"}

	mallory := f.newTestClient("mallory")
	f.dispatch(mallory, event.OpSetTyping, model.TypingPayload{ConversationID: "conv-1", IsTyping: true})

	events := drain(mallory)
	assert.Equal(t, 1, countEvents(events, event.EventChatError))
	assert.False(t, f.hub.typing.IsTyping("conv-1", "mallory"))
}
