package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicKindsNeverCollide(t *testing.T) {
	// The same raw id in different namespaces must produce distinct keys.
	id := "abc123"
	assert.NotEqual(t, ConversationTopic(id), UserTopic(id))
	assert.NotEqual(t, ConversationTopic(id), CallTopic(id))
	assert.NotEqual(t, UserTopic(id), CallTopic(id))

	seen := map[Topic]bool{
		ConversationTopic(id): true,
		UserTopic(id):         true,
		CallTopic(id):         true,
	}
	assert.Len(t, seen, 3)
}

func TestTopicString(t *testing.T) {
	assert.Equal(t, "conversation/c1", ConversationTopic("c1").String())
	assert.Equal(t, "user/u1", UserTopic("u1").String())
	assert.Equal(t, "call/k1", CallTopic("k1").String())
	assert.Equal(t, "invalid/x", Topic{ID: "x"}.String())
}

func TestTopicEquality(t *testing.T) {
	assert.Equal(t, ConversationTopic("c1"), ConversationTopic("c1"))
	assert.NotEqual(t, ConversationTopic("c1"), ConversationTopic("c2"))
}
