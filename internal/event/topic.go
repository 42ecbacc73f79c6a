package event

// TopicKind discriminates the namespaces a connection can subscribe to.
// A tagged key instead of string concatenation, so a conversation id can
// never collide with a user id or call id.
type TopicKind uint8

const (
	TopicConversation TopicKind = iota + 1
	TopicUser
	TopicCall
)

// Topic identifies one broadcast group. Comparable, usable as a map key.
type Topic struct {
	Kind TopicKind
	ID   string
}

func ConversationTopic(conversationID string) Topic {
	return Topic{Kind: TopicConversation, ID: conversationID}
}

func UserTopic(userID string) Topic {
	return Topic{Kind: TopicUser, ID: userID}
}

func CallTopic(callID string) Topic {
	return Topic{Kind: TopicCall, ID: callID}
}

func (t Topic) String() string {
	switch t.Kind {
	case TopicConversation:
		return "conversation/" + t.ID
	case TopicUser:
		return "user/" + t.ID
	case TopicCall:
		return "call/" + t.ID
	default:
		return "invalid/" + t.ID
	}
}
