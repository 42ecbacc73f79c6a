package event

// Call Event Types - Server to Client
const (
	// EventVideoCallJoined - Reply to the connection that joined a call room
	EventVideoCallJoined = "call:video_joined"

	// EventParticipantJoined - Someone joined the call room
	EventParticipantJoined = "call:participant_joined"

	// EventParticipantLeft - Someone left the call room
	EventParticipantLeft = "call:participant_left"

	// EventSignalingMessage - Point-to-point WebRTC negotiation payload
	EventSignalingMessage = "call:signaling"

	// EventCallStatusUpdated - Call state machine transition broadcast
	EventCallStatusUpdated = "call:status_updated"

	// EventCallInvitationReceived - Invitee was added to a call
	EventCallInvitationReceived = "call:invitation"

	// EventCallResponseReceived - Invitee accepted or rejected
	EventCallResponseReceived = "call:response"
)

// Call Types
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// CallStatus is the per-call state machine value.
type CallStatus int

const (
	CallStatusPending CallStatus = iota + 1
	CallStatusRinging
	CallStatusActive
	CallStatusEnded
	CallStatusCancelled
	CallStatusRejected
	CallStatusFailed
	CallStatusTimeout
)

var callStatusNames = map[CallStatus]string{
	CallStatusPending:   "pending",
	CallStatusRinging:   "ringing",
	CallStatusActive:    "active",
	CallStatusEnded:     "ended",
	CallStatusCancelled: "cancelled",
	CallStatusRejected:  "rejected",
	CallStatusFailed:    "failed",
	CallStatusTimeout:   "timeout",
}

func (s CallStatus) String() string {
	if name, ok := callStatusNames[s]; ok {
		return name
	}
	return "unknown"
}

// Terminal reports whether the status ends the call.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusCancelled, CallStatusRejected, CallStatusFailed, CallStatusTimeout:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next is a legal step:
// Pending -> Ringing -> Active -> terminal. Terminal states accept nothing.
func (s CallStatus) CanTransition(next CallStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case CallStatusPending:
		return next == CallStatusRinging || next.Terminal()
	case CallStatusRinging:
		return next == CallStatusActive || next.Terminal()
	case CallStatusActive:
		return next.Terminal()
	default:
		return false
	}
}
