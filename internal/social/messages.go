package social

import "github.com/fulcrum-mc/fulcrum-core/internal/bus"

// MutationType enumerates the social graph mutations a proxy can request,
// spec.md §4.12.
type MutationType string

const (
	MutationAddFriend     MutationType = "ADD_FRIEND"
	MutationRemoveFriend  MutationType = "REMOVE_FRIEND"
	MutationBlock         MutationType = "BLOCK"
	MutationUnblock       MutationType = "UNBLOCK"
	MutationSendRequest   MutationType = "SEND_REQUEST"
	MutationAcceptRequest MutationType = "ACCEPT_REQUEST"
	MutationDeclineRequest MutationType = "DECLINE_REQUEST"
	MutationCancelRequest MutationType = "CANCEL_REQUEST"
)

// requestLifecycle reports true for mutations that flow through the
// pending-invite table rather than mutating the relation graph directly.
func (t MutationType) requestLifecycle() bool {
	switch t {
	case MutationSendRequest, MutationAcceptRequest, MutationDeclineRequest, MutationCancelRequest:
		return true
	default:
		return false
	}
}

// FriendMutationCommandMessage is the directed command a proxy sends to
// mutate the social graph, spec.md §6.1 social.friend.mutation.request.
type FriendMutationCommandMessage struct {
	RequestID    string
	MutationType MutationType
	ActorID      string
	TargetID     string
	ActorProxyID string
	Scope        string
	ExpiresAt    string
	Reason       string
	Metadata     map[string]string
}

func (m FriendMutationCommandMessage) MessageType() string {
	return "social.friend.mutation.request"
}
func (m FriendMutationCommandMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID    string `valid:"required"`
		MutationType string `valid:"required"`
		ActorID      string `valid:"required"`
		TargetID     string `valid:"required"`
	}{m.RequestID, string(m.MutationType), m.ActorID, m.TargetID})
}

// FriendRelationEventMessage reports a direct relation change (or the
// acceptance of a request, which also changes the relation graph). A
// failed mutation sets Success=false and Reason, and is sent only back to
// the originating proxy rather than broadcast.
type FriendRelationEventMessage struct {
	RequestID string
	ActorID   string
	TargetID  string
	Relation  string // "FRIEND" | "BLOCKED" | "NONE"
	Success   bool
	Reason    string
}

func (m FriendRelationEventMessage) MessageType() string { return "social.friend.relation.event" }
func (m FriendRelationEventMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID string `valid:"required"`
	}{m.RequestID})
}

// FriendRequestEventMessage reports an invite-lifecycle event: a request
// sent, accepted, declined, or cancelled.
type FriendRequestEventMessage struct {
	RequestID string
	ActorID   string
	TargetID  string
	EventType string // "SENT" | "ACCEPTED" | "DECLINED" | "CANCELLED"
	Success   bool
	Reason    string
}

func (m FriendRequestEventMessage) MessageType() string { return "social.friend.request.event" }
func (m FriendRequestEventMessage) Validate() error {
	return bus.ValidateStruct(m.MessageType(), struct {
		RequestID string `valid:"required"`
	}{m.RequestID})
}
