package social

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
)

func newTestRouter(t *testing.T) (*Router, *bus.Bus) {
	t.Helper()
	log := zap.NewNop().Sugar()
	b := bus.New(log)
	mirror := kvstore.NewMirror(kvstore.NewMemoryAdapter(), log)
	return New(b, mirror, log), b
}

func awaitRelation(t *testing.T, b *bus.Bus) chan FriendRelationEventMessage {
	t.Helper()
	out := make(chan FriendRelationEventMessage, 2)
	require.NoError(t, b.Subscribe(bus.ChanFriendRelationEvent, func(env bus.Envelope) {
		if msg, ok := env.Body.(FriendRelationEventMessage); ok {
			out <- msg
		}
	}))
	return out
}

func awaitRequest(t *testing.T, b *bus.Bus) chan FriendRequestEventMessage {
	t.Helper()
	out := make(chan FriendRequestEventMessage, 2)
	require.NoError(t, b.Subscribe(bus.ChanFriendRequestEvent, func(env bus.Envelope) {
		if msg, ok := env.Body.(FriendRequestEventMessage); ok {
			out <- msg
		}
	}))
	return out
}

func recvRelation(t *testing.T, ch chan FriendRelationEventMessage) FriendRelationEventMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("relation event never broadcast")
		return FriendRelationEventMessage{}
	}
}

func recvRequest(t *testing.T, ch chan FriendRequestEventMessage) FriendRequestEventMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("request event never broadcast")
		return FriendRequestEventMessage{}
	}
}

func TestAddFriendCreatesRelation(t *testing.T) {
	r, b := newTestRouter(t)
	out := awaitRelation(t, b)

	r.HandleMutation(FriendMutationCommandMessage{
		RequestID: "req-1", MutationType: MutationAddFriend, ActorID: "a", TargetID: "b", ActorProxyID: "proxy-1",
	})

	msg := recvRelation(t, out)
	require.True(t, msg.Success)
	require.Equal(t, "FRIEND", msg.Relation)
}

func TestAddFriendRejectedWhenBlocked(t *testing.T) {
	r, b := newTestRouter(t)
	out := awaitRelation(t, b)

	r.HandleMutation(FriendMutationCommandMessage{
		RequestID: "req-1", MutationType: MutationBlock, ActorID: "a", TargetID: "b", ActorProxyID: "proxy-1",
	})
	recvRelation(t, out)

	negOut := make(chan FriendRelationEventMessage, 1)
	require.NoError(t, b.SubscribeTarget("proxy-1", bus.ChanFriendRelationEvent, func(env bus.Envelope) {
		if msg, ok := env.Body.(FriendRelationEventMessage); ok {
			negOut <- msg
		}
	}))

	r.HandleMutation(FriendMutationCommandMessage{
		RequestID: "req-2", MutationType: MutationAddFriend, ActorID: "a", TargetID: "b", ActorProxyID: "proxy-1",
	})

	select {
	case msg := <-negOut:
		require.False(t, msg.Success)
		require.Equal(t, "mutation-not-applicable", msg.Reason)
	case <-time.After(time.Second):
		t.Fatal("negative ack never sent to originating proxy")
	}
}

func TestSelfTargetIsRejected(t *testing.T) {
	r, _ := newTestRouter(t)
	negOut := make(chan FriendRelationEventMessage, 1)
	require.NoError(t, r.bus.SubscribeTarget("proxy-1", bus.ChanFriendRelationEvent, func(env bus.Envelope) {
		if msg, ok := env.Body.(FriendRelationEventMessage); ok {
			negOut <- msg
		}
	}))

	r.HandleMutation(FriendMutationCommandMessage{
		RequestID: "req-1", MutationType: MutationAddFriend, ActorID: "a", TargetID: "a", ActorProxyID: "proxy-1",
	})

	select {
	case msg := <-negOut:
		require.False(t, msg.Success)
		require.Equal(t, "self-target", msg.Reason)
	case <-time.After(time.Second):
		t.Fatal("self-target mutation must be rejected with a negative ack")
	}
}

func TestSendAcceptRequestLifecycleEndsInFriendRelation(t *testing.T) {
	r, b := newTestRouter(t)
	reqOut := awaitRequest(t, b)
	relOut := awaitRelation(t, b)

	r.HandleMutation(FriendMutationCommandMessage{
		RequestID: "req-1", MutationType: MutationSendRequest, ActorID: "a", TargetID: "b", ActorProxyID: "proxy-1",
	})
	sent := recvRequest(t, reqOut)
	require.Equal(t, "SENT", sent.EventType)
	require.True(t, sent.Success)

	r.HandleMutation(FriendMutationCommandMessage{
		RequestID: "req-2", MutationType: MutationAcceptRequest, ActorID: "b", TargetID: "a", ActorProxyID: "proxy-2",
	})

	accepted := recvRequest(t, reqOut)
	require.Equal(t, "ACCEPTED", accepted.EventType)

	relation := recvRelation(t, relOut)
	require.Equal(t, "FRIEND", relation.Relation)
}

func TestDoubleSendRequestIsRejected(t *testing.T) {
	r, b := newTestRouter(t)
	reqOut := awaitRequest(t, b)

	r.HandleMutation(FriendMutationCommandMessage{
		RequestID: "req-1", MutationType: MutationSendRequest, ActorID: "a", TargetID: "b", ActorProxyID: "proxy-1",
	})
	recvRequest(t, reqOut)

	negOut := make(chan FriendRequestEventMessage, 1)
	require.NoError(t, b.SubscribeTarget("proxy-1", bus.ChanFriendRequestEvent, func(env bus.Envelope) {
		if msg, ok := env.Body.(FriendRequestEventMessage); ok {
			negOut <- msg
		}
	}))

	r.HandleMutation(FriendMutationCommandMessage{
		RequestID: "req-2", MutationType: MutationSendRequest, ActorID: "a", TargetID: "b", ActorProxyID: "proxy-1",
	})

	select {
	case msg := <-negOut:
		require.False(t, msg.Success)
	case <-time.After(time.Second):
		t.Fatal("duplicate send-request must be negatively acked")
	}
}

func TestUnorderedPairKeyIsSymmetric(t *testing.T) {
	require.Equal(t, unordered("a", "b"), unordered("b", "a"))
}
