// Package social implements the friends / social mutation router, spec.md
// §4.12 (C12): a directed mutation command from a proxy is applied to the
// in-memory relation graph, and the outcome is broadcast as a relation or
// request-lifecycle event. Failures are reported back to the originating
// proxy only, as a negative ack on the same requestId.
package social

import (
	"sync"

	"go.uber.org/zap"

	"github.com/fulcrum-mc/fulcrum-core/internal/bus"
	"github.com/fulcrum-mc/fulcrum-core/internal/kvstore"
)

type pairKey struct{ a, b string }

func unordered(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// Router owns the social relation graph and pending invite table.
type Router struct {
	bus    *bus.Bus
	mirror *kvstore.Mirror
	log    *zap.SugaredLogger

	mu        sync.Mutex
	relations map[pairKey]string          // "FRIEND" | "BLOCKED"
	pending   map[pairKey]FriendMutationCommandMessage // actor->target send-request, keyed unordered but actor/target kept in value
}

func New(b *bus.Bus, mirror *kvstore.Mirror, log *zap.SugaredLogger) *Router {
	r := &Router{
		bus:       b,
		mirror:    mirror,
		log:       log.Named("social"),
		relations: make(map[pairKey]string),
		pending:   make(map[pairKey]FriendMutationCommandMessage),
	}
	b.Subscribe(bus.ChanFriendMutationRequest, func(env bus.Envelope) {
		if cmd, ok := env.Body.(FriendMutationCommandMessage); ok {
			r.HandleMutation(cmd)
		}
	})
	return r
}

// HandleMutation applies a FriendMutationCommandMessage and emits the
// resulting event (spec.md §4.12).
func (r *Router) HandleMutation(cmd FriendMutationCommandMessage) {
	if err := cmd.Validate(); err != nil {
		r.log.Warnw("dropping invalid friend mutation", "error", err)
		return
	}
	if cmd.ActorID == cmd.TargetID {
		r.negativeRelation(cmd, "self-target")
		return
	}

	if cmd.MutationType.requestLifecycle() {
		r.handleRequestLifecycle(cmd)
		return
	}
	r.handleRelationMutation(cmd)
}

func (r *Router) handleRelationMutation(cmd FriendMutationCommandMessage) {
	key := unordered(cmd.ActorID, cmd.TargetID)

	r.mu.Lock()
	current := r.relations[key]
	var relation string
	var ok bool
	switch cmd.MutationType {
	case MutationAddFriend:
		relation, ok = "FRIEND", current != "BLOCKED"
		if ok {
			r.relations[key] = relation
		}
	case MutationRemoveFriend:
		relation, ok = "NONE", current == "FRIEND"
		if ok {
			delete(r.relations, key)
		}
	case MutationBlock:
		relation, ok = "BLOCKED", true
		if ok {
			r.relations[key] = relation
		}
	case MutationUnblock:
		relation, ok = "NONE", current == "BLOCKED"
		if ok {
			delete(r.relations, key)
		}
	default:
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		r.negativeRelation(cmd, "mutation-not-applicable")
		return
	}

	r.persist()
	event := FriendRelationEventMessage{
		RequestID: cmd.RequestID,
		ActorID:   cmd.ActorID,
		TargetID:  cmd.TargetID,
		Relation:  relation,
		Success:   true,
	}
	r.bus.Broadcast(bus.ChanFriendRelationEvent, event)
}

func (r *Router) handleRequestLifecycle(cmd FriendMutationCommandMessage) {
	key := unordered(cmd.ActorID, cmd.TargetID)

	r.mu.Lock()
	_, hasPending := r.pending[key]
	var eventType string
	var ok bool
	switch cmd.MutationType {
	case MutationSendRequest:
		eventType, ok = "SENT", !hasPending
		if ok {
			r.pending[key] = cmd
		}
	case MutationAcceptRequest:
		eventType, ok = "ACCEPTED", hasPending
		if ok {
			delete(r.pending, key)
			r.relations[key] = "FRIEND"
		}
	case MutationDeclineRequest:
		eventType, ok = "DECLINED", hasPending
		if ok {
			delete(r.pending, key)
		}
	case MutationCancelRequest:
		eventType, ok = "CANCELLED", hasPending
		if ok {
			delete(r.pending, key)
		}
	default:
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		r.negativeRequest(cmd, "request-not-applicable")
		return
	}

	r.persist()
	r.bus.Broadcast(bus.ChanFriendRequestEvent, FriendRequestEventMessage{
		RequestID: cmd.RequestID,
		ActorID:   cmd.ActorID,
		TargetID:  cmd.TargetID,
		EventType: eventType,
		Success:   true,
	})

	if eventType == "ACCEPTED" {
		r.bus.Broadcast(bus.ChanFriendRelationEvent, FriendRelationEventMessage{
			RequestID: cmd.RequestID,
			ActorID:   cmd.ActorID,
			TargetID:  cmd.TargetID,
			Relation:  "FRIEND",
			Success:   true,
		})
	}
}

func (r *Router) negativeRelation(cmd FriendMutationCommandMessage, reason string) {
	r.bus.Send(cmd.ActorProxyID, bus.ChanFriendRelationEvent, FriendRelationEventMessage{
		RequestID: cmd.RequestID,
		ActorID:   cmd.ActorID,
		TargetID:  cmd.TargetID,
		Success:   false,
		Reason:    reason,
	})
}

func (r *Router) negativeRequest(cmd FriendMutationCommandMessage, reason string) {
	r.bus.Send(cmd.ActorProxyID, bus.ChanFriendRequestEvent, FriendRequestEventMessage{
		RequestID: cmd.RequestID,
		ActorID:   cmd.ActorID,
		TargetID:  cmd.TargetID,
		Success:   false,
		Reason:    reason,
	})
}

func (r *Router) persist() {
	r.mu.Lock()
	snapshot := make(map[string]string, len(r.relations))
	for k, v := range r.relations {
		snapshot[k.a+"|"+k.b] = v
	}
	r.mu.Unlock()
	r.mirror.PutJSON("social:relations", snapshot)
}
