package bus

import (
	"fmt"
	"reflect"
	"sync"

	messagebus "github.com/vardius/message-bus"
	"go.uber.org/zap"
)

// defaultQueueSize sizes the per-topic dispatch queue of the underlying
// message-bus transport. Mirrors tinode/chat's buffered hub.route channel
// (buffered at 4096, see hub.go) so a burst of heartbeats or slot-status
// updates cannot stall a publisher.
const defaultQueueSize = 4096

// Handler processes one envelope off a channel. A handler must not block
// indefinitely; long work belongs on the caller's own worker pool.
type Handler func(Envelope)

// Bus is Fulcrum's four bus primitives (spec.md §4.1) layered over an
// in-process transport. The external wire transport connecting this process
// to proxies and backends is out of scope (spec.md §1); this type is the
// seam a real transport adapter would sit behind.
type Bus struct {
	mb  messagebus.MessageBus
	log *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string]map[uintptr]Handler
}

// New constructs a Bus backed by an in-process message queue.
func New(log *zap.SugaredLogger) *Bus {
	return &Bus{
		mb:   messagebus.New(defaultQueueSize),
		log:  log.Named("bus"),
		subs: make(map[string]map[uintptr]Handler),
	}
}

// Subscribe registers handler on channel. Handler failures (panics) are
// isolated: they are logged and the message dropped, never propagated to
// the bus dispatch goroutine (spec.md §4.1).
func (b *Bus) Subscribe(channel string, handler Handler) error {
	wrapped := func(env Envelope) {
		defer func() {
			if r := recover(); r != nil {
				b.log.Errorw("handler panic, message dropped",
					"channel", channel, "messageType", env.MessageType, "panic", r)
			}
		}()
		handler(env)
	}
	if err := b.mb.Subscribe(channel, wrapped); err != nil {
		return err
	}
	key := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uintptr]Handler)
	}
	b.subs[channel][key] = wrapped
	b.mu.Unlock()
	return nil
}

// Unsubscribe removes handler from channel. The underlying transport matches
// subscribers by function identity, so Bus keeps the wrapped closure it
// actually handed to the transport in Subscribe and unsubscribes that one,
// keyed on (channel, handler) pointer identity.
func (b *Bus) Unsubscribe(channel string, handler Handler) error {
	key := reflect.ValueOf(handler).Pointer()
	b.mu.Lock()
	wrapped, ok := b.subs[channel][key]
	if ok {
		delete(b.subs[channel], key)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("bus: no subscription on channel %q for that handler", channel)
	}
	return b.mb.Unsubscribe(channel, wrapped)
}

// Broadcast publishes msg to every subscriber of channel.
func (b *Bus) Broadcast(channel string, msg Message) {
	b.mb.Publish(channel, Envelope{MessageType: msg.MessageType(), Body: msg})
}

// BroadcastEnvelope publishes a fully-formed envelope, used when the caller
// needs to set Version or RequestID explicitly.
func (b *Bus) BroadcastEnvelope(channel string, env Envelope) {
	b.mb.Publish(channel, env)
}

// Send delivers msg only to targetId's channel, derived as "<channel>.<targetId>".
// Used for directed replies (reservation requests to one backend, rereg
// requests targeted at one node) where the channel catalog does not already
// define a per-target channel name.
func (b *Bus) Send(targetID, channel string, msg Message) {
	b.Broadcast(targetChannel(channel, targetID), msg)
}

// SubscribeTarget subscribes to the directed channel for targetId, the
// counterpart to Send.
func (b *Bus) SubscribeTarget(targetID, channel string, handler Handler) error {
	return b.Subscribe(targetChannel(channel, targetID), handler)
}

func targetChannel(channel, targetID string) string {
	return fmt.Sprintf("%s.%s", channel, targetID)
}
