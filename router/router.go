// Package router implements the Inbound Router (spec §4.6): it
// classifies an incoming Message via the configured Protocol, looks up
// the listener registered for that type, unwraps the message into its
// per-subdevice parts, and delivers the list to the listener on the
// Command Queue so delivery never runs on the connection's own
// callback goroutine.
//
// The spec describes the registry as "name → weak listener" and
// "MessageType → weak listener" maps whose entries expire silently
// once nothing else references the listener. Go has no weak
// references in the standard library; this package instead requires
// callers to explicitly RemoveListener, per the Open Question decision
// recorded in DESIGN.md. Grounded on the teacher's
// messenger.Messenger.subscriptions map plus messenger/registry.go's
// Registry.WantSub/dispatch shape, with Otto's topic-string keys
// replaced by MessageType keys.
package router

import (
	"log/slog"
	"sync"

	"github.com/rustyeddy/gwbridge/cmdqueue"
	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/protocol"
)

// Listener is implemented by any service that wants inbound messages
// of one or more declared types. ReceiveMessages is invoked on the
// Router's Command Queue, never on the caller's goroutine.
type Listener interface {
	// DeclaredTypes lists the MessageTypes this listener wants routed
	// to it. Router consults this once, at AddListener time.
	DeclaredTypes() []model.MessageType

	// ReceiveMessages delivers the unwrapped per-subdevice contents of
	// one inbound envelope, in the order the Protocol returned them.
	ReceiveMessages(msgs []model.GatewaySubdeviceMessage)
}

type registration struct {
	listener Listener
	types    []model.MessageType
}

// Router dispatches inbound Messages to registered Listeners by
// MessageType.
type Router struct {
	proto protocol.Protocol
	queue *cmdqueue.Queue
	log   *slog.Logger

	mu     sync.Mutex
	byName map[string]registration
	byType map[model.MessageType]Listener
}

// New builds a Router that classifies and unwraps messages using
// proto, and delivers to listeners via queue.
func New(proto protocol.Protocol, queue *cmdqueue.Queue, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		proto:  proto,
		queue:  queue,
		log:    log,
		byName: make(map[string]registration),
		byType: make(map[model.MessageType]Listener),
	}
}

// AddListener registers l under name for every type it declares. A
// later registration for a type already claimed by another listener
// replaces that listener for the type and is logged, since the spec's
// model never defines multi-listener fan-out for one type.
func (r *Router) AddListener(name string, l Listener) {
	types := l.DeclaredTypes()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok {
		r.removeLocked(name, existing)
	}
	for _, t := range types {
		if _, taken := r.byType[t]; taken {
			r.log.Warn("router: listener replaces existing registration for type", "type", t, "name", name)
		}
		r.byType[t] = l
	}
	r.byName[name] = registration{listener: l, types: types}
}

// RemoveListener evicts the listener registered under name from both
// maps. A no-op if name was never registered.
func (r *Router) RemoveListener(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byName[name]
	if !ok {
		return
	}
	r.removeLocked(name, reg)
}

func (r *Router) removeLocked(name string, reg registration) {
	delete(r.byName, name)
	for _, t := range reg.types {
		if r.byType[t] == reg.listener {
			delete(r.byType, t)
		}
	}
}

// MessageReceived classifies msg, locates its listener, unwraps the
// envelope, and enqueues delivery. Any failure along the way is logged
// and the message is dropped; MessageReceived never blocks on listener
// work since delivery happens on the Command Queue.
func (r *Router) MessageReceived(msg *model.Message) {
	t := r.proto.GetMessageType(msg)
	if t == model.Unknown {
		r.log.Warn("router: dropping unclassifiable message", "channel", msg.Channel)
		return
	}

	r.mu.Lock()
	listener, ok := r.byType[t]
	r.mu.Unlock()
	if !ok {
		r.log.Debug("router: no listener for message type", "type", t, "channel", msg.Channel)
		return
	}

	inner := r.proto.ParseIncomingSubdeviceMessage(msg)
	if len(inner) == 0 {
		r.log.Error("router: protocol returned no subdevice messages", "type", t, "channel", msg.Channel)
		return
	}

	r.queue.Submit(func() {
		listener.ReceiveMessages(inner)
	})
}
