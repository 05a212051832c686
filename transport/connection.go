// Package transport defines the broker connection contract (spec §6.2)
// the gateway core depends on but does not implement itself; mqttconn
// realizes it. The persistence contracts (spec §6.3) are not defined
// here: they live in the packages that own the state they persist
// (outbound, repository, existingdevices).
package transport

import "github.com/rustyeddy/gwbridge/model"

// Listener receives inbound messages off a Connection. It is the
// seam a Connection uses to hand a message to whatever is subscribed
// above it (normally the inbound router).
type Listener interface {
	MessageReceived(msg *model.Message)
}

// ListenerFunc adapts a plain function to a Listener.
type ListenerFunc func(msg *model.Message)

func (f ListenerFunc) MessageReceived(msg *model.Message) { f(msg) }

// Connection is the broker-facing contract (spec §6.2). Two instances
// exist in a running gateway: one for the platform-facing broker, one
// for the local-bus broker. Implementations must tolerate Publish being
// called while disconnected by returning false rather than blocking
// or panicking.
type Connection interface {
	Connect() bool
	Disconnect()
	Publish(msg *model.Message) bool
	SetListener(l Listener)
	OnConnectionLost(cb func(err error))
}
