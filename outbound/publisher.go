// Package outbound implements the Outbound Publisher (spec §4.3): a
// durable FIFO of outgoing messages drained to an active connection,
// paused while disconnected. Grounded on the teacher's
// messenger.Messenger publish path and station.StationManager's
// ticker-driven background loop for the gate/resume shape.
package outbound

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/transport"
)

// Publisher owns a worker goroutine that, while the connection is up,
// pops the front item off Queue, publishes it, and removes it on
// success; on publish failure it leaves the item in place and suspends
// until the next Connected event. The isConnected flag is atomic; the
// queue itself is expected to be safe for concurrent use (both Queue
// implementations in this package are).
type Publisher struct {
	queue Queue
	conn  transport.Connection
	log   *slog.Logger

	connected atomic.Bool
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a Publisher that drains queue onto conn. It starts
// disconnected; callers must call SetConnected(true) once the
// connection comes up (normally done by the supervisor on its
// connect-state transitions).
func New(queue Queue, conn transport.Connection, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		queue: queue,
		conn:  conn,
		log:   log,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

// Enqueue is non-blocking and always succeeds from the caller's
// perspective (bounded only by the persistence backend's own
// capacity). It wakes the worker in case it is idle waiting for work.
func (p *Publisher) Enqueue(msg *model.Message) {
	if err := p.queue.Push(msg); err != nil {
		p.log.Error("outbound publisher failed to enqueue message", "channel", msg.Channel, "error", err)
		return
	}
	p.signal()
}

// SetConnected flips the publisher's connected gate. Transitioning to
// true wakes the worker so it resumes draining the queue; transitioning
// to false only stops new publish attempts - the item already popped
// for an in-flight publish is never lost since it is only removed from
// the queue after Publish reports success.
func (p *Publisher) SetConnected(connected bool) {
	p.connected.Store(connected)
	if connected {
		p.signal()
	}
}

func (p *Publisher) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		if !p.connected.Load() {
			if !p.waitForWake() {
				return
			}
			continue
		}

		msg, err := p.queue.Front()
		if err != nil {
			p.log.Error("outbound publisher failed to read queue front", "error", err)
			if !p.waitForWake() {
				return
			}
			continue
		}
		if msg == nil {
			if !p.waitForWake() {
				return
			}
			continue
		}

		if !p.conn.Publish(msg) {
			p.log.Warn("outbound publisher publish failed, pausing until reconnect", "channel", msg.Channel)
			p.connected.Store(false)
			if !p.waitForWake() {
				return
			}
			continue
		}

		if _, err := p.queue.Pop(); err != nil {
			p.log.Error("outbound publisher failed to remove published message", "channel", msg.Channel, "error", err)
		}
	}
}

// waitForWake blocks until either the wake signal fires or the
// publisher is shutting down. It returns false when shutdown has been
// requested.
func (p *Publisher) waitForWake() bool {
	select {
	case <-p.wake:
		return true
	case <-p.done:
		return false
	}
}

// QueueEmpty reports whether the backing queue currently holds no
// messages, for read-only introspection (statusapi's /queue endpoint).
func (p *Publisher) QueueEmpty() (bool, error) {
	return p.queue.Empty()
}

// Connected reports the publisher's current connected gate, for the
// same read-only introspection use.
func (p *Publisher) Connected() bool {
	return p.connected.Load()
}

// Shutdown stops the worker goroutine. Items remaining in the queue are
// left in place; they are durable (per the Queue implementation) and
// will be drained by a new Publisher over the same queue.
func (p *Publisher) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}
