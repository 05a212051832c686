// Package retry implements the Retry Layer (spec §4.4): it associates
// an outbound request with an expected response channel pattern,
// retries it on silence with a fixed budget, and invokes a fail
// callback when the budget is exhausted. Grounded on the teacher's
// utils.Ticker pattern for the periodic retry tick and msg.go's
// topic-segment model for response matching.
package retry

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rustyeddy/gwbridge/model"
	"github.com/rustyeddy/gwbridge/outbound"
	"github.com/rustyeddy/gwbridge/timer"
)

// Record tracks one in-flight request awaiting a response. Its
// lifetime ends when either a matching response arrives or the retry
// budget given to Add (recorded in AttemptsRemaining, which is not
// decremented; Add's timer counts the attempts) is used up - whichever
// happens first wins; the cleared flag is the single source of truth
// for which. ID keys the record inside the Layer and is not written
// into the message.
type Record struct {
	ID                      string
	Message                 *model.Message
	ResponseChannelPattern  string
	OnFail                  func(*model.Message)
	AttemptsRemaining       int
	Interval                time.Duration

	cleared atomic.Bool
	tm      *timer.Timer
}

// markCleared flags the record cleared and reports whether this call
// was the one that transitioned it (false if another goroutine already
// cleared it first).
func (r *Record) markCleared() bool {
	return r.cleared.CompareAndSwap(false, true)
}

func (r *Record) isCleared() bool {
	return r.cleared.Load()
}

// Layer associates records with response patterns and runs the retry
// ticks and garbage collection for them.
type Layer struct {
	mu        sync.Mutex
	records   map[string]*Record
	publisher *outbound.Publisher
	log       *slog.Logger

	clearSig  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLayer starts a Layer that publishes retries through publisher.
func NewLayer(publisher *outbound.Publisher, log *slog.Logger) *Layer {
	if log == nil {
		log = slog.Default()
	}
	l := &Layer{
		records:   make(map[string]*Record),
		publisher: publisher,
		log:       log,
		clearSig:  make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	l.wg.Add(1)
	go l.collect()
	return l
}

// Add sends msg via the Outbound Publisher immediately, then starts a
// periodic timer ticking every interval. Each tick without a matching
// response increments the attempt counter and re-enqueues msg
// (duplicating it if the original publish is still pending - the
// retransmission is the same message, unchanged, so the remote endpoint
// is responsible for idempotency via whatever id the payload carries). On the
// (retryCount+1)-th tick the record is flagged cleared, onFail is
// invoked with nil, and the collector is signalled.
func (l *Layer) Add(msg *model.Message, responseChannelPattern string, retryCount int, interval time.Duration, onFail func(*model.Message)) *Record {
	rec := &Record{
		ID:                     uuid.NewString(),
		Message:                msg,
		ResponseChannelPattern: responseChannelPattern,
		OnFail:                 onFail,
		AttemptsRemaining:      retryCount,
		Interval:               interval,
	}

	l.mu.Lock()
	l.records[rec.ID] = rec
	l.mu.Unlock()

	l.publisher.Enqueue(msg)

	attempts := 0
	rec.tm = timer.StartPeriodic(interval, func(_ time.Time) {
		if rec.isCleared() {
			return
		}
		attempts++
		if attempts > retryCount {
			if rec.markCleared() {
				l.log.Warn("retry budget exhausted, giving up", "channel", msg.Channel, "pattern", responseChannelPattern)
				if onFail != nil {
					onFail(nil)
				}
				l.signalClear()
			}
			return
		}
		l.publisher.Enqueue(msg)
	})

	return rec
}

// NotifyResponse marks every active record whose ResponseChannelPattern
// matches msg.Channel as cleared and stops its timer.
func (l *Layer) NotifyResponse(msg *model.Message) {
	l.mu.Lock()
	var matched []*Record
	for _, rec := range l.records {
		if rec.isCleared() {
			continue
		}
		if TopicMatches(rec.ResponseChannelPattern, msg.Channel) {
			matched = append(matched, rec)
		}
	}
	l.mu.Unlock()

	for _, rec := range matched {
		if rec.markCleared() {
			rec.tm.Stop()
		}
	}
	if len(matched) > 0 {
		l.signalClear()
	}
}

func (l *Layer) signalClear() {
	select {
	case l.clearSig <- struct{}{}:
	default:
	}
}

func (l *Layer) collect() {
	defer l.wg.Done()
	for {
		select {
		case <-l.clearSig:
			l.mu.Lock()
			var toStop []*Record
			for id, rec := range l.records {
				if rec.isCleared() {
					toStop = append(toStop, rec)
					delete(l.records, id)
				}
			}
			l.mu.Unlock()
			for _, rec := range toStop {
				rec.tm.Stop()
			}
		case <-l.done:
			return
		}
	}
}

// Shutdown stops the collector goroutine. Any still-active records'
// timers are left running; callers should stop them individually if
// needed before calling Shutdown.
func (l *Layer) Shutdown() {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}

// ActiveCount returns the number of records the collector has not yet
// removed (a cleared record counts until the collector runs) - exposed
// for tests and for the status/introspection surface.
func (l *Layer) ActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
