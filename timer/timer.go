// Package timer provides one-shot and periodic timers with
// cancellation (spec §4.2), generalized from the teacher's named
// time.Ticker wrapper. Unlike the teacher's Ticker, Stop blocks until
// any in-flight callback has returned, so cancellation races resolve
// in favor of stop: a callback already scheduled but not yet entered
// must not run.
package timer

import (
	"sync"
	"time"
)

// Timer wraps a time.Timer or time.Ticker with a cancellation channel
// and a WaitGroup so Stop can join the callback goroutine.
type Timer struct {
	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	stopped bool
}

// StartOnce fires fn once after interval unless Stop is called first.
func StartOnce(interval time.Duration, fn func()) *Timer {
	t := &Timer{stopCh: make(chan struct{})}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		tm := time.NewTimer(interval)
		defer tm.Stop()
		select {
		case <-tm.C:
			t.mu.Lock()
			stopped := t.stopped
			t.mu.Unlock()
			if !stopped {
				fn()
			}
		case <-t.stopCh:
		}
	}()
	return t
}

// StartPeriodic fires fn at approximately interval until Stop is
// called. Each tick runs fn synchronously on the timer's own
// goroutine, so a slow fn delays the next tick rather than overlapping
// with it.
func StartPeriodic(interval time.Duration, fn func(tick time.Time)) *Timer {
	t := &Timer{stopCh: make(chan struct{})}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case tick := <-ticker.C:
				t.mu.Lock()
				stopped := t.stopped
				t.mu.Unlock()
				if stopped {
					return
				}
				fn(tick)
			case <-t.stopCh:
				return
			}
		}
	}()
	return t
}

// Stop cancels the timer and waits for any in-flight callback to
// complete. Stop is idempotent and safe to call from any goroutine,
// including (for a periodic timer) a goroutine other than the one
// running the callback.
func (t *Timer) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	close(t.stopCh)
	t.mu.Unlock()
	t.wg.Wait()
}
