package eventloop

import (
	"sync/atomic"
	"time"
)

// TimerID identifies a scheduled timer. IDs are process-unique,
// generated by a monotonic counter, and never reused.
type TimerID uint64

// InvalidTimerID is never returned by a successful schedule; 0 is
// reserved as "invalid".
const InvalidTimerID TimerID = 0

var timerIDCounter atomic.Uint64

// timerEntry is one scheduled callback. interval == 0 means one-shot;
// otherwise the timer re-arms after each firing.
type timerEntry struct {
	callback func()
	when     time.Time
	interval time.Duration
	id       TimerID
}

func newTimerEntry(cb func(), when time.Time, interval time.Duration) *timerEntry {
	return &timerEntry{
		callback: cb,
		when:     when,
		interval: interval,
		id:       TimerID(timerIDCounter.Add(1)),
	}
}

func (t *timerEntry) repeats() bool { return t.interval > 0 }

// restart re-arms a periodic timer relative to the batch time.
func (t *timerEntry) restart(now time.Time) {
	t.when = now.Add(t.interval)
}

func (t *timerEntry) run() {
	if t.callback != nil {
		t.callback()
	}
}
