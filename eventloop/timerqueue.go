//go:build linux

package eventloop

import (
	"container/heap"
	"time"

	"golang.org/x/sys/unix"
)

// minTimerInterval is the shortest interval ever programmed into the
// timerfd; shorter deadlines are clamped to avoid pathological spins.
const minTimerInterval = 100 * time.Microsecond

// timerHeap is a min-heap ordered by fire time, with timer ID as the
// tiebreak so that equal deadlines fire in insertion order.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].id < h[j].id
	}
	return h[i].when.Before(h[j].when)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

// timerQueue owns a timerfd registered with the loop's poller, a
// min-heap of pending timers, and the set of live timer IDs. An ID
// absent from the live set is treated as cancelled and silently
// dropped when popped. The timerfd is always armed to the heap minimum
// while the heap is non-empty.
type timerQueue struct {
	loop       *EventLoop
	timerFd    int
	dispatcher *EventDispatcher
	timers     timerHeap
	liveIDs    map[TimerID]struct{}

	callingExpired bool
}

func newTimerQueue(loop *EventLoop) (*timerQueue, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	q := &timerQueue{
		loop:    loop,
		timerFd: fd,
		liveIDs: make(map[TimerID]struct{}),
	}
	q.dispatcher = NewEventDispatcher(loop, fd)
	q.dispatcher.SetReadCallback(q.handleRead)
	q.dispatcher.EnableReading()
	return q, nil
}

// close tears down the timerfd. Must run on the loop goroutine while
// the poller is still alive.
func (q *timerQueue) close() {
	q.dispatcher.DisableAll()
	q.dispatcher.Remove()
	_ = unix.Close(q.timerFd)
}

// addTimer schedules cb. Callable from any goroutine; the insertion is
// submitted to the loop. The returned ID is valid immediately.
func (q *timerQueue) addTimer(cb func(), when time.Time, interval time.Duration) TimerID {
	t := newTimerEntry(cb, when, interval)
	q.loop.RunInLoop(func() { q.addTimerInLoop(t) })
	return t.id
}

func (q *timerQueue) addTimerInLoop(t *timerEntry) {
	q.loop.AssertInLoopThread()
	q.liveIDs[t.id] = struct{}{}
	if q.insert(t) {
		q.resetTimerFd(t.when)
	}
}

// invalidate cancels the timer with the given ID. Callable from any
// goroutine; takes effect at the next loop iteration. The heap entry
// is collected when popped.
func (q *timerQueue) invalidate(id TimerID) {
	q.loop.RunInLoop(func() {
		delete(q.liveIDs, id)
	})
}

// insert pushes t and reports whether the heap minimum changed.
func (q *timerQueue) insert(t *timerEntry) bool {
	q.loop.AssertInLoopThread()
	earliestChanged := len(q.timers) == 0 || t.when.Before(q.timers[0].when)
	heap.Push(&q.timers, t)
	return earliestChanged
}

// handleRead fires on timerfd readiness: drain the accumulated fire
// count, run every expired live timer in deadline order, then re-arm.
func (q *timerQueue) handleRead() {
	q.loop.AssertInLoopThread()
	now := time.Now()
	q.readTimerFd()

	expired := q.getExpired(now)
	q.callingExpired = true
	for _, t := range expired {
		if _, ok := q.liveIDs[t.id]; ok {
			t.run()
		}
	}
	q.callingExpired = false
	q.reset(expired, now)
}

func (q *timerQueue) readTimerFd() {
	var buf [8]byte
	if _, err := unix.Read(q.timerFd, buf[:]); err != nil && err != unix.EAGAIN {
		q.loop.logErr(err, "timerfd read failed")
	}
}

// getExpired pops every entry with when <= now, preserving deadline
// order (heap pop order).
func (q *timerQueue) getExpired(now time.Time) []*timerEntry {
	var expired []*timerEntry
	for len(q.timers) > 0 && !q.timers[0].when.After(now) {
		expired = append(expired, heap.Pop(&q.timers).(*timerEntry))
	}
	return expired
}

// reset re-arms periodic timers from the batch, drops cancelled and
// one-shot IDs from the live set, and reprograms the timerfd to the
// new heap minimum.
func (q *timerQueue) reset(expired []*timerEntry, now time.Time) {
	q.loop.AssertInLoopThread()
	for _, t := range expired {
		if _, ok := q.liveIDs[t.id]; !ok {
			continue
		}
		if t.repeats() {
			t.restart(now)
			q.insert(t)
		} else {
			delete(q.liveIDs, t.id)
		}
	}
	if len(q.timers) > 0 {
		q.resetTimerFd(q.timers[0].when)
	}
}

// resetTimerFd programs the timerfd to fire at expiration, clamped to
// minTimerInterval from now.
func (q *timerQueue) resetTimerFd(expiration time.Time) {
	d := time.Until(expiration)
	if d < minTimerInterval {
		d = minTimerInterval
	}
	spec := unix.ItimerSpec{
		Value: unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(q.timerFd, 0, &spec, nil); err != nil {
		q.loop.logErr(err, "timerfd_settime failed")
	}
}
