//go:build linux

package eventloop

import (
	"encoding/binary"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
	"golang.org/x/sys/unix"
)

// Func is a task submitted to an event loop.
type Func func()

// pollTimeMs is how long one poll blocks when nothing is pending.
const pollTimeMs = 10000

// loopRegistry maps goroutine ID to its resident loop, enforcing the
// one-loop-per-goroutine invariant. It plays the role of thread-local
// storage.
var loopRegistry sync.Map // uint64 -> *EventLoop

// getGoroutineID returns the current goroutine's ID, parsed from the
// header line of runtime.Stack.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}

// CurrentLoop returns the event loop resident in the calling goroutine,
// or nil.
func CurrentLoop() *EventLoop {
	if v, ok := loopRegistry.Load(getGoroutineID()); ok {
		return v.(*EventLoop)
	}
	return nil
}

// EventLoop is a single-threaded reactor. It owns an epoll poller, a
// timer queue, an eventfd wakeup channel, and MPSC queues for tasks and
// on-quit tasks. A loop belongs to the goroutine that created it (or
// was last moved to); Run must be called exactly once, from that
// goroutine.
type EventLoop struct {
	looping     atomic.Bool
	quit        atomic.Bool
	closed      atomic.Bool
	goroutineID atomic.Uint64

	poller     *epollPoller
	timerQueue *timerQueue

	activeDispatchers []*EventDispatcher
	funcs             *mpscQueue[Func]
	funcsOnQuit       *mpscQueue[Func]
	callingFuncs      bool

	wakeupFd         int
	wakeupDispatcher *EventDispatcher

	logger *logiface.Logger[logiface.Event]
}

// New creates an event loop bound to the calling goroutine. Creating a
// second loop in a goroutine that already hosts one panics with
// ErrLoopInGoroutine.
func New(opts ...LoopOption) (*EventLoop, error) {
	cfg := resolveLoopOptions(opts)

	l := &EventLoop{
		funcs:       newMPSCQueue[Func](),
		funcsOnQuit: newMPSCQueue[Func](),
		logger:      cfg.logger,
	}
	l.goroutineID.Store(getGoroutineID())

	if _, loaded := loopRegistry.LoadOrStore(l.goroutineID.Load(), l); loaded {
		panic(ErrLoopInGoroutine)
	}

	poller, err := newEpollPoller(l)
	if err != nil {
		loopRegistry.Delete(l.goroutineID.Load())
		return nil, err
	}
	l.poller = poller

	wakeupFd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = poller.close()
		loopRegistry.Delete(l.goroutineID.Load())
		return nil, err
	}
	l.wakeupFd = wakeupFd
	l.wakeupDispatcher = NewEventDispatcher(l, wakeupFd)
	l.wakeupDispatcher.SetReadCallback(l.wakeupRead)
	l.wakeupDispatcher.EnableReading()

	tq, err := newTimerQueue(l)
	if err != nil {
		_ = unix.Close(wakeupFd)
		_ = poller.close()
		loopRegistry.Delete(l.goroutineID.Load())
		return nil, err
	}
	l.timerQueue = tq

	return l, nil
}

// Run executes the reactor until Quit. It panics if called from a
// goroutine other than the loop's, or if the loop is already running.
// A panic out of a user callback is captured: the current task drain
// still completes, the loop tears down (on-quit tasks run, the
// goroutine slot is released), and the first captured panic is then
// re-raised.
func (l *EventLoop) Run() {
	l.AssertInLoopThread()
	if l.looping.Swap(true) {
		panic(ErrLoopAlreadyRunning)
	}
	defer l.looping.Store(false)
	l.quit.Store(false)
	l.logDebug("event loop started")

	var loopPanic any
	func() {
		defer func() {
			if r := recover(); r != nil {
				loopPanic = r
			}
		}()
		for !l.quit.Load() {
			l.activeDispatchers = l.activeDispatchers[:0]
			l.poller.poll(pollTimeMs, &l.activeDispatchers)
			for _, d := range l.activeDispatchers {
				d.handleEvent()
			}
			l.doPendingFuncs()
		}
	}()

	for {
		f, ok := l.funcsOnQuit.dequeue()
		if !ok {
			break
		}
		f()
	}
	loopRegistry.Delete(l.goroutineID.Load())

	if loopPanic != nil {
		l.logPanic(loopPanic, "event loop terminated by panic, rethrowing")
		panic(loopPanic)
	}
}

// doPendingFuncs drains the task queue. A panicking task does not stop
// the drain: the first panic is captured and re-raised once the drain
// is complete.
func (l *EventLoop) doPendingFuncs() {
	l.callingFuncs = true
	defer func() { l.callingFuncs = false }()

	var firstPanic any
	for !l.funcs.empty() {
		for {
			f, ok := l.funcs.dequeue()
			if !ok {
				break
			}
			func() {
				defer func() {
					if r := recover(); r != nil && firstPanic == nil {
						firstPanic = r
					}
				}()
				f()
			}()
		}
	}
	if firstPanic != nil {
		panic(firstPanic)
	}
}

// Quit requests loop exit. Idempotent and safe from any goroutine;
// pending tasks are discarded, on-quit tasks run before Run returns.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopThread() {
		l.wakeup()
	}
}

// Close releases the loop's descriptors and goroutine slot. It must be
// called from the loop's goroutine while the loop is not running: after
// Run returns, or for loops that are never run. Safe to call more than
// once.
func (l *EventLoop) Close() error {
	if l.looping.Load() {
		return ErrLoopAlreadyRunning
	}
	if l.closed.Swap(true) {
		return nil
	}
	l.AssertInLoopThread()
	l.timerQueue.close()
	l.wakeupDispatcher.DisableAll()
	l.wakeupDispatcher.Remove()
	_ = unix.Close(l.wakeupFd)
	loopRegistry.CompareAndDelete(l.goroutineID.Load(), l)
	return l.poller.close()
}

// IsRunning reports whether the loop is currently looping.
func (l *EventLoop) IsRunning() bool { return l.looping.Load() }

// IsInLoopThread reports whether the caller runs on the loop goroutine.
func (l *EventLoop) IsInLoopThread() bool {
	return getGoroutineID() == l.goroutineID.Load()
}

// AssertInLoopThread panics unless called from the loop goroutine.
func (l *EventLoop) AssertInLoopThread() {
	if !l.IsInLoopThread() {
		panic(ErrNotInLoopGoroutine)
	}
}

// MoveToCurrentThread re-homes a non-running loop to the calling
// goroutine. It panics if the loop is running or if the calling
// goroutine already hosts a loop.
func (l *EventLoop) MoveToCurrentThread() {
	if l.looping.Load() {
		panic(ErrLoopAlreadyRunning)
	}
	gid := getGoroutineID()
	if gid == l.goroutineID.Load() {
		return
	}
	loopRegistry.CompareAndDelete(l.goroutineID.Load(), l)
	if _, loaded := loopRegistry.LoadOrStore(gid, l); loaded {
		panic(ErrLoopInGoroutine)
	}
	l.goroutineID.Store(gid)
}

// RunInLoop executes f on the loop goroutine: directly when called
// from it, otherwise via QueueInLoop.
func (l *EventLoop) RunInLoop(f Func) {
	if l.IsInLoopThread() {
		f()
	} else {
		l.QueueInLoop(f)
	}
}

// QueueInLoop enqueues f for the next task drain, waking the loop if
// it may be sleeping in poll. Safe from any goroutine; tasks from one
// producer run in submission order.
func (l *EventLoop) QueueInLoop(f Func) {
	l.funcs.enqueue(f)
	if !l.IsInLoopThread() || !l.looping.Load() {
		l.wakeup()
	}
}

// RunOnQuit registers f to run, FIFO, after the loop exits.
func (l *EventLoop) RunOnQuit(f Func) {
	l.funcsOnQuit.enqueue(f)
}

// RunAt schedules cb once at the given time. Safe from any goroutine.
func (l *EventLoop) RunAt(when time.Time, cb func()) TimerID {
	return l.timerQueue.addTimer(cb, when, 0)
}

// RunAfter schedules cb once after delay.
func (l *EventLoop) RunAfter(delay time.Duration, cb func()) TimerID {
	return l.RunAt(time.Now().Add(delay), cb)
}

// RunEvery schedules cb every interval, first firing one interval from
// now.
func (l *EventLoop) RunEvery(interval time.Duration, cb func()) TimerID {
	return l.timerQueue.addTimer(cb, time.Now().Add(interval), interval)
}

// InvalidateTimer cancels a timer. Safe from any goroutine; once the
// cancellation has been observed on the loop goroutine the callback
// will not fire again.
func (l *EventLoop) InvalidateTimer(id TimerID) {
	l.timerQueue.invalidate(id)
}

// updateEventDispatcher re-registers d with the poller after an
// interest change.
func (l *EventLoop) updateEventDispatcher(d *EventDispatcher) {
	l.poller.registerEventDispatcher(d)
}

// removeEventDispatcher detaches d from the poller.
func (l *EventLoop) removeEventDispatcher(d *EventDispatcher) {
	l.poller.removeEventDispatcher(d)
}

// wakeup nudges the loop out of poll by writing one count to the
// eventfd.
func (l *EventLoop) wakeup() {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(l.wakeupFd, buf[:]); err != nil && err != unix.EAGAIN {
		l.logErr(err, "wakeup write failed")
	}
}

// wakeupRead drains the eventfd counter after a wakeup.
func (l *EventLoop) wakeupRead() {
	var buf [8]byte
	if _, err := unix.Read(l.wakeupFd, buf[:]); err != nil && err != unix.EAGAIN {
		l.logErr(err, "wakeup read failed")
	}
}
