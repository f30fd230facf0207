//go:build linux

package eventloop

import (
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// setThreadName names the current OS thread via prctl(PR_SET_NAME).
// The kernel truncates to 15 bytes plus the terminator.
func setThreadName(name string) {
	if name == "" {
		return
	}
	buf := make([]byte, 16)
	copy(buf, name)
	buf[15] = 0
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}

// EventLoopThread hosts one event loop on a dedicated OS-locked
// goroutine. The loop exists as soon as the constructor returns, but
// does not start looping until Run is called. Close quits the loop and
// joins the goroutine.
type EventLoopThread struct {
	mu   sync.Mutex
	loop *EventLoop

	name      string
	runOnce   sync.Once
	closeOnce sync.Once
	runCh     chan struct{}
	startedCh chan struct{}
	done      chan struct{}
}

// NewEventLoopThread spawns the hosting goroutine and blocks until its
// loop has been constructed.
func NewEventLoopThread(name string, opts ...LoopOption) *EventLoopThread {
	t := &EventLoopThread{
		name:      name,
		runCh:     make(chan struct{}),
		startedCh: make(chan struct{}),
		done:      make(chan struct{}),
	}
	loopCh := make(chan *EventLoop, 1)
	go t.loopFunc(loopCh, opts)
	t.loop = <-loopCh
	return t
}

func (t *EventLoopThread) loopFunc(loopCh chan<- *EventLoop, opts []LoopOption) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	setThreadName(t.name)

	loop, err := New(opts...)
	if err != nil {
		panic(err)
	}
	loop.QueueInLoop(func() { close(t.startedCh) })
	loopCh <- loop

	<-t.runCh
	defer close(t.done)
	defer func() {
		t.mu.Lock()
		t.loop = nil
		t.mu.Unlock()
		_ = loop.Close()
	}()
	loop.Run()
}

// Run starts the loop. Idempotent; it returns once the loop is
// actually looping (the first queued task has run).
func (t *EventLoopThread) Run() {
	t.runOnce.Do(func() {
		close(t.runCh)
		<-t.startedCh
	})
}

// Loop returns the hosted loop, or nil after the loop has exited.
func (t *EventLoopThread) Loop() *EventLoop {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

// Close starts the loop if necessary, quits it, and joins the hosting
// goroutine. Safe to call more than once.
func (t *EventLoopThread) Close() {
	t.closeOnce.Do(func() {
		t.Run()
		if loop := t.Loop(); loop != nil {
			loop.Quit()
		}
		<-t.done
	})
}

// Wait blocks until the hosting goroutine has exited.
func (t *EventLoopThread) Wait() {
	<-t.done
}
